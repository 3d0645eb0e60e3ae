package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/huddle/chat-server/loadtest/client"
	"github.com/huddle/chat-server/loadtest/stats"
)

type rampConfig struct {
	baseURL     string
	wsURL       string
	prefix      string
	password    string
	users       int
	rampUp      time.Duration
	concurrency int
}

// rampUp obtains a token for each simulated user and connects it, spreading
// the attempts over cfg.rampUp with at most cfg.concurrency in flight. It
// returns the connected clients and whether ctx ended the ramp early.
func rampUp(ctx context.Context, cfg rampConfig, collector *stats.Collector,
	handlers func(username string) map[string]func(json.RawMessage)) ([]*client.Client, bool) {

	if cfg.users <= 0 {
		return nil, false
	}
	interval := cfg.rampUp / time.Duration(cfg.users)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, cfg.users)

	sem := make(chan struct{}, cfg.concurrency)
	var wg sync.WaitGroup

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				currentConns := collector.ConnectionCount()
				dt := now.Sub(lastTime).Seconds()
				rate := float64(currentConns-lastCount) / dt
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					currentConns, cfg.users, collector.ErrorCount(), rate)
				lastCount = currentConns
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	rampTicker := time.NewTicker(interval)
	defer rampTicker.Stop()

	interrupted := false
	for launched := 0; launched < cfg.users && !interrupted; {
		select {
		case <-ctx.Done():
			interrupted = true
		case <-rampTicker.C:
			username := fmt.Sprintf("%s%05d", cfg.prefix, launched)
			launched++
			wg.Add(1)
			sem <- struct{}{}

			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
				defer connCancel()

				token, err := client.Token(connCtx, cfg.baseURL, username, cfg.password)
				if err != nil {
					collector.AddError()
					return
				}

				var h map[string]func(json.RawMessage)
				if handlers != nil {
					h = handlers(username)
				}
				c, err := client.New(connCtx, cfg.wsURL, username, token, h)
				if err != nil {
					collector.AddError()
					return
				}
				if err := c.WaitForSnapshot(connCtx); err != nil {
					collector.AddError()
					c.Close()
					return
				}

				collector.AddConnect(c.GetMetrics().ConnectLatency)

				mu.Lock()
				clients = append(clients, c)
				mu.Unlock()
			}()
		}
	}

	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	return clients, interrupted
}

func closeAll(clients []*client.Client) {
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	fmt.Println("All connections closed.")
}
