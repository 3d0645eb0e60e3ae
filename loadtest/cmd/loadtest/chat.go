package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/huddle/chat-server/loadtest/client"
	"github.com/huddle/chat-server/loadtest/stats"
)

type groupAdded struct {
	Message struct {
		User string  `json:"user"`
		Text *string `json:"text"`
	} `json:"message"`
}

type ack struct {
	RequestID string `json:"request_id"`
	Op        string `json:"op"`
	Success   bool   `json:"success"`
	Error     *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// runChat connects a population of users who post to the group channel and
// to each other at a fixed interval. Group delivery latency is measured at
// every receiving peer; direct messages are timed until their ack.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	baseURL := fs.String("http", "http://localhost:3001", "HTTP API base URL")
	wsURL := fs.String("url", "ws://localhost:3001/ws", "WebSocket server URL")
	users := fs.Int("users", 100, "Number of simulated users")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 30*time.Second, "How long users keep chatting")
	msgInterval := fs.Duration("msg-interval", time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Size of each message payload in bytes")
	directRatio := fs.Float64("direct-ratio", 0.2, "Fraction of messages sent as direct messages")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	prefix := fs.String("prefix", "chat", "Username prefix for simulated users")
	metricsURL := fs.String("metrics-url", "http://localhost:3001/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d users to %s (ramp=%s, duration=%s, interval=%s, msg-size=%d, direct=%.0f%%)\n",
		*users, *wsURL, *ramp, *duration, *msgInterval, *msgSize, *directRatio*100)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var (
		groupRecv atomic.Int64
		acked     atomic.Int64
		pending   sync.Map // request id -> send time
	)

	handlers := func(username string) map[string]func(json.RawMessage) {
		return map[string]func(json.RawMessage){
			client.TypeGroupMessageAdded: func(raw json.RawMessage) {
				var ev groupAdded
				if json.Unmarshal(raw, &ev) != nil || ev.Message.Text == nil {
					return
				}
				sender, at, ok := client.ParseNonce(*ev.Message.Text)
				if !ok || sender == username {
					return
				}
				groupRecv.Add(1)
				collector.AddMsgLatency(time.Since(at))
			},
			client.TypeAck: func(raw json.RawMessage) {
				var a ack
				if json.Unmarshal(raw, &a) != nil {
					return
				}
				if !a.Success {
					code := "unknown"
					if a.Error != nil {
						code = a.Error.Code
					}
					collector.AddRejection(code)
				}
				sent, ok := pending.LoadAndDelete(a.RequestID)
				if !ok {
					return
				}
				if a.Success {
					acked.Add(1)
					collector.AddAckLatency(time.Since(sent.(time.Time)))
				}
			},
		}
	}

	// -----------------------------------------------------------------------
	// Phase 1: connect all users
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect all users ---")
	rampStart := time.Now()
	clients, interrupted := rampUp(ctx, rampConfig{
		baseURL:     *baseURL,
		wsURL:       *wsURL,
		prefix:      *prefix,
		password:    "loadtest-password",
		users:       *users,
		rampUp:      *ramp,
		concurrency: *concurrency,
	}, collector, handlers)

	fmt.Printf("\nPhase 1 complete: %d/%d connections in %s (%d errors)\n",
		len(clients), *users, time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	if interrupted || len(clients) < 2 {
		fmt.Println("Not enough connected users; skipping chat phase.")
		closeAll(clients)
		scraper.Stop()
		collector.Report()
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2: chat
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Phase 2: %d users chatting for %s ---\n", len(clients), *duration)

	pad := strings.Repeat("abcdefgh", (*msgSize/8)+1)[:*msgSize]
	var (
		groupSent  atomic.Int64
		directSent atomic.Int64
		sendErrs   atomic.Int64
		requestSeq atomic.Int64
	)

	chatCtx, chatCancel := context.WithTimeout(ctx, *duration)
	defer chatCancel()

	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] group sent: %d  recv: %d  direct sent: %d  acked: %d  errors: %d\n",
					groupSent.Load(), groupRecv.Load(), directSent.Load(), acked.Load(), sendErrs.Load())
			case <-progressStop:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i, c := range clients {
		i, c := i, c
		peer := clients[(i+1)%len(clients)].Username

		wg.Add(1)
		go func() {
			defer wg.Done()

			// Spread the first sends across one interval.
			offset := time.Duration(rand.Int63n(int64(*msgInterval)))
			select {
			case <-time.After(offset):
			case <-chatCtx.Done():
				return
			}

			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()
			for {
				now := time.Now()
				var err error
				if rand.Float64() < *directRatio {
					id := strconv.FormatInt(requestSeq.Add(1), 10)
					pending.Store(id, now)
					err = c.SendDirect(id, peer, client.Nonce(c.Username, now, pad))
					directSent.Add(1)
				} else {
					err = c.SendGroup(client.Nonce(c.Username, now, pad))
					groupSent.Add(1)
				}
				if err != nil {
					sendErrs.Add(1)
					collector.AddError()
					return
				}

				select {
				case <-ticker.C:
				case <-chatCtx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()

	// Let in-flight deliveries land before closing.
	time.Sleep(time.Second)

	close(progressStop)
	progressWg.Wait()

	unacked := 0
	pending.Range(func(_, _ interface{}) bool {
		unacked++
		return true
	})

	fmt.Println("\n--- Cleanup ---")
	closeAll(clients)
	scraper.Stop()

	fmt.Println("\n=== Chat Summary ===")
	fmt.Printf("Group messages sent:     %d\n", groupSent.Load())
	fmt.Printf("Group deliveries seen:   %d (expected up to %d)\n",
		groupRecv.Load(), groupSent.Load()*int64(len(clients)-1))
	fmt.Printf("Direct messages sent:    %d\n", directSent.Load())
	fmt.Printf("Direct messages acked:   %d\n", acked.Load())
	fmt.Printf("Unacknowledged:          %d\n", unacked)
	fmt.Printf("Send errors:             %d\n", sendErrs.Load())

	collector.Report()
}
