package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/huddle/chat-server/loadtest/stats"
)

// runSaturate opens a number of authenticated WebSocket connections, ramping
// up over a configurable duration, then holds them open while watching for
// drops. Every join fans a presence list out to all connected users, so this
// also measures presence broadcast cost as the user count grows.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	baseURL := fs.String("http", "http://localhost:3001", "HTTP API base URL")
	wsURL := fs.String("url", "ws://localhost:3001/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	prefix := fs.String("prefix", "sat", "Username prefix for simulated users")
	metricsURL := fs.String("metrics-url", "http://localhost:3001/metrics", "Prometheus metrics endpoint URL")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *wsURL, *ramp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	fmt.Println("\n--- Ramp-up phase ---")
	rampStart := time.Now()
	clients, interrupted := rampUp(ctx, rampConfig{
		baseURL:     *baseURL,
		wsURL:       *wsURL,
		prefix:      *prefix,
		password:    "loadtest-password",
		users:       *connections,
		rampUp:      *ramp,
		concurrency: *concurrency,
	}, collector, nil)

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		len(clients), *connections,
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	dropped := 0
	if !interrupted {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(clients), *hold)

		holdTimer := time.NewTimer(*hold)
		statusTicker := time.NewTicker(5 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-statusTicker.C:
				alive := 0
				for _, c := range clients {
					if c.Alive() {
						alive++
					}
				}
				dropped = len(clients) - alive
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", alive, len(clients), dropped)
			}
		}

		holdTimer.Stop()
		statusTicker.Stop()
	}

	fmt.Println("\n--- Cleanup ---")
	closeAll(clients)
	scraper.Stop()

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	collector.Report()
}
