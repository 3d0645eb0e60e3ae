// Package stats provides a goroutine-safe metrics collector that aggregates
// performance data from multiple load test clients and prints a summary report
// with percentile distributions.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates metrics from multiple load test clients. All methods
// are goroutine-safe and can be called concurrently from many client
// goroutines.
type Collector struct {
	mu               sync.Mutex
	connectLatencies []time.Duration
	msgLatencies     []time.Duration
	ackLatencies     []time.Duration
	rejected         map[string]int
	errors           int
	connections      int
	startTime        time.Time
	scraper          *Scraper
}

// SetScraper attaches a Prometheus metrics scraper to this collector. When set,
// Report() will also print server-side metrics collected by the scraper.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// NewCollector creates a new Collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful connection with the given connect latency.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connectLatencies = append(c.connectLatencies, d)
	c.connections++
	c.mu.Unlock()
}

// AddMsgLatency records the time between a group message being sent and a
// peer receiving it.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.msgLatencies = append(c.msgLatencies, d)
	c.mu.Unlock()
}

// AddAckLatency records the time between a direct message being sent and
// its acknowledgement arriving.
func (c *Collector) AddAckLatency(d time.Duration) {
	c.mu.Lock()
	c.ackLatencies = append(c.ackLatencies, d)
	c.mu.Unlock()
}

// AddRejection counts a failed acknowledgement by error code.
func (c *Collector) AddRejection(code string) {
	c.mu.Lock()
	if c.rejected == nil {
		c.rejected = make(map[string]int)
	}
	c.rejected[code]++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// ConnectionCount returns the current number of recorded connections.
func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

// ErrorCount returns the current number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints a formatted summary of the collected metrics to stdout,
// including total duration, connection count, error count, and percentile
// distributions for connect and message latencies.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)

	if c.connections > 0 {
		errorRate := float64(c.errors) / float64(c.connections) * 100
		fmt.Printf("Error rate:   %.2f%%\n", errorRate)
	}

	if len(c.connectLatencies) > 0 {
		fmt.Println("\n--- Connect Latency ---")
		printPercentiles(c.connectLatencies)
	}

	if len(c.msgLatencies) > 0 {
		fmt.Println("\n--- Group Delivery Latency ---")
		printPercentiles(c.msgLatencies)
	}

	if len(c.ackLatencies) > 0 {
		fmt.Println("\n--- Direct Ack Latency ---")
		printPercentiles(c.ackLatencies)
	}

	if len(c.rejected) > 0 {
		fmt.Println("\n--- Rejected Requests ---")
		codes := make([]string, 0, len(c.rejected))
		for code := range c.rejected {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("  %-16s %d\n", code, c.rejected[code])
		}
	}

	if c.scraper != nil {
		c.scraper.Report()
	}

	fmt.Println()
}

// Summary is a latency distribution.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize sorts durations in place and computes their distribution. It
// returns the zero Summary for an empty slice.
func Summarize(durations []time.Duration) Summary {
	n := len(durations)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: durations[n/2],
		P95: durations[int(math.Ceil(float64(n)*0.95))-1],
		P99: durations[int(math.Ceil(float64(n)*0.99))-1],
		Max: durations[n-1],
	}
}

// printPercentiles prints avg, p50, p95, p99 and max along with the sample
// count.
func printPercentiles(durations []time.Duration) {
	sum := Summarize(durations)
	avg, p50, p95, p99, n := sum.Avg, sum.P50, sum.P95, sum.P99, sum.N

	fmt.Printf("  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
		avg.Round(time.Microsecond),
		p50.Round(time.Microsecond),
		p95.Round(time.Microsecond),
		p99.Round(time.Microsecond),
		durations[n-1].Round(time.Microsecond),
		n,
	)
}
