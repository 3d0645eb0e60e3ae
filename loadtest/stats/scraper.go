package stats

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

const seriesPrefix = "huddle_"

// serverSample is one scrape of the chat server's huddle_* series, keyed by
// series name plus sorted labels, e.g. `huddle_messages_total{outcome="stored",scope="group"}`.
// Histograms contribute their _sum and _count.
type serverSample struct {
	at     time.Time
	series map[string]float64
}

func (s serverSample) total(name string) float64 {
	var sum float64
	for key, v := range s.series {
		if key == name || strings.HasPrefix(key, name+"{") {
			sum += v
		}
	}
	return sum
}

// Scraper polls the server's /metrics endpoint while a run is in progress so
// the report can show what the server saw: sessions, message outcomes per
// scope, and fan-out drops.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	samples []serverSample
	errors  int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper returns a Scraper for metricsURL. Call Start to begin polling.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start takes a baseline sample and polls until ctx ends or Stop is called.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.record(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				s.record(final)
				cancel()
				return
			case <-ticker.C:
				s.record(ctx)
			}
		}
	}()
}

// Stop ends polling after one last sample.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Scraper) record(ctx context.Context) {
	sample, err := s.scrape(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return
	}
	s.samples = append(s.samples, sample)
}

func (s *Scraper) scrape(ctx context.Context) (serverSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return serverSample{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return serverSample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverSample{}, fmt.Errorf("metrics: %s", resp.Status)
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return serverSample{}, fmt.Errorf("metrics: parse: %w", err)
	}
	return sampleFrom(families, time.Now()), nil
}

// sampleFrom flattens the huddle_* families into series values.
func sampleFrom(families map[string]*dto.MetricFamily, at time.Time) serverSample {
	out := serverSample{at: at, series: make(map[string]float64)}
	for name, mf := range families {
		if !strings.HasPrefix(name, seriesPrefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := seriesLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out.series[name+labels] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out.series[name+labels] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out.series[name+"_sum"+labels] = m.GetHistogram().GetSampleSum()
				out.series[name+"_count"+labels] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func seriesLabels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

// Report prints how the server's series moved between the first and last
// sample.
func (s *Scraper) Report() {
	s.mu.Lock()
	samples := append([]serverSample(nil), s.samples...)
	failed := s.errors
	s.mu.Unlock()

	if len(samples) == 0 {
		fmt.Printf("\n--- Server Metrics (no samples, %d failed scrapes) ---\n", failed)
		return
	}
	first, last := samples[0], samples[len(samples)-1]

	fmt.Println("\n--- Server Metrics ---")
	fmt.Printf("  Samples:          %d over %s (%d failed)\n", len(samples), last.at.Sub(first.at).Round(time.Second), failed)

	peakConns, peakOnline := 0.0, 0.0
	for _, smp := range samples {
		if v := smp.total("huddle_connections_total"); v > peakConns {
			peakConns = v
		}
		if v := smp.total("huddle_online_users"); v > peakOnline {
			peakOnline = v
		}
	}
	fmt.Printf("  Connections:      peak %.0f, final %.0f\n", peakConns, last.total("huddle_connections_total"))
	fmt.Printf("  Online users:     peak %.0f, final %.0f\n", peakOnline, last.total("huddle_online_users"))

	fmt.Println("\n  Messages by scope and outcome (delta):")
	for _, row := range deltas(first, last, "huddle_messages_total") {
		fmt.Printf("    %-40s %10.0f\n", row.labels, row.delta)
	}

	delivered := last.total("huddle_frames_delivered_total") - first.total("huddle_frames_delivered_total")
	dropped := last.total("huddle_frames_dropped_total") - first.total("huddle_frames_dropped_total")
	if delivered+dropped > 0 {
		fmt.Printf("\n  Frames:           %.0f delivered, %.0f dropped (%.2f%%)\n", delivered, dropped, 100*dropped/(delivered+dropped))
	}
	if auth := last.total("huddle_auth_failures_total") - first.total("huddle_auth_failures_total"); auth > 0 {
		fmt.Printf("  Auth failures:    %.0f\n", auth)
	}

	sum := last.total("huddle_http_request_duration_seconds_sum") - first.total("huddle_http_request_duration_seconds_sum")
	count := last.total("huddle_http_request_duration_seconds_count") - first.total("huddle_http_request_duration_seconds_count")
	if count > 0 {
		fmt.Printf("  HTTP latency:     avg %.2fms over %.0f requests\n", 1000*sum/count, count)
	}
}

type seriesDelta struct {
	labels string
	delta  float64
}

// deltas returns the per-series change of name between two samples, largest
// first, skipping series that did not move.
func deltas(first, last serverSample, name string) []seriesDelta {
	var out []seriesDelta
	for key, v := range last.series {
		if !strings.HasPrefix(key, name+"{") {
			continue
		}
		if d := v - first.series[key]; d != 0 {
			out = append(out, seriesDelta{labels: strings.TrimPrefix(key, name), delta: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].delta != out[j].delta {
			return out[i].delta > out[j].delta
		}
		return out[i].labels < out[j].labels
	})
	return out
}
