// Package metrics keeps a rolling window of request outcomes per provider.
package metrics

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// WindowSize is the number of recent samples kept per provider.
const WindowSize = 100

type sample struct {
	took time.Duration
	ok   bool
}

type window struct {
	samples []sample // ring of up to WindowSize
	next    int
	total   uint64
	failed  uint64
	lastOK  time.Time
	lastErr string
}

func (w *window) add(s sample) {
	if len(w.samples) < WindowSize {
		w.samples = append(w.samples, s)
		return
	}
	w.samples[w.next] = s
	w.next = (w.next + 1) % WindowSize
}

// ProviderMetrics is a snapshot for one provider. Latencies are over
// successful calls in the window; counters are lifetime.
type ProviderMetrics struct {
	Provider       string        `json:"provider"`
	LatencyP50     time.Duration `json:"latency_p50"`
	LatencyP99     time.Duration `json:"latency_p99"`
	SuccessRate    float64       `json:"success_rate"`
	TotalRequests  uint64        `json:"total_requests"`
	FailedRequests uint64        `json:"failed_requests"`
	LastSuccess    time.Time     `json:"last_success,omitzero"`
	LastError      string        `json:"last_error,omitempty"`
}

// Collector is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	byKey map[string]*window
	order []string
	now   func() time.Time
}

func NewCollector() *Collector {
	return &Collector{byKey: make(map[string]*window), now: time.Now}
}

// Record adds one request outcome for provider.
func (c *Collector) Record(provider string, took time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.byKey[provider]
	if !ok {
		w = &window{samples: make([]sample, 0, WindowSize)}
		c.byKey[provider] = w
		c.order = append(c.order, provider)
	}
	w.total++
	if err != nil {
		w.failed++
		w.lastErr = err.Error()
	} else {
		w.lastOK = c.now().UTC()
	}
	w.add(sample{took: took, ok: err == nil})
}

// Get returns the snapshot for provider. An unknown provider reports a
// success rate of 1 and no latency.
func (c *Collector) Get(provider string) ProviderMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(provider)
}

// All returns snapshots in first-seen order.
func (c *Collector) All() []ProviderMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ProviderMetrics, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.snapshotLocked(name))
	}
	return out
}

func (c *Collector) snapshotLocked(provider string) ProviderMetrics {
	m := ProviderMetrics{Provider: provider, SuccessRate: 1}
	w, ok := c.byKey[provider]
	if !ok || w.total == 0 {
		return m
	}
	lat := make([]time.Duration, 0, len(w.samples))
	for _, s := range w.samples {
		if s.ok {
			lat = append(lat, s.took)
		}
	}
	slices.Sort(lat)
	m.LatencyP50 = Percentile(lat, 50)
	m.LatencyP99 = Percentile(lat, 99)
	m.TotalRequests = w.total
	m.FailedRequests = w.failed
	m.SuccessRate = float64(w.total-w.failed) / float64(w.total)
	m.LastSuccess = w.lastOK
	m.LastError = w.lastErr
	return m
}

// Percentile picks the nearest-rank value from sorted, p in [0,100].
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p/100*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Providers lists provider names in sorted order.
func (c *Collector) Providers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.order)
	sort.Strings(out)
	return out
}
