// Package metrics keeps per-procedure latency histograms.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are tracked in microseconds, up to one minute, 3 significant figures.
const (
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigs    = 3
)

type series struct {
	hist   *hdrhistogram.Histogram
	errors int64
}

// Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	series map[string]*series
}

func NewRecorder() *Recorder {
	return &Recorder{series: map[string]*series{}}
}

// Record adds one observation for name. Values outside the trackable range
// are clamped.
func (r *Recorder) Record(name string, d time.Duration, failed bool) {
	v := d.Microseconds()
	if v < minLatency {
		v = minLatency
	}
	if v > maxLatency {
		v = maxLatency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[name]
	if !ok {
		s = &series{hist: hdrhistogram.New(minLatency, maxLatency, sigFigs)}
		r.series[name] = s
	}
	_ = s.hist.RecordValue(v)
	if failed {
		s.errors++
	}
}

// Stat summarizes one procedure's latencies in milliseconds.
type Stat struct {
	Name   string  `json:"name"`
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MeanMs float64 `json:"meanMs"`
	P50Ms  float64 `json:"p50Ms"`
	P95Ms  float64 `json:"p95Ms"`
	P99Ms  float64 `json:"p99Ms"`
	MaxMs  float64 `json:"maxMs"`
}

func toMs(us int64) float64 {
	return float64(us) / 1000
}

// Snapshot returns stats for every procedure seen, sorted by name.
func (r *Recorder) Snapshot() []Stat {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]Stat, 0, len(r.series))
	for name, s := range r.series {
		h := s.hist
		stats = append(stats, Stat{
			Name:   name,
			Count:  h.TotalCount(),
			Errors: s.errors,
			MeanMs: h.Mean() / 1000,
			P50Ms:  toMs(h.ValueAtQuantile(50)),
			P95Ms:  toMs(h.ValueAtQuantile(95)),
			P99Ms:  toMs(h.ValueAtQuantile(99)),
			MaxMs:  toMs(h.Max()),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = map[string]*series{}
}
