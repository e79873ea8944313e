package httpscen

import (
	"sort"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Histogram bounds in microseconds.
	histMin     = 1
	histMax     = 3600000000
	histSigFigs = 3
)

// RequestStats keeps a per-request-name latency histogram.
//
// HDR histogram RecordValue is not thread-safe, so all access holds the
// lock.
type RequestStats struct {
	mu    sync.Mutex
	hists map[string]*hdrhistogram.Histogram
}

// NewRequestStats returns an empty RequestStats.
func NewRequestStats() *RequestStats {
	return &RequestStats{hists: make(map[string]*hdrhistogram.Histogram)}
}

// Record adds a latency observation in microseconds for a request name.
func (s *RequestStats) Record(name string, latencyMicros int64) {
	if latencyMicros < histMin {
		latencyMicros = histMin
	}
	if latencyMicros > histMax {
		latencyMicros = histMax
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hist, ok := s.hists[name]
	if !ok {
		hist = hdrhistogram.New(histMin, histMax, histSigFigs)
		s.hists[name] = hist
	}
	hist.RecordValue(latencyMicros)
}

// RequestStat is an immutable latency summary for one request name.
// All durations are milliseconds.
type RequestStat struct {
	Name  string  `json:"name"`
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Snapshot returns per-request summaries sorted by name.
func (s *RequestStats) Snapshot() []RequestStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]RequestStat, 0, len(s.hists))
	for name, hist := range s.hists {
		stats = append(stats, RequestStat{
			Name:  name,
			Count: hist.TotalCount(),
			Min:   float64(hist.Min()) / 1000,
			Mean:  hist.Mean() / 1000,
			Max:   float64(hist.Max()) / 1000,
			P50:   float64(hist.ValueAtQuantile(50)) / 1000,
			P95:   float64(hist.ValueAtQuantile(95)) / 1000,
			P99:   float64(hist.ValueAtQuantile(99)) / 1000,
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
