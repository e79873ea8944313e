package metrics

import (
	"sort"
	"sync"
	"time"
)

// Registry holds all named metrics for one test run.
//
// Metric names are unique within a registry. Registration is idempotent
// for a matching kind and fails with DuplicateMetricError on a kind
// conflict.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	config  Config
}

// Config contains registry configuration.
type Config struct {
	// TrendCap bounds the number of samples each trend retains per shard.
	// Zero retains everything, which is exact but unbounded in memory:
	// roughly 8 bytes per observation. Long soak tests should set a cap
	// and accept approximate percentiles.
	TrendCap int
}

// NewRegistry creates a registry that retains all trend samples.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(Config{})
}

// NewRegistryWithConfig creates a registry with custom configuration.
func NewRegistryWithConfig(config Config) *Registry {
	return &Registry{
		metrics: make(map[string]Metric),
		config:  config,
	}
}

// Register creates the named metric, or returns the existing one if it
// was already registered with the same kind.
func (r *Registry) Register(name string, kind Kind) (Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.metrics[name]; ok {
		if existing.Kind() != kind {
			return nil, &DuplicateMetricError{Name: name, Existing: existing.Kind(), Requested: kind}
		}
		return existing, nil
	}

	var m Metric
	switch kind {
	case KindCounter:
		m = &Counter{name: name}
	case KindRate:
		m = &Rate{name: name}
	default:
		m = &Trend{name: name, cap: r.config.TrendCap}
	}
	r.metrics[name] = m
	return m, nil
}

// Counter registers (or fetches) a counter metric.
func (r *Registry) Counter(name string) (*Counter, error) {
	m, err := r.Register(name, KindCounter)
	if err != nil {
		return nil, err
	}
	return m.(*Counter), nil
}

// Rate registers (or fetches) a rate metric.
func (r *Registry) Rate(name string) (*Rate, error) {
	m, err := r.Register(name, KindRate)
	if err != nil {
		return nil, err
	}
	return m.(*Rate), nil
}

// Trend registers (or fetches) a trend metric.
func (r *Registry) Trend(name string) (*Trend, error) {
	m, err := r.Register(name, KindTrend)
	if err != nil {
		return nil, err
	}
	return m.(*Trend), nil
}

// Get returns the named metric if it exists.
func (r *Registry) Get(name string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Snapshot returns a read-only view of every registered metric.
//
// Each metric's snapshot is internally consistent; the set of metrics is
// not linearized against each other, which is acceptable because all
// observations are commutative.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	ms := make([]Metric, 0, len(r.metrics))
	for name, m := range r.metrics {
		names = append(names, name)
		ms = append(ms, m)
	}
	r.mu.RUnlock()

	snap := Snapshot{
		Taken:   time.Now(),
		Metrics: make(map[string]MetricSnapshot, len(ms)),
	}
	for i, m := range ms {
		s := m.snapshot()
		sort.Float64s(s.samples)
		snap.Metrics[names[i]] = s
	}
	return snap
}

// Snapshot is a point-in-time view of a registry.
type Snapshot struct {
	Taken   time.Time                 `json:"taken"`
	Metrics map[string]MetricSnapshot `json:"metrics"`
}

// Get returns the snapshot of a single metric.
func (s Snapshot) Get(name string) (MetricSnapshot, bool) {
	m, ok := s.Metrics[name]
	return m, ok
}

// MetricSnapshot is the read-only state of one metric. Fields are
// populated according to Kind: Count for all kinds, Passes/Fails/Rate for
// rates, Sum/Min/Max/Mean and percentile queries for trends.
type MetricSnapshot struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	Count  int64   `json:"count"`
	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`
	Rate   float64 `json:"rate,omitempty"`

	Sum  float64 `json:"sum,omitempty"`
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Mean float64 `json:"mean,omitempty"`

	// sorted ascending; retained trend samples
	samples []float64
}

// Percentile returns the p-th percentile (0..100) of a trend snapshot,
// computed by linear interpolation between the two nearest ranks of the
// retained samples. Returns 0 when no samples were recorded.
func (m MetricSnapshot) Percentile(p float64) float64 {
	n := len(m.samples)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return m.samples[0]
	}
	if p >= 100 {
		return m.samples[n-1]
	}
	rank := p / 100 * float64(n-1)
	lower := int(rank)
	frac := rank - float64(lower)
	if lower+1 >= n {
		return m.samples[n-1]
	}
	return m.samples[lower] + frac*(m.samples[lower+1]-m.samples[lower])
}

// Median returns the 50th percentile of a trend snapshot.
func (m MetricSnapshot) Median() float64 { return m.Percentile(50) }

// SampleCount reports how many samples the snapshot actually retained,
// which is less than Count when a trend cap is configured.
func (m MetricSnapshot) SampleCount() int { return len(m.samples) }
