// Package metrics implements the named metric registry used by the load
// generation engine.
//
// Three metric kinds are supported:
//   - Counter: monotonically increasing integer total
//   - Rate: fraction of boolean observations that were true
//   - Trend: distribution of numeric observations with percentile queries
//
// All metrics are safe for concurrent observation from many virtual users.
// Counters and rates use atomic operations; trends shard their sample
// buffers so that high VU counts do not serialize on a single lock.
package metrics

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Kind identifies the type of a metric.
type Kind int

const (
	// KindCounter is a monotonically increasing integer total.
	KindCounter Kind = iota
	// KindRate tracks the fraction of boolean observations that were true.
	KindRate
	// KindTrend records a distribution of numeric observations.
	KindTrend
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindRate:
		return "rate"
	case KindTrend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the kind as its string name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// DuplicateMetricError is returned when a metric name is registered twice
// with different kinds. Re-registering with the same kind is allowed and
// returns the existing metric.
type DuplicateMetricError struct {
	Name      string
	Existing  Kind
	Requested Kind
}

func (e *DuplicateMetricError) Error() string {
	return fmt.Sprintf("metric %q already registered as %s, cannot re-register as %s",
		e.Name, e.Existing, e.Requested)
}

// Metric is implemented by Counter, Rate and Trend.
type Metric interface {
	Name() string
	Kind() Kind

	// snapshot returns a consistent point-in-time view of this metric.
	snapshot() MetricSnapshot
}

// Counter is a monotonically increasing integer total.
type Counter struct {
	name  string
	total atomic.Int64
}

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Kind returns KindCounter.
func (c *Counter) Kind() Kind { return KindCounter }

// Add increments the counter. Negative deltas are ignored to preserve
// monotonicity.
func (c *Counter) Add(delta int64) {
	if delta <= 0 {
		return
	}
	c.total.Add(delta)
}

// Inc increments the counter by one.
func (c *Counter) Inc() { c.total.Add(1) }

// Total returns the current total.
func (c *Counter) Total() int64 { return c.total.Load() }

func (c *Counter) snapshot() MetricSnapshot {
	return MetricSnapshot{Name: c.name, Kind: KindCounter, Count: c.total.Load()}
}

// Rate tracks boolean observations as a pass fraction.
type Rate struct {
	name  string
	trues atomic.Int64
	total atomic.Int64
}

// Name returns the metric name.
func (r *Rate) Name() string { return r.name }

// Kind returns KindRate.
func (r *Rate) Kind() Kind { return KindRate }

// Observe records one boolean observation.
func (r *Rate) Observe(ok bool) {
	r.total.Add(1)
	if ok {
		r.trues.Add(1)
	}
}

func (r *Rate) snapshot() MetricSnapshot {
	// Load total first so trues can never exceed it in the snapshot.
	total := r.total.Load()
	trues := r.trues.Load()
	if trues > total {
		trues = total
	}
	rate := 0.0
	if total > 0 {
		rate = float64(trues) / float64(total)
	}
	return MetricSnapshot{
		Name:   r.name,
		Kind:   KindRate,
		Count:  total,
		Passes: trues,
		Fails:  total - trues,
		Rate:   rate,
	}
}

// trendShardCount is fixed; observations are spread round-robin so no
// single mutex serializes all virtual users.
const trendShardCount = 8

// Trend records a distribution of float64 observations.
//
// Samples are retained in full by default. A positive cap switches each
// shard to reservoir sampling: percentiles become an approximation over a
// uniform sample of the stream, trading accuracy for bounded memory on
// very long runs. Count, sum, min and max always reflect every
// observation regardless of the cap.
type Trend struct {
	name string
	cap  int // retained samples per shard; 0 means unlimited

	next   atomic.Uint64
	shards [trendShardCount]trendShard
}

type trendShard struct {
	mu      sync.Mutex
	samples []float64
	seen    int64
	sum     float64
	min     float64
	max     float64
	rnd     *rand.Rand
}

// Name returns the metric name.
func (t *Trend) Name() string { return t.name }

// Kind returns KindTrend.
func (t *Trend) Kind() Kind { return KindTrend }

// Observe appends one sample to the distribution.
func (t *Trend) Observe(v float64) {
	sh := &t.shards[t.next.Add(1)%trendShardCount]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.seen == 0 || v < sh.min {
		sh.min = v
	}
	if sh.seen == 0 || v > sh.max {
		sh.max = v
	}
	sh.seen++
	sh.sum += v

	if t.cap <= 0 || len(sh.samples) < t.cap {
		sh.samples = append(sh.samples, v)
		return
	}

	// Reservoir sampling (algorithm R) within the shard keeps a uniform
	// sample of everything the shard has seen.
	if sh.rnd == nil {
		sh.rnd = rand.New(rand.NewSource(sh.seen))
	}
	if idx := sh.rnd.Int63n(sh.seen); idx < int64(len(sh.samples)) {
		sh.samples[idx] = v
	}
}

func (t *Trend) snapshot() MetricSnapshot {
	var (
		count    int64
		sum      float64
		min, max float64
		samples  []float64
	)
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		if sh.seen > 0 {
			if count == 0 || sh.min < min {
				min = sh.min
			}
			if count == 0 || sh.max > max {
				max = sh.max
			}
			count += sh.seen
			sum += sh.sum
			samples = append(samples, sh.samples...)
		}
		sh.mu.Unlock()
	}

	mean := 0.0
	if count > 0 {
		mean = sum / float64(count)
	}
	return MetricSnapshot{
		Name:    t.name,
		Kind:    KindTrend,
		Count:   count,
		Sum:     sum,
		Min:     min,
		Max:     max,
		Mean:    mean,
		samples: samples,
	}
}
