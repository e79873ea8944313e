package metrics_test

import (
	"sync"
	"testing"

	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

func TestRegistry_RegisterDuplicateKind(t *testing.T) {
	reg := metrics.NewRegistry()

	if _, err := reg.Register("checkout_duration", metrics.KindTrend); err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}

	// Same kind is idempotent.
	m, err := reg.Register("checkout_duration", metrics.KindTrend)
	if err != nil {
		t.Fatalf("Register() same kind error = %v, want nil", err)
	}
	if m == nil {
		t.Fatal("Register() same kind returned nil metric")
	}

	// Different kind must fail.
	_, err = reg.Register("checkout_duration", metrics.KindCounter)
	if err == nil {
		t.Fatal("Register() expected error for kind conflict, got nil")
	}
	var dup *metrics.DuplicateMetricError
	if !asDuplicate(err, &dup) {
		t.Fatalf("Register() error = %T, want *DuplicateMetricError", err)
	}
	if dup.Name != "checkout_duration" {
		t.Errorf("DuplicateMetricError.Name = %q, want %q", dup.Name, "checkout_duration")
	}
}

func asDuplicate(err error, target **metrics.DuplicateMetricError) bool {
	d, ok := err.(*metrics.DuplicateMetricError)
	if ok {
		*target = d
	}
	return ok
}

func TestCounter_ConcurrentNoLostUpdates(t *testing.T) {
	reg := metrics.NewRegistry()
	counter, err := reg.Counter("iterations")
	if err != nil {
		t.Fatalf("Counter() error = %v", err)
	}

	const vus = 25
	const perVU = 400

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perVU; j++ {
				counter.Inc()
			}
		}()
	}
	wg.Wait()

	if got := counter.Total(); got != vus*perVU {
		t.Errorf("Total() = %d, want %d", got, vus*perVU)
	}
}

func TestCounter_NegativeDeltaIgnored(t *testing.T) {
	reg := metrics.NewRegistry()
	counter, _ := reg.Counter("iterations")

	counter.Add(10)
	counter.Add(-5)

	if got := counter.Total(); got != 10 {
		t.Errorf("Total() = %d, want 10", got)
	}
}

func TestRate_Observe(t *testing.T) {
	reg := metrics.NewRegistry()
	rate, err := reg.Rate("errors")
	if err != nil {
		t.Fatalf("Rate() error = %v", err)
	}

	for i := 0; i < 100; i++ {
		rate.Observe(i >= 15) // first 15 observations are failures
	}

	snap, ok := reg.Snapshot().Get("errors")
	if !ok {
		t.Fatal("snapshot missing metric")
	}
	if snap.Count != 100 {
		t.Errorf("Count = %d, want 100", snap.Count)
	}
	if snap.Passes != 85 {
		t.Errorf("Passes = %d, want 85", snap.Passes)
	}
	if snap.Rate != 0.85 {
		t.Errorf("Rate = %v, want 0.85", snap.Rate)
	}
}

func TestRate_ConcurrentObserve(t *testing.T) {
	reg := metrics.NewRegistry()
	rate, _ := reg.Rate("checks")

	const vus = 20
	const perVU = 500

	var wg sync.WaitGroup
	for i := 0; i < vus; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perVU; j++ {
				rate.Observe(j%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	snap, _ := reg.Snapshot().Get("checks")
	if snap.Count != vus*perVU {
		t.Errorf("Count = %d, want %d", snap.Count, vus*perVU)
	}
	if snap.Passes != vus*perVU/2 {
		t.Errorf("Passes = %d, want %d", snap.Passes, vus*perVU/2)
	}
}

func TestTrend_PercentileInterpolation(t *testing.T) {
	reg := metrics.NewRegistry()
	trend, err := reg.Trend("latency")
	if err != nil {
		t.Fatalf("Trend() error = %v", err)
	}

	// Samples 1..100; observed out of order on purpose.
	for i := 100; i >= 1; i-- {
		trend.Observe(float64(i))
	}

	snap, _ := reg.Snapshot().Get("latency")

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{100, 100},
		{50, 50.5},  // rank 49.5 between 50 and 51
		{95, 95.05}, // rank 94.05 between 95 and 96
		{99, 99.01}, // rank 98.01 between 99 and 100
	}
	for _, tt := range tests {
		got := snap.Percentile(tt.p)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if snap.Count != 100 {
		t.Errorf("Count = %d, want 100", snap.Count)
	}
	if snap.Mean != 50.5 {
		t.Errorf("Mean = %v, want 50.5", snap.Mean)
	}
	if snap.Min != 1 || snap.Max != 100 {
		t.Errorf("Min/Max = %v/%v, want 1/100", snap.Min, snap.Max)
	}
}

func TestTrend_PercentileDeterministic(t *testing.T) {
	reg := metrics.NewRegistry()
	trend, _ := reg.Trend("latency")
	for i := 0; i < 1000; i++ {
		trend.Observe(float64(i % 97))
	}

	first, _ := reg.Snapshot().Get("latency")
	for i := 0; i < 5; i++ {
		again, _ := reg.Snapshot().Get("latency")
		if again.Percentile(95) != first.Percentile(95) {
			t.Fatalf("Percentile(95) changed between evaluations: %v vs %v",
				again.Percentile(95), first.Percentile(95))
		}
	}
}

func TestTrend_CapBoundsRetention(t *testing.T) {
	reg := metrics.NewRegistryWithConfig(metrics.Config{TrendCap: 10})
	trend, _ := reg.Trend("latency")

	for i := 0; i < 10000; i++ {
		trend.Observe(float64(i))
	}

	snap, _ := reg.Snapshot().Get("latency")
	if snap.Count != 10000 {
		t.Errorf("Count = %d, want 10000 (cap must not drop the count)", snap.Count)
	}
	if snap.SampleCount() > 80 { // 8 shards x 10 samples
		t.Errorf("SampleCount() = %d, want <= 80", snap.SampleCount())
	}
	if snap.Min != 0 || snap.Max != 9999 {
		t.Errorf("Min/Max = %v/%v, want 0/9999 (extremes tracked past the cap)", snap.Min, snap.Max)
	}
}

func TestSnapshot_IsolatedFromLaterObservations(t *testing.T) {
	reg := metrics.NewRegistry()
	counter, _ := reg.Counter("iterations")
	trend, _ := reg.Trend("latency")

	counter.Inc()
	trend.Observe(5)

	snap := reg.Snapshot()

	counter.Inc()
	trend.Observe(50)

	if c, _ := snap.Get("iterations"); c.Count != 1 {
		t.Errorf("snapshot counter Count = %d, want 1", c.Count)
	}
	if tr, _ := snap.Get("latency"); tr.Count != 1 || tr.Percentile(100) != 5 {
		t.Errorf("snapshot trend changed after later observations: %+v", tr)
	}
}

func TestTrend_EmptyPercentile(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.Trend("latency")

	snap, _ := reg.Snapshot().Get("latency")
	if got := snap.Percentile(95); got != 0 {
		t.Errorf("Percentile(95) on empty trend = %v, want 0", got)
	}
}
