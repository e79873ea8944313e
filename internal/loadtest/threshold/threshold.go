// Package threshold parses and evaluates pass/fail predicates over metric
// snapshots.
//
// Predicates are parsed once at configuration time into a typed
// {metric, aggregator, comparator, limit} form; evaluation never touches
// the expression text again, so a malformed predicate can only ever fail
// before the run starts.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

// Aggregator selects the scalar a predicate compares against.
type Aggregator int

const (
	// AggCount is the observation count, valid for every metric kind.
	AggCount Aggregator = iota
	// AggRate is the true fraction of a rate metric.
	AggRate
	// AggMean is the arithmetic mean of a trend.
	AggMean
	// AggMed is the median of a trend.
	AggMed
	// AggMin is the minimum of a trend.
	AggMin
	// AggMax is the maximum of a trend.
	AggMax
	// AggPercentile is an arbitrary percentile of a trend, e.g. p(95).
	AggPercentile
)

func (a Aggregator) String() string {
	switch a {
	case AggCount:
		return "count"
	case AggRate:
		return "rate"
	case AggMean:
		return "avg"
	case AggMed:
		return "med"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggPercentile:
		return "p"
	default:
		return "unknown"
	}
}

// InvalidThresholdError reports a malformed predicate or a predicate that
// does not fit its metric. It is always raised at configuration time.
type InvalidThresholdError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("invalid threshold %q on metric %q: %s", e.Expression, e.Metric, e.Reason)
}

// Threshold is one parsed pass/fail predicate bound to a metric.
type Threshold struct {
	Metric     string     `json:"metric"`
	Expression string     `json:"expression"`
	Agg        Aggregator `json:"-"`
	Quantile   float64    `json:"-"` // only for AggPercentile, 0..100
	Op         string     `json:"-"`
	Limit      float64    `json:"-"`
	// AbortOnFail stops the run early when a mid-run check trips this
	// threshold.
	AbortOnFail bool `json:"abortOnFail,omitempty"`
}

// Accepted forms: "p(95) < 2000", "rate<0.1", "count >= 100",
// "avg < 250.5", "med<100", "min>1", "max<=5000". Limits are plain
// numbers; trend values are whatever unit the metric was observed in
// (milliseconds for the built-in duration metrics).
var exprRe = regexp.MustCompile(
	`^\s*(count|rate|avg|mean|med|min|max|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|<|>|==|!=)\s*(-?\d+(?:\.\d+)?)\s*$`)

// Parse compiles a predicate string against the named metric.
func Parse(metric, expression string, abortOnFail bool) (*Threshold, error) {
	m := exprRe.FindStringSubmatch(expression)
	if m == nil {
		return nil, &InvalidThresholdError{
			Metric:     metric,
			Expression: expression,
			Reason:     "expected <aggregator> <op> <number>, e.g. \"p(95) < 2000\"",
		}
	}

	th := &Threshold{
		Metric:      metric,
		Expression:  expression,
		Op:          m[3],
		AbortOnFail: abortOnFail,
	}

	limit, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return nil, &InvalidThresholdError{Metric: metric, Expression: expression, Reason: "limit is not a number"}
	}
	th.Limit = limit

	agg := m[1]
	switch {
	case agg == "count":
		th.Agg = AggCount
	case agg == "rate":
		th.Agg = AggRate
	case agg == "avg" || agg == "mean":
		th.Agg = AggMean
	case agg == "med":
		th.Agg = AggMed
	case agg == "min":
		th.Agg = AggMin
	case agg == "max":
		th.Agg = AggMax
	case strings.HasPrefix(agg, "p("):
		q, err := strconv.ParseFloat(m[2], 64)
		if err != nil || q < 0 || q > 100 {
			return nil, &InvalidThresholdError{Metric: metric, Expression: expression, Reason: "percentile must be between 0 and 100"}
		}
		th.Agg = AggPercentile
		th.Quantile = q
	}

	return th, nil
}

// Validate checks that the threshold's metric exists in the registry and
// that the aggregator fits the metric's kind. Configuration errors must
// never surface mid-run, so the run coordinator calls this before any
// virtual user spawns.
func (t *Threshold) Validate(registry *metrics.Registry) error {
	m, ok := registry.Get(t.Metric)
	if !ok {
		return &InvalidThresholdError{Metric: t.Metric, Expression: t.Expression, Reason: "unknown metric"}
	}
	if !aggregatorFits(t.Agg, m.Kind()) {
		return &InvalidThresholdError{
			Metric:     t.Metric,
			Expression: t.Expression,
			Reason:     fmt.Sprintf("aggregator %s does not apply to a %s metric", t.Agg, m.Kind()),
		}
	}
	return nil
}

func aggregatorFits(agg Aggregator, kind metrics.Kind) bool {
	switch kind {
	case metrics.KindCounter:
		return agg == AggCount
	case metrics.KindRate:
		return agg == AggCount || agg == AggRate
	default: // trend
		return agg != AggRate
	}
}

// Outcome is the result of evaluating one threshold against a snapshot.
type Outcome struct {
	Threshold *Threshold `json:"threshold"`
	Passed    bool       `json:"passed"`
	Observed  float64    `json:"observed"`
}

// Evaluate applies every threshold to the snapshot. Evaluation is pure:
// the same snapshot always yields the same outcomes.
func Evaluate(thresholds []*Threshold, snapshot metrics.Snapshot) []Outcome {
	outcomes := make([]Outcome, 0, len(thresholds))
	for _, th := range thresholds {
		outcomes = append(outcomes, th.evaluate(snapshot))
	}
	return outcomes
}

func (t *Threshold) evaluate(snapshot metrics.Snapshot) Outcome {
	m, ok := snapshot.Get(t.Metric)
	if !ok {
		// Cannot happen after Validate; fail closed if it does.
		return Outcome{Threshold: t, Passed: false}
	}

	observed := t.observe(m)
	return Outcome{
		Threshold: t,
		Passed:    compare(observed, t.Op, t.Limit),
		Observed:  observed,
	}
}

func (t *Threshold) observe(m metrics.MetricSnapshot) float64 {
	switch t.Agg {
	case AggCount:
		return float64(m.Count)
	case AggRate:
		return m.Rate
	case AggMean:
		return m.Mean
	case AggMed:
		return m.Median()
	case AggMin:
		return m.Min
	case AggMax:
		return m.Max
	default:
		return m.Percentile(t.Quantile)
	}
}

func compare(observed float64, op string, limit float64) bool {
	switch op {
	case "<":
		return observed < limit
	case "<=":
		return observed <= limit
	case ">":
		return observed > limit
	case ">=":
		return observed >= limit
	case "==":
		return observed == limit
	case "!=":
		return observed != limit
	default:
		return false
	}
}
