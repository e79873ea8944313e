package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest/engine"
	"github.com/stampede-load/stampede/internal/loadtest/httpscen"
	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

const ruleWidth = 56

// Console renders run summaries to a writer.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	quiet  bool
}

// ConsoleConfig controls summary rendering.
type ConsoleConfig struct {
	Writer io.Writer

	// Quiet reduces the summary to a single PASSED/FAILED line.
	Quiet bool

	// NoColor disables colors regardless of terminal detection.
	NoColor bool
}

// NewConsole creates a console renderer. Colors are enabled when the
// writer is a terminal, NO_COLOR is unset, and NoColor is false.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	scheme := DefaultColorScheme()
	if cfg.NoColor || !colorsEnabled(cfg.Writer) {
		scheme = NoColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		scheme: scheme,
		quiet:  cfg.Quiet,
	}
}

func colorsEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isTerminal(f)
}

// PrintSummary renders the final run summary. requests may be nil when
// the scenario does not track per-request latency.
func (c *Console) PrintSummary(result *engine.RunResult, requests []httpscen.RequestStat) {
	if c.quiet {
		if result.Verdict == engine.VerdictPass {
			fmt.Fprintln(c.writer, c.scheme.Pass.Sprint("PASSED"))
		} else {
			fmt.Fprintln(c.writer, c.scheme.Fail.Sprint("FAILED"))
		}
		return
	}

	rule := c.scheme.Rule.Sprint(strings.Repeat("━", ruleWidth))

	status := c.scheme.Pass.Sprint("Passed ✓")
	if result.Verdict == engine.VerdictFail {
		status = c.scheme.Fail.Sprint("Failed ✗")
	}
	if result.Aborted {
		status += c.scheme.Warn.Sprintf(" (aborted: %s)", result.Reason)
	}

	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, rule)
	fmt.Fprintf(c.writer, "%s - %s\n", c.scheme.Title.Sprint(result.Name), status)
	fmt.Fprintln(c.writer, rule)
	fmt.Fprintln(c.writer)

	fmt.Fprintf(c.writer, "Run ID:      %s\n", result.ID)
	fmt.Fprintf(c.writer, "Duration:    %s\n", c.scheme.Value.Sprint(formatDuration(result.Duration)))
	fmt.Fprintf(c.writer, "Iterations:  %s\n", c.scheme.Value.Sprintf("%d", result.Iterations))
	fmt.Fprintln(c.writer)

	c.printMetrics(result.Metrics)
	c.printRequests(requests)
	c.printThresholds(result)
}

func (c *Console) printMetrics(snap metrics.Snapshot) {
	names := make([]string, 0, len(snap.Metrics))
	for name := range snap.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(c.writer, c.scheme.Title.Sprint("Metrics:"))
	for _, name := range names {
		m := snap.Metrics[name]
		fmt.Fprintf(c.writer, "  %s  %s\n",
			c.scheme.MetricName.Sprintf("%-24s", name), formatMetric(m))
	}
	fmt.Fprintln(c.writer)
}

func formatMetric(m metrics.MetricSnapshot) string {
	switch m.Kind {
	case metrics.KindCounter:
		return fmt.Sprintf("count=%d", m.Count)
	case metrics.KindRate:
		return fmt.Sprintf("%.2f%% (%d/%d)", m.Rate*100, m.Passes, m.Count)
	default:
		return fmt.Sprintf("avg=%.2f min=%.2f med=%.2f p(95)=%.2f max=%.2f",
			m.Mean, m.Min, m.Median(), m.Percentile(95), m.Max)
	}
}

func (c *Console) printRequests(requests []httpscen.RequestStat) {
	if len(requests) == 0 {
		return
	}

	fmt.Fprintln(c.writer, c.scheme.Title.Sprint("Request Latency (ms):"))
	fmt.Fprintf(c.writer, "  %-24s %8s %8s %8s %8s %8s\n",
		"name", "count", "p50", "p95", "p99", "max")
	for _, r := range requests {
		fmt.Fprintf(c.writer, "  %-24s %8d %8.1f %8.1f %8.1f %8.1f\n",
			r.Name, r.Count, r.P50, r.P95, r.P99, r.Max)
	}
	fmt.Fprintln(c.writer)
}

func (c *Console) printThresholds(result *engine.RunResult) {
	if len(result.Thresholds) == 0 {
		return
	}

	fmt.Fprintln(c.writer, c.scheme.Title.Sprint("Thresholds:"))
	for _, outcome := range result.Thresholds {
		icon := c.scheme.Pass.Sprint("✓")
		if !outcome.Passed {
			icon = c.scheme.Fail.Sprint("✗")
		}
		fmt.Fprintf(c.writer, "  %s %s: %s (actual: %.4g)\n",
			icon, outcome.Threshold.Metric, outcome.Threshold.Expression, outcome.Observed)
	}
	fmt.Fprintln(c.writer)
}

// formatDuration renders a duration with sub-second noise trimmed.
func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	if d >= time.Second {
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Millisecond).String()
}
