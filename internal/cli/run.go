package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stampede-load/stampede/internal/loadtest"
	"github.com/stampede-load/stampede/internal/loadtest/config"
	"github.com/stampede-load/stampede/internal/loadtest/engine"
	"github.com/stampede-load/stampede/internal/loadtest/httpscen"
	"github.com/stampede-load/stampede/internal/output"
)

// errRunFailed signals a completed run whose verdict was fail. It maps
// to exit code 1 without an extra error line; the summary already says
// why.
var errRunFailed = errors.New("thresholds failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test from a configuration file",
	Long: `Execute a load test described by a YAML or JSON configuration file.

  stampede run --config test.yaml

CLI flags override the load shape from the file:

  stampede run --config test.yaml --vus 50 --duration 2m
  stampede run --config test.yaml --stages "30s:10,2m:50,30s:0"`,
	RunE: runLoadTest,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "path to test configuration file (required)")
	runCmd.Flags().Int("vus", 0, "constant virtual user count (overrides config)")
	runCmd.Flags().String("duration", "", "constant load duration (overrides config)")
	runCmd.Flags().String("stages", "", "ramp stages as duration:target pairs, e.g. \"30s:10,2m:50\"")
	runCmd.Flags().StringP("output", "o", "", "write run result JSON to this path")
	runCmd.Flags().BoolP("quiet", "q", false, "only print PASSED or FAILED")
	runCmd.Flags().Bool("no-color", false, "disable colored output")
	runCmd.MarkFlagRequired("config")
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	vus, _ := cmd.Flags().GetInt("vus")
	durationStr, _ := cmd.Flags().GetString("duration")
	stagesStr, _ := cmd.Flags().GetString("stages")
	outputPath, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, vus, durationStr, stagesStr); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Configuration parsed; errors past this point are runtime, not
	// usage.
	cmd.SilenceUsage = true

	scenario, err := httpscen.FromConfig(cfg, nil)
	if err != nil {
		return err
	}

	eng, err := engine.New(buildOptions(cfg), scenario)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := eng.Run(ctx)

	if result != nil {
		console := output.NewConsole(output.ConsoleConfig{
			Writer:  cmd.OutOrStdout(),
			Quiet:   quiet,
			NoColor: noColor,
		})
		console.PrintSummary(result, scenario.Stats().Snapshot())

		if outputPath != "" {
			if err := writeResultJSON(result, scenario.Stats().Snapshot(), outputPath); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error writing result: %v\n", err)
			}
		}
	}

	if runErr != nil {
		return runErr
	}
	if result.Verdict == engine.VerdictFail {
		return errRunFailed
	}
	return nil
}

// applyOverrides layers CLI load-shape flags over the file config.
func applyOverrides(cfg *config.Config, vus int, durationStr, stagesStr string) error {
	if stagesStr != "" {
		stages, err := parseStages(stagesStr)
		if err != nil {
			return err
		}
		cfg.Stages = stages
		cfg.VUs = 0
		cfg.Duration = 0
		return nil
	}

	if vus > 0 || durationStr != "" {
		if vus > 0 {
			cfg.VUs = vus
		}
		if durationStr != "" {
			d, err := time.ParseDuration(durationStr)
			if err != nil {
				return fmt.Errorf("invalid --duration: %w", err)
			}
			cfg.Duration = config.Duration(d)
		}
		cfg.Stages = nil
	}
	return nil
}

// parseStages parses "30s:10,2m:50,30s:0" into ramp stages.
func parseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid stage %q, want duration:target", part)
		}
		d, err := time.ParseDuration(fields[0])
		if err != nil {
			return nil, fmt.Errorf("invalid stage duration %q: %w", fields[0], err)
		}
		target, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid stage target %q: %w", fields[1], err)
		}
		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
		})
	}
	return stages, nil
}

func buildOptions(cfg *config.Config) engine.Options {
	opts := engine.Options{
		Name:     cfg.Name,
		StartVUs: cfg.StartVUs,
		VUs:      cfg.VUs,
		Duration: cfg.Duration.Std(),
		ThinkTime: loadtest.ThinkTime{
			Min: cfg.ThinkTime.Min.Std(),
			Max: cfg.ThinkTime.Max.Std(),
		},
		IterationTimeout:   cfg.IterationTimeout.Std(),
		AbortCheckInterval: cfg.AbortCheckInterval.Std(),
		TrendCap:           cfg.TrendCap,
		Metrics:            httpscen.MetricSpecs(cfg),
	}

	for _, stage := range cfg.Stages {
		opts.Stages = append(opts.Stages, loadtest.Stage{
			Duration: stage.Duration.Std(),
			Target:   stage.Target,
		})
	}

	// Sort metric names so threshold ordering is stable run to run.
	names := make([]string, 0, len(cfg.Thresholds))
	for name := range cfg.Thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, expr := range cfg.Thresholds[name] {
			opts.Thresholds = append(opts.Thresholds, engine.ThresholdSpec{
				Metric:      name,
				Expression:  expr.Expression,
				AbortOnFail: expr.AbortOnFail,
			})
		}
	}

	return opts
}

type resultExport struct {
	*engine.RunResult
	Requests []httpscen.RequestStat `json:"requests,omitempty"`
}

func writeResultJSON(result *engine.RunResult, requests []httpscen.RequestStat, path string) error {
	data, err := json.MarshalIndent(resultExport{RunResult: result, Requests: requests}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
