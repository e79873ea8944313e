// Package cli wires the command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:     "stampede",
	Short:   "A virtual-user load testing tool",
	Version: version,
	Long: `Stampede drives configurable HTTP load against a target using pools of
virtual users. Load shapes are described as ramp stages, results are
aggregated into counters, rates and latency trends, and pass/fail
verdicts are decided by metric thresholds.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		if err != errRunFailed {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func init() {
	RootCmd.AddCommand(runCmd)
}
