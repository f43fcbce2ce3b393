// Package cli wires the analytical tools into the permitiq command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/buildinfo"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/metrics"
)

var jsonOut bool

var rootCmd = &cobra.Command{
	Use:   "permitiq",
	Short: "Routing intelligence for San Francisco building permits",
	Long: "permitiq reads the city's permit routing log and answers where a permit is,\n" +
		"how long the rest of its review should take, and what to do when it is stuck.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print the structured result as JSON")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOut {
			data, _ := json.MarshalIndent(buildinfo.Info(), "", "  ")
			fmt.Println(string(data))
			return
		}
		fmt.Println(buildinfo.Short())
	},
}

// emit prints the JSON form under --json, otherwise the rendered markdown.
func emit(v any, markdown string) error {
	if jsonOut {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(strings.TrimRight(markdown, "\n"))
	return nil
}

// observe feeds the per-tool counters; deferred by every analysis command.
func observe(tool string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Analyses.WithLabelValues(tool, outcome).Inc()
	metrics.AnalysisDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}
