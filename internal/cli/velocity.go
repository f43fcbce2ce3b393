package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

var velocityPeriod string

func init() {
	velocityCmd.Flags().StringVar(&velocityPeriod, "period", model.PeriodCurrent,
		"Profile period: current, baseline, or effective (current with baseline fallback)")
	rootCmd.AddCommand(velocityCmd)
}

var velocityCmd = &cobra.Command{
	Use:   "velocity <station-code>",
	Short: "Show the dwell-time percentile profile for one review station",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("velocity", start, err) }()
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		station := strings.ToUpper(strings.TrimSpace(args[0]))
		var prof *model.StationVelocityProfile
		switch velocityPeriod {
		case "effective":
			prof, err = rt.vel.Effective(ctx, station)
		case model.PeriodCurrent, model.PeriodBaseline:
			prof, err = rt.vel.Lookup(ctx, station, velocityPeriod)
		default:
			return fmt.Errorf("unknown period %q (want current, baseline, or effective)", velocityPeriod)
		}
		if errors.Is(err, velocity.ErrUnavailable) {
			err = nil
			return emit(map[string]string{"stationCode": station, "status": "unavailable"},
				fmt.Sprintf("No reliable velocity profile for station %s (%s).", station, velocityPeriod))
		}
		if err != nil {
			return err
		}
		return emit(prof, renderProfile(rt, prof))
	},
}

func renderProfile(rt *runtime, prof *model.StationVelocityProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s velocity (%s)\n\n", prof.StationCode, prof.Period)
	if st, ok := rt.cfg.Tables.Stations[prof.StationCode]; ok {
		fmt.Fprintf(&b, "%s\n\n", st.Name)
	}
	b.WriteString("| P25 | P50 | P75 | P90 | Samples |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %.1f | %.1f | %.1f | %.1f | %d |\n", prof.P25, prof.P50, prof.P75, prof.P90, prof.SampleCount)
	if !prof.ComputedAt.IsZero() {
		fmt.Fprintf(&b, "\nComputed %s\n", prof.ComputedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}
