package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/diagnose"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/predict"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/timeline"
)

func init() {
	rootCmd.AddCommand(timelineCmd, nextCmd, diagnoseCmd)
}

var timelineCmd = &cobra.Command{
	Use:   "timeline <permit-id>",
	Short: "Estimate the remaining review time across a permit's routing sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("timeline", start, err) }()
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		est, err := timeline.New(rt.store, rt.vel).Estimate(ctx, args[0])
		if errors.Is(err, timeline.ErrNoHistory) {
			err = nil
			return emit(map[string]string{"permitId": args[0], "status": "no_history"},
				fmt.Sprintf("No routing history found for permit %s.", args[0]))
		}
		if err != nil {
			return err
		}
		return emit(est, timeline.RenderMarkdown(est))
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <permit-id>",
	Short: "Rank the stations a permit is most likely to move to next",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("next", start, err) }()
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		pred, err := predict.New(rt.store, rt.vel, rt.cfg.Tables, rt.cfg.MinSampleSize).Predict(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(pred, predict.RenderMarkdown(pred))
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <permit-id>",
	Short: "Classify every station a permit has touched and rank the interventions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("diagnose", start, err) }()
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		report, err := diagnose.New(rt.store, rt.vel, rt.cfg.Tables).Diagnose(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(report, diagnose.RenderMarkdown(report))
	},
}
