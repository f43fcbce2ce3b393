package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/delaycost"
)

var (
	delayType         string
	delayMonthlyCost  float64
	delayNeighborhood string
	delayTriggers     []string
)

func init() {
	delayCostCmd.Flags().StringVar(&delayType, "type", "", "Permit type (see the constant tables)")
	delayCostCmd.Flags().Float64Var(&delayMonthlyCost, "monthly-cost", 0, "Monthly carrying cost in dollars")
	delayCostCmd.Flags().StringVar(&delayNeighborhood, "neighborhood", "", "Neighborhood for area-specific notes")
	delayCostCmd.Flags().StringArrayVar(&delayTriggers, "trigger", nil, "Escalation trigger, e.g. environmental-review (repeatable)")
	_ = delayCostCmd.MarkFlagRequired("type")
	_ = delayCostCmd.MarkFlagRequired("monthly-cost")
	rootCmd.AddCommand(delayCostCmd)
}

var delayCostCmd = &cobra.Command{
	Use:   "delay-cost --type <permit-type> --monthly-cost <dollars>",
	Short: "Convert review timelines into dollar exposure",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("delay_cost", start, err) }()
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		calc := delaycost.New(rt.store, rt.vel, rt.cfg.Tables, rt.cfg.MinSampleSize)
		est, err := calc.Estimate(ctx, delayType, delayMonthlyCost, delaycost.Options{
			Neighborhood: delayNeighborhood,
			Triggers:     delayTriggers,
		})
		if err != nil {
			return err
		}
		return emit(est, delaycost.RenderMarkdown(est))
	},
}
