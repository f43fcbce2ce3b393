package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/whatif"
)

var (
	whatifBase string
	whatifVary []string
)

func init() {
	whatifCmd.Flags().StringVar(&whatifBase, "base", "", "Base project description (cost hints like $80K are picked up)")
	whatifCmd.Flags().StringArrayVar(&whatifVary, "vary", nil, "Labeled variation as label=description (repeatable)")
	_ = whatifCmd.MarkFlagRequired("base")
	rootCmd.AddCommand(whatifCmd)
}

var whatifCmd = &cobra.Command{
	Use:   "whatif --base <description> [--vary label=description ...]",
	Short: "Compare a base project scenario against labeled variations",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		start := time.Now()
		defer func() { observe("whatif", start, err) }()

		variations, err := parseVariations(whatifVary)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		sim := whatif.NewFromTables(cfg.Tables, cfg.DefaultProjectCost)
		cmp, err := sim.Compare(cmd.Context(), model.Scenario{Label: "base", Description: whatifBase}, variations...)
		if err != nil {
			return err
		}
		return emit(cmp, whatif.RenderMarkdown(cmp))
	},
}

func parseVariations(raw []string) ([]model.Scenario, error) {
	out := make([]model.Scenario, 0, len(raw))
	for _, v := range raw {
		label, desc, ok := strings.Cut(v, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" || strings.TrimSpace(desc) == "" {
			return nil, fmt.Errorf("--vary wants label=description, got %q", v)
		}
		out = append(out, model.Scenario{Label: label, Description: strings.TrimSpace(desc)})
	}
	return out, nil
}
