package delaycost

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

// Days per month used to convert a monthly carrying cost into a daily one.
const daysPerMonth = 30.44

// Store is the slice of the data layer the calculator reads: total
// first-arrive to last-finish durations for completed permits of one type,
// in ascending order.
type Store interface {
	CompletedPermitDurations(ctx context.Context, permitType string) ([]float64, error)
}

// Options carries the optional knobs of an estimate.
type Options struct {
	Neighborhood string
	Triggers     []string
}

// Calculator turns timeline percentiles into dollar exposure. Percentiles
// come from live completed-permit data when the sample is large enough,
// otherwise from the per-type fallback table; escalation triggers widen the
// fallback timeline only.
type Calculator struct {
	store     Store
	vel       *velocity.Model
	tables    *config.Tables
	minSample int
}

func New(store Store, vel *velocity.Model, tables *config.Tables, minSample int) *Calculator {
	return &Calculator{store: store, vel: vel, tables: tables, minSample: minSample}
}

func (c *Calculator) Estimate(ctx context.Context, permitType string, monthlyCost float64, opts Options) (*model.DelayCostEstimate, error) {
	prof, ok := c.tables.PermitType(permitType)
	if !ok {
		return nil, fmt.Errorf("unknown permit type %q (known: %s)", permitType, strings.Join(c.tables.PermitTypeNames(), ", "))
	}
	if monthlyCost <= 0 {
		return nil, fmt.Errorf("monthly carrying cost must be positive, got %v", monthlyCost)
	}

	est := &model.DelayCostEstimate{
		PermitType:          strings.ToLower(strings.TrimSpace(permitType)),
		MonthlyCarryingCost: monthlyCost,
		DailyDelayCost:      monthlyCost / daysPerMonth,
	}

	p25, p50, p90, basis, err := c.timelineDays(ctx, est.PermitType, prof)
	if err != nil {
		return nil, err
	}
	est.Basis = basis

	for _, raw := range opts.Triggers {
		trigger := canonicalTrigger(raw)
		extra, known := c.tables.EscalationTriggers[trigger]
		if !known {
			est.Notes = append(est.Notes, fmt.Sprintf("unknown escalation trigger %q ignored", raw))
			continue
		}
		if basis == model.BasisLive {
			est.Notes = append(est.Notes, fmt.Sprintf("escalation trigger %s not applied; live timelines already reflect real delays", trigger))
			continue
		}
		p25 += extra
		p50 += extra
		p90 += extra
		est.EscalationsApplied = append(est.EscalationsApplied, fmt.Sprintf("%s (+%.0f days)", trigger, extra))
	}

	riskCost := prof.RevisionProbability * prof.RevisionDelayDays * est.DailyDelayCost
	for _, sc := range []struct {
		name string
		days float64
	}{
		{model.ScenarioBest, p25},
		{model.ScenarioLikely, p50},
		{model.ScenarioWorst, p90},
	} {
		carrying := monthlyCost * sc.days / daysPerMonth
		est.Rows = append(est.Rows, model.DelayCostRow{
			Scenario:         sc.name,
			Days:             sc.days,
			CarryingCost:     carrying,
			RevisionRiskCost: riskCost,
			Total:            carrying + riskCost,
		})
	}

	if prof.OTCEligible {
		est.OTCNote = fmt.Sprintf("%s qualifies for over-the-counter review; same-day issuance avoids this exposure entirely.", displayName(prof, est.PermitType))
	}
	est.BottleneckNote = c.bottleneckNote(ctx, prof)

	if opts.Neighborhood != "" {
		est.Neighborhood = opts.Neighborhood
		for name, note := range c.tables.Neighborhoods {
			if strings.EqualFold(name, opts.Neighborhood) {
				est.Notes = append(est.Notes, note)
				break
			}
		}
	}
	return est, nil
}

// timelineDays picks live percentiles over completed permits of this type
// when the sample is big enough, else the per-type fallback table.
func (c *Calculator) timelineDays(ctx context.Context, permitType string, prof config.PermitTypeProfile) (p25, p50, p90 float64, basis string, err error) {
	durations, err := c.store.CompletedPermitDurations(ctx, permitType)
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("completed durations for %s: %w", permitType, err)
	}
	if len(durations) >= c.minSample {
		sort.Float64s(durations)
		lp25, lp50, _, lp90 := velocity.Percentiles(durations)
		return lp25, lp50, lp90, model.BasisLive, nil
	}
	fb := prof.FallbackDays
	return fb.P25, fb.P50, fb.P90, model.BasisFallback, nil
}

// bottleneckNote reports the type's known slow station only when it is
// measurably running hot: current P50 at or above 1.5x baseline P50.
func (c *Calculator) bottleneckNote(ctx context.Context, prof config.PermitTypeProfile) string {
	if prof.BottleneckStation == "" {
		return ""
	}
	cur, err := c.vel.Lookup(ctx, prof.BottleneckStation, model.PeriodCurrent)
	if err != nil {
		return ""
	}
	base, err := c.vel.Lookup(ctx, prof.BottleneckStation, model.PeriodBaseline)
	if err != nil || base.P50 <= 0 {
		return ""
	}
	if cur.P50 < 1.5*base.P50 {
		return ""
	}
	note := fmt.Sprintf("%s is running at %.0f days P50 against a %.0f-day baseline (%.1fx).",
		prof.BottleneckStation, cur.P50, base.P50, cur.P50/base.P50)
	if prof.BottleneckNote != "" {
		note += " " + prof.BottleneckNote
	}
	return note
}

func canonicalTrigger(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, " ", "-")
	return strings.ReplaceAll(t, "_", "-")
}

func displayName(prof config.PermitTypeProfile, fallback string) string {
	if prof.DisplayName != "" {
		return prof.DisplayName
	}
	return fallback
}

// RenderMarkdown formats the estimate with the one-line daily cost sentence
// on top and the scenario table under it.
func RenderMarkdown(est *model.DelayCostEstimate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Delay cost exposure: %s\n\n", est.PermitType)
	fmt.Fprintf(&b, "Every day of delay costs $%s/day against a $%s/month carrying cost.\n\n",
		money(est.DailyDelayCost), money(est.MonthlyCarryingCost))
	b.WriteString("| Scenario | Days | Carrying cost | Revision risk | Total |\n|---|---|---|---|---|\n")
	for _, r := range est.Rows {
		fmt.Fprintf(&b, "| %s | %.0f | $%s | $%s | $%s |\n",
			r.Scenario, r.Days, money(r.CarryingCost), money(r.RevisionRiskCost), money(r.Total))
	}
	fmt.Fprintf(&b, "\nTimeline basis: %s", est.Basis)
	if len(est.EscalationsApplied) > 0 {
		fmt.Fprintf(&b, " with escalations %s", strings.Join(est.EscalationsApplied, ", "))
	}
	b.WriteString("\n")
	if est.Neighborhood != "" {
		fmt.Fprintf(&b, "Neighborhood: %s\n", est.Neighborhood)
	}
	if est.OTCNote != "" {
		fmt.Fprintf(&b, "\n%s\n", est.OTCNote)
	}
	if est.BottleneckNote != "" {
		fmt.Fprintf(&b, "\n%s\n", est.BottleneckNote)
	}
	if len(est.Notes) > 0 {
		b.WriteString("\n")
		for _, n := range est.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

func money(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var parts []string
		for len(s) > 3 {
			parts = append([]string{s[len(s)-3:]}, parts...)
			s = s[:len(s)-3]
		}
		s = s + "," + strings.Join(parts, ",")
	}
	if neg {
		return "-" + s
	}
	return s
}
