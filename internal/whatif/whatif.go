package whatif

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Typed results for the four sub-evaluators. Evaluators hand back structs,
// never prose to scrape.
type ReqResult struct {
	PermitType string
	Permits    []string
	ReviewPath string
	Assumed    bool
}

type TimelineResult struct {
	P50Days float64
	P75Days float64
}

type FeeResult struct {
	TotalFee float64
}

type RiskResult struct {
	Level string
	Rate  float64
}

type RequirementsEvaluator interface {
	Requirements(ctx context.Context, sc model.Scenario, cost float64) (ReqResult, error)
}

type TimelineEvaluator interface {
	Timeline(ctx context.Context, sc model.Scenario) (TimelineResult, error)
}

type FeeEvaluator interface {
	Fees(ctx context.Context, sc model.Scenario, cost float64) (FeeResult, error)
}

type RiskEvaluator interface {
	Risk(ctx context.Context, sc model.Scenario) (RiskResult, error)
}

// Simulator evaluates a base scenario and its variations concurrently, four
// evaluators per scenario, and reports deltas. One evaluator failing turns
// into N/A cells and a note; it never cancels its siblings.
type Simulator struct {
	req         RequirementsEvaluator
	tl          TimelineEvaluator
	fees        FeeEvaluator
	risk        RiskEvaluator
	defaultCost float64
}

func New(req RequirementsEvaluator, tl TimelineEvaluator, fees FeeEvaluator, risk RiskEvaluator, defaultCost float64) *Simulator {
	return &Simulator{req: req, tl: tl, fees: fees, risk: risk, defaultCost: defaultCost}
}

// NewFromTables wires the table-backed evaluators into all four slots.
func NewFromTables(tables *config.Tables, defaultCost float64) *Simulator {
	e := TableEvaluators{Tables: tables}
	return New(e, e, e, e, defaultCost)
}

func (s *Simulator) Compare(ctx context.Context, base model.Scenario, variations ...model.Scenario) (*model.WhatIfComparison, error) {
	scenarios := append([]model.Scenario{base}, variations...)
	outcomes := make([]scenarioOutcome, len(scenarios))
	var wg sync.WaitGroup
	for i, sc := range scenarios {
		wg.Add(1)
		go func(i int, sc model.Scenario) {
			defer wg.Done()
			outcomes[i] = s.evaluate(ctx, sc)
		}(i, sc)
	}
	wg.Wait()

	cmp := &model.WhatIfComparison{RunID: uuid.New().String(), Base: outcomes[0].result}
	cmp.Notes = append(cmp.Notes, outcomes[0].notes...)
	for _, o := range outcomes[1:] {
		cmp.Variations = append(cmp.Variations, o.result)
		cmp.Deltas = append(cmp.Deltas, delta(cmp.Base, o.result))
		cmp.Notes = append(cmp.Notes, o.notes...)
	}
	return cmp, nil
}

type scenarioOutcome struct {
	result model.ScenarioResult
	notes  []string
}

// evaluate fans the four evaluators out into their own goroutines, each with
// a designated result slot and its own recover, and fans back in on the
// WaitGroup.
func (s *Simulator) evaluate(ctx context.Context, sc model.Scenario) scenarioOutcome {
	cost, hinted := ParseCostHint(sc.Description)
	if !hinted {
		cost = s.defaultCost
	}

	var (
		wg      sync.WaitGroup
		req     ReqResult
		reqErr  error
		tl      TimelineResult
		tlErr   error
		fee     FeeResult
		feeErr  error
		risk    RiskResult
		riskErr error
	)
	wg.Add(4)
	go func() {
		defer wg.Done()
		defer recoverInto(&reqErr, "requirements")
		req, reqErr = s.req.Requirements(ctx, sc, cost)
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(&tlErr, "timeline")
		tl, tlErr = s.tl.Timeline(ctx, sc)
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(&feeErr, "fee")
		fee, feeErr = s.fees.Fees(ctx, sc, cost)
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(&riskErr, "revision risk")
		risk, riskErr = s.risk.Risk(ctx, sc)
	}()
	wg.Wait()

	out := scenarioOutcome{result: model.ScenarioResult{
		Label:       sc.Label,
		ReviewPath:  model.PathNA,
		ProjectCost: cost,
		CostAssumed: !hinted,
	}}
	if reqErr != nil {
		out.notes = append(out.notes, fmt.Sprintf("%s: requirements evaluation failed: %v", sc.Label, reqErr))
	} else {
		out.result.ReviewPath = req.ReviewPath
		out.result.PermitsSummary = permitsSummary(req)
	}
	if tlErr != nil {
		out.notes = append(out.notes, fmt.Sprintf("%s: timeline evaluation failed: %v", sc.Label, tlErr))
	} else {
		p50, p75 := tl.P50Days, tl.P75Days
		out.result.P50Days, out.result.P75Days = &p50, &p75
	}
	if feeErr != nil {
		out.notes = append(out.notes, fmt.Sprintf("%s: fee evaluation failed: %v", sc.Label, feeErr))
	} else {
		total := fee.TotalFee
		out.result.TotalFee = &total
	}
	if riskErr != nil {
		out.notes = append(out.notes, fmt.Sprintf("%s: revision risk evaluation failed: %v", sc.Label, riskErr))
	} else {
		rate := risk.Rate
		out.result.RevisionRiskLevel = risk.Level
		out.result.RevisionRiskRate = &rate
	}
	return out
}

func recoverInto(err *error, name string) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%s evaluator panicked: %v", name, p)
	}
}

func permitsSummary(r ReqResult) string {
	s := fmt.Sprintf("%s: %s", r.PermitType, strings.Join(r.Permits, ", "))
	if r.Assumed {
		s += " (type assumed)"
	}
	return s
}

// delta compares a variation against the base. A review-path change is
// always significant; numeric shifts are nil-safe against N/A sides.
func delta(base, v model.ScenarioResult) model.DeltaSummary {
	d := model.DeltaSummary{Label: v.Label}
	if base.ReviewPath != v.ReviewPath {
		d.ReviewPathChanged = true
		d.ReviewPathFrom, d.ReviewPathTo = base.ReviewPath, v.ReviewPath
		d.Significant = true
	}
	if base.P50Days != nil && v.P50Days != nil {
		dd := *v.P50Days - *base.P50Days
		d.P50DeltaDays = &dd
		if *base.P50Days != 0 {
			pct := dd / *base.P50Days * 100
			d.P50DeltaPct = &pct
		}
	}
	if base.TotalFee != nil && v.TotalFee != nil {
		fd := *v.TotalFee - *base.TotalFee
		d.FeeDelta = &fd
		if *base.TotalFee != 0 {
			pct := fd / *base.TotalFee * 100
			d.FeeDeltaPct = &pct
		}
	}
	return d
}

var (
	dollarHintRe = regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d+)?)\s*([km])?`)
	bareHintRe   = regexp.MustCompile(`(?i)\b([\d,]+(?:\.\d+)?)\s*([km])\b`)
)

// ParseCostHint extracts a project cost embedded in a description:
// "$80K", "80k", "$80,000", "$1.2M". Bare numbers without a dollar sign or
// k/m suffix are not cost hints.
func ParseCostHint(description string) (float64, bool) {
	m := dollarHintRe.FindStringSubmatch(description)
	if m == nil {
		m = bareHintRe.FindStringSubmatch(description)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k":
		n *= 1e3
	case "m":
		n *= 1e6
	}
	return n, true
}

// TableEvaluators is the default, constants-table-backed implementation of
// all four evaluator roles.
type TableEvaluators struct {
	Tables *config.Tables
}

func (e TableEvaluators) Requirements(ctx context.Context, sc model.Scenario, cost float64) (ReqResult, error) {
	name, prof, assumed := e.Tables.InferPermitType(sc.Description)
	path := model.PathInHouse
	if prof.OTCEligible {
		path = model.PathOTC
	}
	return ReqResult{PermitType: name, Permits: prof.RequiredPermits, ReviewPath: path, Assumed: assumed}, nil
}

func (e TableEvaluators) Timeline(ctx context.Context, sc model.Scenario) (TimelineResult, error) {
	_, prof, _ := e.Tables.InferPermitType(sc.Description)
	return TimelineResult{P50Days: prof.FallbackDays.P50, P75Days: prof.FallbackDays.P75}, nil
}

func (e TableEvaluators) Fees(ctx context.Context, sc model.Scenario, cost float64) (FeeResult, error) {
	return FeeResult{TotalFee: e.Tables.PlanReviewFee(cost)}, nil
}

func (e TableEvaluators) Risk(ctx context.Context, sc model.Scenario) (RiskResult, error) {
	_, prof, _ := e.Tables.InferPermitType(sc.Description)
	rate := prof.RevisionProbability
	desc := strings.ToLower(sc.Description)
	for _, kw := range e.Tables.RiskKeywords {
		if strings.Contains(desc, kw.Keyword) && kw.Rate > rate {
			rate = kw.Rate
		}
	}
	level := "low"
	switch {
	case rate >= 0.4:
		level = "high"
	case rate >= 0.2:
		level = "medium"
	}
	return RiskResult{Level: level, Rate: rate}, nil
}

// RenderMarkdown formats the comparison, one column per scenario, with N/A
// for cells whose evaluator failed.
func RenderMarkdown(cmp *model.WhatIfComparison) string {
	cols := append([]model.ScenarioResult{cmp.Base}, cmp.Variations...)
	var b strings.Builder
	b.WriteString("## What-if comparison\n\n|  |")
	for _, c := range cols {
		fmt.Fprintf(&b, " %s |", c.Label)
	}
	b.WriteString("\n|---|")
	for range cols {
		b.WriteString("---|")
	}
	b.WriteString("\n")
	row := func(name string, cell func(model.ScenarioResult) string) {
		fmt.Fprintf(&b, "| %s |", name)
		for _, c := range cols {
			fmt.Fprintf(&b, " %s |", cell(c))
		}
		b.WriteString("\n")
	}
	row("Permits", func(c model.ScenarioResult) string { return orNA(c.PermitsSummary) })
	row("Review path", func(c model.ScenarioResult) string { return orNA(c.ReviewPath) })
	row("Project cost", func(c model.ScenarioResult) string {
		s := fmt.Sprintf("$%s", thousands(c.ProjectCost))
		if c.CostAssumed {
			s += " (assumed)"
		}
		return s
	})
	row("P50 days", func(c model.ScenarioResult) string { return naFloat(c.P50Days, "%.0f") })
	row("P75 days", func(c model.ScenarioResult) string { return naFloat(c.P75Days, "%.0f") })
	row("Total fee", func(c model.ScenarioResult) string {
		if c.TotalFee == nil {
			return "N/A"
		}
		return "$" + thousands(*c.TotalFee)
	})
	row("Revision risk", func(c model.ScenarioResult) string {
		if c.RevisionRiskRate == nil {
			return "N/A"
		}
		return fmt.Sprintf("%s (%.0f%%)", c.RevisionRiskLevel, *c.RevisionRiskRate*100)
	})

	if len(cmp.Deltas) > 0 {
		b.WriteString("\n### Versus base\n\n")
		for _, d := range cmp.Deltas {
			fmt.Fprintf(&b, "- **%s**: %s\n", d.Label, describeDelta(d))
		}
	}
	if len(cmp.Notes) > 0 {
		b.WriteString("\n### Notes\n\n")
		for _, n := range cmp.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

func describeDelta(d model.DeltaSummary) string {
	parts := []string{}
	if d.ReviewPathChanged {
		parts = append(parts, fmt.Sprintf("review path changes %s to %s (significant)", d.ReviewPathFrom, d.ReviewPathTo))
	}
	if d.P50DeltaDays != nil {
		p := fmt.Sprintf("%+.0f days at P50", *d.P50DeltaDays)
		if d.P50DeltaPct != nil {
			p += fmt.Sprintf(" (%+.0f%%)", *d.P50DeltaPct)
		}
		parts = append(parts, p)
	}
	if d.FeeDelta != nil {
		p := fmt.Sprintf("%+.0f in fees", *d.FeeDelta)
		if d.FeeDeltaPct != nil {
			p += fmt.Sprintf(" (%+.0f%%)", *d.FeeDeltaPct)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "no measurable change"
	}
	return strings.Join(parts, "; ")
}

func orNA(s string) string {
	if s == "" || s == model.PathNA {
		return "N/A"
	}
	return s
}

func naFloat(v *float64, format string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf(format, *v)
}

func thousands(v float64) string {
	s := strconv.FormatFloat(v, 'f', 0, 64)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
