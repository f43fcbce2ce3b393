package whatif

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

func testTables(t *testing.T) *config.Tables {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg.Tables
}

func TestParseCostHint(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"kitchen remodel $80K budget", 80000, true},
		{"kitchen remodel 80k budget", 80000, true},
		{"kitchen remodel, $80,000", 80000, true},
		{"ground-up build $1.2M", 1200000, true},
		{"repipe for $950", 950, true},
		{"add 2 bathrooms", 0, false},
		{"reroof the garage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseCostHint(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseCostHint(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestCompare_PathChangeIsSignificant(t *testing.T) {
	sim := NewFromTables(testTables(t), 50000)
	base := model.Scenario{Label: "base", Description: "kitchen remodel with structural work, $80K budget"}
	variation := model.Scenario{Label: "scaled-down", Description: "like-for-like reroof, $20k"}

	cmp, err := sim.Compare(context.Background(), base, variation)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.RunID == "" {
		t.Fatal("expected a run id")
	}
	if cmp.Base.ReviewPath != model.PathInHouse {
		t.Fatalf("base review path = %q, want %q", cmp.Base.ReviewPath, model.PathInHouse)
	}
	if got := cmp.Variations[0].ReviewPath; got != model.PathOTC {
		t.Fatalf("variation review path = %q, want %q", got, model.PathOTC)
	}
	if len(cmp.Deltas) != 1 {
		t.Fatalf("deltas = %d, want 1", len(cmp.Deltas))
	}
	d := cmp.Deltas[0]
	if !d.ReviewPathChanged || !d.Significant {
		t.Fatalf("path change not flagged significant: %+v", d)
	}
	if d.P50DeltaDays == nil || *d.P50DeltaDays != -89 {
		t.Fatalf("p50 delta = %v, want -89", d.P50DeltaDays)
	}
	if cmp.Base.ProjectCost != 80000 || cmp.Base.CostAssumed {
		t.Fatalf("base cost = %v assumed=%v, want 80000 from hint", cmp.Base.ProjectCost, cmp.Base.CostAssumed)
	}
}

func TestCompare_FeeAndRisk(t *testing.T) {
	sim := NewFromTables(testTables(t), 50000)
	base := model.Scenario{Label: "base", Description: "kitchen remodel with structural work, $80K budget"}

	cmp, err := sim.Compare(context.Background(), base)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Base.TotalFee == nil || *cmp.Base.TotalFee != 1212 {
		t.Fatalf("fee = %v, want 1212", cmp.Base.TotalFee)
	}
	// "structural" outranks the alteration base rate of 0.35.
	if cmp.Base.RevisionRiskLevel != "high" || cmp.Base.RevisionRiskRate == nil || *cmp.Base.RevisionRiskRate != 0.50 {
		t.Fatalf("risk = %s %v, want high 0.50", cmp.Base.RevisionRiskLevel, cmp.Base.RevisionRiskRate)
	}
}

func TestCompare_DefaultCostWhenNoHint(t *testing.T) {
	sim := NewFromTables(testTables(t), 50000)
	cmp, err := sim.Compare(context.Background(), model.Scenario{Label: "base", Description: "garage door replacement"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Base.ProjectCost != 50000 || !cmp.Base.CostAssumed {
		t.Fatalf("cost = %v assumed=%v, want default 50000 assumed", cmp.Base.ProjectCost, cmp.Base.CostAssumed)
	}
	if !strings.Contains(cmp.Base.PermitsSummary, "(type assumed)") {
		t.Fatalf("permits summary %q should flag the assumed type", cmp.Base.PermitsSummary)
	}
}

type failingTimeline struct{}

func (failingTimeline) Timeline(ctx context.Context, sc model.Scenario) (TimelineResult, error) {
	return TimelineResult{}, errors.New("stats backend down")
}

func TestCompare_EvaluatorFailureDoesNotCancelSiblings(t *testing.T) {
	e := TableEvaluators{Tables: testTables(t)}
	sim := New(e, failingTimeline{}, e, e, 50000)

	base := model.Scenario{Label: "base", Description: "kitchen remodel $80K"}
	variation := model.Scenario{Label: "variation", Description: "like-for-like reroof $20k"}
	cmp, err := sim.Compare(context.Background(), base, variation)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(cmp.Variations) != 1 {
		t.Fatalf("variations = %d, want 1", len(cmp.Variations))
	}
	for _, r := range append([]model.ScenarioResult{cmp.Base}, cmp.Variations...) {
		if r.P50Days != nil {
			t.Fatalf("%s: p50 should be nil when the timeline evaluator fails", r.Label)
		}
		if r.TotalFee == nil || r.ReviewPath == model.PathNA || r.RevisionRiskRate == nil {
			t.Fatalf("%s: sibling evaluators should still fill their fields: %+v", r.Label, r)
		}
	}
	if len(cmp.Notes) != 2 {
		t.Fatalf("notes = %v, want one per scenario", cmp.Notes)
	}
	if d := cmp.Deltas[0]; d.P50DeltaDays != nil || d.FeeDelta == nil {
		t.Fatalf("delta should skip the failed metric only: %+v", d)
	}
}

type panickyRisk struct{}

func (panickyRisk) Risk(ctx context.Context, sc model.Scenario) (RiskResult, error) {
	panic("nil map write")
}

func TestCompare_PanicIsContained(t *testing.T) {
	e := TableEvaluators{Tables: testTables(t)}
	sim := New(e, e, e, panickyRisk{}, 50000)

	cmp, err := sim.Compare(context.Background(), model.Scenario{Label: "base", Description: "kitchen remodel"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp.Base.RevisionRiskRate != nil {
		t.Fatal("risk rate should be nil after a panic")
	}
	if len(cmp.Notes) != 1 || !strings.Contains(cmp.Notes[0], "panicked") {
		t.Fatalf("notes = %v, want a panic note", cmp.Notes)
	}
	if cmp.Base.P50Days == nil || cmp.Base.TotalFee == nil {
		t.Fatal("sibling evaluators should survive the panic")
	}
}

type slowEvaluators struct {
	TableEvaluators
	delay time.Duration
}

func (s slowEvaluators) Requirements(ctx context.Context, sc model.Scenario, cost float64) (ReqResult, error) {
	time.Sleep(s.delay)
	return s.TableEvaluators.Requirements(ctx, sc, cost)
}

func (s slowEvaluators) Timeline(ctx context.Context, sc model.Scenario) (TimelineResult, error) {
	time.Sleep(s.delay)
	return s.TableEvaluators.Timeline(ctx, sc)
}

func (s slowEvaluators) Fees(ctx context.Context, sc model.Scenario, cost float64) (FeeResult, error) {
	time.Sleep(s.delay)
	return s.TableEvaluators.Fees(ctx, sc, cost)
}

func (s slowEvaluators) Risk(ctx context.Context, sc model.Scenario) (RiskResult, error) {
	time.Sleep(s.delay)
	return s.TableEvaluators.Risk(ctx, sc)
}

func TestCompare_ScenariosAndEvaluatorsRunConcurrently(t *testing.T) {
	e := slowEvaluators{TableEvaluators{Tables: testTables(t)}, 50 * time.Millisecond}
	sim := New(e, e, e, e, 50000)

	start := time.Now()
	_, err := sim.Compare(context.Background(),
		model.Scenario{Label: "base", Description: "kitchen remodel"},
		model.Scenario{Label: "v1", Description: "reroof"},
		model.Scenario{Label: "v2", Description: "panel upgrade"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	// 12 evaluator calls at 50ms each would run 600ms serially.
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("compare took %v, evaluators are not running concurrently", elapsed)
	}
}

func TestRenderMarkdown_NACellsAndNotes(t *testing.T) {
	e := TableEvaluators{Tables: testTables(t)}
	sim := New(e, failingTimeline{}, e, e, 50000)

	cmp, err := sim.Compare(context.Background(),
		model.Scenario{Label: "base", Description: "kitchen remodel $80K"},
		model.Scenario{Label: "bigger", Description: "adu addition $250,000"})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	md := RenderMarkdown(cmp)
	if !strings.Contains(md, "N/A") {
		t.Fatal("markdown should render N/A for failed cells")
	}
	if !strings.Contains(md, "### Notes") || !strings.Contains(md, "stats backend down") {
		t.Fatal("markdown should carry the failure notes")
	}
	if !strings.Contains(md, "| base |") || !strings.Contains(md, " bigger |") {
		t.Fatalf("markdown missing scenario columns:\n%s", md)
	}
	if !strings.Contains(md, "$80,000") {
		t.Fatalf("markdown should format the project cost with separators:\n%s", md)
	}
}
