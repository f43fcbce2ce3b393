package diagnose

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/store"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func newDiagnostician(t *testing.T, m *store.Memory) *Diagnostician {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	dg := New(m, velocity.New(m, 30), cfg.Tables)
	dg.now = func() time.Time { return asOf }
	return dg
}

// profile with stalled threshold 20d and critical threshold 40d
func seedThresholdProfile(t *testing.T, m *store.Memory, code string) {
	t.Helper()
	err := m.UpsertProfile(context.Background(), model.StationVelocityProfile{
		StationCode: code, Period: model.PeriodCurrent,
		P25: 5, P50: 10, P75: 20, P90: 40, SampleCount: 40, ComputedAt: asOf,
	})
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func openSince(daysAgo int) model.RoutingRecord {
	return model.RoutingRecord{ArriveAt: asOf.AddDate(0, 0, -daysAgo)}
}

func seed(t *testing.T, m *store.Memory, recs []model.RoutingRecord) {
	t.Helper()
	if _, err := m.UpsertRoutingRecords(context.Background(), recs); err != nil {
		t.Fatalf("seed records: %v", err)
	}
}

func TestDiagnose_NotFound(t *testing.T) {
	dg := newDiagnostician(t, store.NewMemory())
	r, err := dg.Diagnose(context.Background(), "MISSING")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if r.Found {
		t.Fatalf("expected Found=false")
	}
	if !strings.Contains(r.Note, "652-3700") {
		t.Fatalf("note should carry the department contact: %q", r.Note)
	}
}

func TestDiagnose_ExactThresholdBoundaries(t *testing.T) {
	m := store.NewMemory()
	for _, code := range []string{"BLDG", "MECH", "PPC"} {
		seedThresholdProfile(t, m, code)
	}
	a := openSince(19)
	a.PermitID, a.StationCode = "P1", "BLDG"
	b := openSince(20) // exactly at p75
	b.PermitID, b.StationCode = "P1", "MECH"
	c := openSince(40) // exactly at p90
	c.PermitID, c.StationCode = "P1", "PPC"
	seed(t, m, []model.RoutingRecord{a, b, c})

	r, err := newDiagnostician(t, m).Diagnose(context.Background(), "P1")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	states := map[string]string{}
	for _, d := range r.Diagnoses {
		states[d.StationCode] = d.State
	}
	if states["BLDG"] != model.StateOK {
		t.Fatalf("below p75 should be ok, got %s", states["BLDG"])
	}
	if states["MECH"] != model.StateStalled {
		t.Fatalf("exactly p75 should be stalled, got %s", states["MECH"])
	}
	if states["PPC"] != model.StateCriticallyStalled {
		t.Fatalf("exactly p90 should be critically stalled, got %s", states["PPC"])
	}
}

func TestDiagnose_CommentsIssuedAlwaysTop(t *testing.T) {
	m := store.NewMemory()
	seedThresholdProfile(t, m, "BLDG")
	seedThresholdProfile(t, m, "PPC")
	f := asOf.AddDate(0, 0, -58)
	comments := model.RoutingRecord{
		PermitID: "P2", StationCode: "BLDG",
		ArriveAt: asOf.AddDate(0, 0, -60), FinishAt: &f,
		ReviewResult: model.ResultCommentsIssued,
	}
	verySlow := openSince(200)
	verySlow.PermitID, verySlow.StationCode = "P2", "PPC"
	seed(t, m, []model.RoutingRecord{comments, verySlow})

	r, err := newDiagnostician(t, m).Diagnose(context.Background(), "P2")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if r.Diagnoses[0].StationCode != "BLDG" || r.Diagnoses[0].ReviewResult != model.ResultCommentsIssued {
		t.Fatalf("comments_issued must rank first regardless of dwell: %+v", r.Diagnoses)
	}
	if r.Plan[0].Urgency != model.UrgencyImmediate || !strings.Contains(r.Plan[0].Action, "comment letter") {
		t.Fatalf("plan must lead with the comment response: %+v", r.Plan[0])
	}
}

func TestDiagnose_RevisionCycleElevates(t *testing.T) {
	m := store.NewMemory()
	seedThresholdProfile(t, m, "BLDG")
	seedThresholdProfile(t, m, "MECH")
	a := openSince(25)
	a.PermitID, a.StationCode = "P3", "BLDG"
	b := openSince(25)
	b.PermitID, b.StationCode, b.RevisionCycle = "P3", "MECH", 2
	seed(t, m, []model.RoutingRecord{a, b})

	r, err := newDiagnostician(t, m).Diagnose(context.Background(), "P3")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if r.Diagnoses[0].StationCode != "MECH" {
		t.Fatalf("revision cycle >=2 should elevate severity: %+v", r.Diagnoses)
	}

	// three cycles bring in the expediter recommendation
	c := openSince(25)
	c.PermitID, c.StationCode, c.RevisionCycle = "P4", "BLDG", 3
	seed(t, m, []model.RoutingRecord{c})
	r4, err := newDiagnostician(t, m).Diagnose(context.Background(), "P4")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	found := false
	for _, s := range r4.Plan {
		if strings.Contains(s.Action, "expediter") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected expediter step at cycle 3: %+v", r4.Plan)
	}
}

func TestDiagnose_HeuristicFallback(t *testing.T) {
	m := store.NewMemory()
	a := openSince(50) // no profile anywhere: 45/90 heuristics apply
	a.PermitID, a.StationCode = "P5", "HOLD"
	b := openSince(100)
	b.PermitID, b.StationCode = "P5", "INTAKE"
	seed(t, m, []model.RoutingRecord{a, b})

	r, err := newDiagnostician(t, m).Diagnose(context.Background(), "P5")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	byCode := map[string]model.StationDiagnosis{}
	for _, d := range r.Diagnoses {
		byCode[d.StationCode] = d
	}
	hold := byCode["HOLD"]
	if hold.State != model.StateStalled || hold.ThresholdSource != model.ThresholdSourceHeuristic || hold.StalledAfterDays != 45 {
		t.Fatalf("heuristic stall classification wrong: %+v", hold)
	}
	if byCode["INTAKE"].State != model.StateCriticallyStalled {
		t.Fatalf("past 90d heuristic should be critical: %+v", byCode["INTAKE"])
	}
}

func TestDiagnose_InterAgencyContact(t *testing.T) {
	m := store.NewMemory()
	a := openSince(120)
	a.PermitID, a.StationCode = "P6", "SFFD"
	seed(t, m, []model.RoutingRecord{a})

	r, err := newDiagnostician(t, m).Diagnose(context.Background(), "P6")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	step := r.Plan[0]
	if !strings.Contains(step.Action, "SF Fire Department") {
		t.Fatalf("inter-agency step should name the agency: %+v", step)
	}
	if step.Contact != "(628) 652-3470" {
		t.Fatalf("inter-agency step should use the agency contact: %+v", step)
	}
}

func TestDiagnose_Idempotent(t *testing.T) {
	m := store.NewMemory()
	seedThresholdProfile(t, m, "BLDG")
	a := openSince(25)
	a.PermitID, a.StationCode = "P7", "BLDG"
	seed(t, m, []model.RoutingRecord{a})
	dg := newDiagnostician(t, m)
	r1, err := dg.Diagnose(context.Background(), "P7")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	r2, err := dg.Diagnose(context.Background(), "P7")
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if !reflect.DeepEqual(r1, r2) {
		t.Fatalf("diagnosis not idempotent")
	}
}

func TestRenderMarkdown_PlanOrdering(t *testing.T) {
	r := &model.StuckReport{
		PermitID: "P8",
		Found:    true,
		Diagnoses: []model.StationDiagnosis{
			{StationCode: "BLDG", State: model.StateStalled, DwellDays: 30, StalledAfterDays: 20, CriticalAfterDays: 40, ThresholdSource: model.ThresholdSourceProfile},
		},
		Plan: []model.InterventionStep{
			{Urgency: model.UrgencyImmediate, Action: "Pick up the comment letter", Contact: "x"},
			{Urgency: model.UrgencyMedium, Action: "Request a status update"},
		},
	}
	md := RenderMarkdown(r)
	if !strings.Contains(md, "What to do now") || !strings.Contains(md, "[immediate]") {
		t.Fatalf("markdown missing plan section:\n%s", md)
	}
	if strings.Index(md, "[immediate]") > strings.Index(md, "[medium]") {
		t.Fatalf("plan should render immediate first:\n%s", md)
	}
}
