package predict

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/store"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

func testTables(t *testing.T) *config.Tables {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg.Tables
}

func newPredictor(t *testing.T, m *store.Memory, minSample int) *Predictor {
	t.Helper()
	return New(m, velocity.New(m, 30), testTables(t), minSample)
}

// seedPath writes one permit's routing history along the given stations,
// one hop every 5 days, leaving the last station open.
func seedPath(t *testing.T, m *store.Memory, permitID string, stations ...string) {
	t.Helper()
	recs := make([]model.RoutingRecord, 0, len(stations))
	for i, code := range stations {
		arrive := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, i*5)
		r := model.RoutingRecord{PermitID: permitID, StationCode: code, ArriveAt: arrive}
		if i < len(stations)-1 {
			f := arrive.AddDate(0, 0, 4)
			r.FinishAt = &f
		}
		recs = append(recs, r)
	}
	if _, err := m.UpsertRoutingRecords(context.Background(), recs); err != nil {
		t.Fatalf("seed path: %v", err)
	}
}

func TestPredict_NoHistory(t *testing.T) {
	p := newPredictor(t, store.NewMemory(), 30)
	pred, err := p.Predict(context.Background(), "UNKNOWN")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !pred.NoPrediction || len(pred.Candidates) != 0 {
		t.Fatalf("expected explicit no-prediction, got %+v", pred)
	}
	if !strings.Contains(pred.Reason, "history") {
		t.Fatalf("reason should mention history: %q", pred.Reason)
	}
}

func TestPredict_TerminalStation(t *testing.T) {
	m := store.NewMemory()
	seedPath(t, m, "DONE-1", "CPB", "ISSUED")
	pred, err := newPredictor(t, m, 30).Predict(context.Background(), "DONE-1")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !pred.NoPrediction || !strings.Contains(pred.Reason, "terminal") {
		t.Fatalf("expected terminal no-prediction, got %+v", pred)
	}
}

func TestPredict_RanksByProbability(t *testing.T) {
	m := store.NewMemory()
	seedPath(t, m, "T1", "BLDG", "PPC")
	seedPath(t, m, "T2", "BLDG", "PPC")
	seedPath(t, m, "T3", "BLDG", "PPC")
	seedPath(t, m, "T4", "BLDG", "SFFD")
	seedPath(t, m, "T5", "BLDG", "SFFD")
	seedPath(t, m, "T6", "BLDG", "ISSUED")
	seedPath(t, m, "TARGET", "BLDG")
	if err := m.UpsertProfile(context.Background(), model.StationVelocityProfile{
		StationCode: "PPC", Period: model.PeriodCurrent,
		P25: 10, P50: 33, P75: 60, P90: 120, SampleCount: 40, ComputedAt: time.Now(),
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	pred, err := newPredictor(t, m, 30).Predict(context.Background(), "TARGET")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.NoPrediction || pred.CurrentStation != "BLDG" || pred.Basis != model.BasisAllPermits {
		t.Fatalf("unexpected prediction shape: %+v", pred)
	}
	if len(pred.Candidates) != 3 || pred.Candidates[0].StationCode != "PPC" {
		t.Fatalf("expected PPC ranked first, got %+v", pred.Candidates)
	}
	if math.Abs(pred.Candidates[0].Probability-0.5) > 1e-9 || pred.Candidates[0].TransitionCount != 3 {
		t.Fatalf("PPC probability wrong: %+v", pred.Candidates[0])
	}
	if pred.Candidates[0].P50Days != 33 || pred.Candidates[0].ProfilePeriod != model.PeriodCurrent {
		t.Fatalf("expected velocity enrichment on PPC: %+v", pred.Candidates[0])
	}
}

func TestPredict_TypeConditioningFallback(t *testing.T) {
	m := store.NewMemory()
	for _, id := range []string{"A1", "A2", "A3"} {
		seedPath(t, m, id, "BLDG", "PPC")
	}
	for _, id := range []string{"B1", "B2", "B3", "B4", "B5"} {
		seedPath(t, m, id, "BLDG", "SFFD")
	}
	seedPath(t, m, "TARGET", "BLDG")
	permits := []model.Permit{{PermitID: "TARGET", PermitType: "alteration"}}
	for _, id := range []string{"A1", "A2", "A3"} {
		permits = append(permits, model.Permit{PermitID: id, PermitType: "alteration"})
	}
	for _, id := range []string{"B1", "B2", "B3", "B4", "B5"} {
		permits = append(permits, model.Permit{PermitID: id, PermitType: "new_construction"})
	}
	if _, err := m.UpsertPermits(context.Background(), permits); err != nil {
		t.Fatalf("seed permits: %v", err)
	}

	// 3 alteration departures from BLDG meet a min sample of 3
	pred, err := newPredictor(t, m, 3).Predict(context.Background(), "TARGET")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Basis != model.BasisPermitType || pred.Candidates[0].StationCode != "PPC" {
		t.Fatalf("expected type-conditioned model, got %+v", pred)
	}

	// below min sample the predictor degrades to the all-permits model
	pred, err = newPredictor(t, m, 10).Predict(context.Background(), "TARGET")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pred.Basis != model.BasisAllPermits || pred.Candidates[0].StationCode != "SFFD" {
		t.Fatalf("expected all-permits fallback, got %+v", pred)
	}
}

func TestPredict_NoObservedDepartures(t *testing.T) {
	m := store.NewMemory()
	seedPath(t, m, "TARGET", "CPB", "HOLD")
	pred, err := newPredictor(t, m, 30).Predict(context.Background(), "TARGET")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !pred.NoPrediction || !strings.Contains(pred.Reason, "departures") {
		t.Fatalf("expected no-departures result, got %+v", pred)
	}
}

func TestPredict_TopFiveOnly(t *testing.T) {
	m := store.NewMemory()
	for i, to := range []string{"PPC", "SFFD", "DPH", "SFPUC", "DPW", "MECH"} {
		seedPath(t, m, "P"+string(rune('A'+i)), "BLDG", to)
	}
	seedPath(t, m, "TARGET", "BLDG")
	pred, err := newPredictor(t, m, 30).Predict(context.Background(), "TARGET")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(pred.Candidates) != 5 {
		t.Fatalf("expected top 5 candidates, got %d", len(pred.Candidates))
	}
}

func TestRenderMarkdown_NoPrediction(t *testing.T) {
	md := RenderMarkdown(&model.NextStationPrediction{
		PermitID:     "P1",
		NoPrediction: true,
		Reason:       "no routing history yet",
	})
	if !strings.Contains(md, "No prediction") {
		t.Fatalf("markdown should surface the reason:\n%s", md)
	}
}
