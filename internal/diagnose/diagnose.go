package diagnose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

type HistoryReader interface {
	RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error)
}

// Diagnostician classifies every station a permit has touched into a health
// state and derives an ordered intervention plan. Advisory only; nothing is
// persisted.
type Diagnostician struct {
	history HistoryReader
	vel     *velocity.Model
	tables  *config.Tables
	now     func() time.Time
}

func New(history HistoryReader, vel *velocity.Model, tables *config.Tables) *Diagnostician {
	return &Diagnostician{history: history, vel: vel, tables: tables, now: time.Now}
}

// Diagnose never fails on an unknown permit: that is a Found=false report
// carrying the department contact, not a lookup error.
func (dg *Diagnostician) Diagnose(ctx context.Context, permitID string) (*model.StuckReport, error) {
	recs, err := dg.history.RoutingHistory(ctx, permitID)
	if err != nil {
		return nil, err
	}
	asOf := dg.now()
	if len(recs) == 0 {
		return &model.StuckReport{
			PermitID: permitID,
			Found:    false,
			AsOf:     asOf,
			Note:     fmt.Sprintf("No routing history for permit %s. Verify the permit number with %s.", permitID, dg.tables.DepartmentContact),
		}, nil
	}

	report := &model.StuckReport{PermitID: permitID, Found: true, AsOf: asOf}
	maxCycle := 0
	for _, r := range recs {
		prof, err := dg.vel.Effective(ctx, r.StationCode)
		if err != nil && !errors.Is(err, velocity.ErrUnavailable) {
			return nil, err
		}
		if err != nil {
			prof = nil
		}
		stalledAfter, criticalAfter, source := velocity.EffectiveThresholds(prof)
		st, _ := dg.tables.StationInfo(r.StationCode)
		d := model.StationDiagnosis{
			StationCode:       r.StationCode,
			StationName:       st.Name,
			DwellDays:         velocity.DwellDays(r, asOf),
			Open:              r.FinishAt == nil,
			ReviewResult:      r.ReviewResult,
			RevisionCycle:     r.RevisionCycle,
			ThresholdSource:   source,
			StalledAfterDays:  stalledAfter,
			CriticalAfterDays: criticalAfter,
		}
		d.State = classify(d.DwellDays, stalledAfter, criticalAfter)
		d.Severity = severityScore(d)
		report.Diagnoses = append(report.Diagnoses, d)
		if r.RevisionCycle > maxCycle {
			maxCycle = r.RevisionCycle
		}
	}

	// comments_issued outranks everything regardless of dwell; severity
	// breaks ties below it.
	sort.SliceStable(report.Diagnoses, func(i, j int) bool {
		a, b := report.Diagnoses[i], report.Diagnoses[j]
		ac, bc := a.ReviewResult == model.ResultCommentsIssued, b.ReviewResult == model.ResultCommentsIssued
		if ac != bc {
			return ac
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		return a.DwellDays > b.DwellDays
	})

	report.Plan = dg.buildPlan(report.Diagnoses, maxCycle)
	return report, nil
}

// classify applies the unified thresholds with inclusive boundaries: exactly
// at the stalled cutoff is stalled, exactly at the critical cutoff is
// critically stalled.
func classify(dwell, stalledAfter, criticalAfter float64) string {
	switch {
	case dwell >= criticalAfter:
		return model.StateCriticallyStalled
	case dwell >= stalledAfter:
		return model.StateStalled
	default:
		return model.StateOK
	}
}

func severityScore(d model.StationDiagnosis) float64 {
	s := 0.0
	if d.ReviewResult == model.ResultCommentsIssued {
		s += 100
	}
	switch d.State {
	case model.StateCriticallyStalled:
		s += 60
	case model.StateStalled:
		s += 35
	}
	if d.RevisionCycle >= 2 {
		s += 15 * float64(d.RevisionCycle)
	}
	// dwell as a tiebreaker within a state
	return s + d.DwellDays/30
}

func (dg *Diagnostician) buildPlan(diags []model.StationDiagnosis, maxCycle int) []model.InterventionStep {
	plan := []model.InterventionStep{}
	for _, d := range diags {
		st, _ := dg.tables.StationInfo(d.StationCode)
		contact := st.Contact
		if contact == "" {
			contact = dg.tables.DepartmentContact
		}
		agency := st.Agency
		if agency == "" {
			agency = "DBI"
		}
		switch {
		case d.ReviewResult == model.ResultCommentsIssued:
			plan = append(plan, model.InterventionStep{
				Urgency: model.UrgencyImmediate,
				Action:  fmt.Sprintf("Pick up the comment letter from %s and schedule your response", st.Name),
				Contact: contact,
			})
		case d.Open && d.State == model.StateCriticallyStalled:
			plan = append(plan, model.InterventionStep{
				Urgency: model.UrgencyHigh,
				Action:  fmt.Sprintf("Escalate the %s review with %s; dwell is %.0f days against a %.0f-day critical threshold", st.Name, agency, d.DwellDays, d.CriticalAfterDays),
				Contact: contact,
			})
		case d.Open && d.State == model.StateStalled:
			plan = append(plan, model.InterventionStep{
				Urgency: model.UrgencyMedium,
				Action:  fmt.Sprintf("Request a status update from %s", st.Name),
				Contact: contact,
			})
		}
	}
	if maxCycle >= 3 {
		plan = append(plan, model.InterventionStep{
			Urgency: model.UrgencyHigh,
			Action:  fmt.Sprintf("Engage a permit expediter or your architect; %d revision cycles point at plan-quality issues", maxCycle),
			Contact: dg.tables.DepartmentContact,
		})
	}
	if len(plan) == 0 {
		plan = append(plan, model.InterventionStep{
			Urgency: model.UrgencyLow,
			Action:  "No intervention needed; every review is within its normal dwell range",
		})
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return urgencyRank(plan[i].Urgency) < urgencyRank(plan[j].Urgency)
	})
	return plan
}

func urgencyRank(u string) int {
	switch u {
	case model.UrgencyImmediate:
		return 0
	case model.UrgencyHigh:
		return 1
	case model.UrgencyMedium:
		return 2
	default:
		return 3
	}
}

// RenderMarkdown formats the report for the narrative surface.
func RenderMarkdown(r *model.StuckReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Stuck-permit diagnosis for %s\n\n", r.PermitID)
	if !r.Found {
		fmt.Fprintf(&b, "%s\n", r.Note)
		return b.String()
	}
	b.WriteString("| Station | State | Dwell days | Thresholds | Result | Cycle |\n|---|---|---|---|---|---|\n")
	for _, d := range r.Diagnoses {
		fmt.Fprintf(&b, "| %s | %s | %.0f | %.0f/%.0f (%s) | %s | %d |\n",
			d.StationCode, d.State, d.DwellDays, d.StalledAfterDays, d.CriticalAfterDays, d.ThresholdSource, orDash(d.ReviewResult), d.RevisionCycle)
	}
	b.WriteString("\n### What to do now\n\n")
	for i, s := range r.Plan {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, s.Urgency, s.Action)
		if s.Contact != "" {
			fmt.Fprintf(&b, " (%s)", s.Contact)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
