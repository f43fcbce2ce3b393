package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

// ErrNoHistory distinguishes "this permit has no routing records" from a
// zero-day estimate.
var ErrNoHistory = errors.New("permit has no routing history")

type HistoryReader interface {
	RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error)
}

// Estimator derives a per-station timeline from a permit's actual routing
// history plus the velocity model. Pure read/compute: identical inputs give
// identical estimates.
type Estimator struct {
	history HistoryReader
	vel     *velocity.Model
	now     func() time.Time
}

func New(history HistoryReader, vel *velocity.Model) *Estimator {
	return &Estimator{history: history, vel: vel, now: time.Now}
}

func (e *Estimator) Estimate(ctx context.Context, permitID string) (*model.SequenceTimelineEstimate, error) {
	recs, err := e.history.RoutingHistory(ctx, permitID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoHistory
	}
	asOf := e.now()
	est := &model.SequenceTimelineEstimate{PermitID: permitID, AsOf: asOf}

	// Visits sharing an arrival date are reviewed in parallel. The grouping
	// compares date strings, so same-day different-hour arrivals group too;
	// that approximation is load-bearing for the totals and kept as is.
	groups := [][]int{}
	lastDate := ""
	for i, r := range recs {
		d := r.ArriveAt.Format("2006-01-02")
		if i == 0 || d != lastDate {
			groups = append(groups, []int{i})
		} else {
			groups[len(groups)-1] = append(groups[len(groups)-1], i)
		}
		lastDate = d
	}

	visited := map[string]bool{}
	usable := map[string]bool{}
	skipped := map[string]bool{}
	for _, g := range groups {
		parallel := len(g) > 1
		groupTotal, groupRemaining := 0.0, 0.0
		for _, i := range g {
			r := recs[i]
			visited[r.StationCode] = true
			se := model.StationEstimate{StationCode: r.StationCode, IsParallel: parallel}
			prof, err := e.vel.Effective(ctx, r.StationCode)
			switch {
			case err == nil:
				usable[r.StationCode] = true
				se.P50Days = prof.P50
				se.ProfilePeriod = prof.Period
			case errors.Is(err, velocity.ErrUnavailable):
				prof = nil
				if !skipped[r.StationCode] {
					skipped[r.StationCode] = true
					est.SkippedStations = append(est.SkippedStations, model.SkippedStation{
						StationCode: r.StationCode,
						Reason:      "no reliable velocity profile",
					})
				}
			default:
				return nil, err
			}
			se.Status = classify(r, prof, asOf)
			// A parallel group contributes its slowest member, not the sum.
			if se.P50Days > groupTotal {
				groupTotal = se.P50Days
			}
			if se.Status != model.StatusDone && se.P50Days > groupRemaining {
				groupRemaining = se.P50Days
			}
			est.Stations = append(est.Stations, se)
		}
		est.TotalEstimateDays += groupTotal
		est.RemainingDays += groupRemaining
	}

	est.Coverage = float64(len(usable)) / float64(len(visited))
	est.Confidence = confidenceFor(est.Coverage)
	return est, nil
}

func classify(r model.RoutingRecord, prof *model.StationVelocityProfile, asOf time.Time) string {
	if r.FinishAt != nil {
		return model.StatusDone
	}
	stalledAfter, _, _ := velocity.EffectiveThresholds(prof)
	if velocity.DwellDays(r, asOf) >= stalledAfter {
		return model.StatusStalled
	}
	return model.StatusPending
}

func confidenceFor(coverage float64) string {
	switch {
	case coverage >= 0.8:
		return model.ConfidenceHigh
	case coverage >= 0.5:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// RenderMarkdown formats the estimate for the narrative surface.
func RenderMarkdown(est *model.SequenceTimelineEstimate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Timeline estimate for %s\n\n", est.PermitID)
	b.WriteString("| Station | Status | P50 days | Parallel |\n|---|---|---|---|\n")
	for _, s := range est.Stations {
		par := ""
		if s.IsParallel {
			par = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", s.StationCode, s.Status, fmtDays(s), par)
	}
	fmt.Fprintf(&b, "\n**Total estimate:** %.1f days, %.1f remaining\n", est.TotalEstimateDays, est.RemainingDays)
	fmt.Fprintf(&b, "**Confidence:** %s (%.0f%% of visited stations had usable velocity data)\n", est.Confidence, est.Coverage*100)
	if len(est.SkippedStations) > 0 {
		b.WriteString("\nSkipped stations, excluded from the total:\n")
		for _, s := range est.SkippedStations {
			fmt.Fprintf(&b, "- %s: %s\n", s.StationCode, s.Reason)
		}
	}
	return b.String()
}

func fmtDays(s model.StationEstimate) string {
	if s.ProfilePeriod == "" {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", s.P50Days)
}
