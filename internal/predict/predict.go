package predict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/store"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

const maxCandidates = 5

type Store interface {
	RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error)
	GetPermit(ctx context.Context, permitID string) (*model.Permit, error)
	TransitionCounts(ctx context.Context, permitType string) (map[string]map[string]int, error)
}

// Predictor forecasts the next station from historical station-to-station
// moves, conditioned on permit type when that conditional model has enough
// outgoing observations from the current station.
type Predictor struct {
	store     Store
	vel       *velocity.Model
	tables    *config.Tables
	minSample int
}

func New(s Store, vel *velocity.Model, tables *config.Tables, minSample int) *Predictor {
	return &Predictor{store: s, vel: vel, tables: tables, minSample: minSample}
}

func (p *Predictor) Predict(ctx context.Context, permitID string) (*model.NextStationPrediction, error) {
	recs, err := p.store.RoutingHistory(ctx, permitID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return &model.NextStationPrediction{
			PermitID:     permitID,
			NoPrediction: true,
			Reason:       "no routing history yet",
		}, nil
	}
	current := recs[len(recs)-1].StationCode
	pred := &model.NextStationPrediction{PermitID: permitID, CurrentStation: current}
	if p.tables.IsTerminal(current) {
		pred.NoPrediction = true
		pred.Reason = fmt.Sprintf("%s is a terminal station", current)
		return pred, nil
	}

	outgoing, basis, err := p.transitionModel(ctx, permitID, current)
	if err != nil {
		return nil, err
	}
	pred.Basis = basis
	total := 0
	for _, n := range outgoing {
		total += n
	}
	if total == 0 {
		pred.NoPrediction = true
		pred.Basis = ""
		pred.Reason = fmt.Sprintf("no observed departures from %s", current)
		return pred, nil
	}

	for to, n := range outgoing {
		pred.Candidates = append(pred.Candidates, model.NextStationCandidate{
			StationCode:     to,
			Probability:     float64(n) / float64(total),
			TransitionCount: n,
		})
	}
	sort.Slice(pred.Candidates, func(i, j int) bool {
		if pred.Candidates[i].Probability == pred.Candidates[j].Probability {
			return pred.Candidates[i].StationCode < pred.Candidates[j].StationCode
		}
		return pred.Candidates[i].Probability > pred.Candidates[j].Probability
	})
	if len(pred.Candidates) > maxCandidates {
		pred.Candidates = pred.Candidates[:maxCandidates]
	}
	for i := range pred.Candidates {
		prof, err := p.vel.Effective(ctx, pred.Candidates[i].StationCode)
		if err == nil {
			pred.Candidates[i].P50Days = prof.P50
			pred.Candidates[i].ProfilePeriod = prof.Period
		} else if !errors.Is(err, velocity.ErrUnavailable) {
			return nil, err
		}
	}
	return pred, nil
}

// transitionModel picks the type-conditioned model when the permit has a
// known type and that model has at least minSample departures from the
// current station; otherwise the all-permits model.
func (p *Predictor) transitionModel(ctx context.Context, permitID, current string) (map[string]int, string, error) {
	permit, err := p.store.GetPermit(ctx, permitID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}
	if permit != nil && permit.PermitType != "" {
		counts, err := p.store.TransitionCounts(ctx, permit.PermitType)
		if err != nil {
			return nil, "", err
		}
		outgoing := counts[current]
		total := 0
		for _, n := range outgoing {
			total += n
		}
		if total >= p.minSample {
			return outgoing, model.BasisPermitType, nil
		}
	}
	counts, err := p.store.TransitionCounts(ctx, "")
	if err != nil {
		return nil, "", err
	}
	return counts[current], model.BasisAllPermits, nil
}

// RenderMarkdown formats the prediction for the narrative surface.
func RenderMarkdown(pred *model.NextStationPrediction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Next station for %s\n\n", pred.PermitID)
	if pred.NoPrediction {
		fmt.Fprintf(&b, "No prediction: %s.\n", pred.Reason)
		return b.String()
	}
	fmt.Fprintf(&b, "Currently at **%s** (model: %s).\n\n", pred.CurrentStation, basisLabel(pred.Basis))
	b.WriteString("| Station | Probability | Seen | P50 days |\n|---|---|---|---|\n")
	for _, c := range pred.Candidates {
		days := "n/a"
		if c.ProfilePeriod != "" {
			days = fmt.Sprintf("%.1f", c.P50Days)
		}
		fmt.Fprintf(&b, "| %s | %.0f%% | %d | %s |\n", c.StationCode, c.Probability*100, c.TransitionCount, days)
	}
	return b.String()
}

func basisLabel(basis string) string {
	if basis == model.BasisPermitType {
		return "permit-type conditioned"
	}
	return "all permits"
}
