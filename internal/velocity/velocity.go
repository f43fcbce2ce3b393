package velocity

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/store"
)

// ErrUnavailable means no reliable profile backs the station. Downstream
// components treat it as a normal outcome, never a failure.
var ErrUnavailable = errors.New("velocity profile unavailable")

// Heuristic dwell thresholds used when no profile backs a station.
const (
	HeuristicStalledDays  = 45.0
	HeuristicCriticalDays = 90.0
)

// ProfileReader is the read side of the profile snapshot; satisfied by the
// memory store, the postgres store, and the redis profile cache.
type ProfileReader interface {
	Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error)
}

// Model answers dwell-percentile lookups against the latest profile
// snapshot. It never fabricates numbers: an unreliable or missing profile is
// ErrUnavailable.
type Model struct {
	profiles  ProfileReader
	minSample int
}

func New(profiles ProfileReader, minSample int) *Model {
	return &Model{profiles: profiles, minSample: minSample}
}

// Lookup returns the exact (station, period) profile, or ErrUnavailable when
// it is missing or its sample count is below the minimum.
func (m *Model) Lookup(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error) {
	prof, err := m.profiles.Profile(ctx, stationCode, period)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	if prof.SampleCount < m.minSample {
		return nil, ErrUnavailable
	}
	return prof, nil
}

// Effective applies the lookup policy: current preferred, baseline fallback,
// ErrUnavailable when both are unreliable.
func (m *Model) Effective(ctx context.Context, stationCode string) (*model.StationVelocityProfile, error) {
	prof, err := m.Lookup(ctx, stationCode, model.PeriodCurrent)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	return m.Lookup(ctx, stationCode, model.PeriodBaseline)
}

// EffectiveThresholds resolves the stalled/critical dwell cutoffs once for
// every caller: profile percentiles when a reliable profile exists, the fixed
// heuristics otherwise.
func EffectiveThresholds(prof *model.StationVelocityProfile) (stalledAfter, criticalAfter float64, source string) {
	if prof != nil {
		return prof.P75, prof.P90, model.ThresholdSourceProfile
	}
	return HeuristicStalledDays, HeuristicCriticalDays, model.ThresholdSourceHeuristic
}

// DwellDays is the elapsed time a permit has spent at a station. Open
// records dwell until asOf.
func DwellDays(r model.RoutingRecord, asOf time.Time) float64 {
	end := asOf
	if r.FinishAt != nil {
		end = *r.FinishAt
	}
	d := end.Sub(r.ArriveAt).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// Percentiles computes p25/p50/p75/p90 of ascending-sorted values by linear
// interpolation between ranks.
func Percentiles(sorted []float64) (p25, p50, p75, p90 float64) {
	return quantile(sorted, 0.25), quantile(sorted, 0.50), quantile(sorted, 0.75), quantile(sorted, 0.90)
}

func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// RecomputeStore is what the batch recompute needs from the data layer.
type RecomputeStore interface {
	DistinctStations(ctx context.Context) ([]string, error)
	StationRecords(ctx context.Context, stationCode string, since time.Time) ([]model.RoutingRecord, error)
	UpsertProfile(ctx context.Context, p model.StationVelocityProfile) error
}

// Recomputer rebuilds the current and baseline snapshots for every station
// seen in the routing log. Profiles are written regardless of sample count;
// reliability is enforced on the read side.
type Recomputer struct {
	s            RecomputeStore
	currentDays  int
	baselineDays int
}

func NewRecomputer(s RecomputeStore, currentDays, baselineDays int) *Recomputer {
	return &Recomputer{s: s, currentDays: currentDays, baselineDays: baselineDays}
}

// Recompute returns the number of profiles written. asOf fixes the window
// edges and the dwell of still-open records.
func (r *Recomputer) Recompute(ctx context.Context, asOf time.Time) (int, error) {
	stations, err := r.s.DistinctStations(ctx)
	if err != nil {
		return 0, err
	}
	windows := []struct {
		period string
		days   int
	}{
		{model.PeriodCurrent, r.currentDays},
		{model.PeriodBaseline, r.baselineDays},
	}
	written := 0
	for _, code := range stations {
		for _, w := range windows {
			recs, err := r.s.StationRecords(ctx, code, asOf.AddDate(0, 0, -w.days))
			if err != nil {
				return written, err
			}
			if len(recs) == 0 {
				continue
			}
			dwells := make([]float64, 0, len(recs))
			for _, rec := range recs {
				dwells = append(dwells, DwellDays(rec, asOf))
			}
			sort.Float64s(dwells)
			p25, p50, p75, p90 := Percentiles(dwells)
			prof := model.StationVelocityProfile{
				StationCode: code,
				Period:      w.period,
				P25:         p25,
				P50:         p50,
				P75:         p75,
				P90:         p90,
				SampleCount: len(dwells),
				ComputedAt:  asOf,
			}
			if err := r.s.UpsertProfile(ctx, prof); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}
