package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set and by
// deterministic tests.
type Memory struct {
	mu       sync.Mutex
	records  map[string][]model.RoutingRecord // permitID -> visits
	permits  map[string]model.Permit
	profiles map[profileKey]model.StationVelocityProfile
}

type profileKey struct {
	Station string
	Period  string
}

func NewMemory() *Memory {
	return &Memory{
		records:  map[string][]model.RoutingRecord{},
		permits:  map[string]model.Permit{},
		profiles: map[profileKey]model.StationVelocityProfile{},
	}
}

func (m *Memory) RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]model.RoutingRecord(nil), m.records[permitID]...)
	sortRecords(out)
	return out, nil
}

func (m *Memory) StationRecords(ctx context.Context, stationCode string, since time.Time) ([]model.RoutingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.RoutingRecord{}
	for _, recs := range m.records {
		for _, r := range recs {
			if r.StationCode == stationCode && !r.ArriveAt.Before(since) {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) UpsertRoutingRecords(ctx context.Context, recs []model.RoutingRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, r := range recs {
		if r.PermitID == "" || r.StationCode == "" {
			continue
		}
		existing := m.records[r.PermitID]
		replaced := false
		for i, e := range existing {
			if e.StationCode == r.StationCode && e.ArriveAt.Equal(r.ArriveAt) {
				existing[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			m.records[r.PermitID] = append(existing, r)
		}
		written++
	}
	return written, nil
}

func (m *Memory) LatestArrival(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, recs := range m.records {
		for _, r := range recs {
			if r.ArriveAt.After(latest) {
				latest = r.ArriveAt
			}
		}
	}
	return latest, nil
}

func (m *Memory) DistinctStations(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for _, recs := range m.records {
		for _, r := range recs {
			seen[r.StationCode] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) TransitionCounts(ctx context.Context, permitType string) (map[string]map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]map[string]int{}
	for pid, recs := range m.records {
		if permitType != "" {
			p, ok := m.permits[pid]
			if !ok || p.PermitType != permitType {
				continue
			}
		}
		ordered := append([]model.RoutingRecord(nil), recs...)
		sortRecords(ordered)
		for i := 0; i+1 < len(ordered); i++ {
			from, to := ordered[i].StationCode, ordered[i+1].StationCode
			if counts[from] == nil {
				counts[from] = map[string]int{}
			}
			counts[from][to]++
		}
	}
	return counts, nil
}

func (m *Memory) CompletedPermitDurations(ctx context.Context, permitType string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []float64{}
	for pid, recs := range m.records {
		if len(recs) == 0 {
			continue
		}
		if permitType != "" {
			p, ok := m.permits[pid]
			if !ok || p.PermitType != permitType {
				continue
			}
		}
		first := recs[0].ArriveAt
		var last time.Time
		complete := true
		for _, r := range recs {
			if r.FinishAt == nil {
				complete = false
				break
			}
			if r.ArriveAt.Before(first) {
				first = r.ArriveAt
			}
			if r.FinishAt.After(last) {
				last = *r.FinishAt
			}
		}
		if complete {
			out = append(out, last.Sub(first).Hours()/24)
		}
	}
	sort.Float64s(out)
	return out, nil
}

func (m *Memory) GetPermit(ctx context.Context, permitID string) (*model.Permit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.permits[permitID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpsertPermits(ctx context.Context, permits []model.Permit) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	written := 0
	for _, p := range permits {
		if p.PermitID == "" {
			continue
		}
		m.permits[p.PermitID] = p
		written++
	}
	return written, nil
}

func (m *Memory) LatestFiled(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, p := range m.permits {
		if p.FiledAt.After(latest) {
			latest = p.FiledAt
		}
	}
	return latest, nil
}

func (m *Memory) Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[profileKey{stationCode, period}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpsertProfile(ctx context.Context, p model.StationVelocityProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profileKey{p.StationCode, p.Period}] = p
	return nil
}

func sortRecords(recs []model.RoutingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ArriveAt.Equal(recs[j].ArriveAt) {
			return recs[i].StationCode < recs[j].StationCode
		}
		return recs[i].ArriveAt.Before(recs[j].ArriveAt)
	})
}
