package store

import (
	"context"
	"errors"
	"time"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Store is the data surface over the routing log, permit attributes, and
// velocity profile snapshots. Analytical components only read; the refresher
// and the profile recompute job are the writers.
type Store interface {
	// Routing log
	// RoutingHistory returns all station visits for a permit ordered by
	// arrival (station code breaks ties). Empty slice when the permit has
	// no history.
	RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error)
	// StationRecords returns visits to one station arriving at or after
	// since, ordered by arrival.
	StationRecords(ctx context.Context, stationCode string, since time.Time) ([]model.RoutingRecord, error)
	// UpsertRoutingRecords writes visits keyed by (permit, station, arrival)
	// and reports how many rows were written.
	UpsertRoutingRecords(ctx context.Context, recs []model.RoutingRecord) (int, error)
	// LatestArrival is the refresh watermark; zero time when the log is empty.
	LatestArrival(ctx context.Context) (time.Time, error)
	DistinctStations(ctx context.Context) ([]string, error)
	// TransitionCounts tallies observed station-to-station moves across
	// permits, keyed [from][to]. A non-empty permitType restricts the tally
	// to permits of that type.
	TransitionCounts(ctx context.Context, permitType string) (map[string]map[string]int, error)
	// CompletedPermitDurations returns total review spans in days (first
	// arrival to last finish) for permits with no open visits, optionally
	// restricted by permit type.
	CompletedPermitDurations(ctx context.Context, permitType string) ([]float64, error)

	// Permit attributes
	GetPermit(ctx context.Context, permitID string) (*model.Permit, error)
	UpsertPermits(ctx context.Context, permits []model.Permit) (int, error)
	// LatestFiled is the permit-attribute refresh watermark.
	LatestFiled(ctx context.Context) (time.Time, error)

	// Velocity profile snapshots
	// Profile returns the snapshot for (station, period) or ErrNotFound.
	Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error)
	UpsertProfile(ctx context.Context, p model.StationVelocityProfile) error
}

var ErrNotFound = errors.New("not found")
