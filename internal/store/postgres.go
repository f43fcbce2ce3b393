package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// EnsureSchema creates the tables if they do not exist. Routing records are
// keyed by (permit_id, station_code, arrive_at) so feed re-ingestion is
// idempotent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS permits (
			permit_id TEXT PRIMARY KEY,
			permit_type TEXT,
			neighborhood TEXT,
			description TEXT,
			status TEXT,
			filed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS routing_records (
			permit_id TEXT NOT NULL,
			station_code TEXT NOT NULL,
			arrive_at TIMESTAMPTZ NOT NULL,
			finish_at TIMESTAMPTZ,
			review_result TEXT,
			reviewer_name TEXT,
			revision_cycle INT NOT NULL DEFAULT 0,
			PRIMARY KEY (permit_id, station_code, arrive_at)
		)`,
		`CREATE INDEX IF NOT EXISTS routing_records_station_arrive_idx
			ON routing_records (station_code, arrive_at)`,
		`CREATE TABLE IF NOT EXISTS station_velocity_profiles (
			station_code TEXT NOT NULL,
			period TEXT NOT NULL,
			p25 DOUBLE PRECISION NOT NULL,
			p50 DOUBLE PRECISION NOT NULL,
			p75 DOUBLE PRECISION NOT NULL,
			p90 DOUBLE PRECISION NOT NULL,
			sample_count INT NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (station_code, period)
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) RoutingHistory(ctx context.Context, permitID string) ([]model.RoutingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT permit_id, station_code, arrive_at, finish_at, COALESCE(review_result,''), COALESCE(reviewer_name,''), revision_cycle
		FROM routing_records WHERE permit_id=$1 ORDER BY arrive_at, station_code`, permitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *Postgres) StationRecords(ctx context.Context, stationCode string, since time.Time) ([]model.RoutingRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT permit_id, station_code, arrive_at, finish_at, COALESCE(review_result,''), COALESCE(reviewer_name,''), revision_cycle
		FROM routing_records WHERE station_code=$1 AND arrive_at >= $2 ORDER BY arrive_at, permit_id`, stationCode, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]model.RoutingRecord, error) {
	out := []model.RoutingRecord{}
	for rows.Next() {
		var r model.RoutingRecord
		var finish sql.NullTime
		if err := rows.Scan(&r.PermitID, &r.StationCode, &r.ArriveAt, &finish, &r.ReviewResult, &r.ReviewerName, &r.RevisionCycle); err != nil {
			return nil, err
		}
		if finish.Valid {
			t := finish.Time
			r.FinishAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertRoutingRecords(ctx context.Context, recs []model.RoutingRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	written := 0
	for _, r := range recs {
		if r.PermitID == "" || r.StationCode == "" {
			continue
		}
		var finish any
		if r.FinishAt != nil {
			finish = *r.FinishAt
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO routing_records (permit_id, station_code, arrive_at, finish_at, review_result, reviewer_name, revision_cycle)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (permit_id, station_code, arrive_at) DO UPDATE SET
				finish_at=EXCLUDED.finish_at, review_result=EXCLUDED.review_result,
				reviewer_name=EXCLUDED.reviewer_name, revision_cycle=EXCLUDED.revision_cycle`,
			r.PermitID, r.StationCode, r.ArriveAt, finish, nullIfEmpty(r.ReviewResult), nullIfEmpty(r.ReviewerName), r.RevisionCycle)
		if err != nil {
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (p *Postgres) LatestArrival(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(arrive_at) FROM routing_records`).Scan(&t); err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (p *Postgres) DistinctStations(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT station_code FROM routing_records ORDER BY station_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TransitionCounts aggregates station-to-station hops with a LEAD window over
// each permit's visit order. An empty permitType counts every permit.
func (p *Postgres) TransitionCounts(ctx context.Context, permitType string) (map[string]map[string]int, error) {
	var rows *sql.Rows
	var err error
	if permitType != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT from_station, to_station, COUNT(*) FROM (
			SELECT r.station_code AS from_station,
				LEAD(r.station_code) OVER (PARTITION BY r.permit_id ORDER BY r.arrive_at, r.station_code) AS to_station
			FROM routing_records r
			JOIN permits pm ON pm.permit_id = r.permit_id
			WHERE pm.permit_type=$1
		) t WHERE to_station IS NOT NULL GROUP BY from_station, to_station`, permitType)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT from_station, to_station, COUNT(*) FROM (
			SELECT station_code AS from_station,
				LEAD(station_code) OVER (PARTITION BY permit_id ORDER BY arrive_at, station_code) AS to_station
			FROM routing_records
		) t WHERE to_station IS NOT NULL GROUP BY from_station, to_station`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]map[string]int{}
	for rows.Next() {
		var from, to string
		var n int
		if err := rows.Scan(&from, &to, &n); err != nil {
			return nil, err
		}
		if counts[from] == nil {
			counts[from] = map[string]int{}
		}
		counts[from][to] = n
	}
	return counts, rows.Err()
}

// CompletedPermitDurations returns first-arrival to last-finish spans in days,
// ascending, for permits whose every visit has finished.
func (p *Postgres) CompletedPermitDurations(ctx context.Context, permitType string) ([]float64, error) {
	var rows *sql.Rows
	var err error
	if permitType != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT EXTRACT(EPOCH FROM (MAX(r.finish_at) - MIN(r.arrive_at)))/86400.0
			FROM routing_records r
			JOIN permits pm ON pm.permit_id = r.permit_id
			WHERE pm.permit_type=$1
			GROUP BY r.permit_id
			HAVING COUNT(*) = COUNT(r.finish_at)
			ORDER BY 1`, permitType)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT EXTRACT(EPOCH FROM (MAX(finish_at) - MIN(arrive_at)))/86400.0
			FROM routing_records
			GROUP BY permit_id
			HAVING COUNT(*) = COUNT(finish_at)
			ORDER BY 1`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []float64{}
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPermit(ctx context.Context, permitID string) (*model.Permit, error) {
	var pm model.Permit
	var typ, hood, desc, status sql.NullString
	var filed sql.NullTime
	err := p.db.QueryRowContext(ctx, `SELECT permit_id, permit_type, neighborhood, description, status, filed_at
		FROM permits WHERE permit_id=$1`, permitID).Scan(&pm.PermitID, &typ, &hood, &desc, &status, &filed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	pm.PermitType = typ.String
	pm.Neighborhood = hood.String
	pm.Description = desc.String
	pm.Status = status.String
	if filed.Valid {
		pm.FiledAt = filed.Time
	}
	return &pm, nil
}

func (p *Postgres) UpsertPermits(ctx context.Context, permits []model.Permit) (int, error) {
	if len(permits) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	written := 0
	for _, pm := range permits {
		if pm.PermitID == "" {
			continue
		}
		var filed any
		if !pm.FiledAt.IsZero() {
			filed = pm.FiledAt
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO permits (permit_id, permit_type, neighborhood, description, status, filed_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (permit_id) DO UPDATE SET
				permit_type=EXCLUDED.permit_type, neighborhood=EXCLUDED.neighborhood,
				description=EXCLUDED.description, status=EXCLUDED.status, filed_at=EXCLUDED.filed_at`,
			pm.PermitID, nullIfEmpty(pm.PermitType), nullIfEmpty(pm.Neighborhood), nullIfEmpty(pm.Description), nullIfEmpty(pm.Status), filed)
		if err != nil {
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (p *Postgres) LatestFiled(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	if err := p.db.QueryRowContext(ctx, `SELECT MAX(filed_at) FROM permits`).Scan(&t); err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (p *Postgres) Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error) {
	var prof model.StationVelocityProfile
	err := p.db.QueryRowContext(ctx, `SELECT station_code, period, p25, p50, p75, p90, sample_count, computed_at
		FROM station_velocity_profiles WHERE station_code=$1 AND period=$2`, stationCode, period).
		Scan(&prof.StationCode, &prof.Period, &prof.P25, &prof.P50, &prof.P75, &prof.P90, &prof.SampleCount, &prof.ComputedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &prof, nil
}

func (p *Postgres) UpsertProfile(ctx context.Context, prof model.StationVelocityProfile) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO station_velocity_profiles (station_code, period, p25, p50, p75, p90, sample_count, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (station_code, period) DO UPDATE SET
			p25=EXCLUDED.p25, p50=EXCLUDED.p50, p75=EXCLUDED.p75, p90=EXCLUDED.p90,
			sample_count=EXCLUDED.sample_count, computed_at=EXCLUDED.computed_at`,
		prof.StationCode, prof.Period, prof.P25, prof.P50, prof.P75, prof.P90, prof.SampleCount, prof.ComputedAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
