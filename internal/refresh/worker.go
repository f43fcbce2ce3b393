package refresh

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/metrics"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Store is the write side the refresher needs: watermarks plus upserts.
type Store interface {
	LatestArrival(ctx context.Context) (time.Time, error)
	UpsertRoutingRecords(ctx context.Context, recs []model.RoutingRecord) (int, error)
	LatestFiled(ctx context.Context) (time.Time, error)
	UpsertPermits(ctx context.Context, permits []model.Permit) (int, error)
}

// Feed hands back new rows since a watermark. An empty batch is a normal
// outcome and covers both "no new data" and "breaker open".
type Feed interface {
	FetchRoutingSince(ctx context.Context, since time.Time) ([]model.RoutingRecord, error)
	FetchPermitsSince(ctx context.Context, since time.Time) ([]model.Permit, error)
}

// Worker keeps the local routing log in step with the open-data feed. There
// is no retry logic here; a failed batch waits for the next tick and the
// breaker inside the feed client decides when the upstream is worth calling.
type Worker struct {
	Store    Store
	Feed     Feed
	Interval time.Duration
	Stop     chan struct{}
}

func NewWorker(s Store, f Feed, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Worker{Store: s, Feed: f, Interval: interval, Stop: make(chan struct{})}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if _, _, err := w.ProcessOnce(ctx); err != nil {
					log.Printf("refresh: %v", err)
				}
				cancel()
			}
		}
	}()
}

// ProcessOnce runs one refresh batch and reports how many routing rows and
// permit rows were written.
func (w *Worker) ProcessOnce(ctx context.Context) (routingWritten, permitsWritten int, err error) {
	batch := uuid.NewString()[:8]

	arriveMark, err := w.Store.LatestArrival(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("routing watermark: %w", err)
	}
	recs, err := w.Feed.FetchRoutingSince(ctx, arriveMark)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch routing: %w", err)
	}
	if len(recs) > 0 {
		routingWritten, err = w.Store.UpsertRoutingRecords(ctx, recs)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert routing: %w", err)
		}
		metrics.RefreshRecords.WithLabelValues("routing").Add(float64(routingWritten))
	}

	filedMark, err := w.Store.LatestFiled(ctx)
	if err != nil {
		return routingWritten, 0, fmt.Errorf("permit watermark: %w", err)
	}
	permits, err := w.Feed.FetchPermitsSince(ctx, filedMark)
	if err != nil {
		return routingWritten, 0, fmt.Errorf("fetch permits: %w", err)
	}
	if len(permits) > 0 {
		permitsWritten, err = w.Store.UpsertPermits(ctx, permits)
		if err != nil {
			return routingWritten, 0, fmt.Errorf("upsert permits: %w", err)
		}
		metrics.RefreshRecords.WithLabelValues("permits").Add(float64(permitsWritten))
	}

	log.Printf("refresh batch %s: %d routing rows since %s, %d permits since %s",
		batch, routingWritten, fmtMark(arriveMark), permitsWritten, fmtMark(filedMark))
	return routingWritten, permitsWritten, nil
}

func fmtMark(t time.Time) string {
	if t.IsZero() {
		return "start"
	}
	return t.Format("2006-01-02 15:04")
}
