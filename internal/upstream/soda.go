package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/config"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/metrics"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// Socrata floating timestamp: local San Francisco time, no zone.
const floatingTimestamp = "2006-01-02T15:04:05.000"

// FeedClient reads the city's open-data feed through the breaker. An open
// breaker short-circuits fetches into empty batches; callers treat that as
// a normal no-new-data outcome, not an error.
type FeedClient struct {
	base           string
	token          string
	routingDataset string
	permitsDataset string
	pageSize       int
	client         *http.Client
	limiter        *rate.Limiter
	breaker        *Breaker
}

func NewFeedClient(cfg *config.Config, breaker *Breaker) *FeedClient {
	burst := int(cfg.FeedRatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &FeedClient{
		base:           strings.TrimRight(cfg.FeedBaseURL, "/"),
		token:          cfg.FeedAppToken,
		routingDataset: cfg.RoutingDataset,
		permitsDataset: cfg.PermitsDataset,
		pageSize:       cfg.FeedPageSize,
		client:         &http.Client{Timeout: cfg.FeedTimeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.FeedRatePerSec), burst),
		breaker:        breaker,
	}
}

// Wire rows use the feed's snake_case column names.
type sodaRoutingRow struct {
	ApplicationNumber string `json:"application_number"`
	Station           string `json:"station"`
	Arrive            string `json:"arrive"`
	FinishDate        string `json:"finish_date"`
	ReviewResults     string `json:"review_results"`
	CheckedBy         string `json:"checked_by"`
	AddendaNumber     string `json:"addenda_number"`
}

type sodaPermitRow struct {
	PermitNumber         string `json:"permit_number"`
	PermitTypeDefinition string `json:"permit_type_definition"`
	Description          string `json:"description"`
	Status               string `json:"status"`
	FiledDate            string `json:"filed_date"`
	Neighborhoods        string `json:"neighborhoods_analysis_boundaries"`
}

// FetchRoutingSince pulls routing rows with arrivals after the watermark.
// Malformed rows (unparseable arrival, missing identifiers) are dropped.
func (c *FeedClient) FetchRoutingSince(ctx context.Context, since time.Time) ([]model.RoutingRecord, error) {
	params := url.Values{}
	params.Set("$order", "arrive")
	params.Set("$limit", strconv.Itoa(c.pageSize))
	if !since.IsZero() {
		params.Set("$where", fmt.Sprintf("arrive > '%s'", since.Format(floatingTimestamp)))
	}
	var rows []sodaRoutingRow
	ok, err := c.getJSON(ctx, c.routingDataset, params, &rows)
	if err != nil || !ok {
		return nil, err
	}
	recs := make([]model.RoutingRecord, 0, len(rows))
	for _, r := range rows {
		if rec, ok := r.toRecord(); ok {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// FetchPermitsSince pulls permit applications filed after the watermark.
func (c *FeedClient) FetchPermitsSince(ctx context.Context, since time.Time) ([]model.Permit, error) {
	params := url.Values{}
	params.Set("$order", "filed_date")
	params.Set("$limit", strconv.Itoa(c.pageSize))
	if !since.IsZero() {
		params.Set("$where", fmt.Sprintf("filed_date > '%s'", since.Format(floatingTimestamp)))
	}
	var rows []sodaPermitRow
	ok, err := c.getJSON(ctx, c.permitsDataset, params, &rows)
	if err != nil || !ok {
		return nil, err
	}
	permits := make([]model.Permit, 0, len(rows))
	for _, r := range rows {
		if p, ok := r.toPermit(); ok {
			permits = append(permits, p)
		}
	}
	return permits, nil
}

// getJSON runs one breaker-guarded, rate-limited GET. Status codes map onto
// the breaker contract: 2xx records success, 5xx and transport failures
// record a failure, 4xx is the caller's problem and leaves the breaker
// alone. Returns ok=false with a nil error when the breaker short-circuits.
func (c *FeedClient) getJSON(ctx context.Context, dataset string, params url.Values, out any) (bool, error) {
	proceed, _ := c.breaker.Allow()
	if !proceed {
		metrics.UpstreamRequests.WithLabelValues("short_circuit").Inc()
		return false, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	u := fmt.Sprintf("%s/resource/%s.json?%s", c.base, dataset, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-App-Token", c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.UpstreamRequests.WithLabelValues("network_error").Inc()
		return false, fmt.Errorf("feed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.breaker.RecordSuccess()
		metrics.UpstreamRequests.WithLabelValues("ok").Inc()
	case resp.StatusCode >= 500:
		c.breaker.RecordFailure()
		metrics.UpstreamRequests.WithLabelValues("server_error").Inc()
		return false, fmt.Errorf("feed returned %d for %s", resp.StatusCode, dataset)
	default:
		metrics.UpstreamRequests.WithLabelValues("client_error").Inc()
		return false, fmt.Errorf("feed rejected request with %d for %s", resp.StatusCode, dataset)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read feed response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode feed response: %w", err)
	}
	return true, nil
}

func (r sodaRoutingRow) toRecord() (model.RoutingRecord, bool) {
	arrive, err := time.Parse(floatingTimestamp, r.Arrive)
	if err != nil || r.ApplicationNumber == "" || r.Station == "" {
		return model.RoutingRecord{}, false
	}
	rec := model.RoutingRecord{
		PermitID:     strings.TrimSpace(r.ApplicationNumber),
		StationCode:  strings.ToUpper(strings.TrimSpace(r.Station)),
		ArriveAt:     arrive,
		ReviewResult: normalizeResult(r.ReviewResults),
		ReviewerName: strings.TrimSpace(r.CheckedBy),
	}
	if r.FinishDate != "" {
		if finish, err := time.Parse(floatingTimestamp, r.FinishDate); err == nil {
			rec.FinishAt = &finish
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(r.AddendaNumber)); err == nil && n > 0 {
		rec.RevisionCycle = n
	}
	return rec, true
}

func (r sodaPermitRow) toPermit() (model.Permit, bool) {
	if r.PermitNumber == "" {
		return model.Permit{}, false
	}
	p := model.Permit{
		PermitID:     strings.TrimSpace(r.PermitNumber),
		PermitType:   normalizeType(r.PermitTypeDefinition),
		Neighborhood: strings.TrimSpace(r.Neighborhoods),
		Description:  strings.TrimSpace(r.Description),
		Status:       strings.ToLower(strings.TrimSpace(r.Status)),
	}
	if r.FiledDate != "" {
		if filed, err := time.Parse(floatingTimestamp, r.FiledDate); err == nil {
			p.FiledAt = filed
		}
	}
	return p, true
}

func normalizeResult(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "approv"):
		return model.ResultApproved
	case strings.Contains(s, "comment"):
		return model.ResultCommentsIssued
	case strings.Contains(s, "progress"):
		return model.ResultInProgress
	default:
		return model.ResultOther
	}
}

// normalizeType folds the feed's permit_type_definition strings onto the
// type names the constant tables key on. Unrecognized definitions pass
// through lowercased so nothing is silently lost.
func normalizeType(def string) string {
	s := strings.ToLower(strings.TrimSpace(def))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "otc"):
		return "otc_alteration"
	case strings.Contains(s, "new construction"):
		return "new_construction"
	case strings.Contains(s, "demolition"), strings.Contains(s, "demolish"):
		return "demolition"
	case strings.Contains(s, "electrical"):
		return "electrical"
	case strings.Contains(s, "plumbing"):
		return "plumbing"
	case strings.Contains(s, "sign"):
		return "sign"
	case strings.Contains(s, "alteration"), strings.Contains(s, "addition"), strings.Contains(s, "repair"):
		return "alteration"
	default:
		return s
	}
}
