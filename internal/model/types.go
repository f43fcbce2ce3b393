package model

import "time"

// Review results as they appear in the routing log.
const (
	ResultApproved       = "approved"
	ResultCommentsIssued = "comments_issued"
	ResultInProgress     = "in_progress"
	ResultOther          = "other"
)

// Velocity profile periods.
const (
	PeriodCurrent  = "current"
	PeriodBaseline = "baseline"
)

// RoutingRecord is one station visit from the append-only routing log.
// FinishAt is nil while the permit is still at the station. Records for a
// permit are ordered by ArriveAt; visits sharing an arrival date represent
// stations reviewing in parallel.
type RoutingRecord struct {
	PermitID      string     `json:"permitId"`
	StationCode   string     `json:"stationCode"`
	ArriveAt      time.Time  `json:"arriveAt"`
	FinishAt      *time.Time `json:"finishAt,omitempty"`
	ReviewResult  string     `json:"reviewResult,omitempty"`
	ReviewerName  string     `json:"reviewerName,omitempty"`
	RevisionCycle int        `json:"revisionCycle"`
}

// Permit carries the application-level attributes models condition on.
// A missing permit row degrades predictions to the all-permits model.
type Permit struct {
	PermitID     string    `json:"permitId"`
	PermitType   string    `json:"permitType,omitempty"`
	Neighborhood string    `json:"neighborhood,omitempty"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status,omitempty"`
	FiledAt      time.Time `json:"filedAt"`
}

// StationVelocityProfile holds dwell-day percentiles for one (station, period)
// pair. A profile whose SampleCount is below the configured minimum is
// unreliable and must be fallen back from, never silently trusted.
type StationVelocityProfile struct {
	StationCode string    `json:"stationCode"`
	Period      string    `json:"period"`
	P25         float64   `json:"p25"`
	P50         float64   `json:"p50"`
	P75         float64   `json:"p75"`
	P90         float64   `json:"p90"`
	SampleCount int       `json:"sampleCount"`
	ComputedAt  time.Time `json:"computedAt"`
}

// Station statuses within a timeline estimate.
const (
	StatusDone    = "done"
	StatusStalled = "stalled"
	StatusPending = "pending"
)

// Confidence grades for timeline estimates.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

type StationEstimate struct {
	StationCode string  `json:"stationCode"`
	Status      string  `json:"status"`
	P50Days     float64 `json:"p50Days"`
	IsParallel  bool    `json:"isParallel"`
	// ProfilePeriod records which snapshot served the estimate
	// (current or baseline); empty means the station was skipped.
	ProfilePeriod string `json:"profilePeriod,omitempty"`
}

type SkippedStation struct {
	StationCode string `json:"stationCode"`
	Reason      string `json:"reason"`
}

// SequenceTimelineEstimate is derived fresh per request, never persisted.
// TotalEstimateDays sums serial station p50s; parallel groups contribute
// their max member, not the sum. RemainingDays restricts that arithmetic to
// stations not yet done.
type SequenceTimelineEstimate struct {
	PermitID          string            `json:"permitId"`
	AsOf              time.Time         `json:"asOf"`
	Stations          []StationEstimate `json:"stations"`
	TotalEstimateDays float64           `json:"totalEstimateDays"`
	RemainingDays     float64           `json:"remainingDays"`
	Confidence        string            `json:"confidence"`
	Coverage          float64           `json:"coverage"`
	SkippedStations   []SkippedStation  `json:"skippedStations,omitempty"`
}

// Prediction bases.
const (
	BasisPermitType = "permit_type"
	BasisAllPermits = "all_permits"
)

type NextStationCandidate struct {
	StationCode     string  `json:"stationCode"`
	Probability     float64 `json:"probability"`
	TransitionCount int     `json:"transitionCount"`
	P50Days         float64 `json:"p50Days,omitempty"`
	ProfilePeriod   string  `json:"profilePeriod,omitempty"`
}

// NextStationPrediction reports ranked candidate next stations, or an
// explicit no-prediction outcome for terminal stations and unknown permits.
type NextStationPrediction struct {
	PermitID       string                 `json:"permitId"`
	CurrentStation string                 `json:"currentStation,omitempty"`
	Basis          string                 `json:"basis,omitempty"`
	NoPrediction   bool                   `json:"noPrediction,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Candidates     []NextStationCandidate `json:"candidates,omitempty"`
}

// Station health states, ordered by severity.
const (
	StateOK                = "ok"
	StateStalled           = "stalled"
	StateCriticallyStalled = "critically_stalled"
)

// Intervention urgencies.
const (
	UrgencyImmediate = "immediate"
	UrgencyHigh      = "high"
	UrgencyMedium    = "medium"
	UrgencyLow       = "low"
)

// Threshold sources for stall classification.
const (
	ThresholdSourceProfile   = "profile"
	ThresholdSourceHeuristic = "heuristic"
)

type StationDiagnosis struct {
	StationCode       string  `json:"stationCode"`
	StationName       string  `json:"stationName,omitempty"`
	DwellDays         float64 `json:"dwellDays"`
	Open              bool    `json:"open"`
	State             string  `json:"state"`
	ReviewResult      string  `json:"reviewResult,omitempty"`
	RevisionCycle     int     `json:"revisionCycle"`
	ThresholdSource   string  `json:"thresholdSource"`
	StalledAfterDays  float64 `json:"stalledAfterDays"`
	CriticalAfterDays float64 `json:"criticalAfterDays"`
	Severity          float64 `json:"severity"`
}

type InterventionStep struct {
	Urgency string `json:"urgency"`
	Action  string `json:"action"`
	Contact string `json:"contact,omitempty"`
}

// StuckReport ranks station diagnoses worst-first and carries the ordered
// intervention plan. Found=false means the permit had no routing history;
// Note then carries the contact fallback instead of a lookup failure.
type StuckReport struct {
	PermitID  string             `json:"permitId"`
	Found     bool               `json:"found"`
	AsOf      time.Time          `json:"asOf"`
	Diagnoses []StationDiagnosis `json:"diagnoses,omitempty"`
	Plan      []InterventionStep `json:"plan,omitempty"`
	Note      string             `json:"note,omitempty"`
}

// Review paths.
const (
	PathOTC     = "otc"
	PathInHouse = "in_house"
	PathNA      = "na"
)

// Scenario is one labeled free-text project description. A cost hint may be
// embedded in the description ("$80K", "80k", "$80,000").
type Scenario struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// ScenarioResult holds one scenario's evaluated fields. Nil pointers render
// as N/A when the owning sub-evaluator failed.
type ScenarioResult struct {
	Label             string   `json:"label"`
	PermitsSummary    string   `json:"permitsSummary,omitempty"`
	ReviewPath        string   `json:"reviewPath"`
	ProjectCost       float64  `json:"projectCost"`
	CostAssumed       bool     `json:"costAssumed,omitempty"`
	P50Days           *float64 `json:"p50Days,omitempty"`
	P75Days           *float64 `json:"p75Days,omitempty"`
	TotalFee          *float64 `json:"totalFee,omitempty"`
	RevisionRiskLevel string   `json:"revisionRiskLevel,omitempty"`
	RevisionRiskRate  *float64 `json:"revisionRiskRate,omitempty"`
}

// DeltaSummary compares a variation to the base scenario. A review-path
// change is always significant.
type DeltaSummary struct {
	Label             string   `json:"label"`
	ReviewPathChanged bool     `json:"reviewPathChanged"`
	ReviewPathFrom    string   `json:"reviewPathFrom,omitempty"`
	ReviewPathTo      string   `json:"reviewPathTo,omitempty"`
	P50DeltaDays      *float64 `json:"p50DeltaDays,omitempty"`
	P50DeltaPct       *float64 `json:"p50DeltaPct,omitempty"`
	FeeDelta          *float64 `json:"feeDelta,omitempty"`
	FeeDeltaPct       *float64 `json:"feeDeltaPct,omitempty"`
	Significant       bool     `json:"significant"`
}

type WhatIfComparison struct {
	RunID      string           `json:"runId"`
	Base       ScenarioResult   `json:"base"`
	Variations []ScenarioResult `json:"variations,omitempty"`
	Deltas     []DeltaSummary   `json:"deltas,omitempty"`
	Notes      []string         `json:"notes,omitempty"`
}

// Delay-cost scenario labels.
const (
	ScenarioBest   = "best"
	ScenarioLikely = "likely"
	ScenarioWorst  = "worst"
)

// Timeline bases for delay-cost rows.
const (
	BasisLive     = "live"
	BasisFallback = "fallback"
)

type DelayCostRow struct {
	Scenario         string  `json:"scenario"`
	Days             float64 `json:"days"`
	CarryingCost     float64 `json:"carryingCost"`
	RevisionRiskCost float64 `json:"revisionRiskCost"`
	Total            float64 `json:"total"`
}

type DelayCostEstimate struct {
	PermitType          string         `json:"permitType"`
	Neighborhood        string         `json:"neighborhood,omitempty"`
	MonthlyCarryingCost float64        `json:"monthlyCarryingCost"`
	DailyDelayCost      float64        `json:"dailyDelayCost"`
	Basis               string         `json:"basis"`
	EscalationsApplied  []string       `json:"escalationsApplied,omitempty"`
	Rows                []DelayCostRow `json:"rows"`
	OTCNote             string         `json:"otcNote,omitempty"`
	BottleneckNote      string         `json:"bottleneckNote,omitempty"`
	Notes               []string       `json:"notes,omitempty"`
}

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// CircuitBreakerState is a point-in-time snapshot of the upstream guard.
type CircuitBreakerState struct {
	State        string    `json:"state"`
	FailureCount int       `json:"failureCount"`
	OpenedAt     time.Time `json:"openedAt"`
}
