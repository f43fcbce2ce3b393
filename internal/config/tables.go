package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// Tables holds the static domain constants the core owns directly: the
// station directory, per-permit-type tables, escalation triggers, the fee
// schedule, and revision-risk keywords.
type Tables struct {
	DepartmentContact  string                       `yaml:"department_contact"`
	Stations           map[string]Station           `yaml:"stations"`
	PermitTypes        map[string]PermitTypeProfile `yaml:"permit_types"`
	EscalationTriggers map[string]float64           `yaml:"escalation_triggers"`
	FeeSchedule        []FeeTier                    `yaml:"fee_schedule"`
	RiskKeywords       []RiskKeyword                `yaml:"risk_keywords"`
	Neighborhoods      map[string]string            `yaml:"neighborhoods"`
}

type Station struct {
	Name        string `yaml:"name"`
	Agency      string `yaml:"agency"`
	Contact     string `yaml:"contact"`
	Terminal    bool   `yaml:"terminal"`
	InterAgency bool   `yaml:"interagency"`
}

type PermitTypeProfile struct {
	DisplayName         string       `yaml:"display_name"`
	OTCEligible         bool         `yaml:"otc_eligible"`
	RevisionProbability float64      `yaml:"revision_probability"`
	RevisionDelayDays   float64      `yaml:"revision_delay_days"`
	FallbackDays        FallbackDays `yaml:"fallback_days"`
	BottleneckStation   string       `yaml:"bottleneck_station"`
	BottleneckNote      string       `yaml:"bottleneck_note"`
	Keywords            []string     `yaml:"keywords"`
	RequiredPermits     []string     `yaml:"required_permits"`
}

type FallbackDays struct {
	P25 float64 `yaml:"p25"`
	P50 float64 `yaml:"p50"`
	P75 float64 `yaml:"p75"`
	P90 float64 `yaml:"p90"`
}

// FeeTier is one valuation band of the plan-review fee schedule. Per1000
// applies to valuation above the previous tier's ceiling; UpTo 0 marks the
// unbounded top tier.
type FeeTier struct {
	UpTo    float64 `yaml:"up_to"`
	Base    float64 `yaml:"base"`
	Per1000 float64 `yaml:"per_1000"`
}

type RiskKeyword struct {
	Keyword string  `yaml:"keyword"`
	Rate    float64 `yaml:"rate"`
}

func ParseTables(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse permit tables: %w", err)
	}
	if len(t.Stations) == 0 {
		return nil, fmt.Errorf("permit tables: no stations defined")
	}
	if len(t.PermitTypes) == 0 {
		return nil, fmt.Errorf("permit tables: no permit types defined")
	}
	for name, pt := range t.PermitTypes {
		f := pt.FallbackDays
		if f.P25 > f.P50 || f.P50 > f.P75 || f.P75 > f.P90 {
			return nil, fmt.Errorf("permit tables: %s fallback percentiles out of order", name)
		}
	}
	return &t, nil
}

// StationInfo returns the directory entry for a station code, or a stub
// carrying the code itself when the station is unknown.
func (t *Tables) StationInfo(code string) (Station, bool) {
	s, ok := t.Stations[code]
	if !ok {
		return Station{Name: code}, false
	}
	return s, true
}

func (t *Tables) IsTerminal(code string) bool {
	s, ok := t.Stations[code]
	return ok && s.Terminal
}

func (t *Tables) PermitType(name string) (PermitTypeProfile, bool) {
	pt, ok := t.PermitTypes[strings.ToLower(strings.TrimSpace(name))]
	return pt, ok
}

// PermitTypeNames lists the configured types in stable order.
func (t *Tables) PermitTypeNames() []string {
	names := make([]string, 0, len(t.PermitTypes))
	for n := range t.PermitTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InferPermitType matches a free-text project description against each
// type's keyword list and returns the most specific hit (longest keyword
// wins). Unmatched descriptions default to the general alteration type with
// assumed=true so callers can flag the assumption.
func (t *Tables) InferPermitType(description string) (name string, prof PermitTypeProfile, assumed bool) {
	desc := strings.ToLower(description)
	bestLen := 0
	for _, n := range t.PermitTypeNames() {
		pt := t.PermitTypes[n]
		for _, kw := range pt.Keywords {
			if len(kw) > bestLen && strings.Contains(desc, strings.ToLower(kw)) {
				name, prof, bestLen = n, pt, len(kw)
			}
		}
	}
	if bestLen > 0 {
		return name, prof, false
	}
	if pt, ok := t.PermitTypes["alteration"]; ok {
		return "alteration", pt, true
	}
	n := t.PermitTypeNames()[0]
	return n, t.PermitTypes[n], true
}

// PlanReviewFee computes the schedule fee for a project valuation.
func (t *Tables) PlanReviewFee(valuation float64) float64 {
	if valuation < 0 {
		valuation = 0
	}
	prevCeiling := 0.0
	for _, tier := range t.FeeSchedule {
		if tier.UpTo == 0 || valuation <= tier.UpTo {
			return tier.Base + tier.Per1000*(valuation-prevCeiling)/1000
		}
		prevCeiling = tier.UpTo
	}
	return 0
}
