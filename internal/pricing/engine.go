// Package pricing computes advisory prices for home-service jobs.
//
// The engine is a multiplier chain over a per-lane base price:
// base × labor index × home-value index × risk factor, clamped to the lane's
// bounds and flagged for review when the result looks implausible. It never
// mutates its tables and is safe for concurrent use.
package pricing

import (
	"errors"
	"math"
	"strings"
)

// ErrUnsupportedLane is returned when a lane has no usable configuration
var ErrUnsupportedLane = errors.New("unsupported lane or missing config")

const (
	neutralIndex     = 1.0
	homeValueCapRate = 0.02
	riskFactorFloor  = 0.5
	riskFactorCeil   = 1.5
)

type homeValueBand struct {
	upTo       float64
	multiplier float64
}

// Ascending, upper bounds inclusive. Values above the last band use topBandMultiplier.
var homeValueBands = []homeValueBand{
	{upTo: 200000, multiplier: 0.85},
	{upTo: 300000, multiplier: 0.92},
	{upTo: 450000, multiplier: 1.00},
	{upTo: 700000, multiplier: 1.08},
	{upTo: 1000000, multiplier: 1.15},
}

const topBandMultiplier = 1.22

// RatioBand is the acceptable range of suggested/base for a lane
type RatioBand struct {
	Low  float64
	High float64
}

var defaultRatioBand = RatioBand{Low: 0.6, High: 2.0}

var laneRatioBands = map[string]RatioBand{
	LaneMowing:       {Low: 0.7, High: 1.8},
	LanePressureWash: {Low: 0.6, High: 2.0},
	LaneJunkRemoval:  {Low: 0.5, High: 2.5},
	LaneHandyman:     {Low: 0.6, High: 2.2},
}

// Request is a single pricing request
type Request struct {
	Lane       string        `json:"lane"`
	StateCode  string        `json:"stateCode,omitempty"`
	City       string        `json:"city,omitempty"`
	HomeValue  OptionalFloat `json:"homeValue"`
	RiskFactor OptionalFloat `json:"riskFactor"`
}

// Result carries the suggested price together with every factor used to derive it
type Result struct {
	BaseNashville  float64 `json:"baseNashville"`
	LaborIndex     float64 `json:"laborIndex"`
	HomeValueIndex float64 `json:"homeValueIndex"`
	RiskFactor     float64 `json:"riskFactor"`
	SuggestedPrice int     `json:"suggestedPrice"`
	RedPen         bool    `json:"redPen"`
}

// Engine prices requests against immutable labor and trade tables
type Engine struct {
	labor   LaborIndexTable
	trades  TradeLaneTable
	matcher MetroMatcher
}

// Option configures an Engine
type Option func(*Engine)

// WithMetroMatcher replaces the default substring metro matching
func WithMetroMatcher(m MetroMatcher) Option {
	return func(e *Engine) {
		e.matcher = m
	}
}

// NewEngine creates a pricing engine. The tables must not be modified afterwards.
func NewEngine(labor LaborIndexTable, trades TradeLaneTable, opts ...Option) *Engine {
	e := &Engine{
		labor:   labor,
		trades:  trades,
		matcher: ContainsMatcher{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Lanes returns the configured lane identifiers
func (e *Engine) Lanes() []string {
	lanes := make([]string, 0, len(e.trades))
	for id := range e.trades {
		lanes = append(lanes, id)
	}
	return lanes
}

// LookupLaborIndex resolves the labor index for a state and free-text city.
// The first matching metro in configuration order wins.
func (e *Engine) LookupLaborIndex(stateCode, city string) float64 {
	stateCode = strings.ToUpper(strings.TrimSpace(stateCode))
	if stateCode == "" && strings.TrimSpace(city) == "" {
		return neutralIndex
	}

	state, ok := e.labor[stateCode]
	if !ok {
		return neutralIndex
	}

	if strings.TrimSpace(city) != "" {
		for _, metro := range state.Metros {
			if !e.matcher.Match(city, metro.Name) {
				continue
			}
			if metro.LaborIndex != nil {
				return *metro.LaborIndex
			}
			if state.LaborIndex != nil {
				return *state.LaborIndex
			}
			return neutralIndex
		}
	}

	if state.LaborIndex != nil {
		return *state.LaborIndex
	}
	return neutralIndex
}

// HomeValueMultiplier maps a home value onto its affordability band
func HomeValueMultiplier(homeValue OptionalFloat) float64 {
	v, ok := positive(homeValue)
	if !ok {
		return neutralIndex
	}
	for _, band := range homeValueBands {
		if v <= band.upTo {
			return band.multiplier
		}
	}
	return topBandMultiplier
}

// BaseLanePrice returns the reference-market base for a lane
func (e *Engine) BaseLanePrice(lane string) (float64, bool) {
	cfg, ok := e.trades[lane]
	if !ok {
		return 0, false
	}

	if lane == LaneHandyman {
		if cfg.BaseNashvilleHourly != nil {
			return *cfg.BaseNashvilleHourly, true
		}
		return DefaultHandymanHourly, true
	}

	if cfg.BaseNashville == nil || *cfg.BaseNashville <= 0 {
		return 0, false
	}
	return *cfg.BaseNashville, true
}

// HomeValueCap is the highest price a non-hourly lane may reach for a home value
func HomeValueCap(lane string, homeValue OptionalFloat) (float64, bool) {
	if lane == LaneHandyman {
		return 0, false
	}
	v, ok := positive(homeValue)
	if !ok {
		return 0, false
	}
	return v * homeValueCapRate, true
}

// ClampPrice bounds a raw price by the lane's min/max and the home value cap.
// Unset bounds default to 0.5×raw and 2×raw, which never constrain.
func (e *Engine) ClampPrice(lane string, rawPrice float64, homeValue OptionalFloat) float64 {
	cfg := e.trades[lane]

	lo := rawPrice * 0.5
	if cfg.Min != nil {
		lo = *cfg.Min
	}
	hi := rawPrice * 2.0
	if cfg.Max != nil {
		hi = *cfg.Max
	}

	if limit, ok := HomeValueCap(lane, homeValue); ok {
		hi = math.Min(hi, limit)
	}

	return math.Min(math.Max(rawPrice, lo), hi)
}

// NeedsReview reports whether a suggested price should be checked by a person
func NeedsReview(lane string, suggestedPrice, basePrice float64, homeValue OptionalFloat) bool {
	if basePrice <= 0 {
		return false
	}

	band, ok := laneRatioBands[lane]
	if !ok {
		band = defaultRatioBand
	}

	ratio := suggestedPrice / basePrice
	if ratio < band.Low || ratio > band.High {
		return true
	}

	if limit, ok := HomeValueCap(lane, homeValue); ok && suggestedPrice > limit {
		return true
	}

	return false
}

// SanitizeRiskFactor passes through values strictly inside (0.5, 1.5) and
// replaces everything else with 1.0.
func SanitizeRiskFactor(risk OptionalFloat) float64 {
	if !risk.Valid || math.IsNaN(risk.Value) || math.IsInf(risk.Value, 0) {
		return neutralIndex
	}
	if risk.Value <= riskFactorFloor || risk.Value >= riskFactorCeil {
		return neutralIndex
	}
	return risk.Value
}

// BuildSuggestedPrice runs the full pricing chain for a request
func (e *Engine) BuildSuggestedPrice(req Request) (*Result, error) {
	base, ok := e.BaseLanePrice(req.Lane)
	if !ok {
		return nil, ErrUnsupportedLane
	}

	laborIndex := e.LookupLaborIndex(req.StateCode, req.City)
	homeValueIndex := HomeValueMultiplier(req.HomeValue)
	risk := SanitizeRiskFactor(req.RiskFactor)

	raw := base * laborIndex * homeValueIndex * risk
	clamped := e.ClampPrice(req.Lane, raw, req.HomeValue)

	return &Result{
		BaseNashville:  base,
		LaborIndex:     laborIndex,
		HomeValueIndex: homeValueIndex,
		RiskFactor:     risk,
		SuggestedPrice: RoundHalfUp(clamped),
		RedPen:         NeedsReview(req.Lane, clamped, base, req.HomeValue),
	}, nil
}

// RoundHalfUp rounds to the nearest integer, with halves going up
func RoundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

func positive(v OptionalFloat) (float64, bool) {
	if !v.Valid || math.IsNaN(v.Value) || math.IsInf(v.Value, 0) || v.Value <= 0 {
		return 0, false
	}
	return v.Value, true
}
