package lms

import (
	"github.com/rs/zerolog"
)

// Outcome classifies a Z-score request for metrics.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeNoTable    Outcome = "no_table"
	OutcomeNoLMS      Outcome = "no_lms"
	OutcomeInvalidLMS Outcome = "invalid_lms"
)

// Observer is notified once per Calculate call.
type Observer interface {
	ObserveZScore(chart ChartType, outcome Outcome)
}

// Engine computes Z-scores against an injected Dataset. It holds no mutable
// state and may be shared by any number of goroutines.
type Engine struct {
	data     *Dataset
	logger   zerolog.Logger
	observer Observer
}

// NewEngine builds an engine over data. observer may be nil.
func NewEngine(data *Dataset, logger zerolog.Logger, observer Observer) *Engine {
	return &Engine{
		data:     data,
		logger:   logger.With().Str("component", "lms").Logger(),
		observer: observer,
	}
}

// Dataset returns the reference data the engine was built with.
func (e *Engine) Dataset() *Dataset {
	return e.data
}

// Resolve looks up the chart/gender table and resolves the triple at ageInDays.
func (e *Engine) Resolve(chart ChartType, gender Gender, ageInDays int) (Point, Outcome) {
	table, ok := e.data.Lookup(chart, gender)
	if !ok {
		return Point{}, OutcomeNoTable
	}
	p, ok := Resolve(table, ageInDays)
	if !ok {
		return Point{}, OutcomeNoLMS
	}
	return p, OutcomeOK
}

// Calculate returns the Z-score of value for chart and gender at ageInDays.
// It reports false, never an error, when the score cannot be computed.
func (e *Engine) Calculate(chart ChartType, gender Gender, ageInDays int, value float64) (float64, bool) {
	p, outcome := e.Resolve(chart, gender, ageInDays)
	switch outcome {
	case OutcomeNoTable:
		e.logger.Warn().
			Str("chart", string(chart)).
			Str("gender", string(gender)).
			Msg("no growth reference table")
		e.observe(chart, outcome)
		return 0, false
	case OutcomeNoLMS:
		e.logger.Warn().
			Str("chart", string(chart)).
			Str("gender", string(gender)).
			Int("age_days", ageInDays).
			Msg("failed to retrieve or interpolate LMS data")
		e.observe(chart, outcome)
		return 0, false
	}

	z, ok := ZScore(p.L, p.M, p.S, value)
	if !ok {
		e.logger.Warn().
			Str("chart", string(chart)).
			Float64("L", p.L).
			Float64("M", p.M).
			Float64("S", p.S).
			Msg("LMS data invalid for Z-score calculation")
		e.observe(chart, OutcomeInvalidLMS)
		return 0, false
	}
	e.observe(chart, OutcomeOK)
	return z, true
}

func (e *Engine) observe(chart ChartType, outcome Outcome) {
	if e.observer != nil {
		e.observer.ObserveZScore(chart, outcome)
	}
}

// CurveSample is one point of a centile curve.
type CurveSample struct {
	Day   int     `json:"day"`
	Value float64 `json:"value"`
}

// Curve is the measurement value at a fixed percentile across ages.
type Curve struct {
	Percentile float64       `json:"percentile"`
	Z          float64       `json:"z"`
	Samples    []CurveSample `json:"samples"`
}

// DefaultPercentiles are the centile lines drawn on clinic growth charts.
var DefaultPercentiles = []float64{3, 10, 25, 50, 75, 90, 97}

// Curves samples the given percentile lines every step days from fromDay to
// toDay inclusive, resolving each age with the same boundary and
// interpolation policy as Calculate. It reports false when no table exists.
// Samples whose value is not finite are omitted.
func (e *Engine) Curves(chart ChartType, gender Gender, fromDay, toDay, step int, percentiles []float64) ([]Curve, bool) {
	table, ok := e.data.Lookup(chart, gender)
	if !ok {
		return nil, false
	}
	if step <= 0 {
		step = 1
	}
	if len(percentiles) == 0 {
		percentiles = DefaultPercentiles
	}

	days := sampleDays(fromDay, toDay, step)
	curves := make([]Curve, 0, len(percentiles))
	for _, pct := range percentiles {
		if pct <= 0 || pct >= 100 {
			continue
		}
		curve := Curve{Percentile: pct, Z: ZForPercentile(pct)}
		for _, day := range days {
			p, ok := Resolve(table, day)
			if !ok {
				continue
			}
			v := ValueAtZ(p, curve.Z)
			if !Finite(v) {
				continue
			}
			curve.Samples = append(curve.Samples, CurveSample{Day: day, Value: v})
		}
		curves = append(curves, curve)
	}
	return curves, true
}

// sampleDays lists fromDay, fromDay+step, ... up to toDay. The distance to
// toDay is compared unsigned so the last step never wraps past MaxInt.
func sampleDays(fromDay, toDay, step int) []int {
	if fromDay > toDay {
		return nil
	}
	var days []int
	for day := fromDay; ; day += step {
		days = append(days, day)
		if uint(toDay)-uint(day) < uint(step) {
			return days
		}
	}
}
