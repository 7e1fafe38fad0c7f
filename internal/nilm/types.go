// Package nilm infers appliance on/off activity from a whole-home load
// signal. It smooths incoming readings, detects step changes against a
// stable reference level, matches each step to a learned appliance
// signature, and emits appearance events for downstream consumers.
package nilm

import (
	"math"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/config"
	"github.com/ginovarisano/solar-dashboard/internal/units"
)

// Direction says which way a load step went.
type Direction string

const (
	DirectionOn  Direction = "on"  // load increased: an appliance turned on
	DirectionOff Direction = "off" // load decreased: an appliance turned off
)

// Confidence is a coarse trust tier derived from how often a signature
// has been observed. It is advisory only and never gates matching.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceFor maps an occurrence count onto a trust tier using the
// configured boundaries.
func ConfidenceFor(count, mediumAt, highAt int) Confidence {
	switch {
	case count >= highAt:
		return ConfidenceHigh
	case count >= mediumAt:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// PowerSample is one reading of the total load in watts.
type PowerSample struct {
	Timestamp time.Time `json:"timestamp"`
	Watts     float64   `json:"watts"`
}

// Edge is a detected step change in the load signal.
type Edge struct {
	Timestamp  time.Time `json:"timestamp"`
	DeltaWatts float64   `json:"delta_watts"` // signed; positive means load increased
	Direction  Direction `json:"direction"`
}

// Magnitude returns the absolute size of the step in watts.
func (e Edge) Magnitude() float64 {
	return math.Abs(e.DeltaWatts)
}

// Signature is a learned appliance fingerprint: the running average and
// observed range of step magnitudes attributed to one appliance.
type Signature struct {
	ID              string     `json:"id"`
	Direction       Direction  `json:"direction"`
	AvgWatts        float64    `json:"avg_watts"`
	MinWatts        float64    `json:"min_watts"`
	MaxWatts        float64    `json:"max_watts"`
	OccurrenceCount int        `json:"occurrence_count"`
	Label           string     `json:"label"`
	Icon            string     `json:"icon"`
	Color           string     `json:"color"`
	IsActive        bool       `json:"is_active"`
	ActiveCount     int        `json:"active_count"`
	LastOnTime      *time.Time `json:"last_on_time,omitempty"`
	AvgDurationSecs float64    `json:"avg_duration_secs"`
	DailyCycles     float64    `json:"daily_cycles"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`

	// Confidence is derived from OccurrenceCount at read time, not stored.
	Confidence Confidence `json:"confidence"`
}

// Event is one recorded appliance transition.
type Event struct {
	ID             int64      `json:"id"`
	Timestamp      time.Time  `json:"timestamp"`
	Direction      Direction  `json:"direction"`
	MagnitudeWatts float64    `json:"magnitude_watts"`
	DurationSecs   *float64   `json:"duration_secs,omitempty"` // nil until the off edge is paired; -1 marks a run that never ended
	SignatureID    string     `json:"signature_id"`
	Confidence     Confidence `json:"confidence"`
	NewlyLearned   bool       `json:"newly_learned"`

	// Label/Icon/Color are filled from the signature when events are read
	// back for display. They are not stored on the event row.
	Label string `json:"label,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Color string `json:"color,omitempty"`
}

// AppearanceEvent is the notification published when an edge has been
// matched to a signature. It is what streaming subscribers see.
type AppearanceEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	Direction      Direction  `json:"direction"`
	MagnitudeWatts float64    `json:"magnitude_watts"`
	SignatureID    string     `json:"signature_id"`
	Label          string     `json:"label"`
	Confidence     Confidence `json:"confidence"`
	NewlyLearned   bool       `json:"newly_learned"`
	DurationSecs   *float64   `json:"duration_secs,omitempty"`
}

// Pairing links an off edge back to the on edge that started the run.
type Pairing struct {
	OnEventID    int64
	DurationSecs float64
}

// CustomLabel is a user-assigned name preserved across reanalysis.
type CustomLabel struct {
	Label    string
	Icon     string
	Color    string
	AvgWatts float64
}

// Params are the resolved detection knobs. The engine reads one snapshot
// per sample, so a runtime update takes effect on the next reading.
type Params struct {
	EdgeThresholdWatts float64
	Debounce           time.Duration
	SmoothingWindow    int
	IdleLoadWatts      float64
	Tolerance          float64
	ConfidenceMediumAt int
	ConfidenceHighAt   int
	PairingLookback    time.Duration
	ActiveStaleAfter   time.Duration
	Location           *time.Location
}

// MatchParams carries the subset of knobs signature resolution needs.
type MatchParams struct {
	Tolerance float64
	MediumAt  int
	HighAt    int
}

// Match extracts the signature-resolution knobs.
func (p Params) Match() MatchParams {
	return MatchParams{Tolerance: p.Tolerance, MediumAt: p.ConfidenceMediumAt, HighAt: p.ConfidenceHighAt}
}

// DefaultParams returns the detection knobs with no tuning file applied.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning resolves a tuning config into concrete detection
// parameters. The config is expected to have passed Validate, so the
// timezone lookup here cannot fail for configs loaded from disk.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	loc, err := units.Location(cfg.GetTimezone())
	if err != nil {
		loc = time.Local
	}
	return Params{
		EdgeThresholdWatts: cfg.GetEdgeThresholdWatts(),
		Debounce:           cfg.GetDebounce(),
		SmoothingWindow:    cfg.GetSmoothingWindow(),
		IdleLoadWatts:      cfg.GetIdleLoadWatts(),
		Tolerance:          cfg.GetSignatureTolerance(),
		ConfidenceMediumAt: cfg.GetConfidenceMedium(),
		ConfidenceHighAt:   cfg.GetConfidenceHigh(),
		PairingLookback:    cfg.GetPairingLookback(),
		ActiveStaleAfter:   cfg.GetActiveStaleAfter(),
		Location:           loc,
	}
}
