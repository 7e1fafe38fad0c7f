package nilm

import (
	"math"
	"time"
)

// stableDriftFraction is how far the stable reference level moves toward
// the current smoothed value on each quiet reading. Slow drift absorbs
// gradual changes (dimming, solar ramp) without ever producing an edge.
const stableDriftFraction = 0.05

// EdgeDetector turns a stream of load readings into discrete step
// events. It holds a stable reference level and compares each raw
// reading against it: small deviations drift the reference, large ones
// become edges. Comparing the raw reading rather than the smoothed one
// keeps the full step size visible before the rolling mean catches up.
type EdgeDetector struct {
	stable   float64
	seeded   bool
	lastEdge time.Time
}

// NewEdgeDetector returns a detector with no reference level yet. The
// first observation seeds it and can never produce an edge.
func NewEdgeDetector() *EdgeDetector {
	return &EdgeDetector{}
}

// Observe feeds one reading through the detector. raw and smoothed are
// the idle-adjusted reading and its rolling mean. It returns a non-nil
// Edge when the reading is a genuine step: at least threshold watts away
// from the stable level and not within debounce of the last emitted
// edge. A step suppressed by the debounce leaves the reference level
// untouched, so a change that persists fires once the cooldown expires.
func (d *EdgeDetector) Observe(at time.Time, raw, smoothed, thresholdWatts float64, debounce time.Duration) *Edge {
	if !d.seeded {
		d.stable = smoothed
		d.seeded = true
		return nil
	}

	delta := raw - d.stable
	if math.Abs(delta) < thresholdWatts {
		d.stable = d.stable*(1-stableDriftFraction) + smoothed*stableDriftFraction
		return nil
	}

	if !d.lastEdge.IsZero() && at.Sub(d.lastEdge) < debounce {
		return nil
	}

	d.lastEdge = at
	d.stable = raw

	dir := DirectionOn
	if delta < 0 {
		dir = DirectionOff
	}
	return &Edge{Timestamp: at, DeltaWatts: delta, Direction: dir}
}

// Reset clears the reference level and debounce state, as if no reading
// had ever been seen.
func (d *EdgeDetector) Reset() {
	d.stable = 0
	d.seeded = false
	d.lastEdge = time.Time{}
}
