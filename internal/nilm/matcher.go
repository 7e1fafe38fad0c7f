package nilm

import "math"

// WithinTolerance reports whether a signature average is close enough to
// an observed edge magnitude to count as the same appliance. Closeness
// is relative to the observed magnitude, so a 1500 W heater tolerates a
// wider absolute spread than a 40 W lamp.
func WithinTolerance(magnitude, sigAvg, tolerance float64) bool {
	if magnitude <= 0 {
		return false
	}
	return math.Abs(magnitude-sigAvg)/magnitude <= tolerance
}

// BestCandidate picks the signature whose average is relatively closest
// to the observed magnitude. Ties go to the signature seen more often,
// so an established appliance outranks a sparsely observed near-twin.
// Returns nil when candidates is empty.
func BestCandidate(candidates []Signature, magnitude float64) *Signature {
	var best *Signature
	var bestDiff float64
	for i := range candidates {
		c := &candidates[i]
		diff := math.Abs(magnitude - c.AvgWatts)
		if magnitude > 0 {
			diff /= magnitude
		}
		switch {
		case best == nil, diff < bestDiff:
			best, bestDiff = c, diff
		case diff == bestDiff && c.OccurrenceCount > best.OccurrenceCount:
			best = c
		}
	}
	return best
}

// Reinforce folds one new observation into a signature: the average
// moves by the incremental mean, the range extends to cover the
// observation, and the occurrence count grows by one.
func Reinforce(sig *Signature, magnitude float64) {
	n := float64(sig.OccurrenceCount)
	sig.AvgWatts = (sig.AvgWatts*n + magnitude) / (n + 1)
	sig.MinWatts = math.Min(sig.MinWatts, magnitude)
	sig.MaxWatts = math.Max(sig.MaxWatts, magnitude)
	sig.OccurrenceCount++
}
