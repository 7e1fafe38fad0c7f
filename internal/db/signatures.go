package db

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// ResolveSignature is the find-reinforce-or-create step behind every
// detected edge. It runs under one lock so two channels resolving
// simultaneously can never both miss and create near-duplicate
// signatures. The returned Signature is a copy; a persistence error
// still comes with a valid copy since the library itself advanced.
func (s *Store) ResolveSignature(magnitude float64, direction nilm.Direction, at time.Time, mp nilm.MatchParams) (nilm.Signature, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []nilm.Signature
	for _, sig := range s.sigs {
		if sig.Direction == direction && nilm.WithinTolerance(magnitude, sig.AvgWatts, mp.Tolerance) {
			candidates = append(candidates, *sig)
		}
	}

	if best := nilm.BestCandidate(candidates, magnitude); best != nil {
		sig := s.sigs[best.ID]
		nilm.Reinforce(sig, magnitude)
		sig.LastSeen = at
		sig.Confidence = nilm.ConfidenceFor(sig.OccurrenceCount, mp.MediumAt, mp.HighAt)
		err := s.persistSignature(sig)
		return *sig, false, err
	}

	label, icon, color := nilm.AutoLabel(magnitude)
	sig := &nilm.Signature{
		ID:              uuid.New().String(),
		Direction:       direction,
		AvgWatts:        magnitude,
		MinWatts:        magnitude,
		MaxWatts:        magnitude,
		OccurrenceCount: 1,
		Label:           label,
		Icon:            icon,
		Color:           color,
		FirstSeen:       at,
		LastSeen:        at,
		Confidence:      nilm.ConfidenceFor(1, mp.MediumAt, mp.HighAt),
	}
	s.sigs[sig.ID] = sig
	err := s.persistSignature(sig)
	return *sig, true, err
}

// Signatures returns the library ordered by how often each signature
// has been seen, with confidence tiers derived from the given
// boundaries.
func (s *Store) Signatures(mediumAt, highAt int) []nilm.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]nilm.Signature, 0, len(s.sigs))
	for _, sig := range s.sigs {
		c := *sig
		c.Confidence = nilm.ConfidenceFor(c.OccurrenceCount, mediumAt, highAt)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Signature returns one signature by id.
func (s *Store) Signature(id string, mediumAt, highAt int) (nilm.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.sigs[id]
	if !ok {
		return nilm.Signature{}, fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
	}
	c := *sig
	c.Confidence = nilm.ConfidenceFor(c.OccurrenceCount, mediumAt, highAt)
	return c, nil
}

// SignatureCount reports how many signatures the library holds.
func (s *Store) SignatureCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sigs), nil
}

// SetLabel updates the user-facing identity of a signature. Nil fields
// are left unchanged.
func (s *Store) SetLabel(id string, label, icon, color *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.sigs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignatureNotFound, id)
	}
	if label != nil {
		sig.Label = *label
	}
	if icon != nil {
		sig.Icon = *icon
	}
	if color != nil {
		sig.Color = *color
	}
	return s.persistSignature(sig)
}

// Merge folds mergeID into keepID: the power average is weighted by
// occurrence counts, the observed range widens to cover both, events
// and daily stats move over, and the merged signature is deleted. Used
// when one appliance ended up with two slightly different signatures.
func (s *Store) Merge(keepID, mergeID string) error {
	if keepID == mergeID {
		return fmt.Errorf("cannot merge a signature into itself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keep, ok := s.sigs[keepID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignatureNotFound, keepID)
	}
	merge, ok := s.sigs[mergeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignatureNotFound, mergeID)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE load_events SET signature_id = ? WHERE signature_id = ?`, keepID, mergeID); err != nil {
		return fmt.Errorf("moving events: %w", err)
	}

	// Daily stat rows can collide on (date, signature_id), so fold the
	// merged signature's rows in by addition rather than re-pointing.
	if _, err := tx.Exec(`
		INSERT INTO appliance_daily_stats (date, signature_id, cycles, total_duration, energy_kwh)
		SELECT date, ?, cycles, total_duration, energy_kwh
		FROM appliance_daily_stats WHERE signature_id = ?
		ON CONFLICT(date, signature_id) DO UPDATE SET
			cycles = cycles + excluded.cycles,
			total_duration = total_duration + excluded.total_duration,
			energy_kwh = energy_kwh + excluded.energy_kwh`, keepID, mergeID); err != nil {
		return fmt.Errorf("merging daily stats: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM appliance_daily_stats WHERE signature_id = ?`, mergeID); err != nil {
		return fmt.Errorf("clearing merged daily stats: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM appliance_signatures WHERE id = ?`, mergeID); err != nil {
		return fmt.Errorf("deleting merged signature: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	total := keep.OccurrenceCount + merge.OccurrenceCount
	if total > 0 {
		keep.AvgWatts = (keep.AvgWatts*float64(keep.OccurrenceCount) + merge.AvgWatts*float64(merge.OccurrenceCount)) / float64(total)
	}
	keep.MinWatts = math.Min(keep.MinWatts, merge.MinWatts)
	keep.MaxWatts = math.Max(keep.MaxWatts, merge.MaxWatts)
	keep.OccurrenceCount = total
	if merge.LastSeen.After(keep.LastSeen) {
		keep.LastSeen = merge.LastSeen
	}
	if merge.FirstSeen.Before(keep.FirstSeen) {
		keep.FirstSeen = merge.FirstSeen
	}
	delete(s.sigs, mergeID)
	delete(s.dirty, mergeID)

	return s.persistSignature(keep)
}

// TrackOn marks a signature as running. Counting instances rather than
// a plain flag lets two identical lamps show as one signature running
// twice.
func (s *Store) TrackOn(sigID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.sigs[sigID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignatureNotFound, sigID)
	}
	sig.IsActive = true
	sig.ActiveCount++
	t := at
	sig.LastOnTime = &t
	return s.persistSignature(sig)
}

// TrackOff releases a running instance. The matched signature is tried
// first; when it is not running (on/off wattages drifted apart) the
// closest running signature within tolerance is released instead, so an
// off edge that resolved to a twin still stops the right appliance.
func (s *Store) TrackOff(sigID string, magnitude, tolerance, thresholdWatts float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig, ok := s.sigs[sigID]; ok && sig.IsActive && sig.ActiveCount > 0 {
		s.release(sig)
		return s.persistSignature(sig)
	}

	if magnitude <= 0 {
		return nil
	}
	var best *nilm.Signature
	bestDiff := math.Inf(1)
	for _, sig := range s.sigs {
		if !sig.IsActive {
			continue
		}
		diff := math.Abs(magnitude - sig.AvgWatts)
		if diff <= math.Max(sig.AvgWatts*tolerance, thresholdWatts) && diff < bestDiff {
			best, bestDiff = sig, diff
		}
	}
	if best == nil {
		return nil
	}
	s.release(best)
	return s.persistSignature(best)
}

func (s *Store) release(sig *nilm.Signature) {
	sig.ActiveCount--
	if sig.ActiveCount <= 0 {
		sig.ActiveCount = 0
		sig.IsActive = false
	}
}

// DeactivateAll clears the is-running bookkeeping on every signature.
func (s *Store) DeactivateAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.sigs {
		sig.IsActive = false
		sig.ActiveCount = 0
	}
	if _, err := s.db.Exec(`UPDATE appliance_signatures SET is_active = 0, active_count = 0`); err != nil {
		return fmt.Errorf("clearing active state: %w", err)
	}
	return nil
}

// CustomLabels returns the user-assigned identities in the library,
// keyed by the wattage they were attached to, for carrying across a
// reanalysis.
func (s *Store) CustomLabels() ([]nilm.CustomLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []nilm.CustomLabel
	for _, sig := range s.sigs {
		if sig.Label == "" || nilm.IsAutoLabel(sig.Label) {
			continue
		}
		out = append(out, nilm.CustomLabel{
			Label:    sig.Label,
			Icon:     sig.Icon,
			Color:    sig.Color,
			AvgWatts: sig.AvgWatts,
		})
	}
	return out, nil
}

// RestoreCustomLabels walks the rebuilt library and gives each
// signature the nearest saved identity within tolerance. One saved name
// may land on several signatures; an appliance's on and off signatures
// both recovering "Fridge" is the point.
func (s *Store) RestoreCustomLabels(saved []nilm.CustomLabel, tolerance, thresholdWatts float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	var firstErr error
	for _, sig := range s.sigs {
		var best *nilm.CustomLabel
		bestDiff := math.Inf(1)
		for i := range saved {
			diff := math.Abs(sig.AvgWatts - saved[i].AvgWatts)
			if diff <= math.Max(sig.AvgWatts*tolerance, thresholdWatts) && diff < bestDiff {
				best, bestDiff = &saved[i], diff
			}
		}
		if best == nil {
			continue
		}
		sig.Label, sig.Icon, sig.Color = best.Label, best.Icon, best.Color
		if err := s.persistSignature(sig); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		restored++
	}
	if restored > 0 {
		monitoring.Logf("nilm: restored %d custom appliance names from previous session", restored)
	}
	return restored, firstErr
}
