package db

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// RecordEvent appends a detected edge to the event log and returns its
// row id.
func (s *Store) RecordEvent(ev nilm.Event) (int64, error) {
	var duration sql.NullFloat64
	if ev.DurationSecs != nil {
		duration = sql.NullFloat64{Float64: *ev.DurationSecs, Valid: true}
	}
	newlyLearned := 0
	if ev.NewlyLearned {
		newlyLearned = 1
	}
	res, err := s.db.Exec(`
		INSERT INTO load_events (timestamp, direction, power_delta, duration, signature_id, confidence, newly_learned)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.Unix(), string(ev.Direction), ev.MagnitudeWatts, duration,
		ev.SignatureID, string(ev.Confidence), newlyLearned)
	if err != nil {
		return 0, fmt.Errorf("recording event: %w", err)
	}
	return res.LastInsertId()
}

// PairOffEvent matches an off edge against the unpaired on events in
// the lookback window and closes the best one. Candidates are scored by
// how close the off magnitude sits to either the on event's own step or
// its signature's running average, earliest-first on ties, and a match
// is only accepted within 40% of the off magnitude (at least 40W) so a
// kettle's off edge cannot close a space heater's cycle. The completed
// duration also feeds the off signature's typical-runtime average.
func (s *Store) PairOffEvent(signatureID string, magnitude float64, at time.Time, lookback time.Duration) (*nilm.Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT e.id, e.timestamp, e.power_delta, COALESCE(s.power_avg, e.power_delta)
		FROM load_events e
		LEFT JOIN appliance_signatures s ON e.signature_id = s.id
		WHERE e.direction = 'on' AND e.duration IS NULL AND e.timestamp >= ?
		ORDER BY e.timestamp ASC`,
		at.Add(-lookback).Unix())
	if err != nil {
		return nil, fmt.Errorf("querying unpaired on events: %w", err)
	}
	defer rows.Close()

	var (
		bestID   int64
		bestTS   int64
		bestDiff = math.Inf(1)
		found    bool
	)
	for rows.Next() {
		var (
			id    int64
			ts    int64
			delta float64
			avg   float64
		)
		if err := rows.Scan(&id, &ts, &delta, &avg); err != nil {
			return nil, fmt.Errorf("scanning on event: %w", err)
		}
		diff := math.Min(math.Abs(magnitude-delta), math.Abs(magnitude-avg))
		if diff < bestDiff {
			bestID, bestTS, bestDiff, found = id, ts, diff, true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found || bestDiff > math.Max(magnitude*0.4, 40) {
		return nil, nil
	}

	duration := at.Sub(time.Unix(bestTS, 0)).Seconds()
	if duration < 0 {
		return nil, nil
	}
	if _, err := s.db.Exec(`UPDATE load_events SET duration = ? WHERE id = ?`, duration, bestID); err != nil {
		return nil, fmt.Errorf("closing on event %d: %w", bestID, err)
	}

	if sig, ok := s.sigs[signatureID]; ok {
		// Each on/off pair is one cycle, so a signature seen N times has
		// roughly N/2 completed runs behind its duration average.
		cycles := sig.OccurrenceCount / 2
		if cycles < 1 {
			cycles = 1
		}
		sig.AvgDurationSecs = (sig.AvgDurationSecs*float64(cycles-1) + duration) / float64(cycles)
		if err := s.persistSignature(sig); err != nil {
			return &nilm.Pairing{OnEventID: bestID, DurationSecs: duration}, err
		}
	}
	return &nilm.Pairing{OnEventID: bestID, DurationSecs: duration}, nil
}

// RecentEvents returns the newest events since the given time, most
// recent first, dressed with their signature's current label.
func (s *Store) RecentEvents(since time.Time, limit int) ([]nilm.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT e.id, e.timestamp, e.direction, e.power_delta, e.duration, e.signature_id,
		       e.confidence, e.newly_learned,
		       COALESCE(s.user_label, ''), COALESCE(s.icon, ''), COALESCE(s.color, '')
		FROM load_events e
		LEFT JOIN appliance_signatures s ON e.signature_id = s.id
		WHERE e.timestamp >= ?
		ORDER BY e.timestamp DESC
		LIMIT ?`,
		since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []nilm.Event
	for rows.Next() {
		var (
			ev           nilm.Event
			ts           int64
			direction    string
			duration     sql.NullFloat64
			confidence   string
			newlyLearned int
		)
		if err := rows.Scan(&ev.ID, &ts, &direction, &ev.MagnitudeWatts, &duration,
			&ev.SignatureID, &confidence, &newlyLearned,
			&ev.Label, &ev.Icon, &ev.Color); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.Direction = nilm.Direction(direction)
		ev.Confidence = nilm.Confidence(confidence)
		ev.NewlyLearned = newlyLearned != 0
		if duration.Valid {
			d := duration.Float64
			ev.DurationSecs = &d
		}
		if ev.Label == "" {
			ev.Label, ev.Icon, ev.Color = nilm.FallbackLabel, nilm.FallbackIcon, nilm.FallbackColor
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ActiveAppliance is one appliance instance believed to be running
// right now, backed by an on event that has not seen its off yet.
type ActiveAppliance struct {
	EventID     int64     `json:"event_id"`
	SignatureID string    `json:"signature_id"`
	Label       string    `json:"label"`
	Icon        string    `json:"icon"`
	Color       string    `json:"color"`
	Watts       float64   `json:"watts"`
	Since       time.Time `json:"since"`
	RunningSecs float64   `json:"running_secs"`
}

// ActiveAppliances lists what is believed to be running, oldest first.
// On events older than staleAfter are written off as missed offs
// (duration -1). When a current load reading is available the list is
// sanity-checked against it: if the claimed wattage exceeds what the
// meter can account for, the oldest claims are dropped until it fits.
func (s *Store) ActiveAppliances(currentLoad float64, haveLoad bool, idleLoad float64, staleAfter time.Duration, now time.Time) ([]ActiveAppliance, error) {
	if _, err := s.db.Exec(`
		UPDATE load_events SET duration = -1
		WHERE direction = 'on' AND duration IS NULL AND timestamp < ?`,
		now.Add(-staleAfter).Unix()); err != nil {
		return nil, fmt.Errorf("expiring stale on events: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.timestamp, e.signature_id,
		       COALESCE(s.user_label, ''), COALESCE(s.icon, ''), COALESCE(s.color, ''),
		       COALESCE(s.power_avg, e.power_delta)
		FROM load_events e
		LEFT JOIN appliance_signatures s ON e.signature_id = s.id
		WHERE e.direction = 'on' AND e.duration IS NULL
		ORDER BY e.timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying active appliances: %w", err)
	}
	defer rows.Close()

	var active []ActiveAppliance
	for rows.Next() {
		var (
			a  ActiveAppliance
			ts int64
		)
		if err := rows.Scan(&a.EventID, &ts, &a.SignatureID, &a.Label, &a.Icon, &a.Color, &a.Watts); err != nil {
			return nil, fmt.Errorf("scanning active appliance: %w", err)
		}
		a.Since = time.Unix(ts, 0).UTC()
		a.RunningSecs = now.Sub(a.Since).Seconds()
		if a.Label == "" {
			a.Label, a.Icon, a.Color = nilm.FallbackLabel, nilm.FallbackIcon, nilm.FallbackColor
		}
		active = append(active, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !haveLoad {
		return active, nil
	}

	budget := math.Max(0, currentLoad-idleLoad)*1.5 + 50
	total := 0.0
	for _, a := range active {
		total += a.Watts
	}
	for total > budget && len(active) > 0 {
		dropped := active[0]
		active = active[1:]
		total -= dropped.Watts
		if _, err := s.db.Exec(`UPDATE load_events SET duration = -1 WHERE id = ?`, dropped.EventID); err != nil {
			return active, fmt.Errorf("closing unaccounted on event %d: %w", dropped.EventID, err)
		}
	}
	return active, nil
}
