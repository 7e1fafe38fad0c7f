package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// ErrSignatureNotFound is returned by signature lookups and mutations
// that name an id the library does not hold.
var ErrSignatureNotFound = errors.New("signature not found")

// Store is the persistence layer the detection engine drives. The
// signature library lives in memory as the authoritative session state
// and every mutation is written through to SQLite. When a write fails
// the in-memory copy still advances; the row is marked dirty and
// retried by FlushAll, so a transient disk problem degrades durability
// without losing what the session has learned.
type Store struct {
	db *DB

	mu    sync.Mutex
	sigs  map[string]*nilm.Signature
	dirty map[string]bool
}

// NewStore builds a store over the given database and loads the saved
// signature library. A load failure is not fatal: detection starts with
// an empty library and relearns, which the log calls out.
func NewStore(db *DB) *Store {
	s := &Store{
		db:    db,
		sigs:  make(map[string]*nilm.Signature),
		dirty: make(map[string]bool),
	}
	if err := s.loadSignatures(); err != nil {
		monitoring.Logf("nilm: could not load saved signatures, starting empty: %v", err)
		s.sigs = make(map[string]*nilm.Signature)
		return s
	}
	if len(s.sigs) > 0 {
		monitoring.Logf("nilm: loaded %d saved appliance signatures from database", len(s.sigs))
	} else {
		monitoring.Logf("nilm: no saved signatures yet, detection will learn as appliances turn on and off")
	}
	return s
}

func (s *Store) loadSignatures() error {
	rows, err := s.db.Query(`
		SELECT id, direction, power_avg, power_min, power_max, event_count,
		       user_label, icon, color, is_active, active_count, last_on_time,
		       avg_duration, daily_cycles, first_seen, last_seen
		FROM appliance_signatures`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sig nilm.Signature
		var direction string
		var isActive int
		var lastOn sql.NullInt64
		var firstSeen, lastSeen int64
		if err := rows.Scan(
			&sig.ID, &direction, &sig.AvgWatts, &sig.MinWatts, &sig.MaxWatts,
			&sig.OccurrenceCount, &sig.Label, &sig.Icon, &sig.Color,
			&isActive, &sig.ActiveCount, &lastOn,
			&sig.AvgDurationSecs, &sig.DailyCycles, &firstSeen, &lastSeen,
		); err != nil {
			return err
		}
		sig.Direction = nilm.Direction(direction)
		sig.IsActive = isActive != 0
		if lastOn.Valid {
			t := time.Unix(lastOn.Int64, 0).UTC()
			sig.LastOnTime = &t
		}
		sig.FirstSeen = time.Unix(firstSeen, 0).UTC()
		sig.LastSeen = time.Unix(lastSeen, 0).UTC()
		s.sigs[sig.ID] = &sig
	}
	return rows.Err()
}

// persistSignature writes one signature row. Callers hold s.mu. On
// failure the signature is marked dirty for a later retry and the error
// is returned for the caller to surface.
func (s *Store) persistSignature(sig *nilm.Signature) error {
	var lastOn any
	if sig.LastOnTime != nil {
		lastOn = sig.LastOnTime.Unix()
	}
	isActive := 0
	if sig.IsActive {
		isActive = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO appliance_signatures (
			id, direction, power_avg, power_min, power_max, event_count,
			user_label, icon, color, is_active, active_count, last_on_time,
			avg_duration, daily_cycles, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			power_avg = excluded.power_avg,
			power_min = excluded.power_min,
			power_max = excluded.power_max,
			event_count = excluded.event_count,
			user_label = excluded.user_label,
			icon = excluded.icon,
			color = excluded.color,
			is_active = excluded.is_active,
			active_count = excluded.active_count,
			last_on_time = excluded.last_on_time,
			avg_duration = excluded.avg_duration,
			daily_cycles = excluded.daily_cycles,
			last_seen = excluded.last_seen`,
		sig.ID, string(sig.Direction), sig.AvgWatts, sig.MinWatts, sig.MaxWatts,
		sig.OccurrenceCount, sig.Label, sig.Icon, sig.Color,
		isActive, sig.ActiveCount, lastOn,
		sig.AvgDurationSecs, sig.DailyCycles,
		sig.FirstSeen.Unix(), sig.LastSeen.Unix(),
	)
	if err != nil {
		s.dirty[sig.ID] = true
		return fmt.Errorf("persisting signature %s: %w", sig.ID, err)
	}
	delete(s.dirty, sig.ID)
	return nil
}

// FlushAll retries every dirty signature row. It returns how many rows
// were flushed and the first error encountered; rows that still fail
// stay dirty for the next attempt.
func (s *Store) FlushAll() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flushed int
	var firstErr error
	for id := range s.dirty {
		sig, ok := s.sigs[id]
		if !ok {
			// Deleted since it went dirty (merge or wipe).
			delete(s.dirty, id)
			continue
		}
		if err := s.persistSignature(sig); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		flushed++
	}
	return flushed, firstErr
}

// DirtyCount reports how many signatures are awaiting a retry.
func (s *Store) DirtyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty)
}

// StartupReset clears the is-running bookkeeping left over from a
// previous process. We cannot know what is still on after a restart, so
// every signature goes inactive and unpaired on events are marked as
// runs that never ended.
func (s *Store) StartupReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range s.sigs {
		sig.IsActive = false
		sig.ActiveCount = 0
	}
	if _, err := s.db.Exec(`UPDATE appliance_signatures SET is_active = 0, active_count = 0`); err != nil {
		return fmt.Errorf("clearing active state: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE load_events SET duration = -1 WHERE direction = 'on' AND duration IS NULL`); err != nil {
		return fmt.Errorf("expiring unpaired on events: %w", err)
	}
	return nil
}

// WipeDetections deletes all events, signatures and daily stats while
// keeping the raw sample archive, ahead of a reanalysis.
func (s *Store) WipeDetections() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM load_events`,
		`DELETE FROM appliance_signatures`,
		`DELETE FROM appliance_daily_stats`,
	} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("wiping detections: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.sigs = make(map[string]*nilm.Signature)
	s.dirty = make(map[string]bool)
	return nil
}
