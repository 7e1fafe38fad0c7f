package db

import (
	"context"
	"fmt"
	"time"
)

// DailyStat is one signature's usage for one calendar day.
type DailyStat struct {
	Date          string  `json:"date"`
	Cycles        int64   `json:"cycles"`
	TotalDuration float64 `json:"total_duration_secs"`
	EnergyKWh     float64 `json:"energy_kwh"`
}

// AddDailyUsage folds one completed run into the signature's row for
// that day and refreshes its cycles-per-day average.
func (s *Store) AddDailyUsage(sigID, day string, durationSecs, energyKWh float64) error {
	if _, err := s.db.Exec(`
		INSERT INTO appliance_daily_stats (date, signature_id, cycles, total_duration, energy_kwh)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(date, signature_id) DO UPDATE SET
			cycles = cycles + 1,
			total_duration = total_duration + excluded.total_duration,
			energy_kwh = energy_kwh + excluded.energy_kwh`,
		day, sigID, durationSecs, energyKWh); err != nil {
		return fmt.Errorf("adding daily usage for %s: %w", sigID, err)
	}
	return s.refreshDailyCycles(sigID)
}

// refreshDailyCycles recomputes the signature's average runs per day
// across every day it has stats for.
func (s *Store) refreshDailyCycles(sigID string) error {
	var avg float64
	if err := s.db.QueryRow(`
		SELECT COALESCE(AVG(cycles), 0) FROM appliance_daily_stats WHERE signature_id = ?`,
		sigID).Scan(&avg); err != nil {
		return fmt.Errorf("averaging daily cycles for %s: %w", sigID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.sigs[sigID]
	if !ok {
		return nil
	}
	sig.DailyCycles = avg
	return s.persistSignature(sig)
}

// DailyStats returns up to days of usage rows for one signature, newest
// day first.
func (s *Store) DailyStats(sigID string, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.Query(`
		SELECT date, cycles, total_duration, energy_kwh
		FROM appliance_daily_stats
		WHERE signature_id = ?
		ORDER BY date DESC
		LIMIT ?`,
		sigID, days)
	if err != nil {
		return nil, fmt.Errorf("querying daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Date, &d.Cycles, &d.TotalDuration, &d.EnergyKWh); err != nil {
			return nil, fmt.Errorf("scanning daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup trims the archive: samples older than sampleRetention and
// events older than eventRetention go. Signatures and daily stats are
// kept indefinitely; they are the learned state.
func (s *Store) Cleanup(ctx context.Context, now time.Time, sampleRetention, eventRetention time.Duration) (samplesDeleted, eventsDeleted int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM load_samples WHERE timestamp < ?`,
		now.Add(-sampleRetention).Unix())
	if err != nil {
		return 0, 0, fmt.Errorf("deleting old samples: %w", err)
	}
	samplesDeleted, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM load_events WHERE timestamp < ?`,
		now.Add(-eventRetention).Unix())
	if err != nil {
		return samplesDeleted, 0, fmt.Errorf("deleting old events: %w", err)
	}
	eventsDeleted, _ = res.RowsAffected()
	return samplesDeleted, eventsDeleted, nil
}
