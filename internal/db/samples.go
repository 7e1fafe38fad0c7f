package db

import (
	"fmt"
	"time"
)

// LoadSample is one archived meter reading, raw next to the smoothed
// value the detector saw.
type LoadSample struct {
	Timestamp     time.Time `json:"timestamp"`
	Watts         float64   `json:"watts"`
	SmoothedWatts float64   `json:"smoothed_watts"`
}

// RecordSample archives one reading. Second resolution keys the table,
// so a second reading in the same second replaces the first.
func (s *Store) RecordSample(at time.Time, watts, smoothed float64) error {
	if _, err := s.db.Exec(`
		INSERT OR REPLACE INTO load_samples (timestamp, load_watts, smoothed_watts)
		VALUES (?, ?, ?)`,
		at.Unix(), watts, smoothed); err != nil {
		return fmt.Errorf("recording sample: %w", err)
	}
	return nil
}

// SamplesAscending streams every archived reading oldest-first into fn.
// A non-nil error from fn stops the walk and is returned as-is, so a
// caller can abort a long replay.
func (s *Store) SamplesAscending(fn func(at time.Time, watts float64) error) error {
	rows, err := s.db.Query(`SELECT timestamp, load_watts FROM load_samples ORDER BY timestamp ASC`)
	if err != nil {
		return fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts    int64
			watts float64
		)
		if err := rows.Scan(&ts, &watts); err != nil {
			return fmt.Errorf("scanning sample: %w", err)
		}
		if err := fn(time.Unix(ts, 0).UTC(), watts); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RecentSamples returns the readings since the given time, oldest
// first, for charting.
func (s *Store) RecentSamples(since time.Time) ([]LoadSample, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, load_watts, smoothed_watts
		FROM load_samples
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`,
		since.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []LoadSample
	for rows.Next() {
		var (
			sample LoadSample
			ts     int64
		)
		if err := rows.Scan(&ts, &sample.Watts, &sample.SmoothedWatts); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		sample.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

// SampleCount reports how many readings are archived.
func (s *Store) SampleCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM load_samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting samples: %w", err)
	}
	return n, nil
}
