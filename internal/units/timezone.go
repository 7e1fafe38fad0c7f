package units

import (
	"fmt"
	"time"
)

// IsTimezoneValid reports whether tz loads from the system tz database.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Location resolves tz from the tz database. The empty string selects the
// system-local zone, matching the tuning default.
func Location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", tz, err)
	}
	return loc, nil
}

// DayKey formats t as YYYY-MM-DD in loc. Daily usage rows are keyed by it,
// so the zone decides which calendar day a midnight-straddling run lands in.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}
