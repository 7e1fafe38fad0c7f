package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/nilm.defaults.json"

// TuningConfig represents the root configuration for detection tuning.
// The schema matches the /api/nilm/params endpoint so the same JSON can be
// used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Detection params
	EdgeThresholdWatts *float64 `json:"edge_threshold_watts,omitempty"`
	Debounce           *string  `json:"debounce,omitempty"` // duration string like "8s"
	SmoothingWindow    *int     `json:"smoothing_window,omitempty"`
	IdleLoadWatts      *float64 `json:"idle_load_watts,omitempty"`

	// Matching params
	SignatureTolerance *float64 `json:"signature_tolerance,omitempty"` // fraction of edge magnitude
	ConfidenceMedium   *int     `json:"confidence_medium,omitempty"`   // occurrences for medium tier
	ConfidenceHigh     *int     `json:"confidence_high,omitempty"`     // occurrences for high tier

	// Event pairing and active-appliance tracking
	PairingLookback  *string `json:"pairing_lookback,omitempty"`  // duration string like "12h"
	ActiveStaleAfter *string `json:"active_stale_after,omitempty"`

	// Retention and background work
	SampleRetention *string `json:"sample_retention,omitempty"`
	EventRetention  *string `json:"event_retention,omitempty"`
	CleanupInterval *string `json:"cleanup_interval,omitempty"`
	FlushInterval   *string `json:"flush_interval,omitempty"` // dirty-signature persist retry

	// Reporting
	Timezone *string `json:"timezone,omitempty"` // IANA zone for daily buckets; empty means system local
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Runtime updates
// pass through here before they reach the engine, so the hot path never
// sees a zero window or a negative threshold.
func (c *TuningConfig) Validate() error {
	if c.EdgeThresholdWatts != nil && *c.EdgeThresholdWatts <= 0 {
		return fmt.Errorf("edge_threshold_watts must be positive, got %f", *c.EdgeThresholdWatts)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.IdleLoadWatts != nil && *c.IdleLoadWatts < 0 {
		return fmt.Errorf("idle_load_watts must be non-negative, got %f", *c.IdleLoadWatts)
	}
	if c.SignatureTolerance != nil {
		if *c.SignatureTolerance <= 0 || *c.SignatureTolerance > 1 {
			return fmt.Errorf("signature_tolerance must be in (0, 1], got %f", *c.SignatureTolerance)
		}
	}
	if c.ConfidenceMedium != nil && *c.ConfidenceMedium < 1 {
		return fmt.Errorf("confidence_medium must be at least 1, got %d", *c.ConfidenceMedium)
	}
	if c.ConfidenceHigh != nil {
		medium := 3
		if c.ConfidenceMedium != nil {
			medium = *c.ConfidenceMedium
		}
		if *c.ConfidenceHigh < medium {
			return fmt.Errorf("confidence_high (%d) must be >= confidence_medium (%d)", *c.ConfidenceHigh, medium)
		}
	}
	if c.Timezone != nil && *c.Timezone != "" && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("unknown timezone %q", *c.Timezone)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"debounce", c.Debounce},
		{"pairing_lookback", c.PairingLookback},
		{"active_stale_after", c.ActiveStaleAfter},
		{"sample_retention", c.SampleRetention},
		{"event_retention", c.EventRetention},
		{"cleanup_interval", c.CleanupInterval},
		{"flush_interval", c.FlushInterval},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.value)
		}
	}

	return nil
}

// GetEdgeThresholdWatts returns the edge_threshold_watts value or the default.
func (c *TuningConfig) GetEdgeThresholdWatts() float64 {
	if c.EdgeThresholdWatts == nil {
		return 15.0 // default
	}
	return *c.EdgeThresholdWatts
}

// GetDebounce parses and returns the Debounce as a time.Duration.
func (c *TuningConfig) GetDebounce() time.Duration {
	return c.durationOr(c.Debounce, 8*time.Second)
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 3 // default
	}
	return *c.SmoothingWindow
}

// GetIdleLoadWatts returns the idle_load_watts value or the default.
func (c *TuningConfig) GetIdleLoadWatts() float64 {
	if c.IdleLoadWatts == nil {
		return 70.0 // default
	}
	return *c.IdleLoadWatts
}

// GetSignatureTolerance returns the signature_tolerance value or the default.
func (c *TuningConfig) GetSignatureTolerance() float64 {
	if c.SignatureTolerance == nil {
		return 0.25 // default
	}
	return *c.SignatureTolerance
}

// GetConfidenceMedium returns the confidence_medium value or the default.
func (c *TuningConfig) GetConfidenceMedium() int {
	if c.ConfidenceMedium == nil {
		return 3
	}
	return *c.ConfidenceMedium
}

// GetConfidenceHigh returns the confidence_high value or the default.
func (c *TuningConfig) GetConfidenceHigh() int {
	if c.ConfidenceHigh == nil {
		return 10
	}
	return *c.ConfidenceHigh
}

// GetPairingLookback parses and returns the PairingLookback as a time.Duration.
func (c *TuningConfig) GetPairingLookback() time.Duration {
	return c.durationOr(c.PairingLookback, 12*time.Hour)
}

// GetActiveStaleAfter parses and returns the ActiveStaleAfter as a time.Duration.
func (c *TuningConfig) GetActiveStaleAfter() time.Duration {
	return c.durationOr(c.ActiveStaleAfter, 4*time.Hour)
}

// GetSampleRetention parses and returns the SampleRetention as a time.Duration.
func (c *TuningConfig) GetSampleRetention() time.Duration {
	return c.durationOr(c.SampleRetention, 7*24*time.Hour)
}

// GetEventRetention parses and returns the EventRetention as a time.Duration.
func (c *TuningConfig) GetEventRetention() time.Duration {
	return c.durationOr(c.EventRetention, 30*24*time.Hour)
}

// GetCleanupInterval parses and returns the CleanupInterval as a time.Duration.
func (c *TuningConfig) GetCleanupInterval() time.Duration {
	return c.durationOr(c.CleanupInterval, time.Hour)
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	return c.durationOr(c.FlushInterval, 60*time.Second)
}

// GetTimezone returns the timezone value or the default (empty, system local).
func (c *TuningConfig) GetTimezone() string {
	if c.Timezone == nil {
		return ""
	}
	return *c.Timezone
}

// Merge returns a copy of c with every field that o sets overriding the
// corresponding field in c. Runtime updates arrive as partial configs,
// so unset fields keep their current values.
func (c *TuningConfig) Merge(o *TuningConfig) *TuningConfig {
	merged := *c
	if o == nil {
		return &merged
	}
	if o.EdgeThresholdWatts != nil {
		merged.EdgeThresholdWatts = o.EdgeThresholdWatts
	}
	if o.Debounce != nil {
		merged.Debounce = o.Debounce
	}
	if o.SmoothingWindow != nil {
		merged.SmoothingWindow = o.SmoothingWindow
	}
	if o.IdleLoadWatts != nil {
		merged.IdleLoadWatts = o.IdleLoadWatts
	}
	if o.SignatureTolerance != nil {
		merged.SignatureTolerance = o.SignatureTolerance
	}
	if o.ConfidenceMedium != nil {
		merged.ConfidenceMedium = o.ConfidenceMedium
	}
	if o.ConfidenceHigh != nil {
		merged.ConfidenceHigh = o.ConfidenceHigh
	}
	if o.PairingLookback != nil {
		merged.PairingLookback = o.PairingLookback
	}
	if o.ActiveStaleAfter != nil {
		merged.ActiveStaleAfter = o.ActiveStaleAfter
	}
	if o.SampleRetention != nil {
		merged.SampleRetention = o.SampleRetention
	}
	if o.EventRetention != nil {
		merged.EventRetention = o.EventRetention
	}
	if o.CleanupInterval != nil {
		merged.CleanupInterval = o.CleanupInterval
	}
	if o.FlushInterval != nil {
		merged.FlushInterval = o.FlushInterval
	}
	if o.Timezone != nil {
		merged.Timezone = o.Timezone
	}
	return &merged
}

func (c *TuningConfig) durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}
