package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "edge_threshold_watts": 20,
  "debounce": "10s",
  "smoothing_window": 5,
  "idle_load_watts": 55,
  "signature_tolerance": 0.3,
  "confidence_medium": 4,
  "confidence_high": 12,
  "pairing_lookback": "6h",
  "sample_retention": "48h",
  "timezone": "UTC"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.EdgeThresholdWatts == nil || *cfg.EdgeThresholdWatts != 20 {
		t.Errorf("Expected EdgeThresholdWatts 20, got %v", cfg.EdgeThresholdWatts)
	}
	if cfg.GetDebounce() != 10*time.Second {
		t.Errorf("Expected debounce 10s, got %v", cfg.GetDebounce())
	}
	if cfg.SmoothingWindow == nil || *cfg.SmoothingWindow != 5 {
		t.Errorf("Expected SmoothingWindow 5, got %v", cfg.SmoothingWindow)
	}
	if cfg.IdleLoadWatts == nil || *cfg.IdleLoadWatts != 55 {
		t.Errorf("Expected IdleLoadWatts 55, got %v", cfg.IdleLoadWatts)
	}
	if cfg.SignatureTolerance == nil || *cfg.SignatureTolerance != 0.3 {
		t.Errorf("Expected SignatureTolerance 0.3, got %v", cfg.SignatureTolerance)
	}
	if cfg.GetConfidenceMedium() != 4 || cfg.GetConfidenceHigh() != 12 {
		t.Errorf("Expected confidence tiers 4/12, got %d/%d", cfg.GetConfidenceMedium(), cfg.GetConfidenceHigh())
	}
	if cfg.GetPairingLookback() != 6*time.Hour {
		t.Errorf("Expected pairing lookback 6h, got %v", cfg.GetPairingLookback())
	}
	if cfg.GetSampleRetention() != 48*time.Hour {
		t.Errorf("Expected sample retention 48h, got %v", cfg.GetSampleRetention())
	}
	if cfg.GetTimezone() != "UTC" {
		t.Errorf("Expected timezone UTC, got %q", cfg.GetTimezone())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "edge_threshold_watts": "invalid"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name: "full valid config",
			cfg: &TuningConfig{
				EdgeThresholdWatts: ptrFloat64(15),
				Debounce:           ptrString("8s"),
				SmoothingWindow:    ptrInt(3),
				IdleLoadWatts:      ptrFloat64(70),
				SignatureTolerance: ptrFloat64(0.25),
				ConfidenceMedium:   ptrInt(3),
				ConfidenceHigh:     ptrInt(10),
				Timezone:           ptrString("Europe/Rome"),
			},
			wantErr: false,
		},
		{
			name: "negative edge threshold",
			cfg: &TuningConfig{
				EdgeThresholdWatts: ptrFloat64(-5),
			},
			wantErr: true,
		},
		{
			name: "zero edge threshold",
			cfg: &TuningConfig{
				EdgeThresholdWatts: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "zero smoothing window",
			cfg: &TuningConfig{
				SmoothingWindow: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "negative idle load",
			cfg: &TuningConfig{
				IdleLoadWatts: ptrFloat64(-1),
			},
			wantErr: true,
		},
		{
			name: "tolerance of zero",
			cfg: &TuningConfig{
				SignatureTolerance: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "tolerance above one",
			cfg: &TuningConfig{
				SignatureTolerance: ptrFloat64(1.5),
			},
			wantErr: true,
		},
		{
			name: "confidence high below medium",
			cfg: &TuningConfig{
				ConfidenceMedium: ptrInt(5),
				ConfidenceHigh:   ptrInt(2),
			},
			wantErr: true,
		},
		{
			name: "invalid debounce",
			cfg: &TuningConfig{
				Debounce: ptrString("whenever"),
			},
			wantErr: true,
		},
		{
			name: "negative cleanup interval",
			cfg: &TuningConfig{
				CleanupInterval: ptrString("-1h"),
			},
			wantErr: true,
		},
		{
			name: "unknown timezone",
			cfg: &TuningConfig{
				Timezone: ptrString("Mars/Olympus_Mons"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDebounce(t *testing.T) {
	tests := []struct {
		name string
		cfg  *TuningConfig
		want time.Duration
	}{
		{
			name: "8 seconds",
			cfg:  &TuningConfig{Debounce: ptrString("8s")},
			want: 8 * time.Second,
		},
		{
			name: "2 minutes",
			cfg:  &TuningConfig{Debounce: ptrString("2m")},
			want: 2 * time.Minute,
		},
		{
			name: "nil pointer returns default",
			cfg:  &TuningConfig{},
			want: 8 * time.Second,
		},
		{
			name: "empty string returns default",
			cfg:  &TuningConfig{Debounce: ptrString("")},
			want: 8 * time.Second,
		},
		{
			name: "invalid duration returns default",
			cfg:  &TuningConfig{Debounce: ptrString("invalid")},
			want: 8 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDebounce(); got != tt.want {
				t.Errorf("GetDebounce() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := &TuningConfig{} // empty config

	if cfg.GetEdgeThresholdWatts() != 15.0 {
		t.Errorf("GetEdgeThresholdWatts() = %f, want 15", cfg.GetEdgeThresholdWatts())
	}
	if cfg.GetDebounce() != 8*time.Second {
		t.Errorf("GetDebounce() = %v, want 8s", cfg.GetDebounce())
	}
	if cfg.GetSmoothingWindow() != 3 {
		t.Errorf("GetSmoothingWindow() = %d, want 3", cfg.GetSmoothingWindow())
	}
	if cfg.GetIdleLoadWatts() != 70.0 {
		t.Errorf("GetIdleLoadWatts() = %f, want 70", cfg.GetIdleLoadWatts())
	}
	if cfg.GetSignatureTolerance() != 0.25 {
		t.Errorf("GetSignatureTolerance() = %f, want 0.25", cfg.GetSignatureTolerance())
	}
	if cfg.GetConfidenceMedium() != 3 || cfg.GetConfidenceHigh() != 10 {
		t.Errorf("confidence tiers = %d/%d, want 3/10", cfg.GetConfidenceMedium(), cfg.GetConfidenceHigh())
	}
	if cfg.GetPairingLookback() != 12*time.Hour {
		t.Errorf("GetPairingLookback() = %v, want 12h", cfg.GetPairingLookback())
	}
	if cfg.GetActiveStaleAfter() != 4*time.Hour {
		t.Errorf("GetActiveStaleAfter() = %v, want 4h", cfg.GetActiveStaleAfter())
	}
	if cfg.GetSampleRetention() != 7*24*time.Hour {
		t.Errorf("GetSampleRetention() = %v, want 168h", cfg.GetSampleRetention())
	}
	if cfg.GetEventRetention() != 30*24*time.Hour {
		t.Errorf("GetEventRetention() = %v, want 720h", cfg.GetEventRetention())
	}
	if cfg.GetCleanupInterval() != time.Hour {
		t.Errorf("GetCleanupInterval() = %v, want 1h", cfg.GetCleanupInterval())
	}
	if cfg.GetFlushInterval() != 60*time.Second {
		t.Errorf("GetFlushInterval() = %v, want 60s", cfg.GetFlushInterval())
	}
	if cfg.GetTimezone() != "" {
		t.Errorf("GetTimezone() = %q, want empty", cfg.GetTimezone())
	}
}

func TestLoadTuningConfigPartial(t *testing.T) {
	// Partial config: only override the threshold; everything else keeps defaults.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	partialJSON := `{
  "edge_threshold_watts": 25
}`
	if err := os.WriteFile(configPath, []byte(partialJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.GetEdgeThresholdWatts() != 25 {
		t.Errorf("Expected overridden threshold 25, got %f", cfg.GetEdgeThresholdWatts())
	}
	if cfg.GetSmoothingWindow() != 3 {
		t.Errorf("Expected default SmoothingWindow 3, got %d", cfg.GetSmoothingWindow())
	}
	if cfg.GetDebounce() != 8*time.Second {
		t.Errorf("Expected default debounce 8s, got %v", cfg.GetDebounce())
	}
	if cfg.GetSignatureTolerance() != 0.25 {
		t.Errorf("Expected default tolerance 0.25, got %f", cfg.GetSignatureTolerance())
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg, err := LoadTuningConfig("../../" + DefaultConfigPath)
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.GetEdgeThresholdWatts() != 15 {
		t.Errorf("Expected 15, got %f", cfg.GetEdgeThresholdWatts())
	}
	if cfg.GetSmoothingWindow() != 3 {
		t.Errorf("Expected 3, got %d", cfg.GetSmoothingWindow())
	}
	if cfg.GetIdleLoadWatts() != 70 {
		t.Errorf("Expected 70, got %f", cfg.GetIdleLoadWatts())
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("/some/path/config.yaml"); err == nil {
		t.Error("Expected error for non-.json extension, got nil")
	}
}

func TestLoadTuningConfigRejectsLargeFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "large.json")

	largeData := make([]byte, 2*1024*1024) // 2MB
	if err := os.WriteFile(configPath, largeData, 0644); err != nil {
		t.Fatalf("Failed to write large file: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for file size > 1MB, got nil")
	}
}
