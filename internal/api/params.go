package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ginovarisano/solar-dashboard/internal/config"
	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// resolvedParams flattens a tuning config into the effective value of
// every knob, defaults filled in. The keys match the TuningConfig JSON
// fields, so a client can GET this, tweak a value and PUT it straight
// back.
func resolvedParams(cfg *config.TuningConfig) map[string]interface{} {
	return map[string]interface{}{
		"edge_threshold_watts": cfg.GetEdgeThresholdWatts(),
		"debounce":             cfg.GetDebounce().String(),
		"smoothing_window":     cfg.GetSmoothingWindow(),
		"idle_load_watts":      cfg.GetIdleLoadWatts(),
		"signature_tolerance":  cfg.GetSignatureTolerance(),
		"confidence_medium":    cfg.GetConfidenceMedium(),
		"confidence_high":      cfg.GetConfidenceHigh(),
		"pairing_lookback":     cfg.GetPairingLookback().String(),
		"active_stale_after":   cfg.GetActiveStaleAfter().String(),
		"sample_retention":     cfg.GetSampleRetention().String(),
		"event_retention":      cfg.GetEventRetention().String(),
		"cleanup_interval":     cfg.GetCleanupInterval().String(),
		"flush_interval":       cfg.GetFlushInterval().String(),
		"timezone":             cfg.GetTimezone(),
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.showParams(w, r)
	case http.MethodPut:
		s.updateParams(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showParams(w http.ResponseWriter, _ *http.Request) {
	s.tuningMu.Lock()
	cfg := s.tuning
	s.tuningMu.Unlock()

	if err := json.NewEncoder(w).Encode(resolvedParams(cfg)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		return
	}
}

// updateParams merges a partial tuning config onto the current one,
// validates the result as a whole, and hands the engine the resolved
// snapshot. Invalid updates change nothing.
func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	var patch config.TuningConfig
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	s.tuningMu.Lock()
	merged := s.tuning.Merge(&patch)
	if err := merged.Validate(); err != nil {
		s.tuningMu.Unlock()
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid parameters: %v", err))
		return
	}
	s.tuning = merged
	s.tuningMu.Unlock()

	s.engine.ApplyParams(nilm.ParamsFromTuning(merged))
	monitoring.Logf("nilm: tuning parameters updated via API")

	if err := json.NewEncoder(w).Encode(resolvedParams(merged)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write params")
		return
	}
}
