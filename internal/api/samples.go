package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// sampleRequest is one meter reading pushed by the collector. Watts is
// a pointer so a missing field can be told apart from a zero reading.
type sampleRequest struct {
	Watts     *float64   `json:"watts"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Channel   string     `json:"channel,omitempty"`
}

// ingestSample feeds one reading through the detection pipeline and
// reports the appearance event it produced, if any. A persistence
// failure after a successful detection still answers 200: the store
// retries the write itself, and a 5xx would only make the collector
// re-send a reading the detector has already consumed.
func (s *Server) ingestSample(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Watts == nil {
		s.writeJSONError(w, http.StatusBadRequest, "watts is required")
		return
	}

	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	channel := nilm.DefaultChannel
	if req.Channel != "" {
		channel = req.Channel
	}

	ev, err := s.engine.Channel(channel).Process(nilm.PowerSample{Timestamp: at, Watts: *req.Watts})
	if err != nil && ev == nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to process sample: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(map[string]interface{}{"event": ev}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
		return
	}
}
