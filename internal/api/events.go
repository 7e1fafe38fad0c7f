package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/db"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// listEvents returns the recent event feed, newest first, dressed with
// the current signature labels.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	hours := 24 // default value
	if h := r.URL.Query().Get("hours"); h != "" {
		parsedHours, err := strconv.Atoi(h)
		if err != nil || parsedHours < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'hours' parameter")
			return
		}
		hours = parsedHours
	}

	limit := 100 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsedLimit, err := strconv.Atoi(l)
		if err != nil || parsedLimit < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsedLimit
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	events, err := s.store.RecentEvents(since, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []nilm.Event{}
	}

	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
	}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

// listActive reports what is believed to be running right now. The
// claims are cross-checked against the live meter reading when one has
// arrived, so the list cannot drift above what the meter can account
// for.
func (s *Server) listActive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p := s.engine.Params()
	load, loadAt, haveLoad := s.engine.LastLoad()

	active, err := s.store.ActiveAppliances(load, haveLoad, p.IdleLoadWatts, p.ActiveStaleAfter, time.Now())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve active appliances: %v", err))
		return
	}
	if active == nil {
		active = []db.ActiveAppliance{}
	}

	resp := map[string]interface{}{
		"active": active,
		"count":  len(active),
	}
	if haveLoad {
		resp["load_watts"] = load
		resp["load_at"] = loadAt
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write active appliances")
		return
	}
}
