package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ginovarisano/solar-dashboard/internal/db"
)

// maxLabelLength caps user-assigned appliance names. The dashboard
// truncates around this width anyway, and it keeps a runaway client
// from stuffing novels into the library.
const maxLabelLength = 64

// listSignatures returns the learned library ordered by how often each
// signature has fired, confidence tiers included.
func (s *Server) listSignatures(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	p := s.engine.Params()
	sigs := s.store.Signatures(p.ConfidenceMediumAt, p.ConfidenceHighAt)

	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"signatures": sigs,
		"count":      len(sigs),
	}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write signatures")
		return
	}
}

// signatureByID dispatches /api/nilm/signatures/{id} and its merge and
// daily subresources.
func (s *Server) signatureByID(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimPrefix(r.URL.Path, "/api/nilm/signatures/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, "signature id is required")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.getSignature(w, r, id)
		case http.MethodPut:
			s.updateSignature(w, r, id)
		default:
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "merge":
		if r.Method != http.MethodPost {
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.mergeSignature(w, r, id)
	case len(parts) == 2 && parts[1] == "daily":
		if r.Method != http.MethodGet {
			s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.signatureDaily(w, r, id)
	default:
		s.writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// getSignature returns one signature by id.
func (s *Server) getSignature(w http.ResponseWriter, _ *http.Request, id string) {
	p := s.engine.Params()
	sig, err := s.store.Signature(id, p.ConfidenceMediumAt, p.ConfidenceHighAt)
	if err != nil {
		if errors.Is(err, db.ErrSignatureNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "signature not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve signature: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(sig); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write signature")
		return
	}
}

// labelUpdate carries the user-facing identity fields of a signature.
// Only the fields present in the request are changed.
type labelUpdate struct {
	Label *string `json:"label,omitempty"`
	Icon  *string `json:"icon,omitempty"`
	Color *string `json:"color,omitempty"`
}

// updateSignature renames or restyles a signature. The label is what
// survives a reanalysis, so an empty one is rejected rather than
// silently erasing the name.
func (s *Server) updateSignature(w http.ResponseWriter, r *http.Request, id string) {
	var req labelUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Label == nil && req.Icon == nil && req.Color == nil {
		s.writeJSONError(w, http.StatusBadRequest, "at least one of label, icon or color is required")
		return
	}
	if req.Label != nil {
		trimmed := strings.TrimSpace(*req.Label)
		if trimmed == "" {
			s.writeJSONError(w, http.StatusBadRequest, "label must not be empty")
			return
		}
		if len(trimmed) > maxLabelLength {
			s.writeJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("label must be at most %d characters", maxLabelLength))
			return
		}
		req.Label = &trimmed
	}

	if err := s.store.SetLabel(id, req.Label, req.Icon, req.Color); err != nil {
		if errors.Is(err, db.ErrSignatureNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "signature not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update failed: %v", err))
		return
	}

	// Fetch and return the updated signature
	s.getSignature(w, r, id)
}

type mergeRequest struct {
	MergeID string `json:"merge_id"`
}

// mergeSignature folds another signature into {id}, for when one
// appliance ended up learned twice.
func (s *Server) mergeSignature(w http.ResponseWriter, r *http.Request, keepID string) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	mergeID := strings.TrimSpace(req.MergeID)
	if mergeID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "merge_id is required")
		return
	}
	if mergeID == keepID {
		s.writeJSONError(w, http.StatusBadRequest, "cannot merge a signature into itself")
		return
	}

	if err := s.store.Merge(keepID, mergeID); err != nil {
		if errors.Is(err, db.ErrSignatureNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "signature not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("merge failed: %v", err))
		return
	}

	s.getSignature(w, r, keepID)
}

// signatureDaily returns the per-day usage rows for one signature,
// newest first.
func (s *Server) signatureDaily(w http.ResponseWriter, r *http.Request, id string) {
	days := 7 // default value
	if d := r.URL.Query().Get("days"); d != "" {
		parsedDays, err := strconv.Atoi(d)
		if err != nil || parsedDays < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'days' parameter")
			return
		}
		days = parsedDays
	}

	p := s.engine.Params()
	if _, err := s.store.Signature(id, p.ConfidenceMediumAt, p.ConfidenceHighAt); err != nil {
		if errors.Is(err, db.ErrSignatureNotFound) {
			s.writeJSONError(w, http.StatusNotFound, "signature not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve signature: %v", err))
		return
	}

	stats, err := s.store.DailyStats(id, days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve daily stats: %v", err))
		return
	}
	if stats == nil {
		stats = []db.DailyStat{}
	}

	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"signature_id": id,
		"daily":        stats,
		"count":        len(stats),
	}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write daily stats")
		return
	}
}
