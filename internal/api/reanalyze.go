package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// reanalyze rebuilds the detection history from the raw sample archive.
// Live processing is paused for the duration; user labels survive by
// power proximity. The replay runs on the request context, so a client
// that gives up cancels it.
func (s *Server) reanalyze(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := s.engine.Reanalyze(r.Context())
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("reanalysis failed: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write report")
		return
	}
}
