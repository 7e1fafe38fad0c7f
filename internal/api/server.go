// Package api exposes the detection engine and its store over HTTP for
// the dashboard: sample ingest, the event feed and live stream, the
// signature library with label and merge management, runtime tuning,
// and reanalysis.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/config"
	"github.com/ginovarisano/solar-dashboard/internal/db"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	engine *nilm.Engine
	store  *db.Store

	// tuningMu guards tuning, the merged config that runtime parameter
	// updates build on. The engine keeps its own resolved snapshot.
	tuningMu sync.Mutex
	tuning   *config.TuningConfig
}

func NewServer(engine *nilm.Engine, store *db.Store, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		engine: engine,
		store:  store,
		tuning: tuning,
	}
}

// SetTuning replaces the server's runtime tuning state. The tuning file
// watcher calls this so later PUT /api/nilm/params updates build on the
// freshest file contents rather than a stale snapshot.
func (s *Server) SetTuning(cfg *config.TuningConfig) {
	s.tuningMu.Lock()
	defer s.tuningMu.Unlock()
	s.tuning = cfg
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/samples", s.ingestSample)
	mux.HandleFunc("/api/nilm/events", s.listEvents)
	mux.HandleFunc("/api/nilm/signatures", s.listSignatures)
	mux.HandleFunc("/api/nilm/signatures/", s.signatureByID)
	mux.HandleFunc("/api/nilm/active", s.listActive)
	mux.HandleFunc("/api/nilm/reanalyze", s.reanalyze)
	mux.HandleFunc("/api/nilm/params", s.handleParams)
	mux.HandleFunc("/api/nilm/stream", s.streamEvents)
	mux.HandleFunc("/debug/nilm/chart", s.loadChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
