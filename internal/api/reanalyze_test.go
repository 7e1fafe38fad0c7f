package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

// TestReanalyzeRebuildsFromArchive replays an archived step through the
// endpoint and checks the report plus the label carried over from the
// pre-wipe library.
func TestReanalyzeRebuildsFromArchive(t *testing.T) {
	server := setupTestServer(t)

	// A signature the user has named, sitting at the same wattage the
	// replay will rediscover.
	sig := resolveTestSig(t, server, 150, nilm.DirectionOn, 2)
	label := "Fridge"
	if err := server.store.SetLabel(sig.ID, &label, nil, nil); err != nil {
		t.Fatalf("Failed to set label: %v", err)
	}

	// Archive a quiet baseline and one 150W step (idle load 70 is
	// subtracted before detection, so 100 -> 250 is a 150W edge).
	for i, watts := range []float64{100, 100, 250} {
		at := testStart.Add(time.Duration(i) * time.Second)
		if err := server.store.RecordSample(at, watts, watts-70); err != nil {
			t.Fatalf("Failed to record sample: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/nilm/reanalyze", nil)
	w := httptest.NewRecorder()
	server.reanalyze(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var report nilm.ReanalyzeReport
	decodeJSONBody(t, w, &report)

	if report.SamplesReplayed != 3 {
		t.Errorf("Expected 3 samples replayed, got %d", report.SamplesReplayed)
	}
	if report.EventsDetected != 1 {
		t.Errorf("Expected 1 event detected, got %d", report.EventsDetected)
	}
	if report.Signatures != 1 {
		t.Errorf("Expected 1 signature after rebuild, got %d", report.Signatures)
	}
	if report.LabelsRestored != 1 {
		t.Errorf("Expected the custom label to be restored, got %d", report.LabelsRestored)
	}
	if report.MagnitudeMean != 150 || report.MagnitudeP50 != 150 {
		t.Errorf("Expected magnitude stats of 150, got mean=%v p50=%v",
			report.MagnitudeMean, report.MagnitudeP50)
	}

	// The rebuilt signature carries the old name even though its id is new.
	p := server.engine.Params()
	sigs := server.store.Signatures(p.ConfidenceMediumAt, p.ConfidenceHighAt)
	if len(sigs) != 1 {
		t.Fatalf("Expected 1 rebuilt signature, got %d", len(sigs))
	}
	if sigs[0].Label != "Fridge" {
		t.Errorf("Expected restored label Fridge, got %q", sigs[0].Label)
	}
	if sigs[0].ID == sig.ID {
		t.Error("Expected the rebuilt signature to have a fresh id")
	}
}

func TestReanalyzeEmptyArchive(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/nilm/reanalyze", nil)
	w := httptest.NewRecorder()
	server.reanalyze(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var report nilm.ReanalyzeReport
	decodeJSONBody(t, w, &report)
	if report.SamplesReplayed != 0 || report.EventsDetected != 0 {
		t.Errorf("Expected an empty report, got %+v", report)
	}
}

func TestLoadChartRenders(t *testing.T) {
	server := setupTestServer(t)

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		at := now.Add(time.Duration(i-5) * time.Second)
		if err := server.store.RecordSample(at, 100+float64(i), 30); err != nil {
			t.Fatalf("Failed to record sample: %v", err)
		}
	}
	resolveTestSig(t, server, 150, nilm.DirectionOn, 2)

	req := httptest.NewRequest(http.MethodGet, "/debug/nilm/chart?hours=1", nil)
	w := httptest.NewRecorder()
	server.loadChart(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Household Load") {
		t.Error("Expected the chart title in the rendered HTML")
	}
}
