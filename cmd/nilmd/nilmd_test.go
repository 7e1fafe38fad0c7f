package main

import (
	"testing"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/db"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
	"github.com/google/go-cmp/cmp"
)

func TestDetectionEndToEnd(t *testing.T) {
	testingDir := t.TempDir()

	// Initialise the database
	d, err := db.NewDB(testingDir + "/test_nilm.db")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	defer func() {
		if err := d.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}()

	store := db.NewStore(d)
	engine := nilm.NewEngine(store, nilm.DefaultParams())

	// Three idle readings seed the reference level, then the total jumps
	// by 250W as an appliance turns on.
	start := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	readings := []float64{70, 70, 70, 320}

	var appeared *nilm.AppearanceEvent
	for i, watts := range readings {
		ev, err := engine.Process(nilm.PowerSample{
			Timestamp: start.Add(time.Duration(i) * 5 * time.Second),
			Watts:     watts,
		})
		if err != nil {
			t.Fatalf("Failed to process reading %d: %v", i, err)
		}
		if ev != nil {
			appeared = ev
		}
	}
	if appeared == nil {
		t.Fatal("Expected the 250W step to produce an appearance event")
	}

	// Retrieve the recorded events from the database
	events, err := store.RecentEvents(start.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("Failed to retrieve events from database: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected only one event in the database, got %d", len(events))
	}

	// set expectations on the event
	expectedEvent := nilm.Event{
		ID:             1,
		Timestamp:      start.Add(15 * time.Second),
		Direction:      nilm.DirectionOn,
		MagnitudeWatts: 250,
		SignatureID:    appeared.SignatureID,
		Confidence:     nilm.ConfidenceLow,
		NewlyLearned:   true,
		Label:          "Appliance",
		Icon:           "tv",
		Color:          "#f59e0b",
	}

	// Check if the event matches the expected event
	if diff := cmp.Diff(expectedEvent, events[0]); diff != "" {
		t.Errorf("Event mismatch (-want +got):\n%s", diff)
	}
}
