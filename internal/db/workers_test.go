package db

import (
	"context"
	"testing"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/nilm"
	"github.com/ginovarisano/solar-dashboard/internal/timeutil"
)

func TestRetentionWorkerRunOnce(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	sig := mustResolve(t, store, 150, nilm.DirectionOn, testEpoch)
	if err := store.RecordSample(testEpoch.Add(-8*24*time.Hour), 70, 0); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	if err := store.RecordSample(testEpoch.Add(-time.Hour), 70, 0); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	recordOn(t, store, sig.ID, 150, testEpoch.Add(-31*24*time.Hour))

	w := NewRetentionWorker(store, 7*24*time.Hour, 30*24*time.Hour)
	w.Clock = timeutil.NewMockClock(testEpoch)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	n, err := store.SampleCount()
	if err != nil {
		t.Fatalf("SampleCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected the old sample pruned, got %d samples", n)
	}
	events, err := store.RecentEvents(testEpoch.Add(-40*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected the old event pruned, got %d", len(events))
	}
}

func TestRetentionWorkerLoop(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	if err := store.RecordSample(testEpoch.Add(-8*24*time.Hour), 70, 0); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	if err := store.RecordSample(testEpoch.Add(-time.Hour), 70, 0); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}

	clock := timeutil.NewMockClock(testEpoch)
	w := NewRetentionWorker(store, 7*24*time.Hour, 30*24*time.Hour)
	w.Clock = clock
	w.Start()
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		clock.Advance(w.Interval + time.Second)
		n, err := store.SampleCount()
		if err != nil {
			t.Fatalf("SampleCount failed: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never pruned, still %d samples", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFlushWorkerRetriesDirty(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	w := NewFlushWorker(store)
	w.Clock = timeutil.NewMockClock(testEpoch)

	// Nothing dirty: a run is a no-op.
	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce with clean store failed: %v", err)
	}

	if _, err := db.Exec(`DROP TABLE appliance_signatures`); err != nil {
		t.Fatalf("dropping table: %v", err)
	}
	sig, _, err := store.ResolveSignature(150, nilm.DirectionOn, testEpoch, testMatch)
	if err == nil {
		t.Fatal("expected a persistence error with the table gone")
	}
	if store.DirtyCount() != 1 {
		t.Fatalf("expected 1 dirty signature, got %d", store.DirtyCount())
	}

	repair, err := NewDB(t.Name() + ".db")
	if err != nil {
		t.Fatalf("reopening DB to repair schema: %v", err)
	}
	repair.Close()

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce after repair failed: %v", err)
	}
	if store.DirtyCount() != 0 {
		t.Errorf("expected dirty rows flushed, got %d", store.DirtyCount())
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM appliance_signatures WHERE id = ?`, sig.ID).Scan(&count); err != nil {
		t.Fatalf("counting signatures: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the signature persisted by the flush worker, got %d rows", count)
	}
}
