package db

import (
	"errors"
	"testing"
	"time"
)

func TestSamplesRoundTrip(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	for i, watts := range []float64{70, 220, 225} {
		at := testEpoch.Add(time.Duration(i) * 5 * time.Second)
		if err := store.RecordSample(at, watts, watts-70); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}

	samples, err := store.RecentSamples(testEpoch)
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if !samples[0].Timestamp.Equal(testEpoch) {
		t.Errorf("expected oldest first, got %v", samples[0].Timestamp)
	}
	if samples[1].Watts != 220 || samples[1].SmoothedWatts != 150 {
		t.Errorf("unexpected middle sample %+v", samples[1])
	}

	later, err := store.RecentSamples(testEpoch.Add(6 * time.Second))
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if len(later) != 1 {
		t.Errorf("expected the since filter to keep 1 sample, got %d", len(later))
	}
}

func TestSampleSameSecondReplaces(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	if err := store.RecordSample(testEpoch, 100, 30); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	if err := store.RecordSample(testEpoch, 110, 40); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}

	n, err := store.SampleCount()
	if err != nil {
		t.Fatalf("SampleCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row per second, got %d", n)
	}

	samples, err := store.RecentSamples(testEpoch.Add(-time.Second))
	if err != nil {
		t.Fatalf("RecentSamples failed: %v", err)
	}
	if samples[0].Watts != 110 {
		t.Errorf("expected the later reading kept, got %v", samples[0].Watts)
	}
}

func TestSamplesAscendingStopsOnCallbackError(t *testing.T) {
	store, db := setupTestStore(t)
	defer cleanupTestDB(t, db)

	for i := 0; i < 3; i++ {
		at := testEpoch.Add(time.Duration(i) * 5 * time.Second)
		if err := store.RecordSample(at, 70, 0); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}

	sentinel := errors.New("stop here")
	seen := 0
	err := store.SamplesAscending(func(at time.Time, watts float64) error {
		seen++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the callback error surfaced, got %v", err)
	}
	if seen != 1 {
		t.Errorf("expected the walk to stop after the first sample, got %d", seen)
	}
}
