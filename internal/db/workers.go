package db

import (
	"context"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
	"github.com/ginovarisano/solar-dashboard/internal/timeutil"
)

// RetentionWorker periodically prunes raw samples and old events so the
// archive stays bounded on small boxes. Designed to run hourly; each
// pass deletes whatever has aged past the retention windows.
type RetentionWorker struct {
	Store           *Store
	Clock           timeutil.Clock
	SampleRetention time.Duration
	EventRetention  time.Duration
	Interval        time.Duration
	StopChan        chan struct{}
}

func NewRetentionWorker(store *Store, sampleRetention, eventRetention time.Duration) *RetentionWorker {
	return &RetentionWorker{
		Store:           store,
		Clock:           timeutil.RealClock{},
		SampleRetention: sampleRetention,
		EventRetention:  eventRetention,
		Interval:        time.Hour,
		StopChan:        make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *RetentionWorker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("retention worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *RetentionWorker) Stop() {
	close(w.StopChan)
}

// RunOnce prunes one pass and logs what it removed.
func (w *RetentionWorker) RunOnce(ctx context.Context) error {
	samples, events, err := w.Store.Cleanup(ctx, w.Clock.Now(), w.SampleRetention, w.EventRetention)
	if err != nil {
		return err
	}
	if samples > 0 || events > 0 {
		monitoring.Logf("retention: pruned %d samples and %d events past retention", samples, events)
	}
	return nil
}

// FlushWorker retries signature rows whose last write failed, so a
// transient disk error degrades to a delay instead of lost learning.
type FlushWorker struct {
	Store    *Store
	Clock    timeutil.Clock
	Interval time.Duration
	StopChan chan struct{}
}

func NewFlushWorker(store *Store) *FlushWorker {
	return &FlushWorker{
		Store:    store,
		Clock:    timeutil.RealClock{},
		Interval: 30 * time.Second,
		StopChan: make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *FlushWorker) Start() {
	go func() {
		ticker := w.Clock.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("flush worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *FlushWorker) Stop() {
	close(w.StopChan)
}

// RunOnce rewrites any dirty signatures.
func (w *FlushWorker) RunOnce(ctx context.Context) error {
	if w.Store.DirtyCount() == 0 {
		return nil
	}
	flushed, err := w.Store.FlushAll()
	if flushed > 0 {
		monitoring.Logf("flush: rewrote %d signatures after earlier write failures", flushed)
	}
	return err
}
