package nilm

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
	"github.com/ginovarisano/solar-dashboard/internal/units"
)

// DefaultChannel is the channel name used when readings arrive without
// an explicit channel, i.e. the whole-home total.
const DefaultChannel = "total"

// archiveBuffer bounds how many samples may wait for the background
// writer before Process starts dropping archive writes. Detection state
// is already updated by then, so a drop loses history, not events.
const archiveBuffer = 256

// Store is the persistence port the engine drives. db.Store implements
// it; tests substitute lighter fakes. Resolve and the tracking calls
// must each be internally serialized so concurrent channels cannot
// interleave a find with a create.
type Store interface {
	// ResolveSignature finds the best matching signature for an observed
	// magnitude and reinforces it, or creates a fresh one when nothing
	// matches. It reports whether the signature was newly created. When
	// persisting fails the in-memory library is still updated and the
	// returned signature is valid; the error describes the durability gap.
	ResolveSignature(magnitude float64, direction Direction, at time.Time, mp MatchParams) (Signature, bool, error)

	// RecordEvent appends one transition to the event log.
	RecordEvent(ev Event) (int64, error)

	// PairOffEvent matches an off edge against unpaired on events within
	// the lookback window, writing the run duration onto the on event.
	// A nil Pairing with nil error means nothing plausible was running.
	PairOffEvent(signatureID string, magnitude float64, at time.Time, lookback time.Duration) (*Pairing, error)

	// TrackOn and TrackOff maintain the is-running bookkeeping on
	// signatures as edges arrive.
	TrackOn(signatureID string, at time.Time) error
	TrackOff(signatureID string, magnitude, tolerance, thresholdWatts float64) error

	// AddDailyUsage folds one completed run into that day's usage row.
	AddDailyUsage(signatureID, day string, durationSecs, energyKWh float64) error

	// RecordSample archives one raw reading together with its smoothed
	// value.
	RecordSample(at time.Time, watts, smoothed float64) error

	// CustomLabels returns the user-assigned labels worth preserving
	// across a reanalysis, with the magnitude they were attached to.
	CustomLabels() ([]CustomLabel, error)

	// WipeDetections deletes all events, signatures and daily stats while
	// keeping the raw sample archive.
	WipeDetections() error

	// SamplesAscending streams the archived readings oldest-first.
	SamplesAscending(fn func(at time.Time, watts float64) error) error

	// DeactivateAll clears the is-running bookkeeping on every signature.
	DeactivateAll() error

	// RestoreCustomLabels reattaches preserved labels after a rebuild.
	// Each rebuilt signature takes the nearest saved label within
	// tolerance, so both directions of one appliance can recover the
	// same name. Returns how many signatures took a label.
	RestoreCustomLabels(saved []CustomLabel, tolerance, thresholdWatts float64) (int, error)

	// SignatureCount reports how many signatures the library holds.
	SignatureCount() (int, error)
}

type sampleRecord struct {
	at       time.Time
	watts    float64
	smoothed float64
}

// Engine owns the detection pipeline: per-channel smoothing and edge
// detection in front of a shared signature store and notification hub.
type Engine struct {
	store Store
	hub   *Hub

	params atomic.Pointer[Params]

	// procMu serializes live processing against reanalysis. Process
	// holds it shared; Reanalyze holds it exclusively while it rebuilds
	// the library.
	procMu sync.RWMutex

	mu       sync.Mutex
	channels map[string]*Channel

	records chan sampleRecord
}

// NewEngine returns an engine over the given store with the given
// initial parameters. Call Start to enable background sample archiving.
func NewEngine(store Store, p Params) *Engine {
	e := &Engine{
		store:    store,
		hub:      NewHub(),
		channels: make(map[string]*Channel),
		records:  make(chan sampleRecord, archiveBuffer),
	}
	e.params.Store(&p)
	return e
}

// Hub exposes the notification hub so consumers can subscribe to
// appearance events.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// Params returns the current detection parameters.
func (e *Engine) Params() Params {
	return *e.params.Load()
}

// ApplyParams swaps the detection parameters. Channels pick the new
// values up on their next reading; in-flight ticks finish on the old
// snapshot.
func (e *Engine) ApplyParams(p Params) {
	e.params.Store(&p)
}

// Start launches the background sample archiver. It returns once the
// worker is running; the worker exits when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-e.records:
				if err := e.store.RecordSample(r.at, r.watts, r.smoothed); err != nil {
					monitoring.Logf("nilm: failed to archive sample: %v", err)
				}
			}
		}
	}()
}

// Channel returns the named channel, creating it on first use.
func (e *Engine) Channel(name string) *Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.channels[name]; ok {
		return c
	}
	c := e.newChannel(name, true)
	e.channels[name] = c
	return c
}

// newChannel builds a channel without registering it. Replay uses an
// unregistered, non-live channel so reanalysis never disturbs the state
// of the stream being fed live.
func (e *Engine) newChannel(name string, live bool) *Channel {
	p := e.Params()
	return &Channel{
		engine:   e,
		name:     name,
		live:     live,
		smoother: NewSmoother(p.SmoothingWindow),
		detector: NewEdgeDetector(),
	}
}

// Process feeds one reading through the default channel.
func (e *Engine) Process(s PowerSample) (*AppearanceEvent, error) {
	return e.Channel(DefaultChannel).Process(s)
}

// LastLoad reports the most recent raw reading on the default channel.
// ok is false until the first reading arrives.
func (e *Engine) LastLoad() (watts float64, at time.Time, ok bool) {
	e.mu.Lock()
	c := e.channels[DefaultChannel]
	e.mu.Unlock()
	if c == nil {
		return 0, time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWatts, c.lastTS, c.hasLast
}

func (e *Engine) archiveSample(s PowerSample, smoothed float64) {
	select {
	case e.records <- sampleRecord{at: s.Timestamp, watts: s.Watts, smoothed: smoothed}:
	default:
		monitoring.Logf("nilm: sample archive backlog full, dropping reading at %s", s.Timestamp.Format(time.RFC3339))
	}
}

// Channel is one monitored load stream with its own smoothing window,
// detector state and ordering guard. Channels share the engine's store
// and hub.
type Channel struct {
	engine *Engine
	name   string
	live   bool // archive samples and publish notifications

	mu        sync.Mutex
	smoother  *Smoother
	detector  *EdgeDetector
	lastTS    time.Time
	lastWatts float64
	hasLast   bool
}

// Process feeds one reading through the channel. It returns a non-nil
// AppearanceEvent when the reading produced an edge. The event can
// arrive together with a non-nil error: the edge was detected and
// matched in memory but persisting the learned state failed, and the
// caller decides whether that durability gap matters to it.
func (c *Channel) Process(s PowerSample) (*AppearanceEvent, error) {
	c.engine.procMu.RLock()
	defer c.engine.procMu.RUnlock()
	return c.process(s)
}

func (c *Channel) process(s PowerSample) (*AppearanceEvent, error) {
	if math.IsNaN(s.Watts) || math.IsInf(s.Watts, 0) {
		monitoring.Logf("nilm: ignoring non-finite reading on %s", c.name)
		return nil, nil
	}

	p := c.engine.Params()

	c.mu.Lock()
	if c.hasLast && !s.Timestamp.After(c.lastTS) {
		c.mu.Unlock()
		monitoring.Logf("nilm: ignoring out-of-order reading on %s (%s <= %s)",
			c.name, s.Timestamp.Format(time.RFC3339), c.lastTS.Format(time.RFC3339))
		return nil, nil
	}
	c.lastTS = s.Timestamp
	c.lastWatts = s.Watts
	c.hasLast = true

	adjusted := s.Watts - p.IdleLoadWatts
	if c.smoother.Size() != p.SmoothingWindow {
		c.smoother.Resize(p.SmoothingWindow)
	}
	smoothed := c.smoother.Add(adjusted)
	edge := c.detector.Observe(s.Timestamp, adjusted, smoothed, p.EdgeThresholdWatts, p.Debounce)
	c.mu.Unlock()

	if c.live {
		c.engine.archiveSample(s, smoothed)
	}
	if edge == nil {
		return nil, nil
	}
	return c.engine.handleEdge(*edge, p, c.live)
}

// Reset clears the channel's smoothing and detector state.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smoother.Reset()
	c.detector.Reset()
	c.lastTS = time.Time{}
	c.lastWatts = 0
	c.hasLast = false
}

// handleEdge resolves an edge against the signature library, records
// the event, updates run bookkeeping and usage stats, and notifies
// subscribers. Persistence failures past signature resolution are
// logged rather than returned: the detection already happened, and the
// store marks unfinished writes for retry.
func (e *Engine) handleEdge(edge Edge, p Params, live bool) (*AppearanceEvent, error) {
	mag := edge.Magnitude()

	sig, created, resolveErr := e.store.ResolveSignature(mag, edge.Direction, edge.Timestamp, p.Match())
	if resolveErr != nil {
		monitoring.Logf("nilm: signature persistence degraded: %v", resolveErr)
		if sig.ID == "" {
			return nil, resolveErr
		}
	}

	var pairing *Pairing
	if edge.Direction == DirectionOff {
		pr, err := e.store.PairOffEvent(sig.ID, mag, edge.Timestamp, p.PairingLookback)
		if err != nil {
			monitoring.Logf("nilm: failed to pair off event: %v", err)
		} else {
			pairing = pr
		}
	}

	ev := Event{
		Timestamp:      edge.Timestamp,
		Direction:      edge.Direction,
		MagnitudeWatts: mag,
		SignatureID:    sig.ID,
		Confidence:     sig.Confidence,
		NewlyLearned:   created,
	}
	if pairing != nil {
		d := pairing.DurationSecs
		ev.DurationSecs = &d
	}
	if _, err := e.store.RecordEvent(ev); err != nil {
		monitoring.Logf("nilm: failed to record event: %v", err)
	}

	switch edge.Direction {
	case DirectionOn:
		if err := e.store.TrackOn(sig.ID, edge.Timestamp); err != nil {
			monitoring.Logf("nilm: failed to track on state: %v", err)
		}
	case DirectionOff:
		if err := e.store.TrackOff(sig.ID, mag, p.Tolerance, p.EdgeThresholdWatts); err != nil {
			monitoring.Logf("nilm: failed to track off state: %v", err)
		}
		if pairing != nil && pairing.DurationSecs > 0 {
			day := units.DayKey(edge.Timestamp, p.Location)
			kwh := units.EnergyKWh(mag, pairing.DurationSecs)
			if err := e.store.AddDailyUsage(sig.ID, day, pairing.DurationSecs, kwh); err != nil {
				monitoring.Logf("nilm: failed to update daily stats: %v", err)
			}
		}
	}

	label := sig.Label
	if label == "" {
		label = FallbackLabel
	}
	out := AppearanceEvent{
		Timestamp:      edge.Timestamp,
		Direction:      edge.Direction,
		MagnitudeWatts: mag,
		SignatureID:    sig.ID,
		Label:          label,
		Confidence:     sig.Confidence,
		NewlyLearned:   created,
		DurationSecs:   ev.DurationSecs,
	}

	if live {
		if ev.DurationSecs != nil {
			monitoring.Logf("nilm: %s turned %s (%.1fW, ran for %.0fs) [confidence: %s]",
				label, edge.Direction, mag, *ev.DurationSecs, sig.Confidence)
		} else {
			monitoring.Logf("nilm: %s turned %s (%.1fW) [confidence: %s]",
				label, edge.Direction, mag, sig.Confidence)
		}
		e.hub.Publish(out)
	}

	return &out, resolveErr
}
