package nilm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ginovarisano/solar-dashboard/internal/monitoring"
)

// ReanalyzeReport summarizes a full replay of the sample archive.
type ReanalyzeReport struct {
	SamplesReplayed int     `json:"samples_replayed"`
	EventsDetected  int     `json:"events_detected"`
	Signatures      int     `json:"signatures"`
	LabelsRestored  int     `json:"labels_restored"`
	MagnitudeMean   float64 `json:"magnitude_mean_watts"`
	MagnitudeStddev float64 `json:"magnitude_stddev_watts"`
	MagnitudeP50    float64 `json:"magnitude_p50_watts"`
	MagnitudeP90    float64 `json:"magnitude_p90_watts"`
	Elapsed         string  `json:"elapsed"`
}

// Reanalyze rebuilds the detection history from the raw sample archive:
// user labels are saved, all events, signatures and stats are wiped, the
// archive is replayed through a fresh detector with the current
// parameters, and the saved labels are reattached to whichever new
// signatures land closest. Live processing is blocked for the duration.
// Samples keep their original timestamps, so replayed events land where
// the appliance activity actually happened.
func (e *Engine) Reanalyze(ctx context.Context) (*ReanalyzeReport, error) {
	e.procMu.Lock()
	defer e.procMu.Unlock()

	start := time.Now()
	p := e.Params()

	saved, err := e.store.CustomLabels()
	if err != nil {
		return nil, fmt.Errorf("saving labels: %w", err)
	}
	if err := e.store.WipeDetections(); err != nil {
		return nil, fmt.Errorf("clearing detections: %w", err)
	}

	replay := e.newChannel("replay", false)
	report := &ReanalyzeReport{}
	var magnitudes []float64

	err = e.store.SamplesAscending(func(at time.Time, watts float64) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		report.SamplesReplayed++
		ev, _ := replay.process(PowerSample{Timestamp: at, Watts: watts})
		if ev != nil {
			report.EventsDetected++
			magnitudes = append(magnitudes, ev.MagnitudeWatts)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replaying samples: %w", err)
	}

	// Replayed runs are history. Nothing is live because of them.
	if err := e.store.DeactivateAll(); err != nil {
		monitoring.Logf("nilm: failed to clear active state after reanalysis: %v", err)
	}

	if len(saved) > 0 {
		restored, err := e.store.RestoreCustomLabels(saved, p.Tolerance, p.EdgeThresholdWatts)
		if err != nil {
			monitoring.Logf("nilm: failed to restore custom labels: %v", err)
		}
		report.LabelsRestored = restored
	}

	if report.Signatures, err = e.store.SignatureCount(); err != nil {
		monitoring.Logf("nilm: failed to count signatures after reanalysis: %v", err)
	}

	if len(magnitudes) > 0 {
		sort.Float64s(magnitudes)
		report.MagnitudeMean = stat.Mean(magnitudes, nil)
		if len(magnitudes) > 1 {
			report.MagnitudeStddev = stat.StdDev(magnitudes, nil)
		}
		report.MagnitudeP50 = stat.Quantile(0.5, stat.Empirical, magnitudes, nil)
		report.MagnitudeP90 = stat.Quantile(0.9, stat.Empirical, magnitudes, nil)
	}
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()

	monitoring.Logf("nilm: reanalysis complete: %d samples -> %d events, %d signatures, %d labels restored (%s)",
		report.SamplesReplayed, report.EventsDetected, report.Signatures, report.LabelsRestored, report.Elapsed)
	return report, nil
}
