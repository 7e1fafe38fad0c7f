package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// loadChart renders a quick HTML chart of the recent load signal and the
// learned library using go-echarts. This is a debugging-only endpoint
// (no auth) to eyeball the detector without the dashboard.
// Query params:
//   - hours (optional; default 3) window of samples to plot
func (s *Server) loadChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hours := 3
	if h := r.URL.Query().Get("hours"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v >= 1 && v <= 168 {
			hours = v
		}
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	samples, err := s.store.RecentSamples(since)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get samples: %v", err))
		return
	}
	events, err := s.store.RecentEvents(since, 1000)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get events: %v", err))
		return
	}

	x := make([]string, 0, len(samples))
	raw := make([]opts.LineData, 0, len(samples))
	smoothed := make([]opts.LineData, 0, len(samples))
	for _, sm := range samples {
		x = append(x, sm.Timestamp.Format("15:04:05"))
		raw = append(raw, opts.LineData{Value: sm.Watts})
		smoothed = append(smoothed, opts.LineData{Value: sm.SmoothedWatts})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Load Monitor", Theme: "dark", Width: "1400px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Household Load", Subtitle: fmt.Sprintf("last %dh: %d samples, %d events", hours, len(samples), len(events))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "W"}),
	)
	line.SetXAxis(x).
		AddSeries("raw", raw).
		AddSeries("smoothed", smoothed)

	p := s.engine.Params()
	sigs := s.store.Signatures(p.ConfidenceMediumAt, p.ConfidenceHighAt)
	names := make([]string, 0, len(sigs))
	counts := make([]opts.BarData, 0, len(sigs))
	for _, sig := range sigs {
		names = append(names, fmt.Sprintf("%s %s (%.0fW)", sig.Label, sig.Direction, sig.AvgWatts))
		counts = append(counts, opts.BarData{Value: sig.OccurrenceCount})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1400px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Signature Library", Subtitle: fmt.Sprintf("%d signatures by occurrence", len(sigs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("occurrences", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
