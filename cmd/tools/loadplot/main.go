// Command loadplot renders the archived load samples and detected
// events from a nilm database as a PNG chart and prints summary
// statistics for the window.
//
// Usage:
//
//	go run ./cmd/tools/loadplot [flags]
//
// Flags:
//
//	-db     Path to the SQLite database file (default: nilm.db)
//	-hours  Window of history to plot (default: 24)
//	-out    Output PNG path (default: loadplot.png)
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	_ "modernc.org/sqlite"

	"github.com/ginovarisano/solar-dashboard/internal/db"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
)

func main() {
	dbPath := flag.String("db", "nilm.db", "Path to the SQLite database file")
	hours := flag.Int("hours", 24, "Window of history to plot")
	out := flag.String("out", "loadplot.png", "Output PNG path")
	flag.Parse()

	// Opening a missing path would create an empty database, so check
	// up front.
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("database not found: %v", err)
	}

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	store := db.NewStore(database)
	since := time.Now().Add(-time.Duration(*hours) * time.Hour)

	samples, err := store.RecentSamples(since)
	if err != nil {
		log.Fatalf("failed to read samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("no samples in the last %dh", *hours)
	}

	events, err := store.RecentEvents(since, 10000)
	if err != nil {
		log.Fatalf("failed to read events: %v", err)
	}

	printSummary(samples, events, *hours)

	if err := renderPlot(samples, events, *hours, *out); err != nil {
		log.Fatalf("failed to render plot: %v", err)
	}
	log.Printf("wrote %s (%d samples, %d events)", *out, len(samples), len(events))
}

// printSummary prints load and event statistics for the window.
func printSummary(samples []db.LoadSample, events []nilm.Event, hours int) {
	watts := make([]float64, len(samples))
	for i, s := range samples {
		watts[i] = s.Watts
	}
	sorted := append([]float64(nil), watts...)
	sort.Float64s(sorted)

	fmt.Printf("=== Load summary (last %dh) ===\n", hours)
	fmt.Printf("Samples:     %d (%s to %s)\n", len(samples),
		samples[0].Timestamp.Format(time.RFC3339), samples[len(samples)-1].Timestamp.Format(time.RFC3339))
	if len(watts) > 1 {
		fmt.Printf("Load mean:   %.1f W (stddev %.1f)\n", stat.Mean(watts, nil), stat.StdDev(watts, nil))
	} else {
		fmt.Printf("Load mean:   %.1f W\n", stat.Mean(watts, nil))
	}
	fmt.Printf("Load p50:    %.1f W\n", stat.Quantile(0.5, stat.Empirical, sorted, nil))
	fmt.Printf("Load p90:    %.1f W\n", stat.Quantile(0.9, stat.Empirical, sorted, nil))
	fmt.Printf("Load range:  %.1f - %.1f W\n", sorted[0], sorted[len(sorted)-1])

	var onMags, offMags []float64
	for _, ev := range events {
		switch ev.Direction {
		case nilm.DirectionOn:
			onMags = append(onMags, ev.MagnitudeWatts)
		case nilm.DirectionOff:
			offMags = append(offMags, ev.MagnitudeWatts)
		}
	}
	fmt.Println()
	fmt.Println("=== Events ===")
	fmt.Printf("Total:       %d (%d on, %d off)\n", len(events), len(onMags), len(offMags))
	if len(onMags) > 0 {
		fmt.Printf("On average:  %.1f W\n", stat.Mean(onMags, nil))
	}
	if len(offMags) > 0 {
		fmt.Printf("Off average: %.1f W\n", stat.Mean(offMags, nil))
	}
}

// renderPlot draws the raw and smoothed load lines with event markers
// at their step magnitudes.
func renderPlot(samples []db.LoadSample, events []nilm.Event, hours int, out string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Household load, last %dh", hours)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Watts"
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}

	rawPts := make(plotter.XYs, 0, len(samples))
	smoothPts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		x := float64(s.Timestamp.Unix())
		rawPts = append(rawPts, plotter.XY{X: x, Y: s.Watts})
		smoothPts = append(smoothPts, plotter.XY{X: x, Y: s.SmoothedWatts})
	}

	rawLine, err := plotter.NewLine(rawPts)
	if err != nil {
		return err
	}
	rawLine.Color = color.RGBA{R: 110, G: 160, B: 220, A: 255}
	rawLine.Width = vg.Points(1)
	p.Add(rawLine)
	p.Legend.Add("raw", rawLine)

	smoothLine, err := plotter.NewLine(smoothPts)
	if err != nil {
		return err
	}
	smoothLine.Color = color.RGBA{R: 240, G: 170, B: 60, A: 255}
	smoothLine.Width = vg.Points(1)
	p.Add(smoothLine)
	p.Legend.Add("smoothed", smoothLine)

	onPts := make(plotter.XYs, 0, len(events))
	offPts := make(plotter.XYs, 0, len(events))
	for _, ev := range events {
		pt := plotter.XY{X: float64(ev.Timestamp.Unix()), Y: ev.MagnitudeWatts}
		if ev.Direction == nilm.DirectionOn {
			onPts = append(onPts, pt)
		} else {
			offPts = append(offPts, pt)
		}
	}
	if len(onPts) > 0 {
		onScatter, err := plotter.NewScatter(onPts)
		if err != nil {
			return err
		}
		onScatter.GlyphStyle.Color = color.RGBA{R: 60, G: 180, B: 90, A: 255}
		onScatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(onScatter)
		p.Legend.Add("on", onScatter)
	}
	if len(offPts) > 0 {
		offScatter, err := plotter.NewScatter(offPts)
		if err != nil {
			return err
		}
		offScatter.GlyphStyle.Color = color.RGBA{R: 220, G: 80, B: 70, A: 255}
		offScatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(offScatter)
		p.Legend.Add("off", offScatter)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	return p.Save(14*vg.Inch, 6*vg.Inch, out)
}
