// Command nilmd runs the load-disaggregation service: it accepts
// whole-home power readings over HTTP, detects appliance on/off edges,
// learns appliance signatures and serves the dashboard API.
//
// Usage:
//
//	nilmd [flags]
//	nilmd migrate <command> [options]
//	nilmd version
//
// Flags:
//
//	-listen      Listen address (default :8080, $NILM_LISTEN)
//	-db          Path to the SQLite database file (default nilm.db, $NILM_DB)
//	-tuning      Path to the tuning config file (default config/nilm.defaults.json, $NILM_TUNING)
//	-migrations  Path to the migration SQL files (default migrations, $NILM_MIGRATIONS)
//	-dev         Replay fixture samples instead of waiting for a collector
//	-fixtures    Fixture file to replay in dev mode (default fixtures.txt)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/ginovarisano/solar-dashboard/internal/api"
	"github.com/ginovarisano/solar-dashboard/internal/config"
	"github.com/ginovarisano/solar-dashboard/internal/db"
	"github.com/ginovarisano/solar-dashboard/internal/nilm"
	"github.com/ginovarisano/solar-dashboard/internal/version"
)

// replayCadence matches the publish rate of the live collector, so dev
// mode exercises the same debounce timing production sees.
const replayCadence = 5 * time.Second

func main() {
	// Load .env before flag defaults are computed so NILM_* variables can
	// stand in for flags in deployments.
	_ = godotenv.Load()

	// `nilmd migrate ...` manages schema versions and exits. It is
	// dispatched before flag parsing so it carries its own flag set.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("nilmd version %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	var (
		devMode       = flag.Bool("dev", false, "Run in dev mode (replay fixture samples)")
		listen        = flag.String("listen", getEnv("NILM_LISTEN", ":8080"), "Listen address")
		dbPath        = flag.String("db", getEnv("NILM_DB", "nilm.db"), "Path to the SQLite database file")
		tuningPath    = flag.String("tuning", getEnv("NILM_TUNING", config.DefaultConfigPath), "Path to the tuning config file")
		migrationsDir = flag.String("migrations", getEnv("NILM_MIGRATIONS", "migrations"), "Path to the migration SQL files")
		fixturesPath  = flag.String("fixtures", "fixtures.txt", "Fixture samples to replay in dev mode")
	)
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := config.LoadTuningConfig(*tuningPath)
	if err != nil {
		log.Printf("tuning config %s not loaded (%v), using built-in defaults", *tuningPath, err)
		tuning = config.EmptyTuningConfig()
	}

	// Remember whether NewDB is about to create the file: a fresh
	// database gets the full bootstrap schema and is baselined at the
	// latest migration so the version check below reflects that.
	freshDB := false
	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		freshDB = true
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if freshDB {
		if latest, err := db.GetLatestMigrationVersion(*migrationsDir); err == nil {
			if err := database.BaselineAtVersion(latest); err != nil {
				log.Printf("failed to baseline fresh database: %v", err)
			}
		}
	}
	if shouldExit, err := database.CheckAndPromptMigrations(*migrationsDir); shouldExit {
		log.Fatalf("Migration check failed: %v", err)
	} else if err != nil {
		log.Printf("skipping migration check: %v", err)
	}

	store := db.NewStore(database)
	if err := store.StartupReset(); err != nil {
		log.Printf("startup reset failed: %v", err)
	}

	engine := nilm.NewEngine(store, nilm.ParamsFromTuning(tuning))
	server := api.NewServer(engine, store, tuning)

	// Create a wait group for the HTTP server and dev-mode replay
	// routines; the engine archiver and the workers stop on their own
	// signals.
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)

	// Hot-reload tuning edits. A missing or unwatchable file only costs
	// the reload feature, not the daemon.
	watcher, err := config.NewTuningWatcher(*tuningPath, func(cfg *config.TuningConfig) {
		engine.ApplyParams(nilm.ParamsFromTuning(cfg))
		server.SetTuning(cfg)
	})
	if err != nil {
		log.Printf("tuning watcher unavailable: %v", err)
	} else if err := watcher.Start(ctx); err != nil {
		log.Printf("tuning watcher failed to start: %v", err)
	} else {
		defer watcher.Stop()
	}

	retention := db.NewRetentionWorker(store, tuning.GetSampleRetention(), tuning.GetEventRetention())
	retention.Interval = tuning.GetCleanupInterval()
	retention.Start()
	defer retention.Stop()

	flusher := db.NewFlushWorker(store)
	flusher.Interval = tuning.GetFlushInterval()
	flusher.Start()
	defer flusher.Stop()

	// replay fixture samples through the engine in dev mode so the
	// dashboard has live-looking data without a meter attached
	if *devMode {
		data, err := os.ReadFile(*fixturesPath)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		watts, err := parseFixtureSamples(string(data))
		if err != nil {
			log.Fatalf("failed to parse fixtures file: %v", err)
		}
		log.Printf("dev mode: replaying %d fixture samples from %s", len(watts), *fixturesPath)

		wg.Add(1)
		go func() {
			defer wg.Done()
			replayFixtures(ctx, engine, watts)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()

		// mount the admin debugging routes next to the API
		database.AttachAdminRoutes(mux)

		srv := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := srv.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	// Final flush so signatures dirtied by a failed write are not lost
	// across the restart.
	if flushed, err := store.FlushAll(); err != nil {
		log.Printf("final signature flush failed: %v", err)
	} else if flushed > 0 {
		log.Printf("flushed %d signatures on shutdown", flushed)
	}
	log.Printf("Graceful shutdown complete")
}

// runMigrate dispatches `nilmd migrate ...` to the migration CLI.
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db-path", getEnv("NILM_DB", "nilm.db"), "Path to database file")
	migrationsDir := fs.String("migrations", getEnv("NILM_MIGRATIONS", "migrations"), "Path to the migration SQL files")
	fs.Parse(args)

	db.RunMigrateCommand(fs.Args(), *dbPath, *migrationsDir)
}

// parseFixtureSamples reads one wattage per line. Blank lines and
// #-comments are skipped so fixture files can be annotated.
func parseFixtureSamples(data string) ([]float64, error) {
	var watts []float64
	for i, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("fixture line %d: %w", i+1, err)
		}
		watts = append(watts, w)
	}
	if len(watts) == 0 {
		return nil, fmt.Errorf("no samples in fixture file")
	}
	return watts, nil
}

// replayFixtures feeds the fixture wattages through the engine at the
// collector cadence, cycling back to the first line at the end of the
// file.
func replayFixtures(ctx context.Context, engine *nilm.Engine, watts []float64) {
	ticker := time.NewTicker(replayCadence)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case at := <-ticker.C:
			if _, err := engine.Process(nilm.PowerSample{Timestamp: at, Watts: watts[i%len(watts)]}); err != nil {
				log.Printf("error replaying fixture sample: %v", err)
			}
			i++
		case <-ctx.Done():
			log.Printf("fixture replay terminated")
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
