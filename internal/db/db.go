package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// DB wraps the SQLite handle holding the sample archive, the event log,
// the learned signature library and per-appliance daily stats.
type DB struct {
	*sql.DB
}

// OpenDB opens the database without touching the schema. Migration
// commands use it so golang-migrate stays the only thing writing DDL.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// NewDB opens the database and makes sure the base schema exists.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS load_samples (
			timestamp         INTEGER PRIMARY KEY,
			load_watts        DOUBLE NOT NULL,
			smoothed_watts    DOUBLE NOT NULL
		);
		CREATE TABLE IF NOT EXISTS appliance_signatures (
			id                TEXT PRIMARY KEY,
			direction         TEXT NOT NULL,
			power_avg         DOUBLE NOT NULL,
			power_min         DOUBLE NOT NULL,
			power_max         DOUBLE NOT NULL,
			event_count       BIGINT NOT NULL DEFAULT 1,
			user_label        TEXT NOT NULL DEFAULT '',
			icon              TEXT NOT NULL DEFAULT '',
			color             TEXT NOT NULL DEFAULT '',
			is_active         INTEGER NOT NULL DEFAULT 0,
			active_count      BIGINT NOT NULL DEFAULT 0,
			last_on_time      INTEGER,
			avg_duration      DOUBLE NOT NULL DEFAULT 0,
			daily_cycles      DOUBLE NOT NULL DEFAULT 0,
			first_seen        INTEGER NOT NULL DEFAULT 0,
			last_seen         INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS load_events (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp         INTEGER NOT NULL,
			direction         TEXT NOT NULL,
			power_delta       DOUBLE NOT NULL,
			duration          DOUBLE,
			signature_id      TEXT NOT NULL,
			confidence        TEXT NOT NULL DEFAULT 'low',
			newly_learned     INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_load_events_timestamp ON load_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_load_events_signature ON load_events(signature_id);
		CREATE TABLE IF NOT EXISTS appliance_daily_stats (
			date              TEXT NOT NULL,
			signature_id      TEXT NOT NULL,
			cycles            BIGINT NOT NULL DEFAULT 0,
			total_duration    DOUBLE NOT NULL DEFAULT 0,
			energy_kwh        DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (date, signature_id)
		);
	`)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://nilm.db", db.DB, &tailsql.DBOptions{
		Label: "NILM DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
