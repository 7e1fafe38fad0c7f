package db

import (
	"bytes"
	"io"
	"log"
	"os"
	"strings"
	"testing"
)

// The handle* helpers call log.Fatalf on failure, which exits the test
// process, so only their success paths are exercised here. The failure
// paths bottom out in the Migrate* methods covered by migrate_test.go.

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestHandleMigrateUpAndDown(t *testing.T) {
	db := openBareTestDB(t)
	defer cleanupTestDB(t, db)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handleMigrateUp(db, testMigrationsDir)

	version, dirty, err := db.MigrateVersion(testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean version 1 after up, got %d (dirty: %v)", version, dirty)
	}

	handleMigrateDown(db, testMigrationsDir)

	version, _, err = db.MigrateVersion(testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion after down failed: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 after down, got %d", version)
	}
}

func TestHandleMigrateStatus(t *testing.T) {
	db := openBareTestDB(t)
	defer cleanupTestDB(t, db)

	if err := db.MigrateUp(testMigrationsDir); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	output := captureStdout(t, func() {
		handleMigrateStatus(db, testMigrationsDir)
	})

	if !strings.Contains(output, "Migration Status") {
		t.Errorf("expected status header in output, got %q", output)
	}
	if !strings.Contains(output, "Current version: 1") {
		t.Errorf("expected current version in output, got %q", output)
	}
}

func TestHandleMigrateVersionTarget(t *testing.T) {
	db := openBareTestDB(t)
	defer cleanupTestDB(t, db)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handleMigrateVersion(db, testMigrationsDir, "1")

	version, _, err := db.MigrateVersion(testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}
}

func TestHandleMigrateBaseline(t *testing.T) {
	db := openBareTestDB(t)
	defer cleanupTestDB(t, db)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	handleMigrateBaseline(db, "1")

	if !strings.Contains(buf.String(), "baselined") {
		t.Errorf("expected baseline confirmation in log, got %q", buf.String())
	}

	version, dirty, err := db.MigrateVersion(testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean baseline at version 1, got %d (dirty: %v)", version, dirty)
	}
}

func TestPrintMigrateHelp(t *testing.T) {
	output := captureStdout(t, PrintMigrateHelp)

	for _, want := range []string{"up", "down", "status", "baseline"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected help to mention %q", want)
		}
	}
}
