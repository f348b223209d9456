package report

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunKind distinguishes which of the three core entry points produced a
// history row.
type RunKind string

const (
	RunInventory RunKind = "inventory"
	RunAudit     RunKind = "audit"
	RunEvict     RunKind = "evict"
)

// RunRecord is one row of run-history: what ran, when, and how it came
// out. This redirects the teacher's sqlite-backed CRUD store (registries,
// retention policies, vuln scans) toward a single append-only table so an
// operator can trend GC health over time without parsing historical JSON.
type RunRecord struct {
	ID          string
	Kind        RunKind
	StartedAt   time.Time
	Findings    int
	Deleted     int
	WouldDelete int
	Problems    int
}

// History wraps the run-history sqlite database.
type History struct {
	conn *sql.DB
}

// OpenHistory opens (creating if necessary) the sqlite database at dbPath
// and ensures its schema exists, following
// internal/database/sqlite.go:New's WAL-mode-then-migrate shape.
func OpenHistory(dbPath string) (*History, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	h := &History{conn: conn}
	if err := h.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	_, err := h.conn.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		findings INTEGER DEFAULT 0,
		deleted INTEGER DEFAULT 0,
		would_delete INTEGER DEFAULT 0,
		problems INTEGER DEFAULT 0
	);`)
	return err
}

// Close closes the underlying database connection.
func (h *History) Close() error { return h.conn.Close() }

// RecordRun inserts one row for a completed run. The run ID is generated
// here so every caller records its own distinct ID.
func (h *History) RecordRun(kind RunKind, startedAt time.Time, findings, deleted, wouldDelete, problems int) (RunRecord, error) {
	rec := RunRecord{
		ID:          uuid.NewString(),
		Kind:        kind,
		StartedAt:   startedAt,
		Findings:    findings,
		Deleted:     deleted,
		WouldDelete: wouldDelete,
		Problems:    problems,
	}
	_, err := h.conn.Exec(`
		INSERT INTO runs (id, kind, started_at, findings, deleted, would_delete, problems)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Kind), rec.StartedAt, rec.Findings, rec.Deleted, rec.WouldDelete, rec.Problems)
	if err != nil {
		return RunRecord{}, fmt.Errorf("record run: %w", err)
	}
	return rec, nil
}

// LastRun returns the most recent recorded run of the given kind, or the
// zero RunRecord with ok=false if none exists.
func (h *History) LastRun(kind RunKind) (rec RunRecord, ok bool, err error) {
	row := h.conn.QueryRow(`
		SELECT id, kind, started_at, findings, deleted, would_delete, problems
		FROM runs WHERE kind = ? ORDER BY started_at DESC LIMIT 1
	`, string(kind))

	var k string
	scanErr := row.Scan(&rec.ID, &k, &rec.StartedAt, &rec.Findings, &rec.Deleted, &rec.WouldDelete, &rec.Problems)
	if scanErr == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if scanErr != nil {
		return RunRecord{}, false, fmt.Errorf("last run: %w", scanErr)
	}
	rec.Kind = RunKind(k)
	return rec, true, nil
}

// Summary formats a human-readable one-line summary of rec for the end-of-
// run log line, using go-humanize the way the teacher's own dependency was
// meant to be used — counts rendered with thousands separators, the
// timestamp rendered relative to now.
func Summary(rec RunRecord) string {
	return fmt.Sprintf(
		"%s run %s: %s findings, %s deleted, %s would-delete, %s problems (started %s)",
		rec.Kind, rec.ID,
		humanize.Comma(int64(rec.Findings)),
		humanize.Comma(int64(rec.Deleted)),
		humanize.Comma(int64(rec.WouldDelete)),
		humanize.Comma(int64(rec.Problems)),
		humanize.Time(rec.StartedAt),
	)
}
