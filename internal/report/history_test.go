package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHistoryRecordAndLastRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(dbPath)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	defer h.Close()

	started := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	rec, err := h.RecordRun(RunEvict, started, 12, 5, 0, 1)
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated run ID")
	}

	last, ok, err := h.LastRun(RunEvict)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !ok {
		t.Fatal("expected a recorded run")
	}
	if last.ID != rec.ID || last.Deleted != 5 {
		t.Fatalf("unexpected last run %+v", last)
	}
}

func TestHistoryLastRunEmptyWhenNoneRecorded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	h, err := OpenHistory(dbPath)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	defer h.Close()

	_, ok, err := h.LastRun(RunAudit)
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if ok {
		t.Fatal("expected no recorded run")
	}
}

func TestSummaryFormatsCounts(t *testing.T) {
	rec := RunRecord{
		ID:        "abc-123",
		Kind:      RunEvict,
		StartedAt: time.Now().Add(-time.Hour),
		Findings:  1234,
		Deleted:   56,
	}
	s := Summary(rec)
	if s == "" {
		t.Fatal("expected non-empty summary")
	}
	if !strings.Contains(s, "1,234 findings") || !strings.Contains(s, "56 deleted") {
		t.Fatalf("expected counts formatted with thousands separators, got %q", s)
	}
}
