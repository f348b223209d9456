package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vgnett/registry-gc/internal/model"
)

func TestWriteImageUsageProducesSortedIndentedJSON(t *testing.T) {
	dir := t.TempDir()
	usage := make(model.ImageUsage)
	usage.Observe("reg.example.com/b:v1", "k8s;c;ns;pod", model.PhaseRunning, false, "", 0, "")
	usage.Observe("reg.example.com/a:v1", "k8s;c;ns;pod", model.PhaseRunning, false, "", 0, "")

	if err := WriteImageUsage(dir, usage); err != nil {
		t.Fatalf("WriteImageUsage: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "images.json"))
	if err != nil {
		t.Fatalf("read images.json: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded))
	}
	text := string(body)
	if !strings.HasPrefix(text, "{\n  \"") {
		t.Fatalf("expected 2-space indented JSON, got %s", text)
	}
	if strings.Index(text, `"reg.example.com/a:v1"`) > strings.Index(text, `"reg.example.com/b:v1"`) {
		t.Fatalf("expected keys in sorted order, got %s", text)
	}
}

func TestWriteHealthReportProducesMatchingJSONAndCSV(t *testing.T) {
	dir := t.TempDir()
	report := model.HealthReport{
		model.NewTagFinding("reg/acme/app:v1", []string{model.ProblemNoDigest}, []string{"prod"}, []string{model.PhaseRunning}, true),
		model.NewRepoFinding("acme/app", model.RepoSeeTagsAbove, true),
	}

	if err := WriteHealthReport(dir, report); err != nil {
		t.Fatalf("WriteHealthReport: %v", err)
	}

	jsonBody, err := os.ReadFile(filepath.Join(dir, "registry-check.json"))
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded model.HealthReport
	if err := json.Unmarshal(jsonBody, &decoded); err != nil {
		t.Fatalf("unmarshal json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(decoded))
	}

	csvFile, err := os.Open(filepath.Join(dir, "registry-check.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer csvFile.Close()
	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 { // header + 2 findings
		t.Fatalf("expected 3 rows, got %d: %v", len(rows), rows)
	}
	for _, row := range rows {
		if len(row) != len(rows[0]) {
			t.Fatalf("row width mismatch: %v", row)
		}
	}
}

func TestOutputDirUsesReportDirEnv(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "custom-reports")
	t.Setenv("REPORTDIR", target)

	got, err := OutputDir(time.Now())
	if err != nil {
		t.Fatalf("OutputDir: %v", err)
	}
	if got != target {
		t.Fatalf("got %q, want %q", got, target)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected dir to exist: %v", err)
	}
}

func TestOutputDirFallsBackToTimestampedDir(t *testing.T) {
	t.Setenv("REPORTDIR", "")
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	tmp := t.TempDir()
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	now := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	got, err := OutputDir(now)
	if err != nil {
		t.Fatalf("OutputDir: %v", err)
	}
	want := "check-report-2026-07-30-09:30:00"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
