// Package report implements the Report Sink (spec.md §4.6): it writes the
// ImageUsage snapshot and HealthReport artifacts the Collector, Auditor,
// and Evictor produce, and keeps a small run-history index so an operator
// can trend GC health across runs without re-parsing old JSON files.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/vgnett/registry-gc/internal/model"
)

// WriteImageUsage writes the ImageUsage snapshot to <dir>/images.json with
// sorted object keys and 2-space indent (spec.md §6). Go's encoding/json
// already sorts map[string]T keys, so no explicit sort is needed here.
func WriteImageUsage(dir string, usage model.ImageUsage) error {
	return writeIndentedJSON(filepath.Join(dir, "images.json"), usage)
}

// LoadImageUsage reads an images.json snapshot previously written by
// WriteImageUsage. The Auditor and Evictor both consume a snapshot
// produced by an earlier inventory run rather than collecting their own.
func LoadImageUsage(path string) (model.ImageUsage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	usage := make(model.ImageUsage)
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return usage, nil
}

// WriteHealthReport writes registry-check.json and registry-check.csv
// (spec.md §4.6). Both are written only after both encode successfully, so
// a CSV encoding failure never leaves a JSON artifact with no CSV sibling
// (spec.md §5's "no partial reports" guarantee extended to S's own output).
func WriteHealthReport(dir string, report model.HealthReport) error {
	jsonPath := filepath.Join(dir, "registry-check.json")
	csvPath := filepath.Join(dir, "registry-check.csv")

	jsonBody, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health report: %w", err)
	}
	csvBody, err := healthReportCSV(report)
	if err != nil {
		return fmt.Errorf("encode health report csv: %w", err)
	}

	if err := os.WriteFile(jsonPath, jsonBody, 0644); err != nil {
		return fmt.Errorf("write %s: %w", jsonPath, err)
	}
	if err := os.WriteFile(csvPath, csvBody, 0644); err != nil {
		return fmt.Errorf("write %s: %w", csvPath, err)
	}
	return nil
}

// healthReportCSV flattens report into CSV bytes. Every row shares one
// header row taken from model.Finding's field order (spec.md §4.6) — the
// Auditor is responsible for giving every finding the same shape.
func healthReportCSV(report model.HealthReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := findingCSVHeader()
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, f := range report {
		if err := w.Write(findingCSVRow(f)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// findingCSVHeader returns model.Finding's exported field names in
// declaration order, matching the struct's JSON field order.
func findingCSVHeader() []string {
	t := reflect.TypeOf(model.Finding{})
	header := make([]string, t.NumField())
	for i := range header {
		header[i] = t.Field(i).Name
	}
	return header
}

func findingCSVRow(f model.Finding) []string {
	v := reflect.ValueOf(f)
	row := make([]string, v.NumField())
	for i := range row {
		row[i] = csvCell(v.Field(i))
	}
	return row
}

func csvCell(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		joined := ""
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				joined += ";"
			}
			joined += fmt.Sprintf("%v", v.Index(i).Interface())
		}
		return joined
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func writeIndentedJSON(path string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// OutputDir resolves the output directory per spec.md §6: $REPORTDIR if
// set, otherwise a timestamped check-report-YYYY-MM-DD-HH:MM:SS directory
// under the current working directory.
func OutputDir(now time.Time) (string, error) {
	if dir := os.Getenv("REPORTDIR"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create REPORTDIR %s: %w", dir, err)
		}
		return dir, nil
	}
	dir := "check-report-" + now.Format("2006-01-02-15:04:05")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}
