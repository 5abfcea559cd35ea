// Package report renders completed check results to files and the console.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

// Header shared by the CSV rendering and anything that consumes it.
var csvHeader = []string{"component", "status", "latency_ms", "details"}

// Writer instances persist a completed run's results.
type Writer interface {
	// Write renders results in the writer's format.
	Write(results []check.Result) error
}

// JSONWriter renders results as an indented JSON array at Path.
type JSONWriter struct {
	Path string
}

// Write renders results in the writer's format.
func (w JSONWriter) Write(results []check.Result) error {
	if results == nil {
		results = []check.Result{}
	}
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return writeFile(w.Path, append(b, '\n'))
}

// CSVWriter renders results as one CSV row per check at Path. Rows carry the
// same fields, in the same order, as the JSON rendering.
type CSVWriter struct {
	Path string
}

// Write renders results in the writer's format.
func (w CSVWriter) Write(results []check.Result) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	for _, r := range results {
		row := []string{r.Component, string(r.Status), strconv.FormatInt(r.LatencyMS, 10), r.Details}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return writeFile(w.Path, buf.Bytes())
}

// writeFile creates any missing parent directories before writing path.
func writeFile(path string, b []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
