package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

func sampleResults() []check.Result {
	return []check.Result{
		{
			Name:      "homepage",
			Component: "api",
			Status:    check.StatusPass,
			LatencyMS: 42,
			Details:   `{"name":"homepage","url":"https://example.com","status_code":200}`,
		},
		{
			Name:      "orders_db",
			Component: "db",
			Status:    check.StatusFail,
			LatencyMS: 12,
			Details:   `{"name":"orders_db","rowcount":0,"error":"expected at least 1 rows, got 0"}`,
		},
		{
			Name:      "dns_example_com",
			Component: "dns",
			Status:    check.StatusError,
			LatencyMS: 3001,
			Details:   `{"name":"dns_example_com","resolved":false,"error":"dns query failed: SERVFAIL"}`,
		},
	}
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, JSONWriter{Path: path}.Write(sampleResults()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(b, &rows))
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.ElementsMatch(t,
			[]string{"component", "status", "latency_ms", "details"},
			keys(row))
	}
	assert.Equal(t, "api", rows[0]["component"])
	assert.Equal(t, "pass", rows[0]["status"])
	assert.Equal(t, float64(42), rows[0]["latency_ms"])
}

func TestJSONWriterEmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, JSONWriter{Path: path}.Write(nil))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(b))
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, CSVWriter{Path: path}.Write(sampleResults()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"component", "status", "latency_ms", "details"}, rows[0])
	assert.Equal(t, []string{"api", "pass", "42", `{"name":"homepage","url":"https://example.com","status_code":200}`}, rows[1])
	assert.Equal(t, "dns", rows[3][0])
	assert.Equal(t, "error", rows[3][1])
}

func TestWritersAgree(t *testing.T) {
	dir := t.TempDir()
	results := sampleResults()
	jsonPath := filepath.Join(dir, "report.json")
	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, JSONWriter{Path: jsonPath}.Write(results))
	require.NoError(t, CSVWriter{Path: csvPath}.Write(results))

	jb, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var jsonRows []struct {
		Component string `json:"component"`
		Status    string `json:"status"`
		LatencyMS int64  `json:"latency_ms"`
		Details   string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(jb, &jsonRows))

	cf, err := os.Open(csvPath)
	require.NoError(t, err)
	defer cf.Close()
	csvRows, err := csv.NewReader(cf).ReadAll()
	require.NoError(t, err)

	require.Len(t, csvRows, len(jsonRows)+1)
	for i, jr := range jsonRows {
		cr := csvRows[i+1]
		assert.Equal(t, jr.Component, cr[0])
		assert.Equal(t, jr.Status, cr[1])
		assert.Equal(t, strconv.FormatInt(jr.LatencyMS, 10), cr[2])
		assert.Equal(t, jr.Details, cr[3])
	}
}

func TestWriterCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", "report.json")
	require.NoError(t, JSONWriter{Path: path}.Write(sampleResults()))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestWriterUnwritablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	err := CSVWriter{Path: filepath.Join(blocker, "report.csv")}.Write(nil)
	require.Error(t, err)
}

func TestSummary(t *testing.T) {
	restore := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = restore }()

	var buf bytes.Buffer
	Summary(&buf, sampleResults(), "report.json", "report.csv")
	out := buf.String()

	assert.Contains(t, out, "=== API Connectivity Troubleshooter ===")
	assert.Contains(t, out, "[API] homepage")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "42 ms")
	assert.Contains(t, out, "Total: 3, Pass: 1, Fail: 1, Error: 1")
	assert.Contains(t, out, "Errors captured:")
	assert.Contains(t, out, " - dns_example_com: dns query failed: SERVFAIL")
	assert.Contains(t, out, "Saved: report.json and report.csv")
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
