package check

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status classifies the outcome of a single check.
type Status string

const (
	// StatusPass means the observed behavior matched the expectation.
	StatusPass Status = "pass"
	// StatusFail means the target answered but did not match the expectation.
	StatusFail Status = "fail"
	// StatusError means the check could not be completed (network failure,
	// timeout, resolution or connection failure).
	StatusError Status = "error"
)

// Check kinds understood by the runners.
const (
	KindAPI = "api"
	KindDB  = "db"
	KindDNS = "dns"
)

// Result is one row of the consolidated report. Name is carried for logs and
// the console summary; the report formats serialize exactly the remaining
// four fields.
type Result struct {
	Name      string `json:"-"`
	Component string `json:"component"`
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Details   string `json:"details"`
}

// Check runs one configured probe and returns its normalized record.
type Check func(ctx context.Context) Result

// Definition describes one configured check. Kind selects which of the
// kind-specific field groups apply. Definitions are immutable once loaded.
type Definition struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`

	// api (URL doubles as the db DSN for kind=db)
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
	ExpectedStatus int               `json:"expected_status,omitempty"`
	JSONPath       string            `json:"json_path,omitempty"`
	InsecureTLS    bool              `json:"insecure_tls,omitempty"`

	// db
	Host          string         `json:"host,omitempty"`
	Port          int            `json:"port,omitempty"`
	User          string         `json:"user,omitempty"`
	Password      string         `json:"password,omitempty"`
	Database      string         `json:"database,omitempty"`
	Query         string         `json:"query,omitempty"`
	Table         string         `json:"table,omitempty"`
	Where         map[string]any `json:"where,omitempty"`
	ExpectRowsMin *int           `json:"expect_rows_min,omitempty"`
	ExpectValue   string         `json:"expect_value,omitempty"`
	CACert        string         `json:"ca_cert,omitempty"`

	// dns
	Hostname   string `json:"hostname,omitempty"`
	RecordType string `json:"record_type,omitempty"`
	Expected   string `json:"expected,omitempty"`
	Server     string `json:"server,omitempty"`
}

// MinRows returns expect_rows_min, defaulting to 1 when unset.
func (d *Definition) MinRows() int {
	if d.ExpectRowsMin == nil {
		return 1
	}
	return *d.ExpectRowsMin
}

// DetailString renders a details payload as compact JSON for the report.
func DetailString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Duration accepts either a Go duration string ("750ms", "5s") or a bare
// number of seconds (3, 2.5) in JSON.
type Duration time.Duration

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parsing duration %s: %w", b, err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
