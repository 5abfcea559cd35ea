// Package config loads and validates the JSON check suite document.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/jcodybaker/conncheck/pkg/types/check"
)

// Per-kind timeouts applied when neither the check nor the file-level
// defaults block names one.
const (
	DefaultAPITimeout = 8 * time.Second
	DefaultDBTimeout  = 10 * time.Second
	DefaultDNSTimeout = 3 * time.Second
)

// Config is the top-level document: file-wide defaults, the ordered check
// list, and an optional Postman collection reference.
type Config struct {
	Defaults Defaults           `json:"defaults"`
	Checks   []check.Definition `json:"checks"`
	Postman  *Postman           `json:"postman,omitempty"`
}

// Defaults carries file-wide fallbacks for per-check settings.
type Defaults struct {
	Timeout check.Duration `json:"timeout,omitempty"`
}

// Postman names a collection (and optional environment) whose requests are
// appended to the check list.
type Postman struct {
	Collection  string `json:"collection"`
	Environment string `json:"environment,omitempty"`
}

// Load reads and parses path. A bare JSON array is accepted as shorthand for
// {"checks": [...]}. Callers apply any flag overrides and then Normalize.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &cfg.Checks); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// Normalize applies defaults and validates every check, stopping at the
// first problem.
func (c *Config) Normalize() error {
	if c.Postman != nil && c.Postman.Collection == "" {
		return errors.New("postman.collection is required")
	}
	for i := range c.Checks {
		if err := normalizeCheck(&c.Checks[i], i, c.Defaults); err != nil {
			return err
		}
	}
	return nil
}

func normalizeCheck(d *check.Definition, i int, defaults Defaults) error {
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	switch d.Kind {
	case check.KindAPI:
		if d.URL == "" {
			return fmt.Errorf("checks[%d]: api check requires url", i)
		}
		u, err := url.Parse(d.URL)
		if err != nil {
			return fmt.Errorf("checks[%d]: parsing url: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("checks[%d]: unsupported url scheme %q", i, u.Scheme)
		}
		if d.Method == "" {
			d.Method = http.MethodGet
		}
		d.Method = strings.ToUpper(d.Method)
		if d.ExpectedStatus == 0 {
			d.ExpectedStatus = http.StatusOK
		}
	case check.KindDB:
		if d.URL == "" && (d.Host == "" || d.Database == "") {
			return fmt.Errorf("checks[%d]: db check requires url, or host and database", i)
		}
		if d.Query == "" && d.Table == "" {
			return fmt.Errorf("checks[%d]: db check requires query or table", i)
		}
		if d.Query != "" && d.Table != "" {
			return fmt.Errorf("checks[%d]: query and table are mutually exclusive", i)
		}
		if d.ExpectRowsMin != nil && *d.ExpectRowsMin < 0 {
			return fmt.Errorf("checks[%d]: expect_rows_min must not be negative", i)
		}
	case check.KindDNS:
		if d.Hostname == "" {
			return fmt.Errorf("checks[%d]: dns check requires hostname", i)
		}
		if d.RecordType == "" {
			d.RecordType = "A"
		}
		d.RecordType = strings.ToUpper(d.RecordType)
		switch d.RecordType {
		case "A", "AAAA", "CNAME":
		default:
			return fmt.Errorf("checks[%d]: unsupported record_type %q", i, d.RecordType)
		}
	case "":
		return fmt.Errorf("checks[%d]: kind is required", i)
	default:
		return fmt.Errorf("checks[%d]: unrecognized kind %q", i, d.Kind)
	}
	if d.Timeout == 0 {
		d.Timeout = defaults.Timeout
	}
	if d.Timeout == 0 {
		switch d.Kind {
		case check.KindAPI:
			d.Timeout = check.Duration(DefaultAPITimeout)
		case check.KindDB:
			d.Timeout = check.Duration(DefaultDBTimeout)
		case check.KindDNS:
			d.Timeout = check.Duration(DefaultDNSTimeout)
		}
	}
	if d.Name == "" {
		switch d.Kind {
		case check.KindDNS:
			d.Name = "dns_" + d.Hostname
		default:
			d.Name = d.Kind + "_" + strconv.Itoa(i+1)
		}
	}
	d.Name = strcase.ToSnake(d.Name)
	return nil
}
