// Package postman converts Postman v2 collections into api check
// definitions, without needing Newman.
package postman

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

const (
	defaultExpectedStatus = http.StatusOK
	defaultRequestTimeout = 10 * time.Second
)

type collection struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
	Items []item `json:"item"`
}

type item struct {
	Name    string   `json:"name"`
	Request *request `json:"request,omitempty"`
	Items   []item   `json:"item,omitempty"`
}

type request struct {
	Method string     `json:"method"`
	URL    requestURL `json:"url"`
	Header []header   `json:"header"`
	Body   *body      `json:"body,omitempty"`
}

// requestURL accepts both the raw-string and the structured object form.
type requestURL struct {
	Raw      string       `json:"raw"`
	Protocol string       `json:"protocol"`
	Host     []string     `json:"host"`
	Path     []string     `json:"path"`
	Query    []queryParam `json:"query"`
}

type queryParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type header struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
}

type body struct {
	Mode string `json:"mode"`
	Raw  string `json:"raw"`
}

type environment struct {
	Values []envValue `json:"values"`
}

type envValue struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (u *requestURL) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &u.Raw)
	}
	type plain requestURL
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*u = requestURL(p)
	return nil
}

func (u *requestURL) build() string {
	if u.Raw != "" {
		return u.Raw
	}
	protocol := u.Protocol
	if protocol == "" {
		protocol = "https"
	}
	s := protocol + "://" + strings.Join(u.Host, ".") + "/" + strings.Join(u.Path, "/")
	if len(u.Query) > 0 {
		pairs := make([]string, 0, len(u.Query))
		for _, q := range u.Query {
			pairs = append(pairs, q.Key+"="+q.Value)
		}
		s += "?" + strings.Join(pairs, "&")
	}
	return s
}

// Load parses the collection at collectionPath into api check definitions,
// walking folders depth-first in collection order. When envPath is set,
// {{var}} placeholders in urls, header values, and bodies are substituted
// from it; unknown placeholders are left alone.
func Load(collectionPath, envPath string) ([]check.Definition, error) {
	b, err := os.ReadFile(collectionPath)
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	var col collection
	if err := json.Unmarshal(b, &col); err != nil {
		return nil, fmt.Errorf("parsing collection %s: %w", collectionPath, err)
	}
	vars := map[string]string{}
	if envPath != "" {
		eb, err := os.ReadFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("reading environment: %w", err)
		}
		if vars, err = parseEnvironment(eb); err != nil {
			return nil, fmt.Errorf("environment %s: %w", envPath, err)
		}
	}
	return appendItems(nil, col.Items, newSubstituter(vars)), nil
}

// parseEnvironment accepts Postman's {"values": [...]} export format or a
// plain {"key": "value"} map.
func parseEnvironment(b []byte) (map[string]string, error) {
	var pm environment
	if err := json.Unmarshal(b, &pm); err == nil && len(pm.Values) > 0 {
		vars := make(map[string]string, len(pm.Values))
		for _, v := range pm.Values {
			if v.Enabled != nil && !*v.Enabled {
				continue
			}
			vars[v.Key] = v.Value
		}
		return vars, nil
	}
	var plain map[string]any
	if err := json.Unmarshal(b, &plain); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	vars := make(map[string]string, len(plain))
	for k, v := range plain {
		vars[k] = stringifyEnvValue(v)
	}
	return vars, nil
}

func stringifyEnvValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func newSubstituter(vars map[string]string) *strings.Replacer {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...)
}

func appendItems(defs []check.Definition, items []item, sub *strings.Replacer) []check.Definition {
	for _, it := range items {
		if it.Request != nil {
			defs = append(defs, definitionFromItem(it, sub))
		}
		if len(it.Items) > 0 {
			defs = appendItems(defs, it.Items, sub)
		}
	}
	return defs
}

func definitionFromItem(it item, sub *strings.Replacer) check.Definition {
	name := it.Name
	if name == "" {
		name = "request"
	}
	req := it.Request
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	def := check.Definition{
		Kind:           check.KindAPI,
		Name:           name,
		Method:         method,
		URL:            sub.Replace(req.URL.build()),
		ExpectedStatus: defaultExpectedStatus,
		Timeout:        check.Duration(defaultRequestTimeout),
	}
	for _, h := range req.Header {
		if h.Key == "" || h.Disabled {
			continue
		}
		if def.Headers == nil {
			def.Headers = map[string]string{}
		}
		def.Headers[h.Key] = sub.Replace(h.Value)
	}
	if req.Body != nil && req.Body.Mode == "raw" && req.Body.Raw != "" {
		// Bodies which don't survive substitution as JSON are dropped, the
		// request still runs without one.
		raw := sub.Replace(req.Body.Raw)
		if json.Valid([]byte(raw)) {
			def.Body = json.RawMessage(raw)
		}
	}
	return def
}
