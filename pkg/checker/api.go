package checker

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

const (
	bodyPreviewLimit = 300
	bodyReadLimit    = 1 << 20
)

type apiDetails struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Method         string `json:"method"`
	StatusCode     int    `json:"status_code,omitempty"`
	ExpectedStatus int    `json:"expected_status,omitempty"`
	BodyPreview    string `json:"body_preview,omitempty"`
	JSONPath       string `json:"json_path,omitempty"`
	Error          string `json:"error,omitempty"`
}

// NewAPICheck creates a Check which issues a single HTTP request described by
// def and compares the response against its expectations.
func NewAPICheck(def check.Definition) (check.Check, error) {
	if def.URL == "" {
		return nil, errors.New("api check requires url")
	}
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(def.Params) > 0 {
		q := u.Query()
		for k, v := range def.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	target := u.String()
	method := def.Method
	if method == "" {
		method = http.MethodGet
	}
	expectedStatus := def.ExpectedStatus
	if expectedStatus == 0 {
		expectedStatus = http.StatusOK
	}
	jsonPath, wantValue, jsonValue := parseJSONPathAssertion(def.JSONPath)
	var transport http.RoundTripper
	if def.InsecureTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return func(ctx context.Context) check.Result {
		d := apiDetails{
			Name:           def.Name,
			URL:            target,
			Method:         method,
			ExpectedStatus: expectedStatus,
		}
		c := http.Client{Transport: transport}
		defer c.CloseIdleConnections()
		var body io.Reader
		if len(def.Body) > 0 {
			body = bytes.NewReader(def.Body)
		}
		req, err := http.NewRequestWithContext(withClientTrace(ctx), method, target, body)
		if err != nil {
			d.Error = fmt.Sprintf("building request: %s", err)
			return apiResult(def, check.StatusError, 0, d)
		}
		for k, v := range def.Headers {
			req.Header.Set(k, v)
		}
		if len(def.Body) > 0 && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		start := time.Now()
		resp, err := c.Do(req)
		if err != nil {
			d.Error = err.Error()
			return apiResult(def, check.StatusError, time.Since(start), d)
		}
		defer resp.Body.Close()
		d.StatusCode = resp.StatusCode
		raw, err := io.ReadAll(io.LimitReader(resp.Body, bodyReadLimit))
		latency := time.Since(start)
		if err != nil {
			d.Error = fmt.Sprintf("reading body: %s", err)
			return apiResult(def, check.StatusError, latency, d)
		}
		d.BodyPreview = preview(raw)
		if resp.StatusCode != expectedStatus {
			d.Error = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
			return apiResult(def, check.StatusFail, latency, d)
		}
		if jsonPath != "" {
			d.JSONPath = def.JSONPath
			v := gjson.GetBytes(raw, jsonPath)
			switch {
			case !v.Exists():
				d.Error = fmt.Sprintf("json path %q not found in response", jsonPath)
				return apiResult(def, check.StatusFail, latency, d)
			case wantValue && v.String() != jsonValue:
				d.Error = fmt.Sprintf("json path %q: got %q, want %q", jsonPath, v.String(), jsonValue)
				return apiResult(def, check.StatusFail, latency, d)
			}
		}
		return apiResult(def, check.StatusPass, latency, d)
	}, nil
}

func apiResult(def check.Definition, status check.Status, latency time.Duration, d apiDetails) check.Result {
	return check.Result{
		Name:      def.Name,
		Component: check.KindAPI,
		Status:    status,
		LatencyMS: latency.Milliseconds(),
		Details:   check.DetailString(d),
	}
}

// parseJSONPathAssertion splits the "path" and "path=value" assertion forms.
func parseJSONPathAssertion(s string) (path string, hasValue bool, value string) {
	path, value, hasValue = strings.Cut(s, "=")
	return path, hasValue, value
}

func preview(b []byte) string {
	if len(b) > bodyPreviewLimit {
		return string(b[:bodyPreviewLimit]) + "..."
	}
	return string(b)
}

// withClientTrace logs the request's DNS, connect, and TLS handshake phases
// at debug level.
func withClientTrace(ctx context.Context) context.Context {
	l := log.Ctx(ctx)
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		DNSStart: func(i httptrace.DNSStartInfo) {
			l.Debug().Str("host", i.Host).Msg("resolving")
		},
		DNSDone: func(i httptrace.DNSDoneInfo) {
			l.Debug().Err(i.Err).Int("addresses", len(i.Addrs)).Msg("resolved")
		},
		ConnectStart: func(network, addr string) {
			l.Debug().Str("addr", addr).Msg("connecting")
		},
		ConnectDone: func(network, addr string, err error) {
			l.Debug().Str("addr", addr).Err(err).Msg("connected")
		},
		TLSHandshakeStart: func() {
			l.Debug().Msg("tls handshake started")
		},
		TLSHandshakeDone: func(cs tls.ConnectionState, err error) {
			l.Debug().Err(err).Uint16("tls_version", cs.Version).Msg("tls handshake done")
		},
		GotFirstResponseByte: func() {
			l.Debug().Msg("first response byte")
		},
	})
}
