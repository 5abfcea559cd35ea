package checker

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

func startDNSServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           dns.HandlerFunc(handleTestQuery),
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = srv.ActivateAndServe() }()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func handleTestQuery(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	q := req.Question[0]
	switch {
	case q.Name == "broken.test.":
		resp.Rcode = dns.RcodeServerFailure
	case q.Name == "addr.test." && q.Qtype == dns.TypeA:
		resp.Answer = append(resp.Answer,
			mustRR("addr.test. 30 IN A 10.0.0.2"),
			mustRR("addr.test. 30 IN A 10.0.0.1"),
			mustRR("addr.test. 30 IN A 10.0.0.1"))
	case q.Name == "addr6.test." && q.Qtype == dns.TypeAAAA:
		resp.Answer = append(resp.Answer, mustRR("addr6.test. 30 IN AAAA 2001:db8::1"))
	case q.Name == "www.test." && q.Qtype == dns.TypeCNAME:
		resp.Answer = append(resp.Answer, mustRR("www.test. 30 IN CNAME Target.Example.COM."))
	case q.Name == "alias.test." && q.Qtype == dns.TypeA:
		resp.Answer = append(resp.Answer,
			mustRR("alias.test. 30 IN CNAME addr.test."),
			mustRR("addr.test. 30 IN A 10.0.0.9"))
	case q.Name == "empty.test.":
		// NOERROR with no answers.
	default:
		resp.Rcode = dns.RcodeNameError
	}
	_ = w.WriteMsg(resp)
}

func mustRR(s string) dns.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		panic(err)
	}
	return rr
}

type dnsResultDetails struct {
	Name       string   `json:"name"`
	Hostname   string   `json:"hostname"`
	RecordType string   `json:"record_type"`
	Resolved   bool     `json:"resolved"`
	Addresses  []string `json:"addresses"`
	CNAME      string   `json:"cname"`
	Error      string   `json:"error"`
}

func runDNSCheck(t *testing.T, def check.Definition) (check.Result, dnsResultDetails) {
	t.Helper()
	f, err := NewDNSCheck(def)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := f(ctx)
	var d dnsResultDetails
	require.NoError(t, json.Unmarshal([]byte(r.Details), &d))
	return r, d
}

func TestDNSCheck(t *testing.T) {
	server := startDNSServer(t)

	t.Run("a records pass sorted and deduped", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Name: "addr", Hostname: "addr.test", Server: server,
		})
		assert.Equal(t, check.StatusPass, r.Status)
		assert.Equal(t, "dns", r.Component)
		assert.True(t, d.Resolved)
		assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, d.Addresses)
	})

	t.Run("expected address matches", func(t *testing.T) {
		r, _ := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "addr.test", Server: server, Expected: "10.0.0.2",
		})
		assert.Equal(t, check.StatusPass, r.Status)
	})

	t.Run("expected address missing fails", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "addr.test", Server: server, Expected: "10.9.9.9",
		})
		assert.Equal(t, check.StatusFail, r.Status)
		assert.Contains(t, d.Error, "not among answers")
		assert.True(t, d.Resolved)
	})

	t.Run("aaaa records", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "addr6.test", RecordType: "AAAA", Server: server,
		})
		assert.Equal(t, check.StatusPass, r.Status)
		assert.Equal(t, []string{"2001:db8::1"}, d.Addresses)
	})

	t.Run("cname compares case and dot insensitive", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "www.test", RecordType: "CNAME",
			Server: server, Expected: "target.example.com",
		})
		assert.Equal(t, check.StatusPass, r.Status)
		assert.Equal(t, "Target.Example.COM", d.CNAME)
	})

	t.Run("cname chain keeps addresses and target", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "alias.test", Server: server,
		})
		assert.Equal(t, check.StatusPass, r.Status)
		assert.Equal(t, []string{"10.0.0.9"}, d.Addresses)
		assert.Equal(t, "addr.test", d.CNAME)
	})

	t.Run("nxdomain is an error", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "missing.test", Server: server,
		})
		assert.Equal(t, check.StatusError, r.Status)
		assert.Contains(t, d.Error, "NXDOMAIN")
		assert.False(t, d.Resolved)
	})

	t.Run("servfail is an error", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "broken.test", Server: server,
		})
		assert.Equal(t, check.StatusError, r.Status)
		assert.Contains(t, d.Error, "SERVFAIL")
	})

	t.Run("clean answer without records fails", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "empty.test", Server: server,
		})
		assert.Equal(t, check.StatusFail, r.Status)
		assert.Contains(t, d.Error, "no A records")
	})

	t.Run("url hostnames are reduced to the host", func(t *testing.T) {
		r, d := runDNSCheck(t, check.Definition{
			Kind: check.KindDNS, Hostname: "https://addr.test:8443/healthz", Server: server,
		})
		assert.Equal(t, check.StatusPass, r.Status)
		assert.Equal(t, "addr.test", d.Hostname)
	})
}

func TestNewDNSCheckValidation(t *testing.T) {
	_, err := NewDNSCheck(check.Definition{Kind: check.KindDNS})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires hostname")

	_, err = NewDNSCheck(check.Definition{Kind: check.KindDNS, Hostname: "example.com", RecordType: "MX"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported record_type")
}

func TestEqualFQDN(t *testing.T) {
	assert.True(t, equalFQDN("Example.COM.", "example.com"))
	assert.True(t, equalFQDN("example.com", "example.com."))
	assert.False(t, equalFQDN("example.com", "example.org"))
}

func TestDedupeSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupeSorted([]string{"c", "a", "b", "a", "c"}))
	assert.Nil(t, dedupeSorted(nil))
}
