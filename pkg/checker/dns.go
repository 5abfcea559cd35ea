package checker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

const resolvConfPath = "/etc/resolv.conf"

var recordTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
}

type dnsDetails struct {
	Name       string   `json:"name"`
	Hostname   string   `json:"hostname"`
	RecordType string   `json:"record_type"`
	Resolved   bool     `json:"resolved"`
	Addresses  []string `json:"addresses,omitempty"`
	CNAME      string   `json:"cname,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewDNSCheck creates a Check which resolves def's hostname and compares the
// answers against its expectations.
func NewDNSCheck(def check.Definition) (check.Check, error) {
	hostname := def.Hostname
	if hostname == "" {
		return nil, errors.New("dns check requires hostname")
	}
	if strings.Contains(hostname, "://") {
		// If it looks like a URL, we'll try to isolate the hostname.
		u, err := url.Parse(hostname)
		if err != nil {
			return nil, fmt.Errorf("parsing hostname: %w", err)
		}
		if u.Host != "" {
			hostname = u.Host
			// discard any port
			if host, _, err := net.SplitHostPort(u.Host); err == nil {
				hostname = host
			}
		}
	}
	recordType := strings.ToUpper(def.RecordType)
	if recordType == "" {
		recordType = "A"
	}
	qtype, ok := recordTypes[recordType]
	if !ok {
		return nil, fmt.Errorf("unsupported record_type %q", def.RecordType)
	}
	explicitServer := def.Server != ""
	server := def.Server
	if server == "" {
		server = systemResolver()
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	// The os resolver is only a fallback for address lookups against the
	// system's own nameserver; an explicitly configured server must answer
	// for itself.
	var fallbackNet string
	if !explicitServer {
		switch qtype {
		case dns.TypeA:
			fallbackNet = "ip4"
		case dns.TypeAAAA:
			fallbackNet = "ip6"
		}
	}
	client := &dns.Client{}
	return func(ctx context.Context) check.Result {
		d := dnsDetails{Name: def.Name, Hostname: hostname, RecordType: recordType}
		start := time.Now()
		status := check.StatusPass
		var answers []string
		var cname string

		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(hostname), qtype)
		r, _, err := client.ExchangeContext(ctx, m, server)
		switch {
		case err != nil:
			status = check.StatusError
			d.Error = err.Error()
		case r.Rcode != dns.RcodeSuccess:
			status = check.StatusError
			d.Error = fmt.Sprintf("dns query failed: %s", dns.RcodeToString[r.Rcode])
		default:
			answers, cname = collectAnswers(r, qtype)
			usable := len(answers) > 0
			if qtype == dns.TypeCNAME {
				usable = cname != ""
			}
			if !usable {
				status = check.StatusFail
				d.Error = fmt.Sprintf("no %s records for %s", recordType, hostname)
			}
		}

		if status != check.StatusPass && fallbackNet != "" {
			if ips, ferr := net.DefaultResolver.LookupIP(ctx, fallbackNet, hostname); ferr == nil && len(ips) > 0 {
				status = check.StatusPass
				d.Error = ""
				d.Fallback = true
				answers = answers[:0]
				for _, ip := range ips {
					answers = append(answers, ip.String())
				}
			}
		}

		if status == check.StatusPass && def.Expected != "" {
			switch qtype {
			case dns.TypeCNAME:
				if !equalFQDN(cname, def.Expected) {
					status = check.StatusFail
					d.Error = fmt.Sprintf("expected cname %q, got %q", def.Expected, strings.TrimSuffix(cname, "."))
				}
			default:
				if !containsAddress(answers, def.Expected) {
					status = check.StatusFail
					d.Error = fmt.Sprintf("expected address %q not among answers", def.Expected)
				}
			}
		}

		d.Resolved = len(answers) > 0 || cname != ""
		d.Addresses = dedupeSorted(answers)
		if cname != "" {
			d.CNAME = strings.TrimSuffix(cname, ".")
		}
		return check.Result{
			Name:      def.Name,
			Component: check.KindDNS,
			Status:    status,
			LatencyMS: time.Since(start).Milliseconds(),
			Details:   check.DetailString(d),
		}
	}, nil
}

// systemResolver returns the first nameserver from resolv.conf.
func systemResolver() string {
	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(cfg.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

func collectAnswers(r *dns.Msg, qtype uint16) (addrs []string, cname string) {
	for _, rr := range r.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				addrs = append(addrs, v.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				addrs = append(addrs, v.AAAA.String())
			}
		case *dns.CNAME:
			cname = v.Target
		}
	}
	return addrs, cname
}

func containsAddress(addrs []string, expect string) bool {
	want := expect
	if ip := net.ParseIP(expect); ip != nil {
		want = ip.String()
	}
	for _, a := range addrs {
		if a == want {
			return true
		}
	}
	return false
}

func equalFQDN(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:0]
	var last string
	for i, s := range in {
		if i == 0 || s != last {
			out = append(out, s)
		}
		last = s
	}
	return out
}
