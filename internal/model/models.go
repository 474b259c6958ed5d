// Package model defines the domain types shared across the core: the
// configured stations ("endpoints"), the candidate IPs produced for them,
// and the results/bindings that flow out of testing and pinning.
package model

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// FailureLatencyMs is the sentinel latency value recorded for a failed probe.
const FailureLatencyMs = 9999

// Endpoint is one configured HTTPS station to accelerate.
type Endpoint struct {
	Name    string `json:"name" yaml:"name"`
	URL     string `json:"url" yaml:"url"`
	Domain  string `json:"domain" yaml:"domain"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Normalize validates the endpoint and rewrites Domain to its ASCII form
// (idna.Lookup.ToASCII), so internationalized domains normalize to the
// form the hosts-file format requires.
func (e *Endpoint) Normalize() error {
	if err := ValidateDomain(e.Domain); err != nil {
		ascii, idnaErr := idna.Lookup.ToASCII(e.Domain)
		if idnaErr != nil {
			return fmt.Errorf("endpoint %q: %w", e.Name, err)
		}
		if valErr := ValidateDomain(ascii); valErr != nil {
			return fmt.Errorf("endpoint %q: %w", e.Name, valErr)
		}
		e.Domain = ascii
		return nil
	}
	return nil
}

// ValidateDomain reports whether domain is non-empty, free of whitespace and
// control characters, and restricted to ASCII alphanumerics, '-', '.', '_'.
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("empty domain")
	}
	for _, c := range domain {
		if c > 127 || (!isAlnum(c) && c != '-' && c != '.' && c != '_') {
			return fmt.Errorf("invalid domain %q: disallowed character %q", domain, c)
		}
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ValidateIP reports whether ip parses as an IPv4 or IPv6 address.
func ValidateIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("invalid IP address %q", ip)
	}
	return nil
}

// CandidateIP is a single IP address produced by candidate sourcing, in its
// canonical string form.
type CandidateIP string

// Canonical returns ip in its canonical net.IP string form, or ip unchanged
// if it does not parse.
func Canonical(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ip
	}
	return parsed.String()
}

// ProbeResult is the outcome of testing one endpoint, carrying the chosen
// IP, its latency, and enough context to explain the choice.
type ProbeResult struct {
	Endpoint          string  `json:"endpoint"`
	IP                string  `json:"ip"`
	LatencyMs         float64 `json:"latency_ms"`
	Success           bool    `json:"success"`
	Error             string  `json:"error,omitempty"`
	Warning           string  `json:"warning,omitempty"`
	OriginalIP        string  `json:"original_ip,omitempty"`
	OriginalLatencyMs float64 `json:"original_latency_ms,omitempty"`
	SpeedupPercent    float64 `json:"speedup_percent,omitempty"`
	UseOriginal       bool    `json:"use_original"`
}

// NewFailure builds a failed ProbeResult with the sentinel latency.
func NewFailure(endpoint, ip, reason string) ProbeResult {
	return ProbeResult{
		Endpoint:  endpoint,
		IP:        ip,
		LatencyMs: FailureLatencyMs,
		Success:   false,
		Error:     reason,
	}
}

// Speedup computes max(0, (original-latency)/original*100) when both values
// are finite and positive; otherwise 0.
func Speedup(originalMs, latencyMs float64) float64 {
	if originalMs <= 0 || originalMs >= FailureLatencyMs || latencyMs <= 0 || latencyMs >= FailureLatencyMs {
		return 0
	}
	pct := (originalMs - latencyMs) / originalMs * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// PinnedBinding is a (domain, ip) pair currently present in the managed
// hosts-file block.
type PinnedBinding struct {
	Domain string `json:"domain"`
	IP     string `json:"ip"`
}
