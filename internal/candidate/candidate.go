// Package candidate produces the ordered, deduplicated, length-bounded list
// of IP addresses the tester should probe for a given endpoint (spec §4.3).
package candidate

import (
	"context"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/anyfast/anyfast-core/internal/fingerprint"
	"github.com/anyfast/anyfast-core/internal/netutil"
)

// MaxCandidates is the hard cap on any candidate list handed to the probe
// phase.
const MaxCandidates = 15

// cloudflarePrefixes are the known Cloudflare IPv4 ranges (dotted prefixes)
// that trigger CF-best-list enrichment.
var cloudflarePrefixes = buildCFPrefixes()

func buildCFPrefixes() []string {
	prefixes := make([]string, 0, 14)
	for i := 16; i <= 27; i++ {
		prefixes = append(prefixes, "104."+strconv.Itoa(i)+".")
	}
	prefixes = append(prefixes, "172.67.", "162.159.")
	return prefixes
}

// fallbackCFIPs is the built-in list used when the online feed is
// unreachable or malformed (spec §4.3 rule 3a).
var fallbackCFIPs = []string{
	"104.16.0.1", "104.16.123.96", "104.17.0.1", "104.18.0.1",
	"104.19.0.1", "104.20.0.1", "104.21.0.1", "104.24.0.1",
	"104.25.0.1", "172.67.0.1", "162.159.135.42",
}

// Resolver performs the DNS lookups candidate sourcing needs. A thin
// wrapper around net.Resolver so tests can substitute a fake.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Source produces candidate IPs for endpoints, caching the online
// Cloudflare best-IP list for the process lifetime of the tester instance.
type Source struct {
	resolver   Resolver
	downloader netutil.Downloader
	feedURL    string

	cfListOnce sync.Once
	cfList     []string

	fanoutResolvers []resolverEndpoint
	cache           otter.Cache[string, []string]

	fpMu            sync.Mutex
	lastFingerprint map[string]fingerprint.Hash
}

type resolverEndpoint struct {
	name string
	addr string // host:port of the resolver's DNS-over-UDP listener
}

// defaultFanoutResolvers is the ~8-resolver public set used for non-CF
// domains (spec §4.3 rule 4).
var defaultFanoutResolvers = []resolverEndpoint{
	{"google-1", "8.8.8.8:53"},
	{"google-2", "8.8.4.4:53"},
	{"cloudflare-1", "1.1.1.1:53"},
	{"cloudflare-2", "1.0.0.1:53"},
	{"quad9", "9.9.9.9:53"},
	{"opendns-1", "208.67.222.222:53"},
	{"opendns-2", "208.67.220.220:53"},
	{"alidns", "223.5.5.5:53"},
}

// New builds a Source. feedURL is the Cloudflare best-IP feed's address,
// exposed as a configuration constant per spec §9 note (a). downloader
// fetches it; resolver performs the initial and fan-out DNS lookups.
func New(resolver Resolver, downloader netutil.Downloader, feedURL string) *Source {
	cache, _ := otter.MustBuilder[string, []string](64).
		WithTTL(30 * time.Second).
		Cost(func(_ string, ips []string) uint32 { return uint32(len(ips)) + 1 }).
		Build()
	return &Source{
		resolver:        resolver,
		downloader:      downloader,
		feedURL:         feedURL,
		fanoutResolvers: defaultFanoutResolvers,
		cache:           cache,
		lastFingerprint: make(map[string]fingerprint.Hash),
	}
}

// Candidates implements spec §4.3 rules 1-4 for one endpoint. preferredIPs,
// if non-empty, short-circuits DNS entirely (rule 1).
func (s *Source) Candidates(ctx context.Context, domain string, preferredIPs []string) ([]string, error) {
	if len(preferredIPs) > 0 {
		return dedupCap(preferredIPs, MaxCandidates), nil
	}

	dnsIPs, err := s.lookup(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(dnsIPs) == 0 {
		return nil, nil
	}

	if isCloudflare(dnsIPs) {
		cfList := s.cloudflareBestList(ctx)
		merged := dedupCap(append(append([]string{}, cfList...), dnsIPs...), MaxCandidates)
		s.logIfChanged(domain, merged)
		return merged, nil
	}

	fanoutIPs := s.cachedFanOut(ctx, domain)
	merged := dedupCap(append(append([]string{}, dnsIPs...), fanoutIPs...), MaxCandidates)
	s.logIfChanged(domain, merged)
	return merged, nil
}

// logIfChanged fingerprints the resolved candidate set and logs only when
// it differs from the last fingerprint seen for domain, so a health-check
// tick that keeps resolving the same candidates stays quiet (spec §4.3,
// §4.6 diagnostics).
func (s *Source) logIfChanged(domain string, candidates []string) {
	fp := fingerprint.OfStrings(candidates)

	s.fpMu.Lock()
	prev, seen := s.lastFingerprint[domain]
	s.lastFingerprint[domain] = fp
	s.fpMu.Unlock()

	if seen && prev == fp {
		return
	}
	log.Printf("[candidate] endpoint=%s candidates=%d fingerprint=%s", domain, len(candidates), fp)
}

// cachedFanOut short-circuits repeated fan-outs for the same domain within
// a small TTL window (e.g. back-to-back test runs), since the fan-out
// result is only ever merged with fresh DNS IPs and is not itself treated
// as authoritative.
func (s *Source) cachedFanOut(ctx context.Context, domain string) []string {
	if ips, ok := s.cache.Get(domain); ok {
		return ips
	}
	ips := s.fanOut(ctx, domain)
	s.cache.Set(domain, ips)
	return ips
}

func (s *Source) lookup(ctx context.Context, domain string) ([]string, error) {
	ips, err := s.resolver.LookupIP(ctx, "ip4", domain)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out, nil
}

func isCloudflare(ips []string) bool {
	for _, ip := range ips {
		for _, prefix := range cloudflarePrefixes {
			if strings.HasPrefix(ip, prefix) {
				return true
			}
		}
	}
	return false
}

// cloudflareBestList returns the cached CF-best list, fetching it once per
// process (spec §4.3 rule 3a) and falling back to the static list on any
// failure.
func (s *Source) cloudflareBestList(ctx context.Context) []string {
	s.cfListOnce.Do(func() {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		body, err := s.downloader.Download(fetchCtx, s.feedURL)
		if err != nil {
			s.cfList = fallbackCFIPs
			return
		}
		parsed := parseCFFeed(string(body))
		if len(parsed) == 0 {
			s.cfList = fallbackCFIPs
			return
		}
		s.cfList = parsed
	})
	return s.cfList
}

func parseCFFeed(body string) []string {
	var out []string
	body = strings.ReplaceAll(body, ",", "\n")
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if net.ParseIP(line) != nil {
			out = append(out, line)
		}
	}
	return out
}

// fanOut queries every configured public resolver in parallel with a
// per-query timeout, collecting all returned IPs within an overall budget
// (spec §4.3 rule 4).
func (s *Source) fanOut(ctx context.Context, domain string) []string {
	budgetCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	results := make(chan []string, len(s.fanoutResolvers))
	for _, r := range s.fanoutResolvers {
		go func(r resolverEndpoint) {
			queryCtx, cancel := context.WithTimeout(budgetCtx, 2*time.Second)
			defer cancel()
			results <- s.queryOne(queryCtx, r, domain)
		}(r)
	}

	var merged []string
	for range s.fanoutResolvers {
		select {
		case ips := <-results:
			merged = append(merged, ips...)
		case <-budgetCtx.Done():
			return dedupPreserve(merged)
		}
	}
	return dedupPreserve(merged)
}

func (s *Source) queryOne(ctx context.Context, r resolverEndpoint, domain string) []string {
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "udp", r.addr)
		},
	}
	ips, err := res.LookupIP(ctx, "ip4", domain)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out
}

func dedupPreserve(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}

func dedupCap(ips []string, max int) []string {
	deduped := dedupPreserve(ips)
	if len(deduped) > max {
		deduped = deduped[:max]
	}
	return deduped
}
