// Package tester orchestrates per-endpoint and batch latency testing: DNS
// resolution, original-IP probing, candidate enrichment, bounded-concurrency
// probing, and best-IP selection (spec §4.5).
package tester

import (
	"context"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/anyfast/anyfast-core/internal/candidate"
	"github.com/anyfast/anyfast-core/internal/geoipannotate"
	"github.com/anyfast/anyfast-core/internal/model"
	"github.com/anyfast/anyfast-core/internal/probe"
)

const (
	perEndpointConcurrency = 6
	candidatePhaseDeadline = 45 * time.Second
	dnsDeadline            = 10 * time.Second
	batchOuterConcurrency  = 6
	acquireTimeout         = 5 * time.Second
	collectionHeadroom     = 5 * time.Second
	collectionFloor        = 60 * time.Second
	collectionCeiling      = 180 * time.Second
)

// Tester runs latency tests against endpoints. A single instance is reused
// across test runs so the underlying Prober and candidate Source keep
// their shared, pre-built resources (spec §4.4 "Resource sharing").
type Tester struct {
	prober     *probe.Prober
	candidates *candidate.Source
	medianN    int
	annotator  *geoipannotate.Service

	cancel cancelFlag
}

// cancelFlag is a tiny cancellation flag, separate from context cancellation so
// StopSpeedTest can be called without plumbing a context through the
// façade (spec §4.5 "Cancellation").
type cancelFlag struct {
	mu        sync.Mutex
	cancelled bool
}

func (a *cancelFlag) set() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

func (a *cancelFlag) isSet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

func (a *cancelFlag) reset() {
	a.mu.Lock()
	a.cancelled = false
	a.mu.Unlock()
}

// New builds a Tester. medianN is clamped to [1,5] per probe invocation.
func New(prober *probe.Prober, candidates *candidate.Source, medianN int) *Tester {
	return &Tester{prober: prober, candidates: candidates, medianN: medianN}
}

// SetAnnotator attaches a GeoIP/ASN annotator used only to enrich the
// diagnostic log line emitted for each selected best IP. Optional: a
// Tester with no annotator set logs without the country/ASN fields.
func (t *Tester) SetAnnotator(a *geoipannotate.Service) {
	t.annotator = a
}

// Cancel requests that any in-flight or future probes in this Tester's
// current run return promptly (spec §4.5 "Cancellation").
func (t *Tester) Cancel() {
	t.cancel.set()
}

// ResetCancel clears a prior cancellation so the Tester can run again.
func (t *Tester) ResetCancel() {
	t.cancel.reset()
}

// Endpoint runs the full per-endpoint algorithm (spec §4.5).
func (t *Tester) Endpoint(ctx context.Context, ep model.Endpoint, preferredIPs []string) model.ProbeResult {
	if t.cancel.isSet() {
		return model.NewFailure(ep.Domain, "", "cancelled")
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsDeadline)
	dnsIPs, err := net.DefaultResolver.LookupIP(dnsCtx, "ip4", ep.Domain)
	cancel()
	if err != nil || len(dnsIPs) == 0 {
		reason := "no DNS answer"
		if err != nil {
			reason = err.Error()
		}
		return model.NewFailure(ep.Domain, "", reason)
	}
	originalIP := dnsIPs[0].String()

	originalResult := t.prober.MedianOfN(ctx, originalIP, ep.Domain, t.medianN)
	originalLatency := model.FailureLatencyMs
	if originalResult.Success {
		originalLatency = int(originalResult.LatencyMs)
	}

	candidates, err := t.candidates.Candidates(ctx, ep.Domain, preferredIPs)
	if err != nil || len(candidates) == 0 {
		candidates = []string{originalIP}
	}

	best, bestFound := t.probeCandidates(ctx, ep.Domain, candidates)

	switch {
	case bestFound:
		result := model.ProbeResult{
			Endpoint:          ep.Domain,
			IP:                best.ip,
			LatencyMs:         best.latencyMs,
			Success:           true,
			OriginalIP:        originalIP,
			OriginalLatencyMs: float64(originalLatency),
			UseOriginal:       best.ip == originalIP,
		}
		if float64(originalLatency) > 0 && float64(originalLatency) < model.FailureLatencyMs {
			result.SpeedupPercent = model.Speedup(float64(originalLatency), best.latencyMs)
		}
		t.logSelection(ep.Domain, best.ip, best.latencyMs)
		return result

	case originalResult.Success:
		result := model.ProbeResult{
			Endpoint:          ep.Domain,
			IP:                originalIP,
			LatencyMs:         originalResult.LatencyMs,
			Success:           true,
			OriginalIP:        originalIP,
			OriginalLatencyMs: originalResult.LatencyMs,
			UseOriginal:       true,
		}
		if len(preferredIPs) > 0 {
			result.Warning = "all preferred IPs failed; falling back to the original DNS IP"
			if !isCloudflareIP(originalIP) {
				result.Warning += " (not a Cloudflare host; little upside expected from IP pinning)"
			}
		}
		return result

	default:
		return model.NewFailure(ep.Domain, originalIP, "all timed out")
	}
}

type candidateResult struct {
	ip        string
	latencyMs float64
}

// logSelection emits a diagnostic log line for the chosen IP, enriched with
// country/ASN metadata when an annotator is configured.
func (t *Tester) logSelection(domain, ip string, latencyMs float64) {
	if t.annotator == nil {
		log.Printf("[tester] endpoint=%s ip=%s latency=%.1fms", domain, ip, latencyMs)
		return
	}
	a := t.annotator.Annotate(ip)
	log.Printf("[tester] endpoint=%s ip=%s latency=%.1fms country=%s asn=%q", domain, ip, latencyMs, a.Country, a.ASN)
}

// probeCandidates launches one probe task per candidate under a bounded
// semaphore with an overall deadline for the whole phase (spec §4.5 step 5).
func (t *Tester) probeCandidates(ctx context.Context, domain string, candidates []string) (candidateResult, bool) {
	phaseCtx, cancel := context.WithTimeout(ctx, candidatePhaseDeadline)
	defer cancel()

	sem := make(chan struct{}, perEndpointConcurrency)
	results := make(chan candidateResult, len(candidates))

	var wg sync.WaitGroup
	for _, ip := range candidates {
		if t.cancel.isSet() || phaseCtx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-phaseCtx.Done():
				return
			}
			if t.cancel.isSet() {
				return
			}
			r := t.prober.MedianOfN(phaseCtx, ip, domain, t.medianN)
			if r.Success {
				results <- candidateResult{ip: ip, latencyMs: r.LatencyMs}
			}
		}(ip)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var best candidateResult
	found := false
	for r := range results {
		if !found || r.latencyMs < best.latencyMs {
			best = r
			found = true
		}
	}
	return best, found
}

func isCloudflareIP(ip string) bool {
	for _, prefix := range []string{
		"104.16.", "104.17.", "104.18.", "104.19.", "104.20.", "104.21.",
		"104.22.", "104.23.", "104.24.", "104.25.", "104.26.", "104.27.",
		"172.67.", "162.159.",
	} {
		if len(ip) >= len(prefix) && ip[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Batch runs Endpoint for every endpoint under a global outer concurrency
// cap with a dynamic collection deadline, and returns a deterministically
// sorted result set (spec §4.5 "Batch algorithm").
func (t *Tester) Batch(ctx context.Context, endpoints []model.Endpoint, preferredIPs map[string][]string) []model.ProbeResult {
	n := len(endpoints)
	if n == 0 {
		return nil
	}
	concurrency := min(n, batchOuterConcurrency)

	deadline := collectionDeadline(n, concurrency)
	batchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	type indexedResult struct {
		idx int
		res model.ProbeResult
	}
	resultsCh := make(chan indexedResult, n)

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		acquireCtx, acquireCancel := context.WithTimeout(batchCtx, acquireTimeout)
		select {
		case sem <- struct{}{}:
			acquireCancel()
		case <-acquireCtx.Done():
			acquireCancel()
			continue // skip on acquire timeout, per spec §4.5 step 1
		}

		wg.Add(1)
		go func(i int, ep model.Endpoint) {
			defer wg.Done()
			defer func() { <-sem }()
			res := t.Endpoint(batchCtx, ep, preferredIPs[ep.Domain])
			resultsCh <- indexedResult{idx: i, res: res}
		}(i, ep)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	produced := make(map[int]model.ProbeResult, n)
loop:
	for {
		select {
		case ir, ok := <-resultsCh:
			if !ok {
				break loop
			}
			produced[ir.idx] = ir.res
		case <-batchCtx.Done():
			break loop
		}
	}

	out := make([]model.ProbeResult, 0, n)
	for i, ep := range endpoints {
		if res, ok := produced[i]; ok {
			out = append(out, res)
			continue
		}
		out = append(out, model.NewFailure(ep.Domain, "", "task crashed or timed out"))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Success != out[j].Success {
			return out[i].Success
		}
		return out[i].LatencyMs < out[j].LatencyMs
	})
	return out
}

func collectionDeadline(n, concurrency int) time.Duration {
	rounds := (n + concurrency - 1) / concurrency
	d := time.Duration(rounds)*(dnsDeadline+probe.Deadline+candidatePhaseDeadline) + 15*time.Second
	if d < collectionFloor {
		d = collectionFloor
	}
	if d > collectionCeiling {
		d = collectionCeiling
	}
	return d - collectionHeadroom
}
