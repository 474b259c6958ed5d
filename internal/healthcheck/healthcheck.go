// Package healthcheck implements the supervisor loop that re-verifies
// pinned IPs, detects sustained failure or severe degradation, and
// re-optimizes and re-pins atomically (spec §4.6).
package healthcheck

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/anyfast/anyfast-core/internal/baseline"
	"github.com/anyfast/anyfast-core/internal/model"
	"github.com/anyfast/anyfast-core/internal/probe"
	"github.com/anyfast/anyfast-core/internal/scanloop"
	"github.com/anyfast/anyfast-core/internal/tester"
)

const (
	failureWindowSize = 10
	severeWindowSize  = 5

	// Defensive floors (spec §4.6 "Defensive clamps").
	minCheckInterval    = 60 * time.Second
	minSlowThresholdPct = 100
	minFailureThreshold = 3

	silentWindow      = 120 * time.Second
	switchCooldown    = 30 * time.Minute
	fullTestCooldown  = 10 * time.Minute
	lightProbeWorkers = 6

	meaningfulImprovementPct    = 20
	meaningfulImprovementMs     = 50
	severeDegradationAbsoluteMs = 300
)

// Thresholds configures the classifier; values below the defensive floor
// are clamped up on Checker construction.
type Thresholds struct {
	CheckInterval    time.Duration
	SlowThresholdPct int
	FailureThreshold int
	MedianN          int
}

func (t Thresholds) clamp() Thresholds {
	if t.CheckInterval < minCheckInterval {
		t.CheckInterval = minCheckInterval
	}
	if t.SlowThresholdPct < minSlowThresholdPct {
		t.SlowThresholdPct = minSlowThresholdPct
	}
	if t.FailureThreshold < minFailureThreshold {
		t.FailureThreshold = minFailureThreshold
	}
	if t.MedianN < 1 {
		t.MedianN = 1
	}
	return t
}

// PinnedReader is the narrow broker surface the checker needs for reads.
type PinnedReader interface {
	ReadBinding(domain string) (string, bool, error)
}

// Writer is the narrow broker surface the checker needs for batch
// re-pinning and DNS flush.
type Writer interface {
	WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) error
	FlushDNS(ctx context.Context) error
}

// domainState holds everything the checker owns exclusively per domain
// (spec §3: "the health checker exclusively owns the counter/window maps").
type domainState struct {
	failureWindow       *boolWindow
	severeWindow        *boolWindow
	consecutiveFailures int
	pendingSwitchSince  time.Time
	lastSwitchTime      time.Time
	lastFullTestTime    time.Time
}

// Checker is the health-check supervisor. One instance per process; Run
// blocks until stopCh is closed.
type Checker struct {
	reader     PinnedReader
	writer     Writer
	prober     *probe.Prober
	testerFn   func() *tester.Tester
	baseline   *baseline.Map
	thresholds Thresholds

	endpointsFn func() []model.Endpoint
	preferredFn func() map[string][]string

	mu     sync.Mutex
	states map[string]*domainState

	onSwitch func(domain, newIP string, latencyMs float64)
	onDone   func(checked, switched int)
}

// New builds a Checker. endpointsFn and preferredFn are called fresh on
// every tick so configuration reloads take effect without restarting the
// loop (spec §4.6 step 1).
func New(
	reader PinnedReader,
	writer Writer,
	prober *probe.Prober,
	testerFn func() *tester.Tester,
	baseline *baseline.Map,
	thresholds Thresholds,
	endpointsFn func() []model.Endpoint,
	preferredFn func() map[string][]string,
) *Checker {
	return &Checker{
		reader:      reader,
		writer:      writer,
		prober:      prober,
		testerFn:    testerFn,
		baseline:    baseline,
		thresholds:  thresholds.clamp(),
		endpointsFn: endpointsFn,
		preferredFn: preferredFn,
		states:      make(map[string]*domainState),
	}
}

// OnSwitch registers a callback invoked once per authorized switch, after
// the batch write succeeds (spec §4.6 step 8 "one structured notification
// per switch").
func (c *Checker) OnSwitch(fn func(domain, newIP string, latencyMs float64)) {
	c.onSwitch = fn
}

// OnTickComplete registers a callback invoked once per tick with totals.
func (c *Checker) OnTickComplete(fn func(checked, switched int)) {
	c.onDone = fn
}

// Run executes the jittered tick loop until stopCh is closed.
func (c *Checker) Run(stopCh <-chan struct{}) {
	scanloop.Run(stopCh, c.thresholds.CheckInterval, c.thresholds.CheckInterval/4, func() {
		c.tick(context.Background())
	})
}

func (c *Checker) tick(ctx context.Context) {
	pinned := c.pinnedEndpoints()
	if len(pinned) == 0 {
		return
	}

	light := c.lightPhase(ctx, pinned)
	toSwitch := c.classify(light)
	switched := c.fullPhaseAndDecide(ctx, toSwitch)
	c.writeBatch(ctx, switched)

	if c.onDone != nil {
		c.onDone(len(pinned), len(switched))
	}
}

type pinnedEndpoint struct {
	endpoint model.Endpoint
	ip       string
}

// pinnedEndpoints enumerates configured endpoints that currently have a
// binding (spec §4.6 step 2).
func (c *Checker) pinnedEndpoints() []pinnedEndpoint {
	var out []pinnedEndpoint
	for _, ep := range c.endpointsFn() {
		ip, ok, err := c.reader.ReadBinding(ep.Domain)
		if err != nil || !ok {
			continue
		}
		out = append(out, pinnedEndpoint{endpoint: ep, ip: ip})
	}
	return out
}

type lightResult struct {
	endpoint model.Endpoint
	ip       string
	success  bool
	latency  float64
}

// lightPhase probes only the currently pinned IP of each endpoint under a
// bounded worker pool (spec §4.6 step 4).
func (c *Checker) lightPhase(ctx context.Context, pinned []pinnedEndpoint) []lightResult {
	sem := make(chan struct{}, lightProbeWorkers)
	out := make([]lightResult, len(pinned))

	var wg sync.WaitGroup
	for i, pe := range pinned {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, pe pinnedEndpoint) {
			defer wg.Done()
			defer func() { <-sem }()
			r := c.prober.MedianOfN(ctx, pe.ip, pe.endpoint.Domain, c.thresholds.MedianN)
			out[i] = lightResult{endpoint: pe.endpoint, ip: pe.ip, success: r.Success, latency: r.LatencyMs}
		}(i, pe)
	}
	wg.Wait()
	return out
}

// classify updates the per-domain counters/windows and decides which
// domains are authorized to re-optimize this tick (spec §4.6 step 5).
func (c *Checker) classify(light []lightResult) []model.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var authorized []model.Endpoint

	for _, lr := range light {
		domain := lr.endpoint.Domain
		st, ok := c.states[domain]
		if !ok {
			st = &domainState{
				failureWindow: newBoolWindow(failureWindowSize),
				severeWindow:  newBoolWindow(severeWindowSize),
			}
			c.states[domain] = st
		}

		st.failureWindow.push(!lr.success)
		if lr.success {
			st.consecutiveFailures = 0
		} else {
			st.consecutiveFailures++
		}

		severe := false
		if baselineMs, ok := c.baseline.Get(domain); ok && lr.success && baselineMs > 0 {
			threshold := baselineMs * (1 + float64(c.thresholds.SlowThresholdPct)/100)
			if lr.latency >= threshold && lr.latency-baselineMs >= severeDegradationAbsoluteMs {
				severe = true
			}
		}
		st.severeWindow.push(severe)
		if lr.success {
			c.baseline.Record(domain, lr.latency)
		}

		switchTriggered := (st.consecutiveFailures >= c.thresholds.FailureThreshold && st.failureWindow.countTrue() >= 7) ||
			st.severeWindow.countTrue() >= 3

		inCooldown := !st.lastSwitchTime.IsZero() && now.Sub(st.lastSwitchTime) < switchCooldown

		if !switchTriggered {
			st.pendingSwitchSince = time.Time{} // recovery clears the pending timer
			continue
		}

		if st.pendingSwitchSince.IsZero() {
			st.pendingSwitchSince = now // first tick: silent window starts, no switch yet
			continue
		}

		if now.Sub(st.pendingSwitchSince) >= silentWindow && !inCooldown {
			authorized = append(authorized, lr.endpoint)
		}
	}
	return authorized
}

type switchDecision struct {
	domain    string
	newIP     string
	latencyMs float64
}

// fullPhaseAndDecide runs a full test_endpoint for each authorized domain
// (subject to its own full-test cooldown) and applies the switch-decision
// rule (spec §4.6 steps 6-7).
func (c *Checker) fullPhaseAndDecide(ctx context.Context, authorized []model.Endpoint) []switchDecision {
	if len(authorized) == 0 {
		return nil
	}

	t := c.testerFn()
	preferred := c.preferredFn()
	now := time.Now()

	var decisions []switchDecision
	for _, ep := range authorized {
		c.mu.Lock()
		st := c.states[ep.Domain]
		if st != nil && !st.lastFullTestTime.IsZero() && now.Sub(st.lastFullTestTime) < fullTestCooldown {
			c.mu.Unlock()
			continue
		}
		if st != nil {
			st.lastFullTestTime = now
		}
		currentIP, _, _ := c.reader.ReadBinding(ep.Domain)
		c.mu.Unlock()

		result := t.Endpoint(ctx, ep, preferred[ep.Domain])
		if !result.Success {
			continue
		}
		if result.IP == currentIP {
			c.mu.Lock()
			if st != nil {
				st.consecutiveFailures = 0
			}
			c.mu.Unlock()
			continue
		}

		currentWorks := false
		if currentIP != "" {
			cr := c.prober.MedianOfN(ctx, currentIP, ep.Domain, c.thresholds.MedianN)
			currentWorks = cr.Success
			if currentWorks {
				improvementPct := model.Speedup(cr.LatencyMs, result.LatencyMs)
				improvementMs := cr.LatencyMs - result.LatencyMs
				if improvementPct <= meaningfulImprovementPct || improvementMs <= meaningfulImprovementMs {
					continue
				}
			}
		}
		decisions = append(decisions, switchDecision{domain: ep.Domain, newIP: result.IP, latencyMs: result.LatencyMs})
	}
	return decisions
}

// writeBatch collects all authorized switches into one broker batch write
// and flushes DNS once if anything was written (spec §4.6 step 8).
func (c *Checker) writeBatch(ctx context.Context, decisions []switchDecision) {
	if len(decisions) == 0 {
		return
	}

	bindings := make([]model.PinnedBinding, len(decisions))
	for i, d := range decisions {
		bindings[i] = model.PinnedBinding{Domain: d.domain, IP: d.newIP}
	}
	if err := c.writer.WriteBindingsBatch(ctx, bindings); err != nil {
		log.Printf("[healthcheck] batch write failed: %v", err)
		return
	}
	if err := c.writer.FlushDNS(ctx); err != nil {
		log.Printf("[healthcheck] flush dns failed: %v", err)
	}

	now := time.Now()
	c.mu.Lock()
	for _, d := range decisions {
		if st, ok := c.states[d.domain]; ok {
			st.lastSwitchTime = now
			st.pendingSwitchSince = time.Time{}
			st.consecutiveFailures = 0
		}
		c.baseline.Record(d.domain, d.latencyMs)
	}
	c.mu.Unlock()

	if c.onSwitch != nil {
		for _, d := range decisions {
			c.onSwitch(d.domain, d.newIP, d.latencyMs)
		}
	}
}
