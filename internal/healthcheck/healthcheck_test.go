package healthcheck

import (
	"context"
	"testing"

	"github.com/anyfast/anyfast-core/internal/baseline"
	"github.com/anyfast/anyfast-core/internal/model"
)

type fakeWriter struct {
	written  []model.PinnedBinding
	flushed  int
	writeErr error
}

func (f *fakeWriter) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, bindings...)
	return nil
}

func (f *fakeWriter) FlushDNS(ctx context.Context) error {
	f.flushed++
	return nil
}

func newTestChecker() *Checker {
	return &Checker{
		baseline:   baseline.New(),
		thresholds: Thresholds{CheckInterval: minCheckInterval, SlowThresholdPct: minSlowThresholdPct, FailureThreshold: minFailureThreshold, MedianN: 3}.clamp(),
		states:     make(map[string]*domainState),
	}
}

func TestClassify_FailureThresholdStartsSilentWindow(t *testing.T) {
	c := newTestChecker()
	ep := model.Endpoint{Domain: "example.com"}

	results := []lightResult{{endpoint: ep, ip: "1.1.1.1", success: false}}
	// failureWindowSize's majority (7 of 10) must fail before switchTriggered
	// fires; the first tick past that threshold only starts the silent
	// window timer, it does not authorize a switch yet.
	for i := 0; i < 7; i++ {
		authorized := c.classify(results)
		if len(authorized) != 0 {
			t.Fatalf("iteration %d: expected no authorization yet (silent window), got %v", i, authorized)
		}
	}

	st := c.states["example.com"]
	if st.pendingSwitchSince.IsZero() {
		t.Fatal("expected pendingSwitchSince to be set once switchTriggered became true")
	}
}

func TestClassify_RecoveryClearsPendingSwitch(t *testing.T) {
	c := newTestChecker()
	ep := model.Endpoint{Domain: "example.com"}

	failing := []lightResult{{endpoint: ep, ip: "1.1.1.1", success: false}}
	for i := 0; i < 7; i++ {
		c.classify(failing)
	}
	if c.states["example.com"].pendingSwitchSince.IsZero() {
		t.Fatal("expected pending switch timer to be set")
	}

	recovering := []lightResult{{endpoint: ep, ip: "1.1.1.1", success: true, latency: 50}}
	c.classify(recovering)

	if !c.states["example.com"].pendingSwitchSince.IsZero() {
		t.Fatal("expected a successful probe to clear the pending switch timer")
	}
	if c.states["example.com"].consecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0 after success", c.states["example.com"].consecutiveFailures)
	}
}

func TestClassify_SuccessRecordsBaseline(t *testing.T) {
	c := newTestChecker()
	ep := model.Endpoint{Domain: "example.com"}

	c.classify([]lightResult{{endpoint: ep, ip: "1.1.1.1", success: true, latency: 42}})

	got, ok := c.baseline.Get("example.com")
	if !ok || got != 42 {
		t.Fatalf("baseline.Get() = (%v, %v), want (42, true)", got, ok)
	}
}

func TestWriteBatch_FlushesOnceAndClearsState(t *testing.T) {
	c := newTestChecker()
	c.states["example.com"] = &domainState{
		failureWindow: newBoolWindow(failureWindowSize),
		severeWindow:  newBoolWindow(severeWindowSize),
	}
	w := &fakeWriter{}
	c.writer = w

	var switched []string
	c.OnSwitch(func(domain, ip string, latencyMs float64) { switched = append(switched, domain) })

	c.writeBatch(context.Background(), []switchDecision{{domain: "example.com", newIP: "2.2.2.2", latencyMs: 30}})

	if len(w.written) != 1 || w.written[0].IP != "2.2.2.2" {
		t.Fatalf("written = %+v, want one binding to 2.2.2.2", w.written)
	}
	if w.flushed != 1 {
		t.Fatalf("flushed = %d, want 1", w.flushed)
	}
	if got, ok := c.baseline.Get("example.com"); !ok || got != 30 {
		t.Fatalf("baseline after switch = (%v,%v), want (30,true)", got, ok)
	}
	if len(switched) != 1 || switched[0] != "example.com" {
		t.Fatalf("OnSwitch callback domains = %v, want [example.com]", switched)
	}
}

func TestWriteBatch_NoOpWhenEmpty(t *testing.T) {
	c := newTestChecker()
	w := &fakeWriter{}
	c.writer = w

	c.writeBatch(context.Background(), nil)

	if len(w.written) != 0 || w.flushed != 0 {
		t.Fatal("expected no writes or flush for an empty decision set")
	}
}

func TestThresholds_Clamp(t *testing.T) {
	got := Thresholds{}.clamp()
	if got.CheckInterval != minCheckInterval {
		t.Errorf("CheckInterval = %v, want floor %v", got.CheckInterval, minCheckInterval)
	}
	if got.SlowThresholdPct != minSlowThresholdPct {
		t.Errorf("SlowThresholdPct = %d, want floor %d", got.SlowThresholdPct, minSlowThresholdPct)
	}
	if got.FailureThreshold != minFailureThreshold {
		t.Errorf("FailureThreshold = %d, want floor %d", got.FailureThreshold, minFailureThreshold)
	}
	if got.MedianN != 1 {
		t.Errorf("MedianN = %d, want floor 1", got.MedianN)
	}
}
