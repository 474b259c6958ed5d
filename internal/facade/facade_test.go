package facade

import (
	"context"
	"testing"
	"time"

	"github.com/anyfast/anyfast-core/internal/baseline"
	"github.com/anyfast/anyfast-core/internal/model"
)

type fakeBroker struct {
	bindings        map[string]string
	flushCount      int
	serviceRunning  bool
	hasHelper       bool
	helperAvailable bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{bindings: make(map[string]string)}
}

func (b *fakeBroker) WriteBinding(ctx context.Context, domain, ip string) error {
	b.bindings[domain] = ip
	return nil
}

func (b *fakeBroker) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) error {
	for _, bd := range bindings {
		b.bindings[bd.Domain] = bd.IP
	}
	return nil
}

func (b *fakeBroker) ClearBinding(ctx context.Context, domain string) error {
	delete(b.bindings, domain)
	return nil
}

func (b *fakeBroker) ClearBindingsBatch(ctx context.Context, domains []string) (int, error) {
	n := 0
	for _, d := range domains {
		if _, ok := b.bindings[d]; ok {
			delete(b.bindings, d)
			n++
		}
	}
	return n, nil
}

func (b *fakeBroker) FlushDNS(ctx context.Context) error {
	b.flushCount++
	return nil
}

func (b *fakeBroker) ReadBinding(domain string) (string, bool, error) {
	ip, ok := b.bindings[domain]
	return ip, ok, nil
}

func (b *fakeBroker) AllBindings() ([]model.PinnedBinding, error) {
	out := make([]model.PinnedBinding, 0, len(b.bindings))
	for d, ip := range b.bindings {
		out = append(out, model.PinnedBinding{Domain: d, IP: ip})
	}
	return out, nil
}

func (b *fakeBroker) HostsPath() string                             { return "/etc/hosts" }
func (b *fakeBroker) IsServiceRunning() bool                        { return b.serviceRunning }
func (b *fakeBroker) RefreshServiceStatus(ctx context.Context) bool { return b.serviceRunning }
func (b *fakeBroker) HasHelper() bool                               { return b.hasHelper }
func (b *fakeBroker) HelperAvailable() bool                         { return b.helperAvailable }
func (b *fakeBroker) InstallHelper(ctx context.Context) error       { return nil }

type fakeTester struct {
	endpointResult model.ProbeResult
	batchResults   []model.ProbeResult
}

func (t *fakeTester) Endpoint(ctx context.Context, ep model.Endpoint, preferredIPs []string) model.ProbeResult {
	return t.endpointResult
}

func (t *fakeTester) Batch(ctx context.Context, endpoints []model.Endpoint, preferredIPs map[string][]string) []model.ProbeResult {
	return t.batchResults
}

func (t *fakeTester) Cancel()      {}
func (t *fakeTester) ResetCancel() {}

func newTestFacade(broker *fakeBroker, tester *fakeTester) *Facade {
	endpoints := []model.Endpoint{{Name: "A", Domain: "a.example.com"}, {Name: "B", Domain: "b.example.com"}}
	return New(broker, tester, baseline.New(), nil, nil, func() []model.Endpoint { return endpoints }, func() map[string][]string { return nil })
}

func TestApplyEndpoint_WritesFlushesAndRecordsBaseline(t *testing.T) {
	broker := newFakeBroker()
	f := newTestFacade(broker, &fakeTester{})

	latency := 42.0
	if err := f.ApplyEndpoint(context.Background(), "a.example.com", "1.2.3.4", &latency); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if broker.bindings["a.example.com"] != "1.2.3.4" {
		t.Fatalf("binding not written: %v", broker.bindings)
	}
	if broker.flushCount != 1 {
		t.Fatalf("flushCount = %d, want 1", broker.flushCount)
	}
	if got, ok := f.baseline.Get("a.example.com"); !ok || got != 42 {
		t.Fatalf("baseline = (%v,%v), want (42,true)", got, ok)
	}
}

func TestApplyAllEndpoints_OnlyAppliesSuccesses(t *testing.T) {
	broker := newFakeBroker()
	f := newTestFacade(broker, &fakeTester{})

	f.resultsCache.Store("a.example.com", model.ProbeResult{Endpoint: "a.example.com", IP: "1.1.1.1", Success: true, LatencyMs: 20})
	f.resultsCache.Store("b.example.com", model.ProbeResult{Endpoint: "b.example.com", Success: false})

	n, err := f.ApplyAllEndpoints(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("applied count = %d, want 1", n)
	}
	if broker.bindings["a.example.com"] != "1.1.1.1" {
		t.Fatalf("expected a.example.com pinned, got %v", broker.bindings)
	}
	if _, ok := broker.bindings["b.example.com"]; ok {
		t.Fatal("b.example.com should not have been pinned (failed result)")
	}
}

func TestClearAllBindings_UsesConfiguredDomains(t *testing.T) {
	broker := newFakeBroker()
	broker.bindings["a.example.com"] = "1.1.1.1"
	broker.bindings["b.example.com"] = "2.2.2.2"
	broker.bindings["untracked.example.com"] = "3.3.3.3"
	f := newTestFacade(broker, &fakeTester{})

	n, err := f.ClearAllBindings(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("cleared count = %d, want 2", n)
	}
	if _, ok := broker.bindings["untracked.example.com"]; !ok {
		t.Fatal("untracked domain should not have been cleared")
	}
}

func TestGetPermissionStatus_ReflectsBroker(t *testing.T) {
	broker := newFakeBroker()
	broker.serviceRunning = true
	broker.hasHelper = true
	broker.helperAvailable = false
	f := newTestFacade(broker, &fakeTester{})

	got := f.GetPermissionStatus()
	want := PermissionStatus{ServiceRunning: true, HasHelper: true, HelperAvailable: false}
	if got != want {
		t.Fatalf("GetPermissionStatus() = %+v, want %+v", got, want)
	}
}

func TestHealthCheckerStartStop_Idempotent(t *testing.T) {
	broker := newFakeBroker()
	runs := make(chan struct{}, 1)
	supervisor := supervisorFunc(func(stopCh <-chan struct{}) {
		runs <- struct{}{}
		<-stopCh
	})
	f := New(broker, &fakeTester{}, baseline.New(), nil, supervisor, func() []model.Endpoint { return nil }, func() map[string][]string { return nil })

	f.StartHealthChecker()
	f.StartHealthChecker() // second call must be a no-op, not a second goroutine

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("expected supervisor to start")
	}

	f.StopHealthChecker()
	f.StopHealthChecker() // idempotent
}

type supervisorFunc func(stopCh <-chan struct{})

func (f supervisorFunc) Run(stopCh <-chan struct{}) { f(stopCh) }
