package broker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/model"
)

type fakeService struct {
	pingErr  error
	writeErr error
	writes   []model.PinnedBinding
}

func (f *fakeService) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeService) WriteBinding(ctx context.Context, domain, ip string) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, model.PinnedBinding{Domain: domain, IP: ip})
	return nil
}
func (f *fakeService) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) (int, error) {
	return len(bindings), f.writeErr
}
func (f *fakeService) ClearBinding(ctx context.Context, domain string) error { return f.writeErr }
func (f *fakeService) ClearBindingsBatch(ctx context.Context, domains []string) (int, error) {
	return len(domains), f.writeErr
}
func (f *fakeService) FlushDNS(ctx context.Context) error { return f.writeErr }

type fakeHelper struct {
	available bool
	writeErr  error
	writes    []model.PinnedBinding
}

func (h *fakeHelper) Available() bool { return h.available }
func (h *fakeHelper) WriteBinding(domain, ip string) error {
	if h.writeErr != nil {
		return h.writeErr
	}
	h.writes = append(h.writes, model.PinnedBinding{Domain: domain, IP: ip})
	return nil
}
func (h *fakeHelper) WriteBindingsBatch(bindings []model.PinnedBinding) error { return h.writeErr }
func (h *fakeHelper) ClearBinding(domain string) error                        { return h.writeErr }
func (h *fakeHelper) ClearBindingsBatch(domains []string) error               { return h.writeErr }
func (h *fakeHelper) FlushDNS() error                                         { return h.writeErr }

func newTestBroker(t *testing.T, service ServiceClient, helper HelperRunner) *Broker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	direct := hostsio.NewAtPath(path)
	return New(direct, service, helper)
}

func TestWriteBinding_PrefersService(t *testing.T) {
	svc := &fakeService{}
	b := newTestBroker(t, svc, nil)
	b.RefreshServiceStatus(context.Background())

	if err := b.WriteBinding(context.Background(), "example.com", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(svc.writes) != 1 {
		t.Fatalf("expected the service to receive the write, got %d writes", len(svc.writes))
	}
}

func TestWriteBinding_FallsBackToHelperOnServiceFailure(t *testing.T) {
	svc := &fakeService{writeErr: errors.New("pipe broken")}
	helper := &fakeHelper{available: true}
	b := newTestBroker(t, svc, helper)
	b.RefreshServiceStatus(context.Background())

	if err := b.WriteBinding(context.Background(), "example.com", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(helper.writes) != 1 {
		t.Fatalf("expected the helper to receive the write after service failure, got %d writes", len(helper.writes))
	}
	if b.IsServiceRunning() {
		t.Fatal("a failed write must mark the service unusable")
	}
}

func TestWriteBinding_FallsBackToDirectWhenNoMechanismAvailable(t *testing.T) {
	b := newTestBroker(t, nil, nil)

	if err := b.WriteBinding(context.Background(), "example.com", "1.2.3.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ip, ok, err := b.ReadBinding("example.com")
	if err != nil || !ok || ip != "1.2.3.4" {
		t.Fatalf("expected direct write to have landed, got (%q, %v, %v)", ip, ok, err)
	}
}

func TestRefreshServiceStatus_NilService(t *testing.T) {
	b := newTestBroker(t, nil, nil)
	if b.RefreshServiceStatus(context.Background()) {
		t.Fatal("a nil service must never be reported usable")
	}
	if b.IsServiceRunning() {
		t.Fatal("IsServiceRunning must agree with RefreshServiceStatus")
	}
}

func TestHasHelper_HelperAvailable(t *testing.T) {
	b := newTestBroker(t, nil, nil)
	if b.HasHelper() || b.HelperAvailable() {
		t.Fatal("no helper mechanism configured, both must report false")
	}

	helper := &fakeHelper{available: false}
	b = newTestBroker(t, nil, helper)
	if !b.HasHelper() {
		t.Fatal("expected HasHelper=true once a HelperRunner is configured")
	}
	if b.HelperAvailable() {
		t.Fatal("expected HelperAvailable=false: the fake helper is not Available")
	}
}
