// Package facade implements the stateless command surface consumed by
// external callers (a local HTTP API, a desktop UI, or a CLI): start/stop
// the tester, apply or clear pinned bindings, query privilege status, and
// read advisory diagnostics. It owns the shared result cache and the
// baseline-latency map (spec §6).
package facade

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/anyfast/anyfast-core/internal/baseline"
	"github.com/anyfast/anyfast-core/internal/buildinfo"
	"github.com/anyfast/anyfast-core/internal/history"
	"github.com/anyfast/anyfast-core/internal/model"
)

// BrokerClient is the narrow surface the façade needs from the privilege
// broker (internal/broker.Broker satisfies this).
type BrokerClient interface {
	WriteBinding(ctx context.Context, domain, ip string) error
	WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) error
	ClearBinding(ctx context.Context, domain string) error
	ClearBindingsBatch(ctx context.Context, domains []string) (int, error)
	FlushDNS(ctx context.Context) error
	ReadBinding(domain string) (string, bool, error)
	AllBindings() ([]model.PinnedBinding, error)
	HostsPath() string
	IsServiceRunning() bool
	RefreshServiceStatus(ctx context.Context) bool
	HasHelper() bool
	HelperAvailable() bool
	InstallHelper(ctx context.Context) error
}

// Tester is the narrow surface the façade needs from internal/tester.
type Tester interface {
	Endpoint(ctx context.Context, ep model.Endpoint, preferredIPs []string) model.ProbeResult
	Batch(ctx context.Context, endpoints []model.Endpoint, preferredIPs map[string][]string) []model.ProbeResult
	Cancel()
	ResetCancel()
}

// HealthSupervisor is the narrow surface the façade needs from
// internal/healthcheck to start/stop the supervisor loop on demand.
type HealthSupervisor interface {
	Run(stopCh <-chan struct{})
}

// HistoryStore is the narrow surface the façade needs from
// internal/history for the advisory history commands.
type HistoryStore interface {
	RecordApply(ctx context.Context, domain, ip string, latencyMs float64, at time.Time) error
	Stats(ctx context.Context, since time.Duration) (history.Stats, error)
	Clear(ctx context.Context) error
}

// UpdateInfo is the advisory response for check_for_update.
type UpdateInfo struct {
	CurrentVersion  string `json:"current_version"`
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
}

const singleEndpointTestDeadline = 30 * time.Second

// Facade is the command surface. A single instance is shared by all
// transports (HTTP API, CLI) that front it.
type Facade struct {
	broker   BrokerClient
	tester   Tester
	baseline *baseline.Map
	history  HistoryStore

	endpointsFn func() []model.Endpoint
	preferredFn func() map[string][]string

	healthMu     sync.Mutex
	healthCancel chan struct{}
	health       HealthSupervisor

	resultsCache *xsync.Map[string, model.ProbeResult]
}

// New builds a Facade. endpointsFn/preferredFn are called fresh on every
// command so a live config reload is reflected without restarting anything.
func New(
	broker BrokerClient,
	tester Tester,
	baseline *baseline.Map,
	history HistoryStore,
	health HealthSupervisor,
	endpointsFn func() []model.Endpoint,
	preferredFn func() map[string][]string,
) *Facade {
	return &Facade{
		broker:       broker,
		tester:       tester,
		baseline:     baseline,
		history:      history,
		health:       health,
		endpointsFn:  endpointsFn,
		preferredFn:  preferredFn,
		resultsCache: xsync.NewMap[string, model.ProbeResult](),
	}
}

// StartSpeedTest runs the batch tester over all configured endpoints,
// caches the results, and optionally updates the baseline map (spec §6
// "start_speed_test").
func (f *Facade) StartSpeedTest(ctx context.Context, updateBaseline bool) []model.ProbeResult {
	f.tester.ResetCancel()
	results := f.tester.Batch(ctx, f.endpointsFn(), f.preferredFn())
	for _, r := range results {
		f.resultsCache.Store(r.Endpoint, r)
		if updateBaseline && r.Success {
			f.baseline.Record(r.Endpoint, r.LatencyMs)
		}
	}
	return results
}

// StopSpeedTest requests that any in-flight batch test stop early (spec §6
// "stop_speed_test").
func (f *Facade) StopSpeedTest() {
	f.tester.Cancel()
}

// TestSingleEndpoint runs a single-endpoint test under a 30-second hard cap
// (spec §6 "test_single_endpoint") and updates the cache and baseline.
func (f *Facade) TestSingleEndpoint(ctx context.Context, ep model.Endpoint) model.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, singleEndpointTestDeadline)
	defer cancel()

	result := f.tester.Endpoint(ctx, ep, f.preferredFn()[ep.Domain])
	f.resultsCache.Store(ep.Domain, result)
	if result.Success {
		f.baseline.Record(ep.Domain, result.LatencyMs)
	}
	return result
}

// ApplyEndpoint upserts one pinned binding, flushes DNS, and updates the
// baseline (spec §6 "apply_endpoint").
func (f *Facade) ApplyEndpoint(ctx context.Context, domain, ip string, latencyMs *float64) error {
	if err := f.broker.WriteBinding(ctx, domain, ip); err != nil {
		return fmt.Errorf("apply_endpoint: %w", err)
	}
	if err := f.broker.FlushDNS(ctx); err != nil {
		log.Printf("[facade] apply_endpoint: flush dns: %v", err)
	}
	latency := 0.0
	if latencyMs != nil {
		latency = *latencyMs
		f.baseline.Record(domain, latency)
	}
	if f.history != nil {
		if err := f.history.RecordApply(ctx, domain, ip, latency, time.Now()); err != nil {
			return fmt.Errorf("apply_endpoint: history: %w", err)
		}
	}
	return nil
}

// ApplyAllEndpoints batch-upserts the best successful result per domain
// from the cached result set, flushes DNS once, updates baselines, and
// appends one history record per applied binding (spec §6
// "apply_all_endpoints").
func (f *Facade) ApplyAllEndpoints(ctx context.Context) (int, error) {
	var bindings []model.PinnedBinding
	var applied []model.ProbeResult
	f.resultsCache.Range(func(domain string, r model.ProbeResult) bool {
		if r.Success {
			bindings = append(bindings, model.PinnedBinding{Domain: r.Endpoint, IP: r.IP})
			applied = append(applied, r)
		}
		return true
	})
	if len(bindings) == 0 {
		return 0, nil
	}

	if err := f.broker.WriteBindingsBatch(ctx, bindings); err != nil {
		return 0, fmt.Errorf("apply_all_endpoints: %w", err)
	}
	if err := f.broker.FlushDNS(ctx); err != nil {
		log.Printf("[facade] apply_all_endpoints: flush dns: %v", err)
	}

	now := time.Now()
	for _, r := range applied {
		f.baseline.Record(r.Endpoint, r.LatencyMs)
		if f.history != nil {
			_ = f.history.RecordApply(ctx, r.Endpoint, r.IP, r.LatencyMs, now)
		}
	}
	return len(bindings), nil
}

// ClearAllBindings drops the managed block entries for every configured
// domain (spec §6 "clear_all_bindings").
func (f *Facade) ClearAllBindings(ctx context.Context) (int, error) {
	endpoints := f.endpointsFn()
	domains := make([]string, len(endpoints))
	for i, ep := range endpoints {
		domains[i] = ep.Domain
	}
	return f.broker.ClearBindingsBatch(ctx, domains)
}

// UnbindEndpoint removes one managed binding (spec §6 "unbind_endpoint").
func (f *Facade) UnbindEndpoint(ctx context.Context, domain string) error {
	return f.broker.ClearBinding(ctx, domain)
}

// GetBindings returns the current pinned state (spec §6 "get_bindings").
func (f *Facade) GetBindings() ([]model.PinnedBinding, error) {
	return f.broker.AllBindings()
}

// GetBindingCount reports how many bindings are currently pinned (spec §6
// "get_binding_count").
func (f *Facade) GetBindingCount() (int, error) {
	bindings, err := f.broker.AllBindings()
	if err != nil {
		return 0, err
	}
	return len(bindings), nil
}

// HasAnyBindings reports whether at least one binding is pinned (spec §6
// "has_any_bindings").
func (f *Facade) HasAnyBindings() (bool, error) {
	n, err := f.GetBindingCount()
	return n > 0, err
}

// PermissionStatus summarizes the broker's privilege-introspection view
// (spec §6 "get_permission_status").
type PermissionStatus struct {
	ServiceRunning  bool `json:"service_running"`
	HasHelper       bool `json:"has_helper"`
	HelperAvailable bool `json:"helper_available"`
}

// GetPermissionStatus reports the current privilege picture without
// forcing a fresh service probe.
func (f *Facade) GetPermissionStatus() PermissionStatus {
	return PermissionStatus{
		ServiceRunning:  f.broker.IsServiceRunning(),
		HasHelper:       f.broker.HasHelper(),
		HelperAvailable: f.broker.HelperAvailable(),
	}
}

// RefreshServiceStatus re-probes the privileged service (spec §6
// "refresh_service_status").
func (f *Facade) RefreshServiceStatus(ctx context.Context) bool {
	return f.broker.RefreshServiceStatus(ctx)
}

// IsServiceRunning reports the cached service-usable belief (spec §6
// "is_service_running").
func (f *Facade) IsServiceRunning() bool {
	return f.broker.IsServiceRunning()
}

// HasBundledHelper reports whether this build carries a setuid helper
// mechanism at all (spec §6 "has_bundled_helper").
func (f *Facade) HasBundledHelper() bool {
	return f.broker.HasHelper()
}

// IsMacOSHelperAvailable reports whether the setuid helper is installed and
// invocable right now (spec §6 "is_macos_helper_available").
func (f *Facade) IsMacOSHelperAvailable() bool {
	return f.broker.HelperAvailable()
}

// GetHostsPath returns the path of the managed hosts file (spec §6
// "get_hosts_path").
func (f *Facade) GetHostsPath() string {
	return f.broker.HostsPath()
}

// InstallMacOSHelper performs the one-shot setuid-helper install (spec §6
// "install_macos_helper").
func (f *Facade) InstallMacOSHelper(ctx context.Context) error {
	return f.broker.InstallHelper(ctx)
}

// StartHealthChecker starts the health-check supervisor loop in the
// background; a call while one is already running does nothing.
func (f *Facade) StartHealthChecker() {
	f.healthMu.Lock()
	defer f.healthMu.Unlock()
	if f.healthCancel != nil {
		return
	}
	stopCh := make(chan struct{})
	f.healthCancel = stopCh
	go f.health.Run(stopCh)
}

// StopHealthChecker stops the health-check supervisor loop if running.
func (f *Facade) StopHealthChecker() {
	f.healthMu.Lock()
	defer f.healthMu.Unlock()
	if f.healthCancel == nil {
		return
	}
	close(f.healthCancel)
	f.healthCancel = nil
}

// GetHistoryStats reports advisory history stats over the given lookback
// window in hours (spec §6 "get_history_stats").
func (f *Facade) GetHistoryStats(ctx context.Context, hours int) (history.Stats, error) {
	if f.history == nil {
		return history.Stats{}, nil
	}
	return f.history.Stats(ctx, time.Duration(hours)*time.Hour)
}

// ClearHistory wipes the advisory history store (spec §6 "clear_history").
func (f *Facade) ClearHistory(ctx context.Context) error {
	if f.history == nil {
		return nil
	}
	return f.history.Clear(ctx)
}

// GetCurrentVersion reports the build-time-injected version string (spec
// §6 "get_current_version").
func (f *Facade) GetCurrentVersion() string {
	return buildinfo.Version
}

// CheckForUpdate is advisory-only: this module does not reach out to any
// update server, so it always reports the current version as up to date.
func (f *Facade) CheckForUpdate() UpdateInfo {
	return UpdateInfo{
		CurrentVersion:  buildinfo.Version,
		LatestVersion:   buildinfo.Version,
		UpdateAvailable: false,
	}
}
