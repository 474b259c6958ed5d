// Package broker provides the same operation set as internal/hostsio to
// callers that may or may not hold file-write privilege on the hosts path,
// hiding the mechanism behind a single Broker facade (spec §4.2).
//
// Mechanisms, in declared preference order for each call:
//
//  1. A persistent local privileged service, reached over a named pipe
//     (internal/pipesvc), if it is believed running.
//  2. A setuid child helper at a well-known install path, on platforms that
//     have one.
//  3. The in-process hostsio.Manager directly.
//
// A sum type {UseService, UseHelper, Direct} is matched explicitly rather
// than modeled as a trait-object hierarchy: a single call inspects
// mechanism availability in a fixed order and short-circuits (spec §9).
package broker

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/model"
)

// Mechanism identifies which channel served a call.
type Mechanism int

const (
	MechanismService Mechanism = iota
	MechanismHelper
	MechanismDirect
)

func (m Mechanism) String() string {
	switch m {
	case MechanismService:
		return "service"
	case MechanismHelper:
		return "helper"
	default:
		return "direct"
	}
}

// ServiceClient is the narrow surface the broker needs from the named-pipe
// RPC client (internal/pipesvc). Implemented by *pipesvc.Client; a nil
// ServiceClient means this platform/build has no service mechanism.
type ServiceClient interface {
	Ping(ctx context.Context) error
	WriteBinding(ctx context.Context, domain, ip string) error
	WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) (int, error)
	ClearBinding(ctx context.Context, domain string) error
	ClearBindingsBatch(ctx context.Context, domains []string) (int, error)
	FlushDNS(ctx context.Context) error
}

// HelperRunner is the narrow surface the broker needs from the setuid
// helper invocation (internal/broker's platform-specific helper_*.go). A
// nil HelperRunner means this platform has no helper mechanism.
type HelperRunner interface {
	Available() bool
	WriteBinding(domain, ip string) error
	WriteBindingsBatch(bindings []model.PinnedBinding) error
	ClearBinding(domain string) error
	ClearBindingsBatch(domains []string) error
	FlushDNS() error
}

// Broker is stateless except for an atomic cached flag indicating "the
// remote service is believed usable" (spec §3, §9): process-global, lazily
// initialized on first use, invalidated on any remote call failure, and
// explicitly refreshable on demand.
type Broker struct {
	direct  *hostsio.Manager
	service ServiceClient
	helper  HelperRunner

	// serviceUsable: 0 = unknown (not yet probed), 1 = usable, -1 = unusable.
	serviceUsable atomic.Int32
}

const (
	statusUnknown  int32 = 0
	statusUsable   int32 = 1
	statusUnusable int32 = -1
)

// New builds a Broker. service and helper may be nil on platforms/builds
// that lack the corresponding mechanism; Direct is always available.
func New(direct *hostsio.Manager, service ServiceClient, helper HelperRunner) *Broker {
	return &Broker{direct: direct, service: service, helper: helper}
}

// RefreshServiceStatus clears the cached flag and reprobes the service with
// a Ping, updating the cache. It is the only way to re-attempt the service
// after it was marked unavailable.
func (b *Broker) RefreshServiceStatus(ctx context.Context) bool {
	if b.service == nil {
		b.serviceUsable.Store(statusUnusable)
		return false
	}
	if err := b.service.Ping(ctx); err != nil {
		b.serviceUsable.Store(statusUnusable)
		return false
	}
	b.serviceUsable.Store(statusUsable)
	return true
}

// IsServiceRunning reports the cached belief without making a network call.
func (b *Broker) IsServiceRunning() bool {
	return b.serviceUsable.Load() == statusUsable
}

func (b *Broker) serviceBelievedUsable(ctx context.Context) bool {
	switch b.serviceUsable.Load() {
	case statusUsable:
		return true
	case statusUnusable:
		return false
	default:
		return b.RefreshServiceStatus(ctx)
	}
}

func (b *Broker) markServiceUnusable() {
	b.serviceUsable.Store(statusUnusable)
}

// WriteBinding upserts a single binding, trying mechanisms in order.
func (b *Broker) WriteBinding(ctx context.Context, domain, ip string) error {
	callID := uuid.NewString()
	if b.service != nil && b.serviceBelievedUsable(ctx) {
		if err := b.service.WriteBinding(ctx, domain, ip); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s service write_binding failed, falling back: %v", callID, err)
			b.markServiceUnusable()
		}
	}
	if b.helper != nil && b.helper.Available() {
		if err := b.helper.WriteBinding(domain, ip); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s helper write_binding failed, falling back: %v", callID, err)
		}
	}
	return b.direct.Write(domain, ip)
}

// WriteBindingsBatch upserts many bindings in one call.
func (b *Broker) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) error {
	callID := uuid.NewString()
	if len(bindings) == 0 {
		return nil
	}
	if b.service != nil && b.serviceBelievedUsable(ctx) {
		if _, err := b.service.WriteBindingsBatch(ctx, bindings); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s service write_bindings_batch failed, falling back: %v", callID, err)
			b.markServiceUnusable()
		}
	}
	if b.helper != nil && b.helper.Available() {
		if err := b.helper.WriteBindingsBatch(bindings); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s helper write_bindings_batch failed, falling back: %v", callID, err)
		}
	}
	return b.direct.WriteBatch(bindings)
}

// ClearBinding removes a single managed binding.
func (b *Broker) ClearBinding(ctx context.Context, domain string) error {
	callID := uuid.NewString()
	if b.service != nil && b.serviceBelievedUsable(ctx) {
		if err := b.service.ClearBinding(ctx, domain); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s service clear_binding failed, falling back: %v", callID, err)
			b.markServiceUnusable()
		}
	}
	if b.helper != nil && b.helper.Available() {
		if err := b.helper.ClearBinding(domain); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s helper clear_binding failed, falling back: %v", callID, err)
		}
	}
	return b.direct.Clear(domain)
}

// ClearBindingsBatch removes many managed bindings, returning the count
// actually removed. When the setuid helper serves the call, the result is
// len(domains): the helper does not report how many bindings it removed.
func (b *Broker) ClearBindingsBatch(ctx context.Context, domains []string) (int, error) {
	callID := uuid.NewString()
	if len(domains) == 0 {
		return 0, nil
	}
	if b.service != nil && b.serviceBelievedUsable(ctx) {
		if n, err := b.service.ClearBindingsBatch(ctx, domains); err == nil {
			return n, nil
		} else {
			log.Printf("[broker] call=%s service clear_bindings_batch failed, falling back: %v", callID, err)
			b.markServiceUnusable()
		}
	}
	if b.helper != nil && b.helper.Available() {
		if err := b.helper.ClearBindingsBatch(domains); err == nil {
			return len(domains), nil
		} else {
			log.Printf("[broker] call=%s helper clear_bindings_batch failed, falling back: %v", callID, err)
		}
	}
	return b.direct.ClearBatch(domains)
}

// FlushDNS invokes the OS DNS cache flush via the first successful
// mechanism.
func (b *Broker) FlushDNS(ctx context.Context) error {
	callID := uuid.NewString()
	if b.service != nil && b.serviceBelievedUsable(ctx) {
		if err := b.service.FlushDNS(ctx); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s service flush_dns failed, falling back: %v", callID, err)
			b.markServiceUnusable()
		}
	}
	if b.helper != nil && b.helper.Available() {
		if err := b.helper.FlushDNS(); err == nil {
			return nil
		} else {
			log.Printf("[broker] call=%s helper flush_dns failed, falling back: %v", callID, err)
		}
	}
	return b.direct.FlushDNS()
}

// ReadBinding is always direct: reading the hosts file does not require
// elevated privilege (spec §4.2 "Read path").
func (b *Broker) ReadBinding(domain string) (string, bool, error) {
	return b.direct.Read(domain)
}

// AllBindings is always direct, same rationale as ReadBinding.
func (b *Broker) AllBindings() ([]model.PinnedBinding, error) {
	return b.direct.AllBindings()
}

// HostsPath returns the filesystem path of the managed hosts file; reading
// the path is not privileged, so this is always direct.
func (b *Broker) HostsPath() string {
	return b.direct.Path()
}

// HasHelper reports whether this build/platform has a setuid helper
// mechanism at all (spec §6 "has_bundled_helper").
func (b *Broker) HasHelper() bool {
	return b.helper != nil
}

// HelperAvailable reports whether the setuid helper is installed and
// invocable right now (spec §6 "is_macos_helper_available").
func (b *Broker) HelperAvailable() bool {
	return b.helper != nil && b.helper.Available()
}

// InstallHelper performs the one-shot install of the bundled setuid helper
// (spec §6 "install_macos_helper"). No-op mechanism on platforms without a
// helper: installHelper always fails there.
func (b *Broker) InstallHelper(ctx context.Context) error {
	return installHelper()
}

// ErrPermissionDenied is re-exported so callers can errors.Is against the
// broker without importing hostsio directly.
var ErrPermissionDenied = hostsio.ErrPermissionDenied
