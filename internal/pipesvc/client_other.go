//go:build !windows

package pipesvc

import (
	"context"
	"errors"

	"github.com/anyfast/anyfast-core/internal/model"
)

// ErrNoService is returned by every Client method on platforms with no
// named-pipe service (spec §4.2: the privileged service is Windows-only).
var ErrNoService = errors.New("pipesvc: no service mechanism on this platform")

// Client is a stand-in broker.ServiceClient that always reports the service
// mechanism unavailable, so the broker falls through to the helper or
// direct mechanism on first use and never retries needlessly.
type Client struct{}

// NewClient returns a Client whose every call fails with ErrNoService.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) Ping(ctx context.Context) error { return ErrNoService }

func (c *Client) WriteBinding(ctx context.Context, domain, ip string) error {
	return ErrNoService
}

func (c *Client) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) (int, error) {
	return 0, ErrNoService
}

func (c *Client) ClearBinding(ctx context.Context, domain string) error {
	return ErrNoService
}

func (c *Client) ClearBindingsBatch(ctx context.Context, domains []string) (int, error) {
	return 0, ErrNoService
}

func (c *Client) FlushDNS(ctx context.Context) error { return ErrNoService }
