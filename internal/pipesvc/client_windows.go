//go:build windows

package pipesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/anyfast/anyfast-core/internal/model"
)

// Client is a broker.ServiceClient talking JSON-RPC 2.0 over the named pipe.
// Calls are serialized on a single persistent connection; it redials lazily
// if the connection was dropped or never established.
type Client struct {
	mu     sync.Mutex
	conn   *os.File
	nextID atomic.Uint64
}

// NewClient returns a Client that dials PipeName on first use.
func NewClient() *Client {
	return &Client{}
}

func (c *Client) ensureConn() (*os.File, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	f, err := dialPipe(PipeName)
	if err != nil {
		return nil, fmt.Errorf("pipesvc: dial: %w", err)
	}
	c.conn = f
	return f, nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn()
	if err != nil {
		return err
	}

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return err
		}
	}

	req := Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: raw}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		c.drop()
		return fmt.Errorf("pipesvc: send %s: %w", method, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		c.drop()
		return fmt.Errorf("pipesvc: receive %s: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	var res pingResult
	return c.call(ctx, MethodPing, nil, &res)
}

func (c *Client) WriteBinding(ctx context.Context, domain, ip string) error {
	return c.call(ctx, MethodWriteBinding, bindingParam{Domain: domain, IP: ip}, nil)
}

func (c *Client) WriteBindingsBatch(ctx context.Context, bindings []model.PinnedBinding) (int, error) {
	params := writeBindingsBatchParams{Bindings: make([]bindingParam, len(bindings))}
	for i, b := range bindings {
		params.Bindings[i] = bindingParam{Domain: b.Domain, IP: b.IP}
	}
	var res countResult
	if err := c.call(ctx, MethodWriteBindingsBatch, params, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) ClearBinding(ctx context.Context, domain string) error {
	return c.call(ctx, MethodClearBinding, clearBindingParams{Domain: domain}, nil)
}

func (c *Client) ClearBindingsBatch(ctx context.Context, domains []string) (int, error) {
	var res countResult
	if err := c.call(ctx, MethodClearBindingsBatch, clearBindingsBatchParams{Domains: domains}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (c *Client) FlushDNS(ctx context.Context) error {
	return c.call(ctx, MethodFlushDNS, nil, nil)
}

func (c *Client) ReadBinding(ctx context.Context, domain string) (string, bool, error) {
	var res readBindingResult
	if err := c.call(ctx, MethodReadBinding, readBindingParams{Domain: domain}, &res); err != nil {
		return "", false, err
	}
	if res.IP == nil {
		return "", false, nil
	}
	return *res.IP, true, nil
}

func (c *Client) AllBindings(ctx context.Context) ([]model.PinnedBinding, error) {
	var res getAllBindingsResult
	if err := c.call(ctx, MethodGetAllBindings, nil, &res); err != nil {
		return nil, err
	}
	out := make([]model.PinnedBinding, len(res.Bindings))
	for i, b := range res.Bindings {
		out[i] = model.PinnedBinding{Domain: b.Domain, IP: b.IP}
	}
	return out, nil
}
