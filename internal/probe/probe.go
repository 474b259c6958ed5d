// Package probe implements the single-IP HTTPS reachability check: TCP
// connect, TLS handshake with SNI, a minimal HEAD request, and a status-line
// read (spec §4.4).
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"
)

// Deadline is the hard per-attempt timeout.
const Deadline = 8 * time.Second

const userAgent = "anyFAST/1.0"

// Result is the outcome of one or more attempts against a single IP.
type Result struct {
	LatencyMs float64
	Success   bool
	Reason    string // set when !Success
}

// Prober holds the shared, pre-built resources every probe attempt clones
// cheaply from: the TLS client config and the dialer. Both are constructed
// once per tester instance (spec §4.4 "Resource sharing").
type Prober struct {
	tlsConfig *tls.Config
	dialer    *net.Dialer
}

// New builds a Prober with a fresh minimal TLS client config (system root
// store, default supported versions) and a dialer with no extra options.
func New() *Prober {
	return &Prober{
		tlsConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{},
	}
}

// One performs a single TCP+TLS+HEAD probe attempt of ip for domain's SNI,
// with the hard per-attempt deadline.
func (p *Prober) One(ctx context.Context, ip, domain string) Result {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	start := time.Now()

	addr := net.JoinHostPort(ip, "443")
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure(ctx, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	cfg := p.tlsConfig.Clone()
	cfg.ServerName = domain
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return failure(ctx, err)
	}
	defer tlsConn.Close()

	req := fmt.Sprintf("HEAD / HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n\r\n", domain, userAgent)
	if _, err := tlsConn.Write([]byte(req)); err != nil {
		return failure(ctx, err)
	}

	buf := make([]byte, 1024)
	n, err := tlsConn.Read(buf)
	if err != nil && n == 0 {
		return failure(ctx, err)
	}

	elapsed := time.Since(start)

	if n < 5 || string(buf[:5]) != "HTTP/" {
		return Result{Success: false, Reason: "Invalid response"}
	}
	return Result{Success: true, LatencyMs: float64(elapsed.Milliseconds())}
}

func failure(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		return Result{Success: false, Reason: "timeout"}
	}
	return Result{Success: false, Reason: err.Error()}
}

// MedianOfN runs up to n attempts (clamped to [1,5]) and returns the median
// latency of all successful ones. If the first attempt fails, the caller
// returns failure immediately without spending the remaining budget (spec
// §4.4 "Median-of-N").
func (p *Prober) MedianOfN(ctx context.Context, ip, domain string, n int) Result {
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}

	first := p.One(ctx, ip, domain)
	if !first.Success {
		return first
	}

	latencies := []float64{first.LatencyMs}
	for i := 1; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		r := p.One(ctx, ip, domain)
		if r.Success {
			latencies = append(latencies, r.LatencyMs)
		}
	}

	sort.Float64s(latencies)
	return Result{Success: true, LatencyMs: median(latencies)}
}

func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
