// Package baseline tracks the most recent successful latency per domain,
// shared between the core façade and the health checker (spec §3
// "BaselineMap", §4.6 "Baseline tracker").
package baseline

import "github.com/puzpuzpuz/xsync/v4"

// Map is a concurrent domain -> last successful latency (ms) table. Both
// the façade's HTTP handlers and the health checker's tick loop read and
// write it from different goroutines, so it is backed by xsync.Map rather
// than a plain map+mutex.
type Map struct {
	values *xsync.Map[string, float64]
}

// New returns an empty Map.
func New() *Map {
	return &Map{values: xsync.NewMap[string, float64]()}
}

// Record inserts latencyMs for domain unconditionally; callers only call
// this on a successful probe or switch (spec: "insert only on successful
// probe; overwritten on better or fresh measurement").
func (m *Map) Record(domain string, latencyMs float64) {
	m.values.Store(domain, latencyMs)
}

// Get returns the current baseline for domain, or (0, false) if none has
// been recorded yet.
func (m *Map) Get(domain string) (float64, bool) {
	return m.values.Load(domain)
}

// Snapshot returns a copy of the whole table, for diagnostics.
func (m *Map) Snapshot() map[string]float64 {
	out := make(map[string]float64, m.values.Size())
	m.values.Range(func(domain string, latencyMs float64) bool {
		out[domain] = latencyMs
		return true
	})
	return out
}
