package geoipannotate

import (
	"net/netip"
	"testing"
)

func mustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func TestAnnotate_InvalidIP(t *testing.T) {
	s := New(Config{CacheDir: t.TempDir()})
	got := s.Annotate("not-an-ip")
	if got != (Annotation{}) {
		t.Errorf("Annotate(invalid) = %+v, want zero value", got)
	}
}

func TestAnnotate_NoDatabaseLoaded(t *testing.T) {
	s := New(Config{CacheDir: t.TempDir()})
	got := s.Annotate("1.1.1.1")
	if got.Country != "" || got.ASN != "" {
		t.Errorf("Annotate with no database loaded = %+v, want empty", got)
	}
}

func TestASNReader_NilSafe(t *testing.T) {
	var r *asnReader
	if got := r.Lookup(mustAddr("1.1.1.1")); got != "" {
		t.Errorf("nil asnReader.Lookup = %q, want empty", got)
	}
	if err := r.Close(); err != nil {
		t.Errorf("nil asnReader.Close = %v, want nil", err)
	}
}

func TestASNReader_EmptyReader(t *testing.T) {
	r := &asnReader{}
	if got := r.Lookup(mustAddr("1.1.1.1")); got != "" {
		t.Errorf("asnReader with nil underlying reader = %q, want empty", got)
	}
}
