package candidate

import (
	"context"
	"net"
	"testing"
)

type fakeResolver struct {
	ips map[string][]net.IP
	err error
}

func (r *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.ips[host], nil
}

type fakeDownloader struct {
	body []byte
	err  error
}

func (d *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return d.body, d.err
}

func TestCandidates_PreferredIPsShortCircuitDNS(t *testing.T) {
	resolver := &fakeResolver{err: errNotReached{}}
	src := New(resolver, &fakeDownloader{}, "https://example.invalid/feed")

	got, err := src.Candidates(context.Background(), "example.com", []string{"9.9.9.9", "8.8.8.8"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "9.9.9.9" || got[1] != "8.8.8.8" {
		t.Fatalf("got %v, want preferred IPs preserved in order", got)
	}
}

type errNotReached struct{}

func (errNotReached) Error() string { return "resolver should not be called when preferredIPs is set" }

func TestCandidates_NoDNSAnswer(t *testing.T) {
	resolver := &fakeResolver{ips: map[string][]net.IP{}}
	src := New(resolver, &fakeDownloader{}, "https://example.invalid/feed")

	got, err := src.Candidates(context.Background(), "example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil candidates when DNS returns nothing, got %v", got)
	}
}

func TestCandidates_CloudflareEnrichesWithBestList(t *testing.T) {
	resolver := &fakeResolver{ips: map[string][]net.IP{
		"example.com": {net.ParseIP("104.16.1.1")},
	}}
	src := New(resolver, &fakeDownloader{err: errNotReached{}}, "https://example.invalid/feed")

	got, err := src.Candidates(context.Background(), "example.com", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected a non-empty merged candidate list")
	}
	found := false
	for _, ip := range got {
		if ip == "104.16.1.1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the original DNS IP to be present in %v", got)
	}
	// The online feed failed, so the fallback static list must have been used.
	if len(got) <= 1 {
		t.Fatalf("expected fallback CF IPs merged in, got %v", got)
	}
}

func TestDedupCap(t *testing.T) {
	got := dedupCap([]string{"1.1.1.1", "1.1.1.1", "2.2.2.2"}, 1)
	if len(got) != 1 || got[0] != "1.1.1.1" {
		t.Fatalf("got %v, want [1.1.1.1]", got)
	}
}
