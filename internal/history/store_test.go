package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.RecordApply(ctx, "a.example.com", "1.1.1.1", 20, now); err != nil {
		t.Fatalf("RecordApply: %v", err)
	}
	if err := s.RecordApply(ctx, "b.example.com", "2.2.2.2", 40, now); err != nil {
		t.Fatalf("RecordApply: %v", err)
	}
	if err := s.RecordApply(ctx, "a.example.com", "1.1.1.2", 60, now); err != nil {
		t.Fatalf("RecordApply: %v", err)
	}

	stats, err := s.Stats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalApplies != 3 {
		t.Errorf("TotalApplies = %d, want 3", stats.TotalApplies)
	}
	if stats.UniqueDomains != 2 {
		t.Errorf("UniqueDomains = %d, want 2", stats.UniqueDomains)
	}
	if stats.AvgLatencyMs != 40 {
		t.Errorf("AvgLatencyMs = %v, want 40", stats.AvgLatencyMs)
	}
}

func TestStore_StatsExcludesOldRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := s.RecordApply(ctx, "old.example.com", "9.9.9.9", 10, old); err != nil {
		t.Fatalf("RecordApply: %v", err)
	}

	stats, err := s.Stats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalApplies != 0 {
		t.Errorf("TotalApplies = %d, want 0 (record is outside the lookback window)", stats.TotalApplies)
	}
}

func TestStore_Clear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordApply(ctx, "a.example.com", "1.1.1.1", 20, time.Now()); err != nil {
		t.Fatalf("RecordApply: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	stats, err := s.Stats(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalApplies != 0 {
		t.Errorf("TotalApplies after Clear = %d, want 0", stats.TotalApplies)
	}
}
