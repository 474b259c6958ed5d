package fingerprint

import "testing"

func TestOfStrings_Deterministic(t *testing.T) {
	items := []string{"1.2.3.4", "5.6.7.8", "9.9.9.9"}
	h1 := OfStrings(items)
	h2 := OfStrings(items)
	if h1 != h2 {
		t.Fatalf("same input produced different hashes: %s vs %s", h1.Hex(), h2.Hex())
	}
	if h1.IsZero() {
		t.Fatal("hash should not be zero for non-empty input")
	}
}

func TestOfStrings_OrderIndependent(t *testing.T) {
	a := OfStrings([]string{"1.2.3.4", "5.6.7.8"})
	b := OfStrings([]string{"5.6.7.8", "1.2.3.4"})
	if a != b {
		t.Fatalf("order should not affect hash: %s vs %s", a.Hex(), b.Hex())
	}
}

func TestOfStrings_DifferentSets(t *testing.T) {
	a := OfStrings([]string{"1.2.3.4"})
	b := OfStrings([]string{"5.6.7.8"})
	if a == b {
		t.Fatal("different sets should produce different hashes")
	}
}

func TestOfStrings_Empty(t *testing.T) {
	h1 := OfStrings(nil)
	h2 := OfStrings([]string{})
	if h1 != h2 {
		t.Fatal("empty input should hash to the same stable value regardless of nil vs empty slice")
	}
}

func TestHexRoundTrip(t *testing.T) {
	original := OfStrings([]string{"198.51.100.1", "203.0.113.7"})

	hexStr := original.Hex()
	if len(hexStr) != 32 {
		t.Fatalf("hex string should be 32 chars, got %d: %s", len(hexStr), hexStr)
	}

	parsed, err := ParseHex(hexStr)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != original {
		t.Fatalf("round-trip failed: %s != %s", parsed.Hex(), original.Hex())
	}
}

func TestParseHex_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too short", "abcd"},
		{"too long", "aabbccddaabbccddaabbccddaabbccddaa"},
		{"invalid chars", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHex(tt.input)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHash_IsZero(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatal("default Hash should be zero")
	}

	h2 := OfStrings([]string{"1.1.1.1"})
	if h2.IsZero() {
		t.Fatal("computed Hash should not be zero")
	}
}
