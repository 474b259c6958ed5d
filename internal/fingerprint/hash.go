// Package fingerprint derives stable 128-bit content fingerprints used to
// detect when a candidate-IP list has actually changed; internal/candidate
// uses them to log a domain's candidate set only when it differs from the
// last one seen (spec §4.3).
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// Hash is a 128-bit xxh3 fingerprint.
type Hash [16]byte

// Zero is the zero-value Hash.
var Zero Hash

// OfStrings computes a fingerprint over an unordered set of strings (e.g. a
// candidate IP list): the inputs are sorted before hashing so that the same
// set arriving in a different fetch order yields the same Hash.
func OfStrings(items []string) Hash {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)

	var buf []byte
	for _, s := range sorted {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	return hashBytes(buf)
}

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// ParseHex decodes a 32-character hex string into a Hash.
func ParseHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, fmt.Errorf("fingerprint.ParseHex: %w", err)
	}
	if len(b) != 16 {
		return Zero, fmt.Errorf("fingerprint.ParseHex: expected 16 bytes, got %d", len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func hashBytes(data []byte) Hash {
	h128 := xxh3.Hash128(data)
	var h Hash
	binary.LittleEndian.PutUint64(h[:8], h128.Lo)
	binary.LittleEndian.PutUint64(h[8:], h128.Hi)
	return h
}
