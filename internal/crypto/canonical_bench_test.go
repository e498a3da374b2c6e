package crypto

import (
	"testing"

	"github.com/holiman/uint256"
)

func BenchmarkCanonicalizeReceiptBody(b *testing.B) {
	body := map[string]any{
		"schema":     "surety.receipt.v1",
		"seq":        int64(42),
		"op":         "submit_oracle_response",
		"actor":      "0xoracle001",
		"created_at": "2026-01-01T00:00:00Z",
		"payload": map[string]any{
			"flight_key":  "0x5c1a",
			"index":       uint8(7),
			"status_code": 20,
			"credited":    []any{"0xp1", "0xp2"},
			"amount":      uint256.NewInt(1_500_000_000_000_000_000),
		},
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := Canonicalize(body); err != nil {
			b.Fatalf("canonicalize: %v", err)
		}
	}
}
