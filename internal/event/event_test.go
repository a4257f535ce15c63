package event

import (
	"errors"
	"math/big"
	"testing"
)

func rawEvent(tx string, idx uint, block uint64, values map[string]any) RawEvent {
	return RawEvent{
		Event:           "Deposit",
		BlockNumber:     &block,
		TransactionHash: &tx,
		LogIndex:        &idx,
		ReturnValues:    values,
	}
}

func TestCanonicalizeHashIsStable(t *testing.T) {
	a, err := Canonicalize(rawEvent("0xabc", 1, 5, map[string]any{"amount": "10"}))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	b, err := Canonicalize(rawEvent("0xabc", 1, 7, map[string]any{"amount": "99"}))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("same tx/logIndex should hash equal: %s vs %s", a.Hash, b.Hash)
	}
	d, err := Canonicalize(rawEvent("0xabc", 2, 5, map[string]any{}))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if d.Hash == a.Hash {
		t.Fatalf("different logIndex should hash differently")
	}
	if a.Hash != Hash("0xabc", 1) {
		t.Fatalf("hash mismatch with Hash helper")
	}
}

func TestCanonicalizeRejectsMalformed(t *testing.T) {
	block := uint64(1)
	tx := "0x1"
	idx := uint(0)
	tests := []struct {
		name string
		raw  RawEvent
	}{
		{"no_block", RawEvent{TransactionHash: &tx, LogIndex: &idx, ReturnValues: map[string]any{}}},
		{"no_values", RawEvent{BlockNumber: &block, TransactionHash: &tx, LogIndex: &idx}},
		{"no_tx", RawEvent{BlockNumber: &block, LogIndex: &idx, ReturnValues: map[string]any{}}},
		{"no_log_index", RawEvent{BlockNumber: &block, TransactionHash: &tx, ReturnValues: map[string]any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.raw)
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}

func TestNumericCoercion(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		wantInt string
	}{
		{"decimal_string", "1000", "1000"},
		{"negative_string", "-5", "-5"},
		{"hex_string", "0x1f", "31"},
		{"uint64", uint64(7), "7"},
		{"int", 42, "42"},
		{"integral_float", float64(3), "3"},
		{"big", big.NewInt(123), "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerce(tt.in).(*big.Int)
			if !ok {
				t.Fatalf("expected *big.Int for %v, got %T", tt.in, coerce(tt.in))
			}
			if got.String() != tt.wantInt {
				t.Fatalf("got %s want %s", got, tt.wantInt)
			}
		})
	}

	passThrough := []struct {
		name string
		in   any
		want string
	}{
		{"checksum_address", "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
		{"address_without_prefix", "1234567890123456789012345678901234567890", "1234567890123456789012345678901234567890"},
		{"word", "hello", "hello"},
		{"empty", "", ""},
		{"fraction", "1.5", "1.5"},
		{"bare_prefix", "0x", "0x"},
		{"bool", true, "true"},
	}
	for _, tt := range passThrough {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerce(tt.in).(string)
			if !ok {
				t.Fatalf("expected string for %v, got %T", tt.in, coerce(tt.in))
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeKeepsRaw(t *testing.T) {
	ev, err := Canonicalize(rawEvent("0xabc", 0, 3, map[string]any{
		"amount": "250",
		"owner":  "0x0000000000000000000000000000000000000001",
	}))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if ev.Raw["amount"] != "250" {
		t.Fatalf("raw value changed: %v", ev.Raw["amount"])
	}
	amount, ok := ev.BigInt("amount")
	if !ok || amount.Int64() != 250 {
		t.Fatalf("amount not coerced: %v", ev.Fields["amount"])
	}
	if _, ok := ev.BigInt("owner"); ok {
		t.Fatalf("address must stay a string")
	}
	if s, _ := ev.String("amount"); s != "250" {
		t.Fatalf("String(amount) = %q", s)
	}
}
