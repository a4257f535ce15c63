package engine

import (
	"math/big"
	"testing"
	"time"
)

func TestCompilePredicates_NumericComparisons(t *testing.T) {
	preds, err := CompilePredicates([]string{"value > 10", "value < 20"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := map[string]any{"value": 15}
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !ok {
			t.Fatalf("expected predicate to pass")
		}
	}
}

func TestCompilePredicates_InAndContains(t *testing.T) {
	preds, err := CompilePredicates([]string{"sender in a,b,c", "memo contains alert"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := map[string]any{"sender": "b", "memo": "critical alert raised"}
	for _, p := range preds {
		ok, err := p(args)
		if err != nil {
			t.Fatalf("eval: %v", err)
		}
		if !ok {
			t.Fatalf("expected predicate to pass")
		}
	}
}

func TestCompilePredicates_StringEquality(t *testing.T) {
	preds, err := CompilePredicates([]string{"status == ok"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	args := map[string]any{"status": "ok"}
	ok, err := preds[0](args)
	if err != nil || !ok {
		t.Fatalf("expected true, got %v err=%v", ok, err)
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1) // capacity=2, 1 token/sec
	now := time.Now()

	if !tb.Allow(now) || !tb.Allow(now) {
		t.Fatalf("expected initial tokens available")
	}
	if tb.Allow(now) {
		t.Fatalf("expected third to be rate-limited")
	}

	// Refill after 1.5s -> should allow one
	now = now.Add(1500 * time.Millisecond)
	if !tb.Allow(now) {
		t.Fatalf("expected token after refill")
	}
}

func TestCompilePredicates_BigIntFields(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"amount >= ether(1)", true},
		{"amount > ether(2)", false},
		{"amount == 1500000000000000000", true},
		{"amount < gwei(1) * 1e9", false},
		{"missing > 0", false},
	}
	args := map[string]any{"amount": new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			preds, err := CompilePredicates([]string{tt.expr})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := preds[0](args)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompilePredicates_ExactAtWeiPrecision(t *testing.T) {
	amount, _ := new(big.Int).SetString("1000000000000000001", 10)
	args := map[string]any{"amount": amount}
	tests := []struct {
		expr string
		want bool
	}{
		{"amount > 1000000000000000000", true},
		{"amount > ether(1)", true},
		{"amount == ether(1)", false},
		{"amount != 1e18", true},
		{"amount == 1000000000000000001", true},
		{"amount >= gwei(1000000000.000000001)", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			preds, err := CompilePredicates([]string{tt.expr})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := preds[0](args)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompilePredicates_AddressCasing(t *testing.T) {
	const checksummed = "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	args := map[string]any{"depositer": checksummed}
	tests := []struct {
		expr string
		want bool
	}{
		{"depositer == 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", true},
		{"depositer != 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", false},
		{"depositer in 0x0000000000000000000000000000000000000001, 0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", true},
		{"depositer in 0x0000000000000000000000000000000000000001", false},
		{"depositer == 0x0000000000000000000000000000000000000001", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			preds, err := CompilePredicates([]string{tt.expr})
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := preds[0](args)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got != tt.want {
				t.Fatalf("%s = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompilePredicates_Unsupported(t *testing.T) {
	if _, err := CompilePredicates([]string{"amount ~ 3"}); err == nil {
		t.Fatalf("expected error for unsupported operator")
	}
}
