package engine

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Predicate evaluates whether an event field map satisfies a condition.
type Predicate func(args map[string]any) (bool, error)

// CompilePredicates parses simple expressions into executable predicates.
// Supported operators: ==, !=, >, <, in, contains.
// Examples:
//
//	"amount > 10"
//	"amount >= ether(1)"
//	"depositer in 0xabc...,0xdef..."
//	"PlasmaChainName contains main"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func compile(expr string) (Predicate, error) {
	if strings.Contains(expr, " in ") {
		parts := strings.SplitN(expr, " in ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid in expression: %s", expr)
		}
		field := strings.TrimSpace(parts[0])
		var values []string
		for _, v := range strings.Split(parts[1], ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			values = append(values, v)
		}
		return func(args map[string]any) (bool, error) {
			arg, ok := args[field]
			if !ok {
				return false, nil
			}
			s := fmt.Sprint(arg)
			for _, v := range values {
				if sameValue(s, v) {
					return true, nil
				}
			}
			return false, nil
		}, nil
	}

	if strings.Contains(expr, " contains ") {
		parts := strings.SplitN(expr, " contains ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid contains expression: %s", expr)
		}
		field := strings.TrimSpace(parts[0])
		needle := strings.TrimSpace(parts[1])
		return func(args map[string]any) (bool, error) {
			val, ok := args[field]
			if !ok {
				return false, nil
			}
			return strings.Contains(fmt.Sprint(val), needle), nil
		}, nil
	}

	var op string
	switch {
	case strings.Contains(expr, "=="):
		op = "=="
	case strings.Contains(expr, "!="):
		op = "!="
	case strings.Contains(expr, ">="):
		op = ">="
	case strings.Contains(expr, "<="):
		op = "<="
	case strings.Contains(expr, ">"):
		op = ">"
	case strings.Contains(expr, "<"):
		op = "<"
	default:
		return nil, fmt.Errorf("unsupported expression: %s", expr)
	}

	parts := strings.SplitN(expr, op, 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid expression: %s", expr)
	}
	field := strings.TrimSpace(parts[0])
	rhsRaw := strings.TrimSpace(parts[1])

	numRHS, rhsIsNum := evaluateNumber(rhsRaw)
	if common.IsHexAddress(rhsRaw) {
		rhsIsNum = false
	}

	return func(args map[string]any) (bool, error) {
		val, ok := args[field]
		if !ok {
			return false, nil
		}

		if lhs, ok := toNumber(val); rhsIsNum && ok {
			c := lhs.Cmp(numRHS)
			switch op {
			case "==":
				return c == 0, nil
			case "!=":
				return c != 0, nil
			case ">":
				return c > 0, nil
			case "<":
				return c < 0, nil
			case ">=":
				return c >= 0, nil
			case "<=":
				return c <= 0, nil
			}
		}

		// String comparisons
		lhs := fmt.Sprint(val)
		switch op {
		case "==":
			return sameValue(lhs, rhsRaw), nil
		case "!=":
			return !sameValue(lhs, rhsRaw), nil
		default:
			return false, nil
		}
	}, nil
}

// sameValue compares two rendered values. Addresses match regardless of
// checksum casing and 0x prefix.
func sameValue(a, b string) bool {
	if a == b {
		return true
	}
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return false
}

// evaluateNumber evaluates a numeric expression exactly, supporting:
// - Simple numbers: "100", "1e6", "1_000_000", "0.5"
// - Unit helpers: "wei(5)", "gwei(1.5)", "ether(2)"
// - Multiplication: "1_000_000 * 1e6"
func evaluateNumber(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "_", "")

	if strings.Contains(s, "*") {
		parts := strings.Split(s, "*")
		if len(parts) != 2 {
			return nil, false
		}
		a, ok1 := evaluateNumber(parts[0])
		b, ok2 := evaluateNumber(parts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		return new(big.Rat).Mul(a, b), true
	}

	for unit, scale := range units {
		prefix := unit + "("
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ")") {
			v, ok := evaluateNumber(s[len(prefix) : len(s)-1])
			if !ok {
				return nil, false
			}
			return v.Mul(v, new(big.Rat).SetInt64(scale)), true
		}
	}

	if s == "" {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}

var units = map[string]int64{
	"wei":   1,
	"gwei":  1e9,
	"ether": 1e18,
}

func toNumber(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return new(big.Rat).SetInt(n), true
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint64:
		return new(big.Rat).SetInt(new(big.Int).SetUint64(n)), true
	case float64:
		return ratFromFloat(n)
	case float32:
		return ratFromFloat(float64(n))
	case string:
		return evaluateNumber(n)
	default:
		return nil, false
	}
}

func ratFromFloat(f float64) (*big.Rat, bool) {
	r := new(big.Rat).SetFloat64(f)
	return r, r != nil
}

// TokenBucket is a simple per-subscription rate limiter.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a token bucket with capacity and refill rate.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
	}
}

// Allow consumes one token if available, refilling based on elapsed time.
func (b *TokenBucket) Allow(now time.Time) bool {
	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}
