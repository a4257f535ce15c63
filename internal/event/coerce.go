package event

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func coerceFields(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = coerce(v)
	}
	return out
}

// coerce turns numeric-looking values that are not addresses into *big.Int.
// Anything else is returned as a string.
func coerce(v any) any {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		if common.IsHexAddress(n) {
			return n
		}
		if b, ok := parseInteger(n); ok {
			return b
		}
		return n
	case *big.Int:
		if n == nil {
			return ""
		}
		return new(big.Int).Set(n)
	case json.Number:
		return coerce(string(n))
	case int:
		return big.NewInt(int64(n))
	case int8:
		return big.NewInt(int64(n))
	case int16:
		return big.NewInt(int64(n))
	case int32:
		return big.NewInt(int64(n))
	case int64:
		return big.NewInt(n)
	case uint:
		return new(big.Int).SetUint64(uint64(n))
	case uint8:
		return new(big.Int).SetUint64(uint64(n))
	case uint16:
		return new(big.Int).SetUint64(uint64(n))
	case uint32:
		return new(big.Int).SetUint64(uint64(n))
	case uint64:
		return new(big.Int).SetUint64(n)
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			b, _ := big.NewFloat(n).Int(nil)
			return b
		}
		return fmt.Sprint(n)
	default:
		return fmt.Sprint(n)
	}
}

// parseInteger accepts signed decimal integers and 0x-prefixed hex.
func parseInteger(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if digits == "" || !isDigits(digits, true) {
			return nil, false
		}
		return new(big.Int).SetString(digits, 16)
	}
	digits := strings.TrimLeft(s, "+-")
	if len(s)-len(digits) > 1 || digits == "" || !isDigits(digits, false) {
		return nil, false
	}
	return new(big.Int).SetString(strings.TrimPrefix(s, "+"), 10)
}

func isDigits(s string, hex bool) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case hex && r >= 'a' && r <= 'f':
		case hex && r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
