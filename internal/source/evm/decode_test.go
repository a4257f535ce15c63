package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSignatureDecoderWithoutABI(t *testing.T) {
	sig := "Withdrawal(uint256,address)"
	d, err := newEventDecoder(sig, nil)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if d.topic0 != crypto.Keccak256Hash([]byte(sig)) {
		t.Fatalf("unexpected topic0 %s", d.topic0.Hex())
	}

	data, err := d.event.Inputs.Pack(big.NewInt(77), common.HexToAddress("0x0000000000000000000000000000000000000009"))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	raw, err := d.decode(types.Log{
		Topics:      []common.Hash{d.topic0},
		Data:        data,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 4,
		Index:       2,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.Event != sig {
		t.Fatalf("event name = %s", raw.Event)
	}
	if raw.ReturnValues["arg0"] != "77" {
		t.Fatalf("arg0 = %v", raw.ReturnValues["arg0"])
	}
	if raw.ReturnValues["arg1"] != "0x0000000000000000000000000000000000000009" {
		t.Fatalf("arg1 = %v", raw.ReturnValues["arg1"])
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"big", big.NewInt(1_000_000), "1000000"},
		{"address", common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
		{"bytes", []byte{0xde, 0xad}, "0xdead"},
		{"bytes4", [4]byte{0x01, 0x02, 0x03, 0x04}, "0x01020304"},
		{"uint8", uint8(7), "7"},
		{"bool", true, "true"},
		{"string", "hello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeValue(tt.in); got != tt.want {
				t.Fatalf("normalizeValue(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInvalidSignature(t *testing.T) {
	if _, err := newEventDecoder("Broken(uint256", nil); err == nil {
		t.Fatalf("expected error for malformed signature")
	}
}
