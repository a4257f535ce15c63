package event

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind selects how a canonical event is decoded for a consumer.
type Kind int

const (
	KindCanonical Kind = iota
	KindChainCreated
)

func (k Kind) String() string {
	switch k {
	case KindCanonical:
		return "canonical"
	case KindChainCreated:
		return "chain_created"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config value to a Kind. Empty means canonical.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "canonical":
		return KindCanonical, nil
	case "chain_created":
		return KindChainCreated, nil
	default:
		return 0, fmt.Errorf("unsupported decode kind: %s", s)
	}
}

// Decoded is a tagged union; exactly one pointer matching Kind is set.
type Decoded struct {
	Kind         Kind
	Canonical    *Event
	ChainCreated *ChainCreated
}

// Value returns the populated variant.
func (d Decoded) Value() any {
	switch d.Kind {
	case KindChainCreated:
		return d.ChainCreated
	default:
		return d.Canonical
	}
}

// Decode canonicalizes raw and decodes it as kind.
func Decode(kind Kind, raw RawEvent) (Decoded, error) {
	ev, err := Canonicalize(raw)
	if err != nil {
		return Decoded{}, err
	}
	return DecodeEvent(kind, ev)
}

// DecodeEvent decodes an already canonical event as kind.
func DecodeEvent(kind Kind, ev Event) (Decoded, error) {
	switch kind {
	case KindCanonical:
		return Decoded{Kind: kind, Canonical: &ev}, nil
	case KindChainCreated:
		cc, err := ChainCreatedFromEvent(ev)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Kind: kind, ChainCreated: &cc}, nil
	default:
		return Decoded{}, fmt.Errorf("unsupported decode kind: %s", kind)
	}
}

// ChainCreated is emitted by the registry contract when a plasma chain registers.
type ChainCreated struct {
	PlasmaChainAddress string `json:"plasmaChainAddress"`
	PlasmaChainName    string `json:"plasmaChainName"`
	OperatorEndpoint   string `json:"operatorEndpoint"`
	OperatorAddress    string `json:"operatorAddress"`
}

// ChainCreatedFromEvent reads the registry fields from the raw return values.
func ChainCreatedFromEvent(ev Event) (ChainCreated, error) {
	get := func(key string) (string, error) {
		v, ok := ev.Raw[key]
		if !ok {
			return "", fmt.Errorf("%w: ChainCreated missing %s", ErrMalformedEvent, key)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: ChainCreated %s is not a string", ErrMalformedEvent, key)
		}
		return s, nil
	}

	operator, err := get("OperatorAddress")
	if err != nil {
		return ChainCreated{}, err
	}
	chainAddr, err := get("PlasmaChainAddress")
	if err != nil {
		return ChainCreated{}, err
	}
	name, err := get("PlasmaChainName")
	if err != nil {
		return ChainCreated{}, err
	}
	endpoint, err := get("PlasmaChainIP")
	if err != nil {
		return ChainCreated{}, err
	}

	return ChainCreated{
		PlasmaChainAddress: chainAddr,
		PlasmaChainName:    hexToASCII(name),
		OperatorEndpoint:   hexToASCII(endpoint),
		OperatorAddress:    operator,
	}, nil
}

// hexToASCII decodes a bytes32-style hex value, dropping zero padding.
func hexToASCII(s string) string {
	return strings.ReplaceAll(string(common.FromHex(s)), "\x00", "")
}
