package event

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedEvent is returned when a raw log record lacks a required field.
var ErrMalformedEvent = errors.New("malformed event")

// RawEvent is a contract log record as returned by the chain client.
// Pointer fields distinguish "absent" from zero values.
type RawEvent struct {
	Event           string
	Address         string
	BlockNumber     *uint64
	TransactionHash *string
	LogIndex        *uint
	ReturnValues    map[string]any
}

// Event is the canonical form of a contract event.
type Event struct {
	Name        string
	Hash        string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	// Fields holds string or *big.Int values.
	Fields map[string]any
	// Raw holds the untouched return values.
	Raw map[string]any
}

// Canonicalize validates a raw record and converts it into an Event.
func Canonicalize(raw RawEvent) (Event, error) {
	switch {
	case raw.BlockNumber == nil:
		return Event{}, fmt.Errorf("%w: missing block number", ErrMalformedEvent)
	case raw.ReturnValues == nil:
		return Event{}, fmt.Errorf("%w: missing return values", ErrMalformedEvent)
	case raw.TransactionHash == nil:
		return Event{}, fmt.Errorf("%w: missing transaction hash", ErrMalformedEvent)
	case raw.LogIndex == nil:
		return Event{}, fmt.Errorf("%w: missing log index", ErrMalformedEvent)
	}

	return Event{
		Name:        raw.Event,
		Hash:        Hash(*raw.TransactionHash, *raw.LogIndex),
		BlockNumber: *raw.BlockNumber,
		TxHash:      *raw.TransactionHash,
		LogIndex:    *raw.LogIndex,
		Fields:      coerceFields(raw.ReturnValues),
		Raw:         raw.ReturnValues,
	}, nil
}

// Hash returns keccak256(txHash + decimal logIndex) as 0x-prefixed hex.
func Hash(txHash string, logIndex uint) string {
	return crypto.Keccak256Hash([]byte(txHash + strconv.FormatUint(uint64(logIndex), 10))).Hex()
}

// BigInt returns the named field when it was coerced to an integer.
func (e Event) BigInt(field string) (*big.Int, bool) {
	v, ok := e.Fields[field].(*big.Int)
	return v, ok
}

// String returns the named field as text regardless of its coerced type.
func (e Event) String(field string) (string, bool) {
	switch v := e.Fields[field].(type) {
	case string:
		return v, true
	case *big.Int:
		return v.String(), true
	default:
		return "", false
	}
}
