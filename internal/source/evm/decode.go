package evm

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/devblac/event-watcher/internal/event"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// eventDecoder turns logs of one event type into raw events.
type eventDecoder struct {
	name   string
	topic0 common.Hash
	event  *abi.Event
}

// newEventDecoder resolves name against the loaded ABIs. A full signature such as
// Transfer(address,address,uint256) works without an ABI; its arguments are then
// treated as non-indexed.
func newEventDecoder(name string, abis map[string]*abi.ABI) (*eventDecoder, error) {
	if ev, ok := FindEvent(abis, eventName(name)); ok {
		return &eventDecoder{name: name, topic0: ev.ID, event: ev}, nil
	}
	if strings.Contains(name, "(") {
		ev, err := syntheticEvent(name)
		if err != nil {
			return nil, err
		}
		return &eventDecoder{name: name, topic0: crypto.Keccak256Hash([]byte(name)), event: ev}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

// decode converts a log into a raw event with web3-style string values.
func (d *eventDecoder) decode(lg types.Log) (event.RawEvent, error) {
	args := map[string]any{}
	indexed, nonIndexed := splitIndexed(d.event.Inputs)
	if len(lg.Topics) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
			return event.RawEvent{}, fmt.Errorf("parse topics: %w", err)
		}
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err != nil {
		return event.RawEvent{}, fmt.Errorf("unpack data: %w", err)
	}

	values := make(map[string]any, len(args))
	for k, v := range args {
		values[k] = normalizeValue(v)
	}

	block := lg.BlockNumber
	tx := lg.TxHash.Hex()
	idx := lg.Index
	return event.RawEvent{
		Event:           d.name,
		Address:         lg.Address.Hex(),
		BlockNumber:     &block,
		TransactionHash: &tx,
		LogIndex:        &idx,
		ReturnValues:    values,
	}, nil
}

// normalizeValue renders ABI values the way web3 returns them: numbers as
// decimal strings, addresses checksummed, byte values as 0x hex.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case *big.Int:
		return t.String()
	case common.Address:
		return t.Hex()
	case common.Hash:
		return t.Hex()
	case []byte:
		return hexutil.Encode(t)
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprint(t)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return fmt.Sprint(v)
}

func eventName(signature string) string {
	if i := strings.Index(signature, "("); i > 0 {
		return signature[:i]
	}
	return signature
}

// syntheticEvent builds a minimal ABI Event from a signature like Transfer(address,address,uint256).
func syntheticEvent(signature string) (*abi.Event, error) {
	l := strings.Index(signature, "(")
	r := strings.LastIndex(signature, ")")
	if l <= 0 || r <= l {
		return nil, fmt.Errorf("invalid event signature: %s", signature)
	}
	rawArgs := strings.Split(signature[l+1:r], ",")
	args := make(abi.Arguments, 0, len(rawArgs))
	for i, a := range rawArgs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		t, err := abi.NewType(a, "", nil)
		if err != nil {
			return nil, fmt.Errorf("parse type %s: %w", a, err)
		}
		args = append(args, abi.Argument{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	return &abi.Event{
		Name:      signature[:l],
		RawName:   signature[:l],
		Inputs:    args,
		Anonymous: false,
	}, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
