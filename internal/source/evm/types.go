package evm

import (
	"errors"
)

// Chain is the identifier for EVM chains.
const Chain = "evm"

var (
	// ErrUnknownEvent is returned when no ABI or signature describes the event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrNoAddress is returned when logs are requested before the contract address is known.
	ErrNoAddress = errors.New("contract address not known")
)
