package health

import (
	"context"
	"errors"
)

// ErrNodeDown is reported when the chain node does not answer a probe.
var ErrNodeDown = errors.New("chain node unreachable")

// Prober is satisfied by the chain client.
type Prober interface {
	Connected(ctx context.Context) bool
}

// RPCChecker adapts a chain client to a health ping.
type RPCChecker struct {
	chain Prober
}

// NewRPCChecker creates a checker for the watched chain.
func NewRPCChecker(chain Prober) *RPCChecker {
	return &RPCChecker{chain: chain}
}

// Ping returns ErrNodeDown when the node is unreachable.
func (c *RPCChecker) Ping(ctx context.Context) error {
	if !c.chain.Connected(ctx) {
		return ErrNodeDown
	}
	return nil
}
