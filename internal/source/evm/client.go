package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/devblac/event-watcher/internal/event"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockClient captures the subset of ethclient used by the watcher.
type BlockClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial builds an RPC client to an EVM node.
func Dial(rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return c, nil
}

const probeTimeout = 5 * time.Second

// Client exposes one contract's events over a BlockClient.
// The contract address may be supplied later through SetAddress.
type Client struct {
	rpc  BlockClient
	abis map[string]*abi.ABI
	log  *slog.Logger

	mu       sync.RWMutex
	address  common.Address
	known    bool
	ready    chan struct{}
	decoders map[string]*eventDecoder
}

// NewClient builds a contract client. address may be empty.
func NewClient(rpc BlockClient, address string, abis map[string]*abi.ABI, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		rpc:      rpc,
		abis:     abis,
		log:      log,
		ready:    make(chan struct{}),
		decoders: map[string]*eventDecoder{},
	}
	if address != "" {
		c.SetAddress(address)
	}
	return c
}

// SetAddress records the contract address. Only the first call has an effect.
func (c *Client) SetAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known {
		return
	}
	c.address = common.HexToAddress(address)
	c.known = true
	close(c.ready)
	c.log.Info("contract address known", "address", c.address.Hex())
}

// HasAddress reports whether the contract address is known.
func (c *Client) HasAddress() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known
}

// Address returns the checksummed contract address, or "" when unknown.
func (c *Client) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.known {
		return ""
	}
	return c.address.Hex()
}

// Initialized is closed once the address becomes known.
func (c *Client) Initialized() <-chan struct{} {
	return c.ready
}

// Connected probes the node.
func (c *Client) Connected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := c.rpc.ChainID(ctx); err != nil {
		c.log.Debug("chain probe failed", "error", err)
		return false
	}
	return true
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.rpc.ChainID(ctx)
}

// CurrentBlockNumber returns the latest block height.
func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// HasEvent reports whether eventName can be decoded.
func (c *Client) HasEvent(eventName string) bool {
	_, err := c.decoder(eventName)
	return err == nil
}

func (c *Client) decoder(eventName string) (*eventDecoder, error) {
	c.mu.RLock()
	d, ok := c.decoders[eventName]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}
	d, err := newEventDecoder(eventName, c.abis)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.decoders[eventName] = d
	c.mu.Unlock()
	return d, nil
}

// GetPastEvents returns eventName logs emitted by the contract in [from, to].
func (c *Client) GetPastEvents(ctx context.Context, eventName string, from, to uint64) ([]event.RawEvent, error) {
	if !c.HasAddress() {
		return nil, ErrNoAddress
	}
	d, err := c.decoder(eventName)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	addr := c.address
	c.mu.RUnlock()

	logs, err := c.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{d.topic0}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %s [%d,%d]: %w", eventName, from, to, err)
	}

	out := make([]event.RawEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		raw, err := d.decode(lg)
		if err != nil {
			return nil, fmt.Errorf("decode %s log %s:%d: %w", eventName, lg.TxHash.Hex(), lg.Index, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// ResolveAddress polls for the deployment receipt of txHash and records the
// created contract address. It returns when the address is known or ctx ends.
func (c *Client) ResolveAddress(ctx context.Context, txHash string, interval time.Duration) error {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt.ContractAddress != (common.Address{}):
			c.SetAddress(receipt.ContractAddress.Hex())
			return nil
		case err == nil:
			return fmt.Errorf("transaction %s did not create a contract", txHash)
		case !errors.Is(err, ethereum.NotFound):
			c.log.Warn("deployment receipt lookup failed", "tx", txHash, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
