// Package syncdb persists watcher progress for one deployed contract.
//
// All state lives in a namespace named after the contract address: per-event
// cursors, the global sync cursor, the set of seen event hashes and the list of
// failed transactions. Nothing may be read or written before Open.
package syncdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/devblac/event-watcher/internal/event"
	"github.com/devblac/event-watcher/internal/storage"
)

var (
	// ErrUninitialized is returned by every accessor called before Open.
	ErrUninitialized = errors.New("syncdb not yet initialized")
	// ErrStoreWrite wraps persistence failures; cursors are left untouched.
	ErrStoreWrite = errors.New("sync store write failed")
	// ErrNamespaceMismatch is returned when Open is called with a second namespace.
	ErrNamespaceMismatch = errors.New("syncdb already open for another namespace")
)

const (
	keySyncBlock   = "sync:block"
	keyFailedTxs   = "sync:failed"
	prefixLastLog  = "lastlogged:"
	prefixSeen     = "event:"
	noBlock        = int64(-1)
	seenMarkerJSON = "true"
)

// Backend is the persistent store capability consumed by DB.
type Backend interface {
	Open(ctx context.Context, namespace string) (storage.Bucket, error)
}

// AddressSource reports the contract address once it is known.
type AddressSource interface {
	HasAddress() bool
	Address() string
	Initialized() <-chan struct{}
}

// DB is the sync store. It is safe for concurrent use once open.
type DB struct {
	backend Backend
	log     *slog.Logger

	mu        sync.RWMutex
	bucket    storage.Bucket
	namespace string
}

// New wires a DB to its backend. The DB stays unusable until Open.
func New(backend Backend, log *slog.Logger) *DB {
	if log == nil {
		log = slog.Default()
	}
	return &DB{backend: backend, log: log}
}

// Open binds the DB to namespace. Repeated calls with the same namespace are no-ops.
func (d *DB) Open(ctx context.Context, namespace string) error {
	if namespace == "" {
		return errors.New("namespace required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bucket != nil {
		if d.namespace == namespace {
			return nil
		}
		return fmt.Errorf("%w: open %s, have %s", ErrNamespaceMismatch, namespace, d.namespace)
	}
	b, err := d.backend.Open(ctx, namespace)
	if err != nil {
		return fmt.Errorf("open namespace %s: %w", namespace, err)
	}
	d.bucket = b
	d.namespace = namespace
	d.log.Info("sync store opened", "namespace", namespace)
	return nil
}

// OpenWhenReady opens the DB under the source's address, waiting for the
// address to become known if necessary.
func (d *DB) OpenWhenReady(ctx context.Context, src AddressSource) error {
	if !src.HasAddress() {
		d.log.Info("waiting for contract address before opening sync store")
		select {
		case <-src.Initialized():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.Open(ctx, src.Address())
}

// Namespace returns the open namespace or "" when not open.
func (d *DB) Namespace() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.namespace
}

func (d *DB) open() (storage.Bucket, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bucket == nil {
		return nil, ErrUninitialized
	}
	return d.bucket, nil
}

// Get decodes the value at key into out. It reports whether the key existed;
// out is left unchanged when it did not.
func (d *DB) Get(ctx context.Context, key string, out any) (bool, error) {
	b, err := d.open()
	if err != nil {
		return false, err
	}
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set JSON-encodes v under key.
func (d *DB) Set(ctx context.Context, key string, v any) error {
	b, err := d.open()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return nil
}

func (d *DB) getBlock(ctx context.Context, key string) (int64, error) {
	block := noBlock
	if _, err := d.Get(ctx, key, &block); err != nil {
		return noBlock, err
	}
	return block, nil
}

// GetLastLoggedEventBlock returns the last block checked for eventName, or -1.
func (d *DB) GetLastLoggedEventBlock(ctx context.Context, eventName string) (int64, error) {
	return d.getBlock(ctx, prefixLastLog+eventName)
}

// SetLastLoggedEventBlock stores the last block checked for eventName.
func (d *DB) SetLastLoggedEventBlock(ctx context.Context, eventName string, block int64) error {
	return d.Set(ctx, prefixLastLog+eventName, block)
}

// GetLastSyncedBlock returns the global sync cursor, or -1.
func (d *DB) GetLastSyncedBlock(ctx context.Context) (int64, error) {
	return d.getBlock(ctx, keySyncBlock)
}

// SetLastSyncedBlock stores the global sync cursor.
func (d *DB) SetLastSyncedBlock(ctx context.Context, block int64) error {
	return d.Set(ctx, keySyncBlock, block)
}

// GetFailedTransactions returns encoded transactions that failed to sync.
func (d *DB) GetFailedTransactions(ctx context.Context) ([]string, error) {
	txs := []string{}
	if _, err := d.Get(ctx, keyFailedTxs, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// SetFailedTransactions replaces the failed transaction list.
func (d *DB) SetFailedTransactions(ctx context.Context, txs []string) error {
	if txs == nil {
		txs = []string{}
	}
	return d.Set(ctx, keyFailedTxs, txs)
}

// AddFailedTransaction appends one encoded transaction to the failed list.
func (d *DB) AddFailedTransaction(ctx context.Context, tx string) error {
	txs, err := d.GetFailedTransactions(ctx)
	if err != nil {
		return err
	}
	return d.SetFailedTransactions(ctx, append(txs, tx))
}

// AddEvents marks every event hash as seen. Already seen hashes are rewritten
// with the same marker, so repeated calls have no further effect.
func (d *DB) AddEvents(ctx context.Context, events []event.Event) error {
	b, err := d.open()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	kvs := make([]storage.KV, 0, len(events))
	for _, ev := range events {
		kvs = append(kvs, storage.KV{Key: prefixSeen + ev.Hash, Value: []byte(seenMarkerJSON)})
	}
	if err := b.BulkPut(ctx, kvs); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	return nil
}

// HasEvent reports whether the event hash was marked seen.
func (d *DB) HasEvent(ctx context.Context, ev event.Event) (bool, error) {
	b, err := d.open()
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, prefixSeen+ev.Hash)
}

// Cursors returns the stored per-event cursors for the given names.
func (d *DB) Cursors(ctx context.Context, eventNames []string) (map[string]int64, error) {
	out := make(map[string]int64, len(eventNames))
	for _, name := range eventNames {
		block, err := d.GetLastLoggedEventBlock(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = block
	}
	return out, nil
}
