package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/devblac/event-watcher/internal/logging"
	"github.com/devblac/event-watcher/internal/source/evm"
	"github.com/devblac/event-watcher/internal/storage"
	"github.com/devblac/event-watcher/internal/storage/redisstore"
	"github.com/devblac/event-watcher/internal/syncdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// backend is a sync store backend the CLI can ping and close.
type backend interface {
	syncdb.Backend
	Ping(ctx context.Context) error
	Close() error
}

func newLogger() *slog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	return logging.NewWithLevel(level)
}

// openBackend opens the configured sync store backend.
func openBackend(cfg *config.Config) (backend, error) {
	switch cfg.Global.Store {
	case "sqlite":
		s, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := redisstore.Open(cfg.Global.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Global.Store)
	}
}

// openJournal returns the sqlite store used for route dedupe and delivery
// records, reusing the sync backend when it already is one.
func openJournal(cfg *config.Config, b backend) (*storage.Store, func() error, error) {
	if s, ok := b.(*storage.Store); ok {
		return s, func() error { return nil }, nil
	}
	s, err := storage.Open(cfg.Global.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	return s, s.Close, nil
}

// dialChain connects to the configured node and prepares the contract client.
func dialChain(cfg *config.Config, log *slog.Logger) (*ethclient.Client, *evm.Client, error) {
	rpc, err := evm.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	abis, err := evm.LoadABIs(cfg.Chain.ABIDirs)
	if err != nil {
		rpc.Close()
		return nil, nil, fmt.Errorf("load abis: %w", err)
	}
	return rpc, evm.NewClient(rpc, cfg.Chain.Contract, abis, log), nil
}

// openSyncDB opens the sync store for reading outside of run. The namespace is
// the configured contract address or, for deploy_tx configs on sqlite, the
// single namespace already present in the database.
func openSyncDB(ctx context.Context, cfg *config.Config, b backend, log *slog.Logger) (*syncdb.DB, error) {
	ns := ""
	switch {
	case cfg.Chain.Contract != "":
		ns = common.HexToAddress(cfg.Chain.Contract).Hex()
	default:
		s, ok := b.(*storage.Store)
		if !ok {
			return nil, fmt.Errorf("chain.contract required for %s store", cfg.Global.Store)
		}
		names, err := s.Namespaces(ctx)
		if err != nil {
			return nil, err
		}
		if len(names) != 1 {
			return nil, fmt.Errorf("cannot pick a namespace from %d candidates; set chain.contract", len(names))
		}
		ns = names[0]
	}
	db := syncdb.New(b, log)
	if err := db.Open(ctx, ns); err != nil {
		return nil, err
	}
	return db, nil
}
