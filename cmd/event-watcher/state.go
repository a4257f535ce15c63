package main

import (
	"context"
	"fmt"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/devblac/event-watcher/internal/syncdb"
	"github.com/devblac/event-watcher/internal/watcher"
	"github.com/spf13/cobra"
)

var flagOffline bool

func init() {
	stateCmd.Flags().BoolVar(&flagOffline, "offline", false, "Skip the RPC call used to compute lag")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show cursors, processing lag and failed transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		log := newLogger()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		db, err := openSyncDB(ctx, cfg, store, log)
		if err != nil {
			return err
		}

		var cutoff int64 = -1
		if !flagOffline {
			if c, err := currentCutoff(ctx, cfg); err != nil {
				fmt.Fprintf(out, "chain: unavailable (%v)\n", err)
			} else {
				cutoff = c
				fmt.Fprintf(out, "chain: cutoff %d (finality depth %d)\n", cutoff, cfg.Global.Finality())
			}
		}

		fmt.Fprintf(out, "namespace: %s\n", db.Namespace())
		synced, err := db.GetLastSyncedBlock(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "last synced block: %d%s\n", synced, lag(cutoff, synced))

		cursors, err := db.Cursors(ctx, cfg.Events())
		if err != nil {
			return err
		}
		for _, name := range cfg.Events() {
			fmt.Fprintf(out, "- %s: %d%s\n", name, cursors[name], lag(cutoff, cursors[name]))
		}

		return printFailed(ctx, cmd, db)
	},
}

func currentCutoff(ctx context.Context, cfg *config.Config) (int64, error) {
	rpc, chain, err := dialChain(cfg, newLogger())
	if err != nil {
		return 0, err
	}
	defer rpc.Close()
	height, err := chain.CurrentBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return int64(watcher.Cutoff(height, uint64(cfg.Global.Finality()))), nil
}

func lag(cutoff, cursor int64) string {
	if cutoff < 0 {
		return ""
	}
	return fmt.Sprintf(" (lag %d)", cutoff-cursor)
}

func printFailed(ctx context.Context, cmd *cobra.Command, db *syncdb.DB) error {
	txs, err := db.GetFailedTransactions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "failed transactions: %d\n", len(txs))
	for _, tx := range txs {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", tx)
	}
	return nil
}
