package main

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/spf13/cobra"
)

const defaultRPCTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ping the RPC endpoint and check subscribed events",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d, %d subscription(s))\n", cfg.Version, len(cfg.Subscriptions))

		rpc, chain, err := dialChain(cfg, newLogger())
		if err != nil {
			return err
		}
		defer rpc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), defaultRPCTimeout)
		defer cancel()
		chainID, err := chain.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("validate: rpc %s: %w", cfg.Chain.RPCURL, err)
		}
		fmt.Fprintf(out, "- rpc: chainId %s OK\n", chainID)

		failures := 0
		for _, name := range cfg.Events() {
			if !chain.HasEvent(name) {
				failures++
				fmt.Fprintf(out, "- event %s: ERROR not found in abi_dirs and not a signature\n", name)
				continue
			}
			fmt.Fprintf(out, "- event %s: OK\n", name)
		}
		if failures > 0 {
			return fmt.Errorf("validate: %d event(s) cannot be decoded", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}
