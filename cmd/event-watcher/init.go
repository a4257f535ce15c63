package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "Overwrite an existing config file")
}

const sampleConfig = `version: 1
global:
  store: sqlite
  db_path: event-watcher.db
  finality_depth: 12
  event_poll_interval: 15000
chain:
  rpc_url: ${RPC_URL}
  contract: "0x0000000000000000000000000000000000000000"
  abi_dirs: [abis]
subscriptions:
  - id: deposits
    event: Deposit
    where: ["amount >= ether(1)"]
    sinks: [console]
    dedupe:
      key: txhash:logIndex
      ttl: 24h
  - id: chains
    event: ChainCreated
    decode: chain_created
    sinks: [console]
sinks:
  - id: console
    type: log
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil && !flagForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
		}
		if err := os.WriteFile(cfgPath, []byte(sampleConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
		return nil
	},
}
