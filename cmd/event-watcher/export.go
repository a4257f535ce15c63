package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/spf13/cobra"
)

var flagFormat string

func init() {
	exportCmd.Flags().StringVar(&flagFormat, "format", "json", "Output format: json|csv")
}

type cursorRecord struct {
	Namespace string `json:"namespace"`
	Event     string `json:"event"`
	Block     int64  `json:"block"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export per-event cursors as json or csv",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		db, err := openSyncDB(ctx, cfg, store, newLogger())
		if err != nil {
			return err
		}
		cursors, err := db.Cursors(ctx, cfg.Events())
		if err != nil {
			return err
		}
		synced, err := db.GetLastSyncedBlock(ctx)
		if err != nil {
			return err
		}

		records := []cursorRecord{{Namespace: db.Namespace(), Event: "*", Block: synced}}
		for _, name := range cfg.Events() {
			records = append(records, cursorRecord{Namespace: db.Namespace(), Event: name, Block: cursors[name]})
		}

		out := cmd.OutOrStdout()
		switch flagFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		case "csv":
			w := csv.NewWriter(out)
			_ = w.Write([]string{"namespace", "event", "block"})
			for _, r := range records {
				_ = w.Write([]string{r.Namespace, r.Event, strconv.FormatInt(r.Block, 10)})
			}
			w.Flush()
			return w.Error()
		default:
			return fmt.Errorf("unsupported format %q", flagFormat)
		}
	},
}
