package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/event-watcher/internal/config"
	"github.com/devblac/event-watcher/internal/engine"
	"github.com/devblac/event-watcher/internal/health"
	"github.com/devblac/event-watcher/internal/metrics"
	"github.com/devblac/event-watcher/internal/sink"
	"github.com/devblac/event-watcher/internal/syncdb"
	"github.com/devblac/event-watcher/internal/watcher"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run a single polling cycle and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send to sinks")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the contract and deliver events",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		rpc, chain, err := dialChain(cfg, log)
		if err != nil {
			return err
		}
		defer rpc.Close()

		store, err := openBackend(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		journal, closeJournal, err := openJournal(cfg, store)
		if err != nil {
			return err
		}
		defer closeJournal()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		if !chain.HasAddress() {
			go func() {
				if err := chain.ResolveAddress(ctx, cfg.Chain.DeployTx, cfg.Global.PollInterval()); err != nil && ctx.Err() == nil {
					log.Error("resolve contract address", "deploy_tx", cfg.Chain.DeployTx, "error", err)
				}
			}()
		}

		db := syncdb.New(store, log)

		if flagHealth != "" {
			healthSrv := health.Serve(flagHealth, health.Checker{
				DBPing:     store.Ping,
				RPCPing:    health.NewRPCChecker(chain).Ping,
				LastSynced: db.GetLastSyncedBlock,
			})
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if err := db.OpenWhenReady(ctx, chain); err != nil {
			return fmt.Errorf("open sync store: %w", err)
		}

		sinks, err := sink.Build(cfg.Sinks, log)
		if err != nil {
			return err
		}
		router, err := engine.NewRouter(cfg, journal, sinks, engine.Options{
			Contract: chain.Address(),
			DryRun:   flagDryRun,
		}, log, mtr)
		if err != nil {
			return err
		}

		w := watcher.New(chain, db, watcher.Options{
			FinalityDepth: uint64(cfg.Global.Finality()),
			PollInterval:  cfg.Global.PollInterval(),
			Manual:        true,
		}, log, mtr)
		router.Attach(w)

		if flagOnce {
			if err := w.RunOnce(ctx); err != nil {
				mtr.Errors()
				return err
			}
			log.Info("cycle complete", "dry_run", flagDryRun)
			return nil
		}

		w.Start(ctx)
		<-w.Done()
		return nil
	},
}
