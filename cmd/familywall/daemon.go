package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/familywall/internal/diagnostics"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run first-run discovery, then sync continuously",
	Long: `Runs the sync loop until interrupted. On first start with an empty
calendar registry every configured source is asked for its calendars and
the result is registered after confirmation (skip the prompt with --yes).`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Run a single sync pass over every enabled calendar, then exit",
	Args:  cobra.NoArgs,
	RunE:  runSyncOnce,
}

func init() {
	daemonCmd.Flags().Bool("yes", false, "register discovered calendars without asking")
	syncOnceCmd.Flags().Bool("yes", false, "register discovered calendars without asking")
	rootCmd.AddCommand(daemonCmd, syncOnceCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	assumeYes, _ := cmd.Flags().GetBool("yes")

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bootstrap(ctx, assumeYes); err != nil {
		return err
	}

	orch := a.newOrchestrator()

	notes, unsubscribe := orch.Subscribe(8)
	defer unsubscribe()
	go func() {
		for n := range notes {
			if n.Failed > 0 {
				a.log.Warn("calendars failed to sync",
					"run_id", n.RunID,
					"failed", n.Failed,
					"calendars", n.Calendars,
				)
			}
		}
	}()

	if spec := a.cfg.Sync.ForceRefreshCron; spec != "" {
		stopCron, err := orch.ScheduleForcedRefresh(ctx, spec)
		if err != nil {
			return fmt.Errorf("scheduling forced refresh: %w", err)
		}
		defer stopCron()
	}

	if d := a.cfg.Diagnostics; d != nil {
		srv, err := diagnostics.New(d.Listen, orch, a.query, a.log)
		if err != nil {
			return fmt.Errorf("creating diagnostics server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("starting diagnostics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("diagnostics server shutdown", "error", err)
			}
		}()
	}

	a.log.Info("daemon starting", "version", version, "sources", a.cfg.Sources(), "db", a.dbPath)
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync loop: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}

func runSyncOnce(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	assumeYes, _ := cmd.Flags().GetBool("yes")

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bootstrap(ctx, assumeYes); err != nil {
		return err
	}

	orch := a.newOrchestrator()
	a.log.Info("running single sync pass")
	syncErr := orch.SyncAll(ctx)
	printRunSummary(os.Stdout, orch.Status())
	return syncErr
}
