package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/njoerd114/familywall/internal/config"
	"github.com/njoerd114/familywall/internal/source"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show config, cache and calendar state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "familywall", version)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, versionCmd)
}

// runStatus never fails on a missing or broken config; it reports it.
func runStatus(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	cfgPath := viper.GetString("config")

	_, _ = fmt.Fprintln(w, headerStyle.Render("FamilyWall Status"))
	_, _ = fmt.Fprintln(w, "─────────────────")

	if m, err := newServiceManager(); err == nil && m.Running() {
		_, _ = fmt.Fprintln(w, "  Service:   running")
	} else {
		_, _ = fmt.Fprintln(w, "  Service:   not running")
	}

	if _, err := os.Stat(cfgPath); err != nil {
		_, _ = fmt.Fprintf(w, "  Config:    not found (%s)\n", cfgPath)
		return nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		_, _ = fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", cfgPath, err)
		return nil
	}
	_, _ = fmt.Fprintf(w, "  Config:    %s ✓\n", cfgPath)
	_, _ = fmt.Fprintf(w, "  Sources:   %v\n", cfg.Sources())
	_, _ = fmt.Fprintf(w, "  Cache TTL: %s\n", cfg.CacheTTL())
	if cfg.Diagnostics != nil {
		_, _ = fmt.Fprintf(w, "  Diag:      http://%s\n", cfg.Diagnostics.Listen)
	}

	dbPath, err := resolveDBPath(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		_, _ = fmt.Fprintln(w, "  Cache DB:  not found")
		return nil
	}
	_, _ = fmt.Fprintf(w, "  Cache DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.printCacheStatus(cmd, w)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *app) printCacheStatus(cmd *cobra.Command, w io.Writer) error {
	ctx := cmd.Context()
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("pinging cache DB: %w", err)
	}
	if c, err := a.sources.Client(source.TagHomeAssistant); err == nil {
		if p, ok := c.(pinger); ok {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := p.Ping(pingCtx)
			cancel()
			if err != nil {
				_, _ = fmt.Fprintf(w, "  Home Asst: unreachable (%v)\n", err)
			} else {
				_, _ = fmt.Fprintln(w, "  Home Asst: reachable ✓")
			}
		}
	}

	cals, err := a.registry.All(ctx)
	if err != nil {
		return err
	}
	var enabled int
	for _, c := range cals {
		if c.Enabled {
			enabled++
		}
	}
	_, _ = fmt.Fprintf(w, "  Calendars: %d registered, %d enabled\n", len(cals), enabled)

	from := time.Now()
	to := from.AddDate(0, 0, 7)
	total, err := a.query.Count(ctx, from, to)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "  Next 7d:   %d events\n", total)

	by, err := a.query.CountByCalendar(ctx, from, to)
	if err != nil {
		return err
	}
	if len(by) > 0 {
		_, _ = fmt.Fprintln(w)
		printCounts(w, total, by)
	}
	return nil
}
