package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/njoerd114/familywall/internal/config"
	"github.com/njoerd114/familywall/internal/prompt"
	"github.com/njoerd114/familywall/internal/query"
	"github.com/njoerd114/familywall/internal/registry"
	"github.com/njoerd114/familywall/internal/source"
	"github.com/njoerd114/familywall/internal/source/google"
	"github.com/njoerd114/familywall/internal/source/graph"
	"github.com/njoerd114/familywall/internal/source/homeassistant"
	"github.com/njoerd114/familywall/internal/source/ics"
	"github.com/njoerd114/familywall/internal/source/reminders"
	"github.com/njoerd114/familywall/internal/state"
	syncp "github.com/njoerd114/familywall/internal/sync"
	"github.com/njoerd114/familywall/internal/telemetry"
)

// app is the composition root shared by every subcommand.
type app struct {
	cfgPath  string
	cfg      *config.Config
	log      *slog.Logger
	dbPath   string
	store    *state.Store
	sources  *source.Set
	registry *registry.Registry
	query    *query.Service

	closers []func()
}

// newApp loads the config and opens the cache. Telemetry is only started
// for the long-running and sync commands.
func newApp(withTelemetry bool) (*app, error) {
	cfgPath := viper.GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	format := cfg.LogFormat
	if f := viper.GetString("log_format"); f != "" {
		format = f
	}
	logger := newLogger(os.Stderr, format, viper.GetBool("verbose"))
	slog.SetDefault(logger)
	logger.Debug("config loaded", "path", cfgPath, "sources", cfg.Sources())

	a := &app{cfgPath: cfgPath, cfg: cfg, log: logger}

	if withTelemetry && cfg.Telemetry != nil {
		a.startTelemetry()
	}

	a.dbPath, err = resolveDBPath(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = state.Open(a.dbPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening cache DB at %q: %w", a.dbPath, err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Error("closing cache DB", "error", err)
		}
	})
	logger.Debug("cache DB opened", "path", a.dbPath)

	a.sources, err = buildSources(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry.New(a.store, a.sources, registry.Defaults{
		SyncIntervalMinutes: cfg.CalendarDefaults.SyncIntervalMinutes,
		SyncPastEvents:      cfg.CalendarDefaults.SyncPastEvents,
		FutureDaysToSync:    cfg.CalendarDefaults.FutureDaysToSync,
	}, logger)
	a.query = query.New(a.store, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) startTelemetry() {
	t := a.cfg.Telemetry
	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		OTLPEndpoint:   t.OTLPEndpoint,
		Insecure:       t.Insecure,
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Headers:        t.Headers,
	})
	if err != nil {
		a.log.Error("telemetry setup failed, continuing without telemetry", "error", err)
		return
	}
	a.log.Info("telemetry enabled", "endpoint", t.OTLPEndpoint)
	a.closers = append(a.closers, func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			a.log.Error("telemetry shutdown error", "error", err)
		}
	})
}

func (a *app) newOrchestrator() *syncp.Orchestrator {
	reconciler := syncp.NewReconciler(a.store, a.log)
	return syncp.NewOrchestrator(a.registry, a.sources, reconciler, a.sources, syncp.Config{
		StartupDelay: a.cfg.Sync.StartupDelay,
		RetryDelay:   a.cfg.Sync.RetryDelay,
		FetchTimeout: a.cfg.Sync.FetchTimeout,
		CacheTTL:     a.cfg.CacheTTL(),
	}, a.log)
}

// bootstrap runs first-run discovery when the registry is empty.
func (a *app) bootstrap(ctx context.Context, assumeYes bool) error {
	b := syncp.NewBootstrap(a.registry, a.cfg.Sources(), a.log, prompt.New(os.Stdin, os.Stdout), os.Stdout)
	b.AssumeYes = assumeYes
	if a.cfg.Graph != nil && len(a.cfg.Graph.CalendarIDs) > 0 {
		b.Selected = map[string][]string{source.TagGraph: a.cfg.Graph.CalendarIDs}
	}
	ran, err := b.Run(ctx)
	if err != nil {
		return fmt.Errorf("first-run discovery: %w", err)
	}
	if ran {
		a.log.Info("first-run discovery complete")
	}
	return nil
}

func resolveDBPath(cfg *config.Config) (string, error) {
	if p := viper.GetString("db"); p != "" {
		return p, nil
	}
	if cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	p, err := state.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving cache DB path: %w", err)
	}
	return p, nil
}

// buildSources registers a client for every configured source. Apple
// Reminders is skipped with a warning when EventKit is unavailable so the
// other sources keep working.
func buildSources(cfg *config.Config, logger *slog.Logger) (*source.Set, error) {
	set := source.NewSet()

	if g := cfg.Graph; g != nil {
		set.Register(source.TagGraph, graph.New(graph.Config{
			ClientID:  g.ClientID,
			TenantID:  g.TenantID,
			TokenFile: g.TokenFile,
		}, logger), logger)
	}

	if g := cfg.Google; g != nil {
		set.Register(source.TagGoogle, google.New(google.Config{
			CredentialsFile: g.CredentialsFile,
			TokenFile:       g.TokenFile,
		}, logger), logger)
	}

	if c := cfg.ICS; c != nil {
		feeds := make([]ics.Feed, 0, len(c.Feeds))
		for _, f := range c.Feeds {
			feeds = append(feeds, ics.Feed{ID: f.ID, Name: f.Name, URL: f.URL})
		}
		set.Register(source.TagICS, ics.New(ics.Config{Feeds: feeds, CacheDir: c.CacheDir}, nil, logger), logger)
	}

	if h := cfg.HomeAssistant; h != nil {
		client, err := homeassistant.New(homeassistant.Config{URL: h.URL, Token: h.Token}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialising Home Assistant client: %w", err)
		}
		set.Register(source.TagHomeAssistant, client, logger)
	}

	if r := cfg.Reminders; r != nil && r.Enabled {
		client, err := reminders.New(logger)
		if err != nil {
			logger.Warn("Apple Reminders unavailable, skipping source", "error", err)
		} else {
			set.Register(source.TagReminders, client, logger)
		}
	}

	return set, nil
}
