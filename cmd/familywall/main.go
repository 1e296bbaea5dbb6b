// FamilyWall keeps a local cache of family calendars in sync with Microsoft
// Graph, Google Calendar, ICS feeds, Home Assistant and Apple Reminders, and
// answers queries against that cache.
//
// Usage:
//
//	familywall daemon [--yes]          # first-run discovery, then sync forever
//	familywall sync-once               # one sync pass then exit
//	familywall calendars list          # registered calendars
//	familywall events upcoming -n 10   # next events from the cache
//	familywall auth google             # OAuth sign-in, writes token_file
//	familywall status                  # config, cache and calendar state
//	familywall version                 # print version
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func init() {
	// A .env next to the binary may supply ${VAR} values used in config.yaml.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}
