package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/njoerd114/familywall/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "familywall",
	Short: "Sync family calendars into a local cache for a wall display",
	Long: `familywall pulls events from Microsoft Graph, Google Calendar, ICS feeds,
Home Assistant and Apple Reminders into a local SQLite cache, keeps that
cache in step with each provider, and answers queries against it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.config/familywall/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "cache database path (overrides db_path)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text, json or pretty (overrides log_format)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig lets FAMILYWALL_CONFIG, FAMILYWALL_DB, FAMILYWALL_LOG_FORMAT and
// FAMILYWALL_VERBOSE stand in for the global flags. The YAML itself is read
// by config.Load, which rejects unknown keys.
func initConfig() {
	viper.SetEnvPrefix("FAMILYWALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if path, err := config.DefaultPath(); err == nil {
		viper.SetDefault("config", path)
	}
}

// newLogger builds the console logger for the given log_format.
func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	switch format {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	case config.LogFormatPretty:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
}
