// Package config loads and validates the FamilyWall YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/familywall/internal/source"
)

// Log formats accepted by log_format.
const (
	LogFormatText   = "text"
	LogFormatJSON   = "json"
	LogFormatPretty = "pretty"
)

// DefaultDiagnosticsListen is used when the diagnostics block omits listen.
const DefaultDiagnosticsListen = "127.0.0.1:8089"

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// LogFormat selects the console handler: "text" (default), "json" or
	// "pretty" (colourised).
	LogFormat string `yaml:"log_format"`

	// DBPath overrides the cache database location. Empty means
	// ~/.local/share/familywall/cache.db.
	DBPath string `yaml:"db_path"`

	// CacheTTLMinutes caps the sync interval. Defaults to 15.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`

	// CalendarDefaults are given to newly discovered calendars.
	CalendarDefaults CalendarDefaults `yaml:"calendar_defaults"`

	Sync SyncConfig `yaml:"sync"`

	// Source blocks. Omit a block to disable the source.
	Graph         *GraphConfig         `yaml:"graph,omitempty"`
	Google        *GoogleConfig        `yaml:"google,omitempty"`
	ICS           *ICSConfig           `yaml:"ics,omitempty"`
	HomeAssistant *HomeAssistantConfig `yaml:"homeassistant,omitempty"`
	Reminders     *RemindersConfig     `yaml:"reminders,omitempty"`

	// Diagnostics enables the local HTTP status server.
	Diagnostics *DiagnosticsConfig `yaml:"diagnostics,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// CalendarDefaults mirrors the per-calendar sync settings.
type CalendarDefaults struct {
	SyncIntervalMinutes int  `yaml:"sync_interval_minutes"`
	SyncPastEvents      bool `yaml:"sync_past_events"`
	FutureDaysToSync    int  `yaml:"future_days_to_sync"`
}

// SyncConfig tunes the sync loop. Zero durations take the engine defaults.
type SyncConfig struct {
	StartupDelay time.Duration `yaml:"startup_delay"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"`

	// ForceRefreshCron is a five-field cron expression (e.g. "0 4 * * *")
	// on which a full sync is forced regardless of intervals.
	ForceRefreshCron string `yaml:"force_refresh_cron"`
}

// GraphConfig configures the Microsoft Graph source.
type GraphConfig struct {
	ClientID  string `yaml:"client_id"`
	TenantID  string `yaml:"tenant_id"`
	TokenFile string `yaml:"token_file"`

	// CalendarIDs limits which discovered calendars start enabled. Empty
	// means only the default calendar.
	CalendarIDs []string `yaml:"calendar_ids,omitempty"`
}

// GoogleConfig configures the Google Calendar source.
type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
}

// ICSConfig lists subscribed iCalendar feeds.
type ICSConfig struct {
	// CacheDir keeps the last good copy of every feed. Empty means
	// ~/.cache/familywall/ics.
	CacheDir string    `yaml:"cache_dir"`
	Feeds    []ICSFeed `yaml:"feeds"`
}

// ICSFeed is one subscribed feed.
type ICSFeed struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HomeAssistantConfig configures the Home Assistant calendar source.
type HomeAssistantConfig struct {
	// URL is the base URL of the Home Assistant instance (e.g. "http://homeassistant.local:8123").
	URL string `yaml:"url"`

	// Token is a long-lived access token.
	Token string `yaml:"token"`
}

// RemindersConfig enables Apple Reminders lists as calendars (macOS only).
type RemindersConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DiagnosticsConfig configures the local HTTP server.
type DiagnosticsConfig struct {
	Listen string `yaml:"listen"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "familywall".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/familywall/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "familywall", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
// ${VAR} references are replaced from the environment before parsing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// CacheTTL returns cache_ttl_minutes as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Sources returns the tags of the configured sources in a fixed order.
func (c *Config) Sources() []string {
	var tags []string
	if c.Graph != nil {
		tags = append(tags, source.TagGraph)
	}
	if c.Google != nil {
		tags = append(tags, source.TagGoogle)
	}
	if c.ICS != nil {
		tags = append(tags, source.TagICS)
	}
	if c.HomeAssistant != nil {
		tags = append(tags, source.TagHomeAssistant)
	}
	if c.Reminders != nil && c.Reminders.Enabled {
		tags = append(tags, source.TagReminders)
	}
	return tags
}

// validate checks that all required fields are present and well-formed, and
// fills defaults.
func (c *Config) validate() error {
	switch c.LogFormat {
	case "":
		c.LogFormat = LogFormatText
	case LogFormatText, LogFormatJSON, LogFormatPretty:
	default:
		return fmt.Errorf("log_format %q must be one of text, json, pretty", c.LogFormat)
	}

	if c.CacheTTLMinutes == 0 {
		c.CacheTTLMinutes = 15
	}
	if c.CacheTTLMinutes < 0 {
		return fmt.Errorf("cache_ttl_minutes must be positive, got %d", c.CacheTTLMinutes)
	}
	c.DBPath = expandHome(c.DBPath)

	d := &c.CalendarDefaults
	if d.SyncIntervalMinutes < 0 || d.FutureDaysToSync < 0 {
		return fmt.Errorf("calendar_defaults values must not be negative")
	}
	if d.SyncIntervalMinutes == 0 {
		d.SyncIntervalMinutes = 15
	}
	if d.FutureDaysToSync == 0 {
		d.FutureDaysToSync = 90
	}

	if c.Sync.StartupDelay < 0 || c.Sync.FetchTimeout < 0 || c.Sync.RetryDelay < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	if c.Sync.ForceRefreshCron != "" {
		if _, err := cron.ParseStandard(c.Sync.ForceRefreshCron); err != nil {
			return fmt.Errorf("sync.force_refresh_cron %q: %w", c.Sync.ForceRefreshCron, err)
		}
	}

	if err := c.validateSources(); err != nil {
		return err
	}

	if c.Diagnostics != nil && c.Diagnostics.Listen == "" {
		c.Diagnostics.Listen = DefaultDiagnosticsListen
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (c *Config) validateSources() error {
	if len(c.Sources()) == 0 {
		return fmt.Errorf("at least one calendar source (graph, google, ics, homeassistant, reminders) must be configured")
	}

	if g := c.Graph; g != nil {
		if g.ClientID == "" {
			return fmt.Errorf("graph.client_id is required")
		}
		if g.TokenFile == "" {
			g.TokenFile = "~/.config/familywall/graph-token.json"
		}
		g.TokenFile = expandHome(g.TokenFile)
	}

	if g := c.Google; g != nil {
		if g.CredentialsFile == "" {
			return fmt.Errorf("google.credentials_file is required")
		}
		g.CredentialsFile = expandHome(g.CredentialsFile)
		if g.TokenFile == "" {
			g.TokenFile = filepath.Join(filepath.Dir(g.CredentialsFile), "google-token.json")
		}
		g.TokenFile = expandHome(g.TokenFile)
	}

	if ics := c.ICS; ics != nil {
		if len(ics.Feeds) == 0 {
			return fmt.Errorf("ics.feeds must contain at least one entry")
		}
		if ics.CacheDir == "" {
			ics.CacheDir = "~/.cache/familywall/ics"
		}
		ics.CacheDir = expandHome(ics.CacheDir)

		seen := make(map[string]bool, len(ics.Feeds))
		for i := range ics.Feeds {
			f := &ics.Feeds[i]
			if f.ID == "" {
				return fmt.Errorf("ics.feeds[%d] has an empty id", i)
			}
			if seen[f.ID] {
				return fmt.Errorf("ics.feeds id %q is duplicated", f.ID)
			}
			seen[f.ID] = true
			u, err := url.Parse(f.URL)
			if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "webcal") {
				return fmt.Errorf("ics.feeds[%q].url %q must be an http, https or webcal URL", f.ID, f.URL)
			}
			if f.Name == "" {
				f.Name = f.ID
			}
		}
	}

	if ha := c.HomeAssistant; ha != nil {
		if ha.URL == "" {
			return fmt.Errorf("homeassistant.url is required")
		}
		u, err := url.ParseRequestURI(ha.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("homeassistant.url %q must be a valid http or https URL", ha.URL)
		}
		if ha.Token == "" {
			return fmt.Errorf("homeassistant.token is required")
		}
	}

	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
