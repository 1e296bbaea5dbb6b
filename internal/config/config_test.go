package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/familywall/internal/source"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
log_format: json
cache_ttl_minutes: 30
db_path: /var/lib/familywall/cache.db
calendar_defaults:
  sync_interval_minutes: 10
  sync_past_events: true
  future_days_to_sync: 60
sync:
  startup_delay: 2s
  fetch_timeout: 45s
  force_refresh_cron: "0 4 * * *"
graph:
  client_id: "abc"
  tenant_id: "common"
  token_file: /tmp/graph.json
  calendar_ids: [AAMk1, AAMk2]
ics:
  cache_dir: /tmp/ics
  feeds:
    - id: school
      name: School holidays
      url: https://example.com/school.ics
    - id: bins
      url: webcal://example.com/bins.ics
homeassistant:
  url: "http://ha.local:8123"
  token: "token"
diagnostics:
  listen: ":9000"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.CacheTTL() != 30*time.Minute {
		t.Errorf("CacheTTL = %v, want 30m", cfg.CacheTTL())
	}
	if cfg.DBPath != "/var/lib/familywall/cache.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if d := cfg.CalendarDefaults; d.SyncIntervalMinutes != 10 || !d.SyncPastEvents || d.FutureDaysToSync != 60 {
		t.Errorf("CalendarDefaults = %+v", d)
	}
	if cfg.Sync.StartupDelay != 2*time.Second || cfg.Sync.FetchTimeout != 45*time.Second {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if len(cfg.Graph.CalendarIDs) != 2 {
		t.Errorf("Graph.CalendarIDs = %v", cfg.Graph.CalendarIDs)
	}
	if cfg.ICS.Feeds[1].Name != "bins" {
		t.Errorf("feed name default = %q, want id", cfg.ICS.Feeds[1].Name)
	}
	if cfg.Diagnostics.Listen != ":9000" {
		t.Errorf("Diagnostics.Listen = %q", cfg.Diagnostics.Listen)
	}

	got := cfg.Sources()
	want := []string{source.TagGraph, source.TagICS, source.TagHomeAssistant}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Sources = %v, want %v", got, want)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
ics:
  feeds:
    - id: school
      url: https://example.com/school.ics
diagnostics: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want default text", cfg.LogFormat)
	}
	if cfg.CacheTTLMinutes != 15 {
		t.Errorf("CacheTTLMinutes = %d, want default 15", cfg.CacheTTLMinutes)
	}
	if cfg.CalendarDefaults.SyncIntervalMinutes != 15 || cfg.CalendarDefaults.FutureDaysToSync != 90 {
		t.Errorf("CalendarDefaults = %+v, want 15/90", cfg.CalendarDefaults)
	}
	if cfg.ICS.CacheDir == "" || strings.HasPrefix(cfg.ICS.CacheDir, "~") {
		t.Errorf("ICS.CacheDir = %q, want expanded default", cfg.ICS.CacheDir)
	}
	if cfg.Diagnostics.Listen != DefaultDiagnosticsListen {
		t.Errorf("Diagnostics.Listen = %q, want default", cfg.Diagnostics.Listen)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("FAMILYWALL_TEST_HA_TOKEN", "from-env")
	path := writeConfig(t, `
homeassistant:
  url: "http://ha.local:8123"
  token: "${FAMILYWALL_TEST_HA_TOKEN}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HomeAssistant.Token != "from-env" {
		t.Errorf("Token = %q, want from-env", cfg.HomeAssistant.Token)
	}
}

func TestLoad_GoogleTokenFileDefaultsNextToCredentials(t *testing.T) {
	path := writeConfig(t, `
google:
  credentials_file: /etc/familywall/credentials.json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Google.TokenFile != "/etc/familywall/google-token.json" {
		t.Errorf("TokenFile = %q", cfg.Google.TokenFile)
	}
}

func TestLoad_RemindersDisabledIsNotASource(t *testing.T) {
	path := writeConfig(t, `
reminders:
  enabled: false
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when no source is enabled, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no sources", `log_format: text`},
		{"bad log format", `
log_format: xml
reminders: {enabled: true}
`},
		{"negative ttl", `
cache_ttl_minutes: -1
reminders: {enabled: true}
`},
		{"negative defaults", `
calendar_defaults: {future_days_to_sync: -5}
reminders: {enabled: true}
`},
		{"negative delay", `
sync: {startup_delay: -1s}
reminders: {enabled: true}
`},
		{"bad cron", `
sync: {force_refresh_cron: "every day"}
reminders: {enabled: true}
`},
		{"graph without client id", `
graph: {tenant_id: common}
`},
		{"google without credentials", `
google: {token_file: /tmp/t.json}
`},
		{"ics without feeds", `
ics: {feeds: []}
`},
		{"ics duplicate ids", `
ics:
  feeds:
    - {id: a, url: "https://example.com/a.ics"}
    - {id: a, url: "https://example.com/b.ics"}
`},
		{"ics bad url", `
ics:
  feeds:
    - {id: a, url: "ftp://example.com/a.ics"}
`},
		{"ha missing url", `
homeassistant: {token: token}
`},
		{"ha invalid url", `
homeassistant: {url: not-a-url, token: token}
`},
		{"ha missing token", `
homeassistant: {url: "http://ha.local:8123"}
`},
		{"unknown key", `
reminders: {enabled: true}
unknown_field: oops
`},
		{"telemetry missing endpoint", `
reminders: {enabled: true}
telemetry:
  insecure: true
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("familywall", "config.yaml")) {
		t.Errorf("DefaultPath = %q", path)
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
reminders: {enabled: true}
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "kitchen-wall"
  headers:
    Authorization: "Bearer secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.ServiceName != "kitchen-wall" {
		t.Errorf("ServiceName = %q, want kitchen-wall", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q", cfg.Telemetry.Headers["Authorization"])
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	cfg, err := Load(writeConfig(t, `reminders: {enabled: true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil || cfg.Diagnostics != nil {
		t.Error("expected optional blocks to be nil when omitted")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome(abs) = %q", got)
	}
}
