package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/njoerd114/familywall/internal/config"
	"github.com/njoerd114/familywall/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSources_RegistersConfiguredSources(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Graph:  &config.GraphConfig{ClientID: "app", TokenFile: filepath.Join(dir, "graph.json")},
		Google: &config.GoogleConfig{CredentialsFile: filepath.Join(dir, "creds.json"), TokenFile: filepath.Join(dir, "google.json")},
		ICS: &config.ICSConfig{
			CacheDir: dir,
			Feeds:    []config.ICSFeed{{ID: "bins", Name: "Bins", URL: "https://example.com/bins.ics"}},
		},
	}

	set, err := buildSources(cfg, discardLogger())
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	want := []string{source.TagGoogle, source.TagGraph, source.TagICS}
	if got := set.Tags(); !slices.Equal(got, want) {
		t.Errorf("Tags = %v, want %v", got, want)
	}
	for _, tag := range want {
		if _, err := set.Lookup(tag); err != nil {
			t.Errorf("Lookup(%s): %v", tag, err)
		}
	}
}

func TestBuildSources_Empty(t *testing.T) {
	set, err := buildSources(&config.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}
	if tags := set.Tags(); len(tags) != 0 {
		t.Errorf("Tags = %v, want none", tags)
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogFormatJSON, false).Info("hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_VerboseEnablesDebug(t *testing.T) {
	var quiet, loud bytes.Buffer
	newLogger(&quiet, config.LogFormatText, false).Debug("hidden")
	newLogger(&loud, config.LogFormatText, true).Debug("shown")

	if quiet.Len() != 0 {
		t.Errorf("debug logged without verbose: %q", quiet.String())
	}
	if !strings.Contains(loud.String(), "shown") {
		t.Errorf("debug missing with verbose: %q", loud.String())
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogFormatPretty, false).Info("pretty line")
	if !strings.Contains(buf.String(), "pretty line") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestResolveDBPath(t *testing.T) {
	t.Cleanup(func() { viper.Set("db", "") })

	cfg := &config.Config{DBPath: "/var/lib/familywall/cache.db"}
	got, err := resolveDBPath(cfg)
	if err != nil {
		t.Fatalf("resolveDBPath: %v", err)
	}
	if got != cfg.DBPath {
		t.Errorf("got %q, want config value", got)
	}

	viper.Set("db", "/tmp/override.db")
	got, err = resolveDBPath(cfg)
	if err != nil {
		t.Fatalf("resolveDBPath: %v", err)
	}
	if got != "/tmp/override.db" {
		t.Errorf("got %q, want flag override", got)
	}

	viper.Set("db", "")
	got, err = resolveDBPath(&config.Config{})
	if err != nil {
		t.Fatalf("resolveDBPath: %v", err)
	}
	if !strings.HasSuffix(got, ".db") {
		t.Errorf("default path = %q", got)
	}
}
