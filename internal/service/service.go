// Package service installs the sync daemon as a per-user background service:
// a launchd agent on macOS or a systemd user unit on Linux.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// Label names the launchd job and the systemd unit.
const Label = "io.github.njoerd114.familywall"

// ErrUnsupported is returned on platforms without a supported service manager.
var ErrUnsupported = errors.New("no supported service manager on this platform")

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Binary}}</string>
		<string>daemon</string>
		<string>--yes</string>
		<string>--config</string>
		<string>{{.ConfigPath}}</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>{{.LogDir}}/familywall.log</string>
	<key>StandardErrorPath</key>
	<string>{{.LogDir}}/familywall.log</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=FamilyWall calendar sync
After=network-online.target
Wants=network-online.target

[Service]
ExecStart="{{.Binary}}" daemon --yes --config "{{.ConfigPath}}"
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target
`

type unitData struct {
	Label      string
	Binary     string
	ConfigPath string
	LogDir     string
}

// Manager writes, loads and removes the service definition.
type Manager struct {
	homeDir    string
	binary     string
	configPath string
	goos       string

	run func(name string, args ...string) ([]byte, error)
}

// New returns a Manager for the current platform. binary is the absolute
// path of the executable the service runs.
func New(homeDir, binary, configPath string) *Manager {
	return &Manager{
		homeDir:    homeDir,
		binary:     binary,
		configPath: configPath,
		goos:       runtime.GOOS,
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

// UnitPath returns where the service definition is written.
func (m *Manager) UnitPath() (string, error) {
	switch m.goos {
	case "darwin":
		return filepath.Join(m.homeDir, "Library", "LaunchAgents", Label+".plist"), nil
	case "linux":
		return filepath.Join(m.homeDir, ".config", "systemd", "user", "familywall.service"), nil
	default:
		return "", ErrUnsupported
	}
}

// LogDir returns the directory launchd writes daemon output to. systemd
// units log to the journal instead.
func (m *Manager) LogDir() string {
	return filepath.Join(m.homeDir, "Library", "Logs", "familywall")
}

// Render writes the service definition for the platform to w.
func (m *Manager) Render(w io.Writer) error {
	var text string
	switch m.goos {
	case "darwin":
		text = launchdTemplate
	case "linux":
		text = systemdTemplate
	default:
		return ErrUnsupported
	}
	tmpl, err := template.New("unit").Parse(text)
	if err != nil {
		return fmt.Errorf("parsing unit template: %w", err)
	}
	return tmpl.Execute(w, unitData{
		Label:      Label,
		Binary:     m.binary,
		ConfigPath: m.configPath,
		LogDir:     m.LogDir(),
	})
}

// Install writes the definition and starts the service, replacing a
// previously installed one.
func (m *Manager) Install() (string, error) {
	dest, err := m.UnitPath()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	if m.goos == "darwin" {
		if err := os.MkdirAll(m.LogDir(), 0o755); err != nil {
			return "", fmt.Errorf("creating log directory: %w", err)
		}
		_ = m.stop(dest)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}

	if m.goos == "darwin" {
		return dest, m.exec("launchctl", "load", dest)
	}
	if err := m.exec("systemctl", "--user", "daemon-reload"); err != nil {
		return dest, err
	}
	return dest, m.exec("systemctl", "--user", "enable", "--now", "familywall.service")
}

// Uninstall stops the service and removes its definition. A service that
// was never installed is not an error.
func (m *Manager) Uninstall() error {
	dest, err := m.UnitPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return nil
	}
	if err := m.stop(dest); err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", dest, err)
	}
	if m.goos == "linux" {
		return m.exec("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// Running reports whether the service manager has the job loaded and active.
func (m *Manager) Running() bool {
	switch m.goos {
	case "darwin":
		_, err := m.run("launchctl", "list", Label)
		return err == nil
	case "linux":
		_, err := m.run("systemctl", "--user", "is-active", "--quiet", "familywall.service")
		return err == nil
	default:
		return false
	}
}

func (m *Manager) stop(dest string) error {
	if m.goos == "darwin" {
		return m.exec("launchctl", "unload", dest)
	}
	return m.exec("systemctl", "--user", "disable", "--now", "familywall.service")
}

func (m *Manager) exec(name string, args ...string) error {
	if out, err := m.run(name, args...); err != nil {
		return fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}
