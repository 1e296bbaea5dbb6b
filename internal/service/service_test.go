package service

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// --- Mock runner ---

type mockRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *mockRunner) run(name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if err := r.fail[call]; err != nil {
		return []byte("boom"), err
	}
	return nil, nil
}

func newTestManager(t *testing.T, goos string) (*Manager, *mockRunner) {
	t.Helper()
	r := &mockRunner{fail: map[string]error{}}
	m := New(t.TempDir(), "/usr/local/bin/familywall", "/home/u/.config/familywall/config.yaml")
	m.goos = goos
	m.run = r.run
	return m, r
}

// ---------------------------------------------------------------------------

func TestRender_Launchd(t *testing.T) {
	m, _ := newTestManager(t, "darwin")
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"<string>" + Label + "</string>",
		"<string>/usr/local/bin/familywall</string>",
		"<string>daemon</string>",
		"<string>/home/u/.config/familywall/config.yaml</string>",
		m.LogDir() + "/familywall.log",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plist missing %q", want)
		}
	}
}

func TestRender_Systemd(t *testing.T) {
	m, _ := newTestManager(t, "linux")
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `ExecStart="/usr/local/bin/familywall" daemon --yes --config "/home/u/.config/familywall/config.yaml"`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("unit missing ExecStart:\n%s", buf.String())
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	m, _ := newTestManager(t, "plan9")
	if _, err := m.UnitPath(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("UnitPath err = %v", err)
	}
	if err := m.Render(&bytes.Buffer{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Render err = %v", err)
	}
	if m.Running() {
		t.Error("Running = true on unsupported platform")
	}
}

func TestInstall_Systemd(t *testing.T) {
	m, r := newTestManager(t, "linux")
	dest, err := m.Install()
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	if filepath.Base(dest) != "familywall.service" {
		t.Errorf("dest = %s", dest)
	}
	want := []string{
		"systemctl --user daemon-reload",
		"systemctl --user enable --now familywall.service",
	}
	if strings.Join(r.calls, "\n") != strings.Join(want, "\n") {
		t.Errorf("calls = %v, want %v", r.calls, want)
	}
}

func TestInstall_LaunchdReloads(t *testing.T) {
	m, r := newTestManager(t, "darwin")
	dest, err := m.Install()
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(m.LogDir()); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
	last := r.calls[len(r.calls)-1]
	if last != "launchctl load "+dest {
		t.Errorf("last call = %q", last)
	}
}

func TestInstall_LoadFailure(t *testing.T) {
	m, r := newTestManager(t, "linux")
	r.fail["systemctl --user enable --now familywall.service"] = errors.New("exit 1")
	if _, err := m.Install(); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("Install err = %v, want command output in error", err)
	}
}

func TestUninstall(t *testing.T) {
	m, r := newTestManager(t, "linux")
	dest, err := m.Install()
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	r.calls = nil

	if err := m.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("unit still present: %v", err)
	}
	if len(r.calls) != 2 || r.calls[0] != "systemctl --user disable --now familywall.service" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestUninstall_NotInstalled(t *testing.T) {
	m, r := newTestManager(t, "darwin")
	if err := m.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("calls = %v, want none", r.calls)
	}
}

func TestRunning(t *testing.T) {
	m, r := newTestManager(t, "darwin")
	if !m.Running() {
		t.Error("Running = false, want true")
	}
	r.fail["launchctl list "+Label] = errors.New("not loaded")
	if m.Running() {
		t.Error("Running = true, want false")
	}
}
