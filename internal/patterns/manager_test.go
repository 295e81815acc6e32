package patterns

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return path
}

func TestNewManager_EmbeddedOnly(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if m.Get() != Get() {
		t.Error("expected embedded catalog")
	}
}

func TestNewManager_ExternalFile(t *testing.T) {
	path := writeCatalog(t, `
version: "test"
containers:
  - ".custom-turnstile"
`)

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	c := m.Get()
	if len(c.Containers) != 1 || c.Containers[0] != ".custom-turnstile" {
		t.Errorf("containers = %v", c.Containers)
	}
	if c.Version != "test" {
		t.Errorf("version = %q", c.Version)
	}
	if len(c.Iframes) == 0 {
		t.Error("expected embedded iframes to fill the gap")
	}
	if m.Stats().ReloadCount != 1 {
		t.Errorf("ReloadCount = %d, want 1", m.Stats().ReloadCount)
	}
}

func TestNewManager_InvalidFileKeepsEmbedded(t *testing.T) {
	path := writeCatalog(t, "containers: [unterminated")

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if m.Get() != Get() {
		t.Error("expected embedded catalog after failed load")
	}
	if m.Stats().LastErrorStr == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestManager_Reload(t *testing.T) {
	path := writeCatalog(t, "iframes:\n  - 'iframe.first'\n")
	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("iframes:\n  - 'iframe.second'\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := m.Get().Iframes[0]; got != "iframe.second" {
		t.Errorf("Iframes[0] = %q", got)
	}

	// A broken file leaves the previous catalog in place.
	if err := os.WriteFile(path, []byte("version: only"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err == nil {
		t.Error("expected error for catalog without patterns")
	}
	if got := m.Get().Iframes[0]; got != "iframe.second" {
		t.Errorf("Iframes[0] = %q after failed reload", got)
	}
}

func TestManager_Reload_NoExternalPath(t *testing.T) {
	m := DefaultManager()
	if err := m.Reload(); err == nil {
		t.Error("expected error without external path")
	}
}

func TestManager_HotReload(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping hot-reload test in short mode")
	}

	path := writeCatalog(t, "scripts:\n  - 'script.before'\n")
	m, err := NewManager(path, true)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("scripts:\n  - 'script.after'\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get().Scripts[0] == "script.after" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("catalog not hot-reloaded, Scripts = %v", m.Get().Scripts)
}

func TestManager_Close(t *testing.T) {
	m, err := NewManager("", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
