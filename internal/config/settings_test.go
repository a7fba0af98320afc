package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/teamdock/teamdock/internal/config"
)

func TestGetInstancePathsHonoursHomeOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TEAMDOCK_HOME", home)

	paths := config.GetInstancePaths()
	if paths.Home != home {
		t.Fatalf("expected home %q, got %q", home, paths.Home)
	}
	if paths.DataDir != filepath.Join(home, "data") {
		t.Fatalf("unexpected data dir %q", paths.DataDir)
	}
}

func TestEnsureInstanceDirs(t *testing.T) {
	t.Setenv("TEAMDOCK_HOME", t.TempDir())

	paths, err := config.EnsureInstanceDirs()
	if err != nil {
		t.Fatalf("EnsureInstanceDirs: %v", err)
	}
	for _, dir := range []string{paths.Home, paths.DataDir, paths.Logs} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be a directory", dir)
		}
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	t.Setenv("TEAMDOCK_HOME", t.TempDir())
	paths := config.GetInstancePaths()

	s, err := config.LoadSettings(paths)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Listen != "127.0.0.1:7420" {
		t.Fatalf("unexpected listen default %q", s.Listen)
	}
	if s.Store.Backend != config.StoreBackendFile {
		t.Fatalf("unexpected backend default %q", s.Store.Backend)
	}
	if s.Store.Dir != paths.DataDir {
		t.Fatalf("unexpected store dir %q", s.Store.Dir)
	}
}

func TestLoadSettingsFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TEAMDOCK_HOME", home)
	paths := config.GetInstancePaths()

	content := "listen: \"127.0.0.1:9000\"\nstore:\n  backend: sqlite\n"
	if err := os.WriteFile(paths.Settings, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := config.LoadSettings(paths)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Listen != "127.0.0.1:9000" {
		t.Fatalf("unexpected listen %q", s.Listen)
	}
	if s.Store.Backend != config.StoreBackendSQLite {
		t.Fatalf("unexpected backend %q", s.Store.Backend)
	}
}

func TestLoadSettingsRejectsUnknownBackend(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TEAMDOCK_HOME", home)
	paths := config.GetInstancePaths()

	if err := os.WriteFile(paths.Settings, []byte("store:\n  backend: redis\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := config.LoadSettings(paths); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
