package config

import (
	"os"
	"path/filepath"
)

// InstancePaths contains all filesystem paths for a teamdock installation.
type InstancePaths struct {
	Home     string // Installation home directory
	DataDir  string // Durable record store directory (file backend)
	Database string // SQLite record store path (sqlite backend)
	Settings string // Optional settings file path
	Lock     string // Daemon lock file path
	Logs     string // Logs directory
}

// GetInstancePaths returns the path layout rooted at the teamdock home.
func GetInstancePaths() InstancePaths {
	home := TeamdockHome()
	return InstancePaths{
		Home:     home,
		DataDir:  filepath.Join(home, "data"),
		Database: filepath.Join(home, "data", "records.db"),
		Settings: filepath.Join(home, "settings.yaml"),
		Lock:     filepath.Join(home, "daemon.lock"),
		Logs:     filepath.Join(home, "logs"),
	}
}

// TeamdockHome returns the installation home directory (~/.teamdock).
// TEAMDOCK_HOME overrides it, which keeps tests hermetic.
func TeamdockHome() string {
	if custom := os.Getenv("TEAMDOCK_HOME"); custom != "" {
		return custom
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".teamdock")
}

// EnsureInstanceDirs creates the directory structure if it does not exist.
func EnsureInstanceDirs() (InstancePaths, error) {
	paths := GetInstancePaths()

	dirs := []string{
		paths.Home,
		paths.DataDir,
		paths.Logs,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
