package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Store backend identifiers accepted in settings.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)

// Settings holds daemon configuration. Everything has a default; the
// settings file and TEAMDOCK_* environment variables are optional.
type Settings struct {
	Listen string // HTTP/WebSocket listen address
	Store  StoreSettings
}

// StoreSettings selects and parameterises the record store backend.
type StoreSettings struct {
	Backend string // "file" or "sqlite"
	Dir     string // file backend directory override
	Path    string // sqlite backend database path override
}

// LoadSettings reads settings from the instance settings file and the
// environment. Env var overrides use prefix TEAMDOCK_ (e.g. TEAMDOCK_LISTEN).
func LoadSettings(paths InstancePaths) (Settings, error) {
	v := viper.New()

	v.SetDefault("listen", "127.0.0.1:7420")
	v.SetDefault("store.backend", StoreBackendFile)
	v.SetDefault("store.dir", paths.DataDir)
	v.SetDefault("store.path", paths.Database)

	v.SetConfigFile(paths.Settings)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TEAMDOCK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// The settings file is optional.
	_ = v.ReadInConfig()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal settings: %w", err)
	}

	switch s.Store.Backend {
	case StoreBackendFile, StoreBackendSQLite:
	default:
		return Settings{}, fmt.Errorf("config: unknown store backend %q", s.Store.Backend)
	}

	return s, nil
}
