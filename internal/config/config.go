// Package config resolves precache settings from the rc file and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// DefaultLimit bounds the cumulative size of files queued per precache
// event: 1 GiB.
const DefaultLimit int64 = 1 << 30

// Config represents the ~/.precache/config.toml file.
type Config struct {
	LimitBytes int64 `toml:"limit_bytes,omitempty" json:"limit_bytes"`
	Sync       *bool `toml:"sync,omitempty" json:"sync"`
}

// configDirOverride is set by the --config-dir flag.
var configDirOverride string

// SetConfigDir allows the CLI to pass in the --config-dir value.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

// Home returns the config directory path.
// Precedence: --config-dir flag / SetConfigDir > PRECACHE_HOME env > ~/.precache
func Home() string {
	if configDirOverride != "" {
		return configDirOverride
	}
	if v := os.Getenv("PRECACHE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".precache")
	}
	return filepath.Join(home, ".precache")
}

// Path returns the full path to config.toml.
func Path() string {
	return filepath.Join(Home(), "config.toml")
}

// Load reads config.toml and returns a Config struct.
// If the file does not exist, it returns a zero-value Config (defaults).
func Load() (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}
	return cfg, nil
}

// Settings are the effective knobs of a precache event.
type Settings struct {
	// Limit is the byte budget: files stop being queued once adding the
	// next one would push the cumulative size past it.
	Limit int64

	// Sync flushes dirty pages system-wide before reading.
	Sync bool
}

var (
	settingsOnce sync.Once
	settings     Settings
)

// Resolve returns the effective settings. The rc file and the PRECACHE_LIMIT
// / PRECACHE_SYNC environment variables are consulted once, on the first
// precache event; later calls return the same values.
func Resolve() Settings {
	settingsOnce.Do(func() {
		settings = Settings{Limit: DefaultLimit, Sync: true}

		cfg, err := Load()
		if err == nil {
			if cfg.LimitBytes > 0 {
				settings.Limit = cfg.LimitBytes
			}
			if cfg.Sync != nil {
				settings.Sync = *cfg.Sync
			}
		}

		if v := os.Getenv("PRECACHE_LIMIT"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				settings.Limit = n
			}
		}
		if v := os.Getenv("PRECACHE_SYNC"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				settings.Sync = n != 0
			}
		}
	})
	return settings
}
