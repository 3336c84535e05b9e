package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	pebblestore "github.com/protocol-kit/jrow/internal/storage/pebble"
	"github.com/protocol-kit/jrow/internal/topics"
	"github.com/protocol-kit/jrow/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir    string `json:"dataDir" yaml:"dataDir"`
	Fsync      string `json:"fsync" yaml:"fsync"` // always | interval | never
	ListenWS   string `json:"listenWS" yaml:"listenWS"`
	ListenHTTP string `json:"listenHTTP" yaml:"listenHTTP"`

	Log log.Config `json:"log" yaml:"log"`

	// MaxBatch caps the item count of every batched operation.
	MaxBatch int `json:"maxBatch" yaml:"maxBatch"`

	// SweepIntervalMs is the retention sweep cadence.
	SweepIntervalMs int64 `json:"sweepIntervalMs" yaml:"sweepIntervalMs"`
	// InactivityTimeoutMs purges idle durable subscriptions; 0 disables.
	InactivityTimeoutMs int64 `json:"inactivityTimeoutMs" yaml:"inactivityTimeoutMs"`

	// Retention holds per-topic policies registered at startup.
	Retention map[string]topics.RetentionPolicy `json:"retention" yaml:"retention"`

	// Transport limits.
	SendBuffer      int   `json:"sendBuffer" yaml:"sendBuffer"`
	MaxMessageBytes int64 `json:"maxMessageBytes" yaml:"maxMessageBytes"`
	WriteTimeoutMs  int64 `json:"writeTimeoutMs" yaml:"writeTimeoutMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:         DefaultDataDir(),
		Fsync:           "interval",
		ListenWS:        ":8080",
		ListenHTTP:      ":9090",
		Log:             log.Config{Level: "info", Format: "text"},
		MaxBatch:        256,
		SweepIntervalMs: 30_000,
		SendBuffer:      256,
		MaxMessageBytes: 1 << 20,
		WriteTimeoutMs:  10_000,
	}
}

// Load reads configuration from a JSON or YAML file (by extension) and
// overlays defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	return cfg, nil
}

// FsyncMode maps the configured fsync string onto the storage mode.
func (c Config) FsyncMode() (pebblestore.FsyncMode, error) {
	switch c.Fsync {
	case "", "interval":
		return pebblestore.FsyncModeInterval, nil
	case "always":
		return pebblestore.FsyncModeAlways, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, fmt.Errorf("config: unknown fsync mode %q", c.Fsync)
	}
}

// SweepInterval returns the retention cadence as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// InactivityTimeout returns the subscription purge threshold (0 disables).
func (c Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the per-frame socket write deadline.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}
