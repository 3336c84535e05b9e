package config

import (
	"os"
	"strconv"
)

// FromEnv overlays JROW_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("JROW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("JROW_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("JROW_LISTEN_WS"); v != "" {
		cfg.ListenWS = v
	}
	if v := os.Getenv("JROW_LISTEN_HTTP"); v != "" {
		cfg.ListenHTTP = v
	}
	if v := os.Getenv("JROW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("JROW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("JROW_MAX_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBatch = n
		}
	}
	if v := os.Getenv("JROW_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.SweepIntervalMs = n
		}
	}
	if v := os.Getenv("JROW_INACTIVITY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.InactivityTimeoutMs = n
		}
	}
	if v := os.Getenv("JROW_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SendBuffer = n
		}
	}
	if v := os.Getenv("JROW_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxMessageBytes = n
		}
	}
}
