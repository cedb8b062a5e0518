// Package config loads the daemon configuration once at startup. The
// resulting struct is passed explicitly to the components that need it;
// nothing reads configuration ambiently after boot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, decided once at startup.
type Config struct {
	// ListenAddr is the local HTTP listen address for the UI backend.
	ListenAddr string `json:"listenAddr"`
	// PayloadStaleAfterSeconds is an advisory threshold: scans of
	// payloads older than this are flagged stale for UI display.
	// Zero disables the flag. Staleness never rejects a payload.
	PayloadStaleAfterSeconds int `json:"payloadStaleAfterSeconds"`
	// LogDevelopment switches zap to its development encoder.
	LogDevelopment bool `json:"logDevelopment"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		ListenAddr:               "127.0.0.1:8089",
		PayloadStaleAfterSeconds: 0,
		LogDevelopment:           false,
	}
}

// Load reads the JSON config file at path, falling back to defaults when
// the file is absent, then applies environment overrides
// (PGPROOMS_LISTEN_ADDR, PGPROOMS_STALE_AFTER_SECONDS, PGPROOMS_LOG_DEV).
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("open %s: %w", path, err)
	}

	if v := os.Getenv("PGPROOMS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PGPROOMS_STALE_AFTER_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("PGPROOMS_STALE_AFTER_SECONDS: %w", err)
		}
		cfg.PayloadStaleAfterSeconds = n
	}
	if v := os.Getenv("PGPROOMS_LOG_DEV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("PGPROOMS_LOG_DEV: %w", err)
		}
		cfg.LogDevelopment = b
	}

	if cfg.PayloadStaleAfterSeconds < 0 {
		return Config{}, fmt.Errorf("payloadStaleAfterSeconds must not be negative")
	}
	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("listenAddr must not be empty")
	}
	return cfg, nil
}

// PayloadStaleAfter returns the advisory staleness threshold as a
// duration; zero means disabled.
func (c Config) PayloadStaleAfter() time.Duration {
	return time.Duration(c.PayloadStaleAfterSeconds) * time.Second
}
