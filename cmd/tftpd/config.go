package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Listen         string `toml:"listen"`
	DataDir        string `toml:"data_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Retries        int    `toml:"retries"`
	MaxSessions    int    `toml:"max_sessions"`
	MetricsAddr    string `toml:"metrics_addr"`
	LogLevel       string `toml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Listen:         "0.0.0.0:69",
		DataDir:        ".",
		TimeoutSeconds: 5,
		Retries:        5,
		LogLevel:       "info",
	}
}

// LoadConfig reads a TOML config file over the defaults. An empty path
// yields the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("timeout_seconds must be positive")
	}
	if c.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if c.MaxSessions < 0 {
		return errors.New("max_sessions must not be negative")
	}
	return nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
