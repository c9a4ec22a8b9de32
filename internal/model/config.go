// Package model defines planindex's configuration and plan data structures.
package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Watcher WatcherConfig `yaml:"watcher"`
	Events  EventsConfig  `yaml:"events"`
	Logging LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	SnapshotPath     string `yaml:"snapshot_path"`
	MaxSnapshotBytes int    `yaml:"max_snapshot_bytes"`
}

type WatcherConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultSnapshotPath     = "plan_elements.yaml"
	DefaultMaxSnapshotBytes = 16 << 20
	DefaultDebounceMs       = 200
	DefaultEventBufferSize  = 100
)

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			SnapshotPath:     DefaultSnapshotPath,
			MaxSnapshotBytes: DefaultMaxSnapshotBytes,
		},
		Watcher: WatcherConfig{DebounceMs: DefaultDebounceMs},
		Events:  EventsConfig{BufferSize: DefaultEventBufferSize},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML config file. A missing file yields DefaultConfig;
// zero fields in an existing file take their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	loaded.applyDefaults()
	return loaded, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Store.SnapshotPath == "" {
		c.Store.SnapshotPath = d.Store.SnapshotPath
	}
	if c.Store.MaxSnapshotBytes <= 0 {
		c.Store.MaxSnapshotBytes = d.Store.MaxSnapshotBytes
	}
	if c.Watcher.DebounceMs <= 0 {
		c.Watcher.DebounceMs = d.Watcher.DebounceMs
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = d.Events.BufferSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}
