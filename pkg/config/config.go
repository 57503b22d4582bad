// Package config loads the cluster topology shared by every binary.
// The node list order matters: the sharding function maps keys to
// indexes into it, so all processes must load the same list.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoNodes       = errors.New("config: at least one data node is required")
	ErrNoCoordinator = errors.New("config: coordinator address is required")
)

// Config describes a cluster
type Config struct {
	Coordinator string   `yaml:"coordinator"`
	Nodes       []string `yaml:"nodes"`
	Metrics     string   `yaml:"metrics"`
	LogLevel    string   `yaml:"log_level"`
	LogJSON     bool     `yaml:"log_json"`
}

// Default returns a single-node loopback cluster
func Default() *Config {
	return &Config{
		Coordinator: "127.0.0.1:7400",
		Nodes:       []string{"127.0.0.1:7401"},
		LogLevel:    "info",
	}
}

// Load reads and validates a YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	cfg.Nodes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the topology is usable
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	if c.Coordinator == "" {
		return ErrNoCoordinator
	}
	return nil
}
