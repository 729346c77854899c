// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Drawbridge
// gateway daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - DRAWBRIDGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; secrets are never
// placed in the file itself, only paths to key files read at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable pointing at the config file.
const EnvVar = "DRAWBRIDGE_CONFIG"

// Config is the gateway daemon configuration.
type Config struct {
	// Server configures the client-facing and admin listeners.
	Server ServerConfig `yaml:"server"`

	// Agent configures the link to the execution agent.
	Agent AgentConfig `yaml:"agent"`

	// Vault configures the credential store.
	Vault VaultConfig `yaml:"vault"`

	// PolicyFile is an optional JSONC permission table. Empty means
	// the built-in defaults.
	PolicyFile string `yaml:"policyFile"`

	// Timeouts configures dispatch bounds. Zero values take the
	// built-in defaults (30s mutating, 10s otherwise).
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// SocketPath is the client-facing Unix socket.
	SocketPath string `yaml:"socketPath"`

	// ListenAddress is an optional client-facing TCP address.
	ListenAddress string `yaml:"listenAddress"`

	// AdminSocketPath is the credential-management socket.
	AdminSocketPath string `yaml:"adminSocketPath"`

	// AdminTokenFile holds the admin bearer token. "-" reads it from
	// stdin.
	AdminTokenFile string `yaml:"adminTokenFile"`
}

// AgentConfig configures the agent transport.
type AgentConfig struct {
	// Network is "unix" or "tcp".
	Network string `yaml:"network"`

	// Address is the agent socket path or host:port.
	Address string `yaml:"address"`

	// SharedSecretFile holds the relay shared secret used to sign
	// wire frames. "-" reads it from stdin.
	SharedSecretFile string `yaml:"sharedSecretFile"`

	// ProbeInterval is the session tracker probe period as a
	// time.ParseDuration string ("10s"). Empty means 10 seconds.
	ProbeInterval string `yaml:"probeInterval"`
}

// ProbeIntervalDuration returns the parsed probe interval. Call only
// after Validate.
func (c *AgentConfig) ProbeIntervalDuration() time.Duration {
	return parseDuration(c.ProbeInterval)
}

// VaultConfig configures the credential vault.
type VaultConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// MasterKeyFile holds the 32-byte master key. "-" reads it from
	// stdin. Never stored beside the database.
	MasterKeyFile string `yaml:"masterKeyFile"`
}

// TimeoutConfig bounds agent dispatches per command class. Values are
// time.ParseDuration strings; empty takes the built-in default.
type TimeoutConfig struct {
	Mutating string `yaml:"mutating"`
	Default  string `yaml:"default"`
}

// MutatingDuration returns the parsed mutating-dispatch timeout. Call
// only after Validate.
func (c *TimeoutConfig) MutatingDuration() time.Duration {
	return parseDuration(c.Mutating)
}

// DefaultDuration returns the parsed default-dispatch timeout. Call
// only after Validate.
func (c *TimeoutConfig) DefaultDuration() time.Duration {
	return parseDuration(c.Default)
}

// parseDuration parses a validated duration string. Empty yields
// zero, which callers treat as "use the built-in default".
func parseDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// Load reads and validates the config file at path. When path is
// empty, the DRAWBRIDGE_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set %s", EnvVar)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every required field is present, reporting all
// problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.SocketPath == "" {
		errs = append(errs, errors.New("server.socketPath is required"))
	}
	if c.Server.AdminSocketPath != "" && c.Server.AdminTokenFile == "" {
		errs = append(errs, errors.New("server.adminTokenFile is required when adminSocketPath is set"))
	}
	switch c.Agent.Network {
	case "unix", "tcp":
	case "":
		errs = append(errs, errors.New("agent.network is required"))
	default:
		errs = append(errs, fmt.Errorf("agent.network must be unix or tcp, got %q", c.Agent.Network))
	}
	if c.Agent.Address == "" {
		errs = append(errs, errors.New("agent.address is required"))
	}
	if c.Agent.SharedSecretFile == "" {
		errs = append(errs, errors.New("agent.sharedSecretFile is required"))
	}
	if c.Vault.Path == "" {
		errs = append(errs, errors.New("vault.path is required"))
	}
	if c.Vault.MasterKeyFile == "" {
		errs = append(errs, errors.New("vault.masterKeyFile is required"))
	}
	for name, value := range map[string]string{
		"agent.probeInterval": c.Agent.ProbeInterval,
		"timeouts.mutating":   c.Timeouts.Mutating,
		"timeouts.default":    c.Timeouts.Default,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}
	return errors.Join(errs...)
}
