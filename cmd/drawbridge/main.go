// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Drawbridge is the command relay and permission gateway daemon. It
// accepts command envelopes from clients, authorizes them against the
// permission policy, injects vault credentials where a dispatch needs
// them, and forwards the command to the execution agent over the
// signed wire protocol.
//
// On startup:
//  1. Loads the YAML config (--config or DRAWBRIDGE_CONFIG).
//  2. Reads the vault master key, relay shared secret, and admin
//     token into locked memory.
//  3. Opens the credential vault and dials the agent.
//  4. Starts the session tracker probe loop and the HTTP listeners.
//
// The process shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/drawbridge-labs/drawbridge/gateway"
	"github.com/drawbridge-labs/drawbridge/lib/config"
	"github.com/drawbridge-labs/drawbridge/lib/policy"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/lib/version"
	"github.com/drawbridge-labs/drawbridge/transport"
	"github.com/drawbridge-labs/drawbridge/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("drawbridge", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to the YAML config file (or set DRAWBRIDGE_CONFIG)")
	logLevel := flagSet.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("drawbridge %s\n", version.Info())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", *logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	masterKey, err := readMasterKey(cfg.Vault.MasterKeyFile)
	if err != nil {
		return err
	}
	sharedSecret, err := secret.ReadFromPath(cfg.Agent.SharedSecretFile)
	if err != nil {
		masterKey.Close()
		return fmt.Errorf("reading relay shared secret: %w", err)
	}
	defer sharedSecret.Close()

	var adminToken *secret.Buffer
	if cfg.Server.AdminSocketPath != "" {
		adminToken, err = secret.ReadFromPath(cfg.Server.AdminTokenFile)
		if err != nil {
			masterKey.Close()
			return fmt.Errorf("reading admin token: %w", err)
		}
		defer adminToken.Close()
	}

	// The vault takes ownership of the master key.
	store, err := vault.Open(vault.Config{
		Path:      cfg.Vault.Path,
		MasterKey: masterKey,
		Logger:    logger,
	})
	if err != nil {
		masterKey.Close()
		return err
	}
	defer store.Close()

	client := transport.NewClient(cfg.Agent.Network, cfg.Agent.Address, sharedSecret, logger)
	defer client.Close()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := client.Dial(ctx); err != nil {
		// The tracker redials; starting degraded beats not starting.
		logger.Warn("agent not reachable at startup", "error", err)
	}

	tracker := gateway.NewTracker(gateway.TrackerConfig{
		Transport: client,
		Redialer:  client,
		Logger:    logger,
		Interval:  cfg.Agent.ProbeIntervalDuration(),
	})
	go tracker.Run(ctx)

	table := policy.Default()
	if cfg.PolicyFile != "" {
		table, err = policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return err
		}
	}

	relay, err := gateway.NewRelay(gateway.RelayConfig{
		Policy:          table,
		Vault:           store,
		Transport:       client,
		Tracker:         tracker,
		Logger:          logger,
		MutatingTimeout: cfg.Timeouts.MutatingDuration(),
		DefaultTimeout:  cfg.Timeouts.DefaultDuration(),
	})
	if err != nil {
		return err
	}
	defer relay.Close()

	server, err := gateway.NewServer(gateway.ServerConfig{
		SocketPath:      cfg.Server.SocketPath,
		ListenAddress:   cfg.Server.ListenAddress,
		AdminSocketPath: cfg.Server.AdminSocketPath,
		AdminToken:      adminToken,
		Relay:           relay,
		Tracker:         tracker,
		Policy:          table,
		Vault:           store,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	logger.Info("drawbridge started", "version", version.Info())
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// readMasterKey loads the 32-byte vault master key. The file may hold
// either the raw bytes or their hex encoding.
func readMasterKey(path string) (*secret.Buffer, error) {
	buf, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault master key: %w", err)
	}
	if buf.Len() == vault.KeySize {
		return buf, nil
	}
	if buf.Len() == 2*vault.KeySize {
		raw := make([]byte, vault.KeySize)
		_, err := hex.Decode(raw, buf.Bytes())
		buf.Close()
		if err != nil {
			secret.Zero(raw)
			return nil, fmt.Errorf("vault master key is not valid hex")
		}
		return secret.NewFromBytes(raw)
	}
	defer buf.Close()
	return nil, fmt.Errorf("vault master key must be %d raw or %d hex bytes, got %d", vault.KeySize, 2*vault.KeySize, buf.Len())
}
