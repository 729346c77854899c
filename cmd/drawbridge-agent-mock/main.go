// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Drawbridge-agent-mock is a stand-in execution agent for manual
// end-to-end testing of the gateway. It serves the signed wire
// protocol with one of three canned behaviors:
//
//	echo  — every command succeeds, echoing its text and category
//	fail  — every command fails with a scripted error message
//	hang  — every command blocks past the relay's dispatch timeout
//
// Ping frames are always answered, so the gateway reports the mock as
// connected even in fail mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/lib/version"
	"github.com/drawbridge-labs/drawbridge/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	network := flag.String("network", "unix", "listener network: unix or tcp")
	address := flag.String("address", "/run/drawbridge/agent.sock", "socket path or host:port")
	secretFile := flag.String("secret-file", "", "relay shared secret file, or \"-\" for stdin (required)")
	behavior := flag.String("behavior", "echo", "canned behavior: echo, fail, or hang")
	hangFor := flag.Duration("hang-for", time.Minute, "how long the hang behavior blocks")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("drawbridge-agent-mock %s\n", version.Info())
		return nil
	}
	if *secretFile == "" {
		return fmt.Errorf("--secret-file is required")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	shared, err := secret.ReadFromPath(*secretFile)
	if err != nil {
		return fmt.Errorf("reading shared secret: %w", err)
	}
	defer shared.Close()

	handler, err := behaviorHandler(*behavior, *hangFor)
	if err != nil {
		return err
	}

	if *network == "unix" {
		if err := os.Remove(*address); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket: %w", err)
		}
	}
	listener, err := net.Listen(*network, *address)
	if err != nil {
		return fmt.Errorf("listening on %s %s: %w", *network, *address, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mock agent listening", "network", *network, "address", *address, "behavior", *behavior)
	server := transport.NewServer(shared, handler, logger)
	return server.Serve(ctx, listener)
}

func behaviorHandler(behavior string, hangFor time.Duration) (transport.Handler, error) {
	switch behavior {
	case "echo":
		return transport.HandlerFunc(func(ctx context.Context, req transport.AgentRequest) transport.AgentResponse {
			return transport.AgentResponse{
				OK: true,
				Result: map[string]any{
					"echo":     req.CommandText,
					"category": req.Category,
				},
			}
		}), nil
	case "fail":
		return transport.HandlerFunc(func(ctx context.Context, req transport.AgentRequest) transport.AgentResponse {
			return transport.AgentResponse{
				OK:           false,
				ErrorMessage: fmt.Sprintf("mock failure for %s command", req.Category),
			}
		}), nil
	case "hang":
		return transport.HandlerFunc(func(ctx context.Context, req transport.AgentRequest) transport.AgentResponse {
			select {
			case <-time.After(hangFor):
			case <-ctx.Done():
			}
			return transport.AgentResponse{OK: true, Result: map[string]any{}}
		}), nil
	default:
		return nil, fmt.Errorf("unknown behavior %q (want echo, fail, or hang)", behavior)
	}
}
