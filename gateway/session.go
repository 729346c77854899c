// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drawbridge-labs/drawbridge/lib/clock"
	"github.com/drawbridge-labs/drawbridge/transport"
)

// ConnectionState describes the agent link as last observed by the
// tracker.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// Redialer re-establishes the agent connection. *transport.Client
// satisfies it; the memory transport has nothing to redial.
type Redialer interface {
	Dial(ctx context.Context) error
}

// Tracker owns the process-wide connection state. It is the single
// writer: the probe loop and explicit Probe calls update the state,
// everyone else reads it. Readers always see the result of the most
// recent completed probe.
type Tracker struct {
	transport transport.Transport
	redialer  Redialer
	clock     clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	timeout   time.Duration

	mu      sync.RWMutex
	state   ConnectionState
	probeAt time.Time
}

// TrackerConfig configures a Tracker. Redialer may be nil for
// transports that hold no dialable connection.
type TrackerConfig struct {
	Transport transport.Transport
	Redialer  Redialer
	Clock     clock.Clock
	Logger    *slog.Logger

	// Interval between background probes. Zero means 10 seconds.
	Interval time.Duration

	// Timeout bounds one probe. Zero means 3 seconds.
	Timeout time.Duration
}

func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Tracker{
		transport: cfg.Transport,
		redialer:  cfg.Redialer,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "session"),
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		state:     StateConnecting,
	}
}

// Run probes on a ticker until ctx is cancelled. An immediate first
// probe runs before the first tick.
func (t *Tracker) Run(ctx context.Context) {
	t.Probe(ctx)
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Probe(ctx)
		}
	}
}

// Probe runs one liveness check and updates the connection state. A
// failed probe yields StateDisconnected; Probe itself never fails.
func (t *Tracker) Probe(ctx context.Context) ConnectionState {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.transport.Ping(ctx)
	if err != nil && t.redialer != nil {
		// One reconnect attempt per probe, then re-check.
		t.setState(StateConnecting)
		if dialErr := t.redialer.Dial(ctx); dialErr == nil {
			err = t.transport.Ping(ctx)
		}
	}
	if err != nil {
		t.setState(StateDisconnected)
		return StateDisconnected
	}
	t.setState(StateConnected)
	return StateConnected
}

// State returns the last observed connection state and when it was
// observed.
func (t *Tracker) State() (ConnectionState, time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state, t.probeAt
}

func (t *Tracker) setState(state ConnectionState) {
	t.mu.Lock()
	previous := t.state
	t.state = state
	t.probeAt = t.clock.Now()
	t.mu.Unlock()
	if previous != state {
		t.logger.Info("agent connection state changed", "from", previous, "to", state)
	}
}
