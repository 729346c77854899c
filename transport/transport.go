// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries command dispatches between the relay and
// the agent over a single authenticated stream connection.
//
// The wire format is length-prefixed CBOR frames, each tagged with an
// HMAC-SHA256 over the frame body keyed by the shared relay secret. A
// frame that fails authentication poisons its connection: the reader
// drops the stream rather than guess at what follows.
//
// The agent holds one connection at a time and answers requests in
// order, so the client serializes calls. Liveness is probed with
// ping/pong frames on the same stream.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

var (
	// ErrNotConnected reports that no agent connection is
	// established. Callers fail fast instead of queueing.
	ErrNotConnected = errors.New("transport: agent not connected")

	// ErrCall reports an I/O or protocol failure mid-call. The state
	// of the dispatched command on the agent side is unknown.
	ErrCall = errors.New("transport: call failed")
)

// Transport is the relay's view of the agent link.
type Transport interface {
	// Call sends one command dispatch and waits for the agent's
	// response. The context deadline bounds the round trip.
	Call(ctx context.Context, req AgentRequest) (AgentResponse, error)

	// Ping probes connection liveness.
	Ping(ctx context.Context) error

	Close() error
}

// Compile-time interface checks.
var (
	_ Transport = (*Client)(nil)
	_ Transport = (*Memory)(nil)
)

// Client is the stream-connection Transport. It dials the agent over
// a Unix socket or TCP and serializes calls on the single connection.
type Client struct {
	network string
	address string
	shared  *secret.Buffer
	logger  *slog.Logger

	// DialTimeout bounds connection establishment when the calling
	// context has no sooner deadline.
	DialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client for the agent at the given address.
// network is "unix" or "tcp". The client borrows the shared secret;
// the caller keeps ownership.
func NewClient(network, address string, shared *secret.Buffer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		network:     network,
		address:     address,
		shared:      shared,
		logger:      logger.With("component", "transport"),
		DialTimeout: 10 * time.Second,
	}
}

// Dial establishes the agent connection, replacing any existing one.
func (c *Client) Dial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("dialing agent at %s: %w", c.address, err)
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("agent connection established", "address", c.address)
	return nil
}

// Connected reports whether a connection is currently held. The link
// may still be dead; Ping is the authoritative probe.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Call sends the request and waits for the matching response. On any
// wire fault the connection is dropped and ErrCall returned; whether
// the agent executed the command is unknown to the caller.
func (c *Client) Call(ctx context.Context, req AgentRequest) (AgentResponse, error) {
	reply, err := c.roundTrip(ctx, kindCommand, req)
	if err != nil {
		return AgentResponse{}, err
	}
	if reply.Kind != kindResponse {
		c.dropConn()
		return AgentResponse{}, fmt.Errorf("%w: unexpected %s frame", ErrCall, reply.Kind)
	}
	var resp AgentResponse
	if err := resp.decode(reply.Body); err != nil {
		c.dropConn()
		return AgentResponse{}, fmt.Errorf("%w: %v", ErrCall, err)
	}
	if resp.ID != req.ID {
		c.dropConn()
		return AgentResponse{}, fmt.Errorf("%w: response for request %s, want %s", ErrCall, resp.ID, req.ID)
	}
	return resp, nil
}

// Ping sends a ping frame and waits for the pong.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, kindPing, pingBody{Nonce: uuid.NewString()})
	if err != nil {
		return err
	}
	if reply.Kind != kindPong {
		c.dropConn()
		return fmt.Errorf("%w: unexpected %s frame", ErrCall, reply.Kind)
	}
	return nil
}

// Close drops the agent connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// roundTrip holds the connection lock for the full exchange: the
// agent answers in order, so interleaving writers would corrupt the
// correlation.
func (c *Client) roundTrip(ctx context.Context, kind string, body any) (frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return frame{}, ErrNotConnected
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.DialTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrCall, err)
	}
	if err := writeFrame(c.conn, c.shared, kind, body); err != nil {
		c.closeLocked()
		return frame{}, fmt.Errorf("%w: %v", ErrCall, err)
	}
	reply, err := readFrame(c.conn, c.shared)
	if err != nil {
		c.closeLocked()
		return frame{}, fmt.Errorf("%w: %v", ErrCall, err)
	}
	return reply, nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

type pingBody struct {
	Nonce string `cbor:"1,keyasint"`
}
