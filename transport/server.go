// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

// Handler executes one command dispatch on the agent side.
type Handler interface {
	Handle(ctx context.Context, req AgentRequest) AgentResponse
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req AgentRequest) AgentResponse

func (f HandlerFunc) Handle(ctx context.Context, req AgentRequest) AgentResponse {
	return f(ctx, req)
}

// Server is the agent side of the link: it accepts relay connections
// and answers command and ping frames in order, one connection at a
// time per goroutine.
type Server struct {
	shared  *secret.Buffer
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server that authenticates frames with the
// shared secret and dispatches commands to handler.
func NewServer(shared *secret.Buffer, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		shared:  shared,
		handler: handler,
		logger:  logger.With("component", "transport"),
	}
}

// Serve accepts connections on the listener until ctx is cancelled or
// Close is called.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting relay connection: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// Close shuts down the listener. In-flight connections finish their
// current frame exchange and then observe the closed stream.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Info("relay connected", "remote", remote)

	for {
		f, err := readFrame(conn, s.shared)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("dropping relay connection", "remote", remote, "error", err)
			}
			return
		}
		switch f.Kind {
		case kindPing:
			if err := writeFrame(conn, s.shared, kindPong, nil); err != nil {
				s.logger.Warn("writing pong", "remote", remote, "error", err)
				return
			}
		case kindCommand:
			var req AgentRequest
			if err := req.decode(f.Body); err != nil {
				s.logger.Warn("dropping relay connection", "remote", remote, "error", err)
				return
			}
			resp := s.handler.Handle(ctx, req)
			resp.ID = req.ID
			if err := writeFrame(conn, s.shared, kindResponse, resp); err != nil {
				s.logger.Warn("writing response", "remote", remote, "error", err)
				return
			}
		default:
			s.logger.Warn("dropping relay connection",
				"remote", remote,
				"error", fmt.Sprintf("unexpected %s frame", f.Kind))
			return
		}
	}
}
