// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// Memory is an in-process Transport for tests and local dry runs. A
// handler function plays the agent; call and ping failures can be
// injected per exchange.
type Memory struct {
	mu        sync.Mutex
	handler   func(req AgentRequest) (AgentResponse, error)
	pingErr   error
	callErrs  []error
	requests  []AgentRequest
	closed    bool
	callCount int
}

// NewMemory creates a memory transport backed by handler. A nil
// handler echoes every request back as a successful response.
func NewMemory(handler func(req AgentRequest) (AgentResponse, error)) *Memory {
	if handler == nil {
		handler = func(req AgentRequest) (AgentResponse, error) {
			return AgentResponse{ID: req.ID, OK: true, Result: map[string]any{}}, nil
		}
	}
	return &Memory{handler: handler}
}

// FailNextCalls queues errors returned by the next Calls, one per
// call, before the handler runs. Used to script wire faults.
func (m *Memory) FailNextCalls(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callErrs = append(m.callErrs, errs...)
}

// SetPingError makes subsequent Pings fail with err; nil restores
// liveness.
func (m *Memory) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// CallCount reports how many Calls reached the transport, including
// ones that failed.
func (m *Memory) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns a copy of every AgentRequest seen so far.
func (m *Memory) Requests() []AgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *Memory) Call(ctx context.Context, req AgentRequest) (AgentResponse, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return AgentResponse{}, ErrNotConnected
	}
	m.callCount++
	m.requests = append(m.requests, req)
	var injected error
	if len(m.callErrs) > 0 {
		injected = m.callErrs[0]
		m.callErrs = m.callErrs[1:]
	}
	handler := m.handler
	m.mu.Unlock()

	if injected != nil {
		return AgentResponse{}, injected
	}
	if err := ctx.Err(); err != nil {
		return AgentResponse{}, err
	}
	return handler(req)
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	return m.pingErr
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
