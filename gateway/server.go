// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/lib/envelope"
	"github.com/drawbridge-labs/drawbridge/lib/policy"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/vault"
)

// Server exposes the relay over a Unix socket and optionally TCP,
// with credential management on a separate admin socket. The admin
// socket carries its own bearer-token check on top of filesystem
// permissions; the client-facing listeners never route to credential
// endpoints at all.
type Server struct {
	socketPath      string
	adminSocketPath string
	listenAddress   string
	relay           *Relay
	logger          *slog.Logger

	httpServer    *http.Server
	adminServer   *http.Server
	unixListener  net.Listener
	adminListener net.Listener
	tcpListener   net.Listener
}

// ServerConfig holds configuration for creating a Server.
type ServerConfig struct {
	// SocketPath is the client-facing Unix socket. Required.
	SocketPath string

	// ListenAddress is an optional client-facing TCP address
	// (e.g. "127.0.0.1:8787").
	ListenAddress string

	// AdminSocketPath is the Unix socket for credential management.
	// When empty, credential endpoints are not exposed anywhere.
	AdminSocketPath string

	// AdminToken authenticates admin requests. Required when
	// AdminSocketPath is set. The server borrows the buffer.
	AdminToken *secret.Buffer

	Relay   *Relay
	Tracker *Tracker
	Policy  *policy.Table
	Vault   *vault.Vault
	Logger  *slog.Logger
}

// NewServer creates the gateway HTTP server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if config.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if config.AdminSocketPath != "" && config.AdminToken == nil {
		return nil, fmt.Errorf("admin socket requires an admin token")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := &handler{
		relay:   config.Relay,
		tracker: config.Tracker,
		policy:  config.Policy,
		logger:  logger,
	}
	clientMux := http.NewServeMux()
	clientMux.HandleFunc("POST /v1/commands", handler.handleSubmit)
	clientMux.HandleFunc("GET /v1/status", handler.handleStatus)
	clientMux.HandleFunc("GET /health", handler.handleHealth)

	server := &Server{
		socketPath:      config.SocketPath,
		adminSocketPath: config.AdminSocketPath,
		listenAddress:   config.ListenAddress,
		relay:           config.Relay,
		logger:          logger,
		httpServer: &http.Server{
			Handler:      clientMux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}

	// Admin mux: credential management only. Deliberately not a
	// superset of the client mux; the admin socket is for operators,
	// not a second command path.
	if config.AdminSocketPath != "" {
		admin := &adminHandler{
			vault:  config.Vault,
			token:  config.AdminToken,
			logger: logger,
		}
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("GET /v1/credentials", admin.handleList)
		adminMux.HandleFunc("PUT /v1/credentials/{integration}", admin.handlePut)
		adminMux.HandleFunc("DELETE /v1/credentials/{integration}", admin.handleDelete)
		adminMux.HandleFunc("POST /v1/credentials/export", admin.handleExport)
		adminMux.HandleFunc("GET /health", handler.handleHealth)

		server.adminServer = &http.Server{
			Handler:      adminMux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}
	return server, nil
}

// Start begins listening on the configured sockets.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	unixListener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	s.unixListener = unixListener
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		unixListener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.logger.Info("gateway server started", "socket", s.socketPath)
	go func() {
		if err := s.httpServer.Serve(unixListener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	if s.adminSocketPath != "" && s.adminServer != nil {
		if err := os.Remove(s.adminSocketPath); err != nil && !os.IsNotExist(err) {
			unixListener.Close()
			return fmt.Errorf("removing stale admin socket: %w", err)
		}
		adminListener, err := net.Listen("unix", s.adminSocketPath)
		if err != nil {
			unixListener.Close()
			return fmt.Errorf("listening on admin socket: %w", err)
		}
		s.adminListener = adminListener
		// Operators only. Tighter than the client socket.
		if err := os.Chmod(s.adminSocketPath, 0600); err != nil {
			adminListener.Close()
			unixListener.Close()
			return fmt.Errorf("chmod admin socket: %w", err)
		}
		s.logger.Info("gateway admin server started", "socket", s.adminSocketPath)
		go func() {
			if err := s.adminServer.Serve(adminListener); err != nil && err != http.ErrServerClosed {
				s.logger.Error("admin server error", "error", err)
			}
		}()
	}

	if s.listenAddress != "" {
		tcpListener, err := net.Listen("tcp", s.listenAddress)
		if err != nil {
			s.Stop()
			return fmt.Errorf("listening on TCP %s: %w", s.listenAddress, err)
		}
		s.tcpListener = tcpListener
		s.logger.Info("gateway server TCP started", "address", s.listenAddress)

		// Serve takes ownership of its server, so TCP gets its own.
		tcpServer := &http.Server{
			Handler:      s.httpServer.Handler,
			ReadTimeout:  s.httpServer.ReadTimeout,
			WriteTimeout: s.httpServer.WriteTimeout,
		}
		go func() {
			if err := tcpServer.Serve(tcpListener); err != nil && err != http.ErrServerClosed {
				s.logger.Error("tcp server error", "error", err)
			}
		}()
	}
	return nil
}

// Stop shuts down all listeners.
func (s *Server) Stop() {
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.adminServer != nil {
		s.adminServer.Close()
	}
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	os.Remove(s.socketPath)
	if s.adminSocketPath != "" {
		os.Remove(s.adminSocketPath)
	}
}

// handler serves the client-facing endpoints.
type handler struct {
	relay   *Relay
	tracker *Tracker
	policy  *policy.Table
	logger  *slog.Logger
}

// submitRequest is the POST /v1/commands body.
type submitRequest struct {
	CommandText       string         `json:"commandText"`
	PermissionScope   string         `json:"permissionScope"`
	Parameters        map[string]any `json:"parameters"`
	ConfirmationToken string         `json:"confirmationToken"`
}

func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope.Errored(uuid.NewString(), time.Now(), "malformed request body: %v", err))
		return
	}
	cmd := envelope.Command{
		ID:                uuid.NewString(),
		IssuedAt:          time.Now(),
		CommandText:       body.CommandText,
		Scope:             envelope.Scope(body.PermissionScope),
		Parameters:        body.Parameters,
		ConfirmationToken: body.ConfirmationToken,
	}
	resp := h.relay.Submit(r.Context(), cmd)
	writeJSON(w, http.StatusOK, resp)
}

// statusResponse is the GET /v1/status body.
type statusResponse struct {
	ConnectionState ConnectionState               `json:"connectionState"`
	LastProbeAt     time.Time                     `json:"lastProbeAt,omitzero"`
	Scopes          map[string]policy.ScopeStatus `json:"scopes,omitempty"`
	Timestamp       time.Time                     `json:"timestamp"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := statusResponse{
		ConnectionState: StateDisconnected,
		Timestamp:       time.Now(),
	}
	if h.tracker != nil {
		status.ConnectionState, status.LastProbeAt = h.tracker.State()
	}
	if h.policy != nil {
		status.Scopes = h.policy.Snapshot()
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
