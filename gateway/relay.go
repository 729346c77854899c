// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/drawbridge-labs/drawbridge/lib/clock"
	"github.com/drawbridge-labs/drawbridge/lib/envelope"
	"github.com/drawbridge-labs/drawbridge/lib/policy"
	"github.com/drawbridge-labs/drawbridge/transport"
	"github.com/drawbridge-labs/drawbridge/vault"
)

// Request processing states, logged as each in-flight command moves
// through the pipeline.
const (
	stateReceived    = "received"
	stateAuthorizing = "authorizing"
	stateDispatched  = "dispatched"
	stateCompleted   = "completed"
	stateDenied      = "denied"
	stateErrored     = "errored"
)

// Relay is the command pipeline: it validates, authorizes, injects
// credentials, and dispatches each envelope to the agent, mapping
// every internal fault to a Response rather than letting one escape.
type Relay struct {
	policy    *policy.Table
	vault     *vault.Vault
	transport transport.Transport
	tracker   *Tracker
	confirmer *confirmer
	clock     clock.Clock
	logger    *slog.Logger

	mutatingTimeout time.Duration
	defaultTimeout  time.Duration
}

// RelayConfig configures a Relay. Policy, Vault, and Transport are
// required; Tracker is optional (no fail-fast without it).
type RelayConfig struct {
	Policy    *policy.Table
	Vault     *vault.Vault
	Transport transport.Transport
	Tracker   *Tracker
	Clock     clock.Clock
	Logger    *slog.Logger

	// MutatingTimeout bounds trade_execution and file_modification
	// dispatches. Zero means 30 seconds.
	MutatingTimeout time.Duration

	// DefaultTimeout bounds every other dispatch. Zero means 10
	// seconds.
	DefaultTimeout time.Duration
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Policy == nil || cfg.Vault == nil || cfg.Transport == nil {
		return nil, errors.New("relay requires policy, vault, and transport")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MutatingTimeout <= 0 {
		cfg.MutatingTimeout = 30 * time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	confirmer, err := newConfirmer(cfg.Clock)
	if err != nil {
		return nil, err
	}
	return &Relay{
		policy:          cfg.Policy,
		vault:           cfg.Vault,
		transport:       cfg.Transport,
		tracker:         cfg.Tracker,
		confirmer:       confirmer,
		clock:           cfg.Clock,
		logger:          cfg.Logger.With("component", "relay"),
		mutatingTimeout: cfg.MutatingTimeout,
		defaultTimeout:  cfg.DefaultTimeout,
	}, nil
}

// Close releases the confirmation signing key.
func (r *Relay) Close() {
	r.confirmer.close()
}

// Submit runs one command through the full pipeline and always
// returns a terminal Response carrying the request ID. Concurrent
// submissions are independent; responses may complete out of order
// and callers correlate by request ID.
func (r *Relay) Submit(ctx context.Context, cmd envelope.Command) envelope.Response {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	logger := r.logger.With("requestId", cmd.ID)
	logger.Info("command received", "state", stateReceived, "scope", cmd.Scope)

	// An unrecognized scope is an authorization problem, not a shape
	// problem: the caller asked for a permission that does not exist.
	if !cmd.Scope.Valid() {
		return r.deny(logger, cmd.ID, "unknown permission scope %q", cmd.Scope)
	}
	if err := cmd.Validate(); err != nil {
		return r.fail(logger, cmd.ID, "invalid command envelope: %v", err)
	}

	logger.Info("command authorizing", "state", stateAuthorizing)
	category := envelope.Category(cmd.Scope)
	decision := r.policy.Authorize(cmd.Scope, category)
	if !decision.Allowed {
		return r.deny(logger, cmd.ID, "scope %s does not authorize %s commands", cmd.Scope, category)
	}

	// Advisory intent check: a command that reads as one category but
	// declares another is denied outright. Classification never
	// upgrades the declared scope.
	if classified := policy.ClassifyCommand(cmd.CommandText); classified != envelope.CategoryUnknown && classified != category {
		return r.deny(logger, cmd.ID, "command reads as %s but declares scope %s; resubmit with the matching scope", classified, cmd.Scope)
	}

	if decision.RequiresConfirmation {
		if cmd.ConfirmationToken == "" {
			resp := r.deny(logger, cmd.ID, "confirmation required")
			resp.ConfirmationToken = r.confirmer.issue(cmd.Scope, cmd.CommandText)
			return resp
		}
		if !r.confirmer.check(cmd.Scope, cmd.CommandText, cmd.ConfirmationToken) {
			resp := r.deny(logger, cmd.ID, "confirmation token invalid or expired")
			resp.ConfirmationToken = r.confirmer.issue(cmd.Scope, cmd.CommandText)
			return resp
		}
	}

	if err := envelope.ValidateParameters(category, cmd.Parameters); err != nil {
		return r.fail(logger, cmd.ID, "invalid parameters: %v", err)
	}

	var credentials map[string]string
	if category.NeedsCredential() {
		params, err := envelope.DecodeTradeParameters(cmd.Parameters)
		if err != nil {
			return r.fail(logger, cmd.ID, "invalid parameters: %v", err)
		}
		cred, err := r.vault.Get(ctx, params.Integration)
		switch {
		case errors.Is(err, vault.ErrNotFound):
			return r.deny(logger, cmd.ID, "no credentials configured for %s", params.Integration)
		case errors.Is(err, vault.ErrValidation):
			return r.fail(logger, cmd.ID, "invalid parameters: %v", err)
		case err != nil:
			// Cipher or store fault. The message stays generic; the
			// cause is in the server log, never in the response.
			logger.Error("credential lookup failed", "integration", params.Integration, "error", err)
			return r.fail(logger, cmd.ID, "credential record for %s unavailable", params.Integration)
		}
		defer cred.Close()
		credentials = cred.Snapshot()
	}

	if r.tracker != nil {
		if state, _ := r.tracker.State(); state == StateDisconnected {
			return r.fail(logger, cmd.ID, "agent unreachable")
		}
	}

	timeout := r.defaultTimeout
	if category.Mutating() {
		timeout = r.mutatingTimeout
	}
	req := transport.AgentRequest{
		ID:            cmd.ID,
		Category:      string(category),
		CommandText:   cmd.CommandText,
		Parameters:    cmd.Parameters,
		Credentials:   credentials,
		IssuedAt:      r.clock.Now().Unix(),
		TimeoutMillis: timeout.Milliseconds(),
	}
	logger.Info("command dispatched", "state", stateDispatched, "category", category, "timeout", timeout)

	resp, err := r.dispatch(ctx, req, timeout)
	if err != nil && category.Retryable() {
		// One retry with the same request ID so the agent can
		// deduplicate if the first call was applied after all.
		logger.Warn("retrying idempotent command", "error", err)
		resp, err = r.dispatch(ctx, req, timeout)
	}
	if err != nil {
		if category.Mutating() {
			return r.fail(logger, cmd.ID, "agent call failed after dispatch; completion state unknown, not retried")
		}
		return r.fail(logger, cmd.ID, "agent call failed: %v", err)
	}
	if !resp.OK {
		return r.fail(logger, cmd.ID, "agent reported failure: %s", resp.ErrorMessage)
	}
	logger.Info("command completed", "state", stateCompleted)
	return envelope.Success(cmd.ID, r.clock.Now(), resp.Result)
}

func (r *Relay) dispatch(ctx context.Context, req transport.AgentRequest, timeout time.Duration) (transport.AgentResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.transport.Call(callCtx, req)
}

func (r *Relay) deny(logger *slog.Logger, requestID, format string, args ...any) envelope.Response {
	resp := envelope.Denied(requestID, r.clock.Now(), format, args...)
	logger.Info("command denied", "state", stateDenied, "reason", resp.ErrorMessage)
	return resp
}

func (r *Relay) fail(logger *slog.Logger, requestID, format string, args ...any) envelope.Response {
	resp := envelope.Errored(requestID, r.clock.Now(), format, args...)
	logger.Warn("command errored", "state", stateErrored, "reason", resp.ErrorMessage)
	return resp
}
