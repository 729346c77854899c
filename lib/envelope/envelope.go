// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope defines the structured units exchanged at the relay
// boundary: the Command envelope a client submits and the Response
// envelope the gateway returns. It also owns the closed permission
// scope and command category sets the rest of the system dispatches on.
package envelope

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks a malformed envelope: empty command text, an
// unrecognized permission scope, or parameters whose shape does not
// match the command category. Requests failing validation never reach
// the agent transport.
var ErrValidation = errors.New("envelope: validation failed")

// Scope is a declared permission scope — the category of privilege a
// command requests. The set is closed; anything else is rejected
// before dispatch.
type Scope string

const (
	ScopeSystemAccess      Scope = "system_access"
	ScopeBrowserAutomation Scope = "browser_automation"
	ScopeTradeExecution    Scope = "trade_execution"
	ScopeFileModification  Scope = "file_modification"
	ScopeAPICall           Scope = "api_call"
)

// Scopes returns every member of the closed scope set, in a fixed
// order suitable for status reporting.
func Scopes() []Scope {
	return []Scope{
		ScopeSystemAccess,
		ScopeBrowserAutomation,
		ScopeTradeExecution,
		ScopeFileModification,
		ScopeAPICall,
	}
}

// Valid reports whether s is a member of the closed scope set.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSystemAccess, ScopeBrowserAutomation, ScopeTradeExecution,
		ScopeFileModification, ScopeAPICall:
		return true
	}
	return false
}

// Category is the kind of work a command performs, derived either from
// the declared scope or from classifying the command text. Categories
// mirror the scope names: a scope authorizes its namesake category
// unless the policy table says otherwise.
type Category string

const (
	CategorySystemAccess      Category = Category(ScopeSystemAccess)
	CategoryBrowserAutomation Category = Category(ScopeBrowserAutomation)
	CategoryTradeExecution    Category = Category(ScopeTradeExecution)
	CategoryFileModification  Category = Category(ScopeFileModification)
	CategoryAPICall           Category = Category(ScopeAPICall)

	// CategoryUnknown means classification found no signal in the
	// command text. Unknown never triggers a mismatch denial.
	CategoryUnknown Category = ""
)

// Mutating reports whether commands of this category change external
// state in a way that makes blind retry unsafe: a trade order or file
// write may already have been applied when the transport fault was
// observed.
func (c Category) Mutating() bool {
	return c == CategoryTradeExecution || c == CategoryFileModification
}

// Retryable reports whether a transport fault for this category may be
// retried once with the same request ID (the agent deduplicates by
// ID). Only the idempotent categories qualify; system_access is
// neither mutating-timeout class nor retryable.
func (c Category) Retryable() bool {
	return c == CategoryAPICall || c == CategoryBrowserAutomation
}

// NeedsCredential reports whether dispatching this category requires a
// stored integration credential from the vault.
func (c Category) NeedsCredential() bool {
	return c == CategoryTradeExecution
}

// Command is the immutable envelope a client submits. The gateway
// assigns ID on receipt when the client did not provide one.
type Command struct {
	// ID is the unique request identifier used for response
	// correlation and agent-side retry deduplication.
	ID string `json:"id,omitempty"`

	// IssuedAt is when the client created the command. Zero means
	// the gateway stamps it on receipt.
	IssuedAt time.Time `json:"issuedAt,omitzero"`

	// CommandText is the free-form instruction, natural language or
	// structured tokens ("comprar BTC 0.01").
	CommandText string `json:"commandText"`

	// Scope is the declared permission scope. Must be a member of
	// the closed set.
	Scope Scope `json:"permissionScope"`

	// Parameters is the scope-specific payload. Shape is validated
	// per category before use; unmodeled categories pass through as
	// an opaque map.
	Parameters map[string]any `json:"parameters,omitempty"`

	// ConfirmationToken accompanies resubmission of a command whose
	// scope requires explicit confirmation before dispatch.
	ConfirmationToken string `json:"confirmationToken,omitempty"`
}

// Validate checks the envelope shape. All failures wrap ErrValidation.
func (c *Command) Validate() error {
	if c.CommandText == "" {
		return fmt.Errorf("%w: commandText is required", ErrValidation)
	}
	if c.Scope == "" {
		return fmt.Errorf("%w: permissionScope is required", ErrValidation)
	}
	if !c.Scope.Valid() {
		return fmt.Errorf("%w: unrecognized permissionScope %q", ErrValidation, c.Scope)
	}
	return nil
}

// Status is the terminal disposition of a command.
type Status string

const (
	StatusSuccess Status = "success"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

// Response is the envelope the gateway returns for every submission.
// Exactly one of Result or ErrorMessage is populated: Result iff
// Status is success, ErrorMessage otherwise. Use the constructors —
// they are the only way to keep that invariant.
type Response struct {
	RequestID    string    `json:"requestId"`
	CompletedAt  time.Time `json:"completedAt"`
	Status       Status    `json:"status"`
	Result       any       `json:"result,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`

	// ConfirmationToken accompanies a denial for commands whose scope
	// requires explicit approval: the caller resubmits the identical
	// command with this token to proceed.
	ConfirmationToken string `json:"confirmationToken,omitempty"`
}

// Success builds a success response. A nil result is replaced with an
// empty object so the result-present invariant holds even for agents
// that return no payload.
func Success(requestID string, completedAt time.Time, result any) Response {
	if result == nil {
		result = map[string]any{}
	}
	return Response{
		RequestID:   requestID,
		CompletedAt: completedAt,
		Status:      StatusSuccess,
		Result:      result,
	}
}

// Denied builds a denial response. Denials are recoverable caller
// conditions: wrong scope, missing confirmation, unconfigured
// credentials.
func Denied(requestID string, completedAt time.Time, format string, args ...any) Response {
	return Response{
		RequestID:    requestID,
		CompletedAt:  completedAt,
		Status:       StatusDenied,
		ErrorMessage: fmt.Sprintf(format, args...),
	}
}

// Errored builds an error response for system faults: validation
// failures, transport faults, vault faults.
func Errored(requestID string, completedAt time.Time, format string, args ...any) Response {
	return Response{
		RequestID:    requestID,
		CompletedAt:  completedAt,
		Status:       StatusError,
		ErrorMessage: fmt.Sprintf(format, args...),
	}
}
