// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy is the permission gate consulted before any command
// reaches the agent. The table maps each permission scope to the
// command categories it authorizes and whether dispatch requires an
// explicit confirmation token. The table is loaded once at startup and
// immutable afterward; Authorize is a pure function over it.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/drawbridge-labs/drawbridge/lib/envelope"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	// Allowed is false for unknown scopes, unknown categories, and
	// scope/category pairs the table does not authorize.
	Allowed bool

	// RequiresConfirmation means dispatch must not proceed without a
	// confirmation token on the envelope. Only meaningful when
	// Allowed is true.
	RequiresConfirmation bool
}

// scopeRule is one row of the table.
type scopeRule struct {
	categories           map[envelope.Category]bool
	requiresConfirmation bool
}

// Table is the loaded policy. Immutable after construction; safe for
// concurrent readers.
type Table struct {
	rules map[envelope.Scope]scopeRule
}

// Default returns the built-in table: each scope authorizes its
// namesake category, and the destructive scopes (trade_execution,
// file_modification, system_access) require confirmation before
// dispatch.
func Default() *Table {
	rules := make(map[envelope.Scope]scopeRule, len(envelope.Scopes()))
	for _, scope := range envelope.Scopes() {
		rules[scope] = scopeRule{
			categories:           map[envelope.Category]bool{envelope.Category(scope): true},
			requiresConfirmation: scope == envelope.ScopeTradeExecution ||
				scope == envelope.ScopeFileModification ||
				scope == envelope.ScopeSystemAccess,
		}
	}
	return &Table{rules: rules}
}

// fileFormat is the JSONC document shape for LoadFile.
type fileFormat struct {
	Scopes map[string]struct {
		Categories           []string `json:"categories"`
		RequiresConfirmation bool     `json:"requiresConfirmation"`
	} `json:"scopes"`
}

// LoadFile reads a policy table from a JSONC file (comments and
// trailing commas permitted). Every key must be a recognized scope and
// every listed category a recognized category — a typo in the policy
// file must fail startup, not silently deny everything.
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var parsed fileFormat
	if err := json.Unmarshal(jsonc.ToJSON(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if len(parsed.Scopes) == 0 {
		return nil, fmt.Errorf("policy file %s defines no scopes", path)
	}

	rules := make(map[envelope.Scope]scopeRule, len(parsed.Scopes))
	for name, entry := range parsed.Scopes {
		scope := envelope.Scope(name)
		if !scope.Valid() {
			return nil, fmt.Errorf("policy file %s: unrecognized scope %q", path, name)
		}
		if len(entry.Categories) == 0 {
			return nil, fmt.Errorf("policy file %s: scope %q authorizes no categories", path, name)
		}
		categories := make(map[envelope.Category]bool, len(entry.Categories))
		for _, categoryName := range entry.Categories {
			category := envelope.Category(categoryName)
			if !envelope.Scope(categoryName).Valid() {
				return nil, fmt.Errorf("policy file %s: scope %q lists unrecognized category %q", path, name, categoryName)
			}
			categories[category] = true
		}
		rules[scope] = scopeRule{
			categories:           categories,
			requiresConfirmation: entry.RequiresConfirmation,
		}
	}

	return &Table{rules: rules}, nil
}

// Authorize reports whether scope authorizes category. Unknown scopes
// and categories yield Allowed=false; there is no way to fail open.
func (t *Table) Authorize(scope envelope.Scope, category envelope.Category) Decision {
	rule, known := t.rules[scope]
	if !known {
		return Decision{}
	}
	if !rule.categories[category] {
		return Decision{}
	}
	return Decision{Allowed: true, RequiresConfirmation: rule.requiresConfirmation}
}

// ScopeStatus is one row of the status snapshot.
type ScopeStatus struct {
	Categories           []string `json:"categories"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
}

// Snapshot returns a read-only view of the table for status reporting.
// Category lists are sorted for stable output.
func (t *Table) Snapshot() map[string]ScopeStatus {
	snapshot := make(map[string]ScopeStatus, len(t.rules))
	for scope, rule := range t.rules {
		categories := make([]string, 0, len(rule.categories))
		for category := range rule.categories {
			categories = append(categories, string(category))
		}
		sort.Strings(categories)
		snapshot[string(scope)] = ScopeStatus{
			Categories:           categories,
			RequiresConfirmation: rule.requiresConfirmation,
		}
	}
	return snapshot
}
