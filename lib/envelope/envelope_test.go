// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScope_Valid(t *testing.T) {
	for _, scope := range Scopes() {
		if !scope.Valid() {
			t.Errorf("Scope(%q).Valid() = false, want true", scope)
		}
	}
	for _, invalid := range []Scope{"", "root", "trade-execution", "TRADE_EXECUTION"} {
		if invalid.Valid() {
			t.Errorf("Scope(%q).Valid() = true, want false", invalid)
		}
	}
}

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		command Command
		wantErr bool
	}{
		{
			name:    "valid",
			command: Command{CommandText: "comprar BTC 0.01", Scope: ScopeTradeExecution},
		},
		{
			name:    "missing text",
			command: Command{Scope: ScopeTradeExecution},
			wantErr: true,
		},
		{
			name:    "missing scope",
			command: Command{CommandText: "status"},
			wantErr: true,
		},
		{
			name:    "unrecognized scope",
			command: Command{CommandText: "rm -rf /", Scope: "superuser"},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.command.Validate()
			if test.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
		})
	}
}

func TestCategory_MutatingAndRetryable(t *testing.T) {
	if !CategoryTradeExecution.Mutating() || !CategoryFileModification.Mutating() {
		t.Error("trade_execution and file_modification must be mutating")
	}
	if CategoryAPICall.Mutating() || CategoryBrowserAutomation.Mutating() {
		t.Error("api_call and browser_automation must not be mutating")
	}
	if !CategoryAPICall.Retryable() || !CategoryBrowserAutomation.Retryable() {
		t.Error("api_call and browser_automation must be retryable")
	}
	if CategoryTradeExecution.Retryable() || CategorySystemAccess.Retryable() {
		t.Error("trade_execution and system_access must not be retryable")
	}
}

func TestResponse_InvariantExactlyOneSide(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	success := Success("req-1", now, map[string]any{"orderId": 42})
	if success.Result == nil || success.ErrorMessage != "" {
		t.Errorf("Success() = %+v, want result populated and no error message", success)
	}

	// Nil result still satisfies the result-present invariant.
	empty := Success("req-2", now, nil)
	if empty.Result == nil {
		t.Error("Success(nil result) left Result nil")
	}

	denied := Denied("req-3", now, "permission %s not granted", ScopeTradeExecution)
	if denied.Result != nil || denied.ErrorMessage == "" {
		t.Errorf("Denied() = %+v, want error message only", denied)
	}

	errored := Errored("req-4", now, "agent unreachable")
	if errored.Result != nil || errored.ErrorMessage == "" {
		t.Errorf("Errored() = %+v, want error message only", errored)
	}
}

func TestResponse_WireShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encoded, err := json.Marshal(Denied("req-9", now, "confirmation required"))
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	text := string(encoded)
	for _, want := range []string{`"requestId":"req-9"`, `"status":"denied"`, `"errorMessage":"confirmation required"`} {
		if !strings.Contains(text, want) {
			t.Errorf("wire json %s missing %s", text, want)
		}
	}
	if strings.Contains(text, `"result"`) {
		t.Errorf("wire json %s carries result on a denial", text)
	}
}

func TestDecodeTradeParameters(t *testing.T) {
	params, err := DecodeTradeParameters(map[string]any{
		"integration": "binance",
		"symbol":      "BTCUSDT",
		"quantity":    "0.01",
	})
	if err != nil {
		t.Fatalf("DecodeTradeParameters() error: %v", err)
	}
	if params.Integration != "binance" || params.Symbol != "BTCUSDT" {
		t.Errorf("DecodeTradeParameters() = %+v", params)
	}

	if _, err := DecodeTradeParameters(map[string]any{"symbol": "BTCUSDT"}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing integration: error = %v, want ErrValidation", err)
	}
	if _, err := DecodeTradeParameters(map[string]any{"integration": 7}); !errors.Is(err, ErrValidation) {
		t.Errorf("non-string integration: error = %v, want ErrValidation", err)
	}
}

func TestValidateParameters_OpaqueCategories(t *testing.T) {
	if err := ValidateParameters(CategoryBrowserAutomation, map[string]any{"anything": []int{1}}); err != nil {
		t.Errorf("ValidateParameters(browser_automation) error: %v, want opaque passthrough", err)
	}
	if err := ValidateParameters(CategoryFileModification, map[string]any{}); err == nil {
		t.Error("ValidateParameters(file_modification, no path) succeeded, want error")
	}
}
