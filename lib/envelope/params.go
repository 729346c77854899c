// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"fmt"
)

// The parameters field is caller-supplied and untrusted. Categories we
// model get a typed decode that checks shape before anything acts on
// it; categories we do not model pass through as the opaque map.

// TradeParameters is the validated parameter shape for
// trade_execution commands.
type TradeParameters struct {
	// Integration names the trading platform whose stored credential
	// the dispatch needs (binance, bybit, mt5, tradingview).
	Integration string

	// Symbol and Quantity are advisory for the agent; the relay only
	// passes them through.
	Symbol   string
	Quantity string
}

// DecodeTradeParameters validates and extracts trade_execution
// parameters. Integration is required — without it the gateway cannot
// resolve which vault record to inject. Failures wrap ErrValidation.
func DecodeTradeParameters(parameters map[string]any) (TradeParameters, error) {
	integration, err := stringField(parameters, "integration", true)
	if err != nil {
		return TradeParameters{}, err
	}
	symbol, err := stringField(parameters, "symbol", false)
	if err != nil {
		return TradeParameters{}, err
	}
	quantity, err := stringField(parameters, "quantity", false)
	if err != nil {
		return TradeParameters{}, err
	}
	return TradeParameters{Integration: integration, Symbol: symbol, Quantity: quantity}, nil
}

// FileParameters is the validated parameter shape for
// file_modification commands.
type FileParameters struct {
	// Path is the file the agent will touch. Required so denials and
	// audit lines can name the target.
	Path string
}

// DecodeFileParameters validates and extracts file_modification
// parameters. Failures wrap ErrValidation.
func DecodeFileParameters(parameters map[string]any) (FileParameters, error) {
	path, err := stringField(parameters, "path", true)
	if err != nil {
		return FileParameters{}, err
	}
	return FileParameters{Path: path}, nil
}

// ValidateParameters checks the parameter shape for category. Modeled
// categories get their typed decode; everything else is accepted
// opaque.
func ValidateParameters(category Category, parameters map[string]any) error {
	switch category {
	case CategoryTradeExecution:
		_, err := DecodeTradeParameters(parameters)
		return err
	case CategoryFileModification:
		_, err := DecodeFileParameters(parameters)
		return err
	default:
		return nil
	}
}

// stringField extracts a string-typed field from an untrusted map.
func stringField(parameters map[string]any, name string, required bool) (string, error) {
	value, present := parameters[name]
	if !present {
		if required {
			return "", fmt.Errorf("%w: parameter %q is required", ErrValidation, name)
		}
		return "", nil
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %q must be a string, got %T", ErrValidation, name, value)
	}
	if required && text == "" {
		return "", fmt.Errorf("%w: parameter %q is empty", ErrValidation, name)
	}
	return text, nil
}
