// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"sort"
)

// Supported integrations. Each names the external platform a
// credential record authenticates against.
const (
	IntegrationBinance     = "binance"
	IntegrationBybit       = "bybit"
	IntegrationMT5         = "mt5"
	IntegrationTradingView = "tradingview"
)

// integrationSchemas maps each integration to the exact field set a
// record must carry. A Put with missing or unrecognized field names is
// rejected before anything touches the cipher or the store.
var integrationSchemas = map[string][]string{
	IntegrationBinance:     {"apiKey", "apiSecret"},
	IntegrationBybit:       {"apiKey", "apiSecret"},
	IntegrationMT5:         {"account", "password", "server"},
	IntegrationTradingView: {"username", "password"},
}

// Integrations returns the supported integration names in sorted
// order.
func Integrations() []string {
	names := make([]string, 0, len(integrationSchemas))
	for name := range integrationSchemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FieldNames returns the schema field names for an integration, or an
// error if the integration is not supported.
func FieldNames(integration string) ([]string, error) {
	schema, ok := integrationSchemas[integration]
	if !ok {
		return nil, fmt.Errorf("%w: unknown integration %q", ErrValidation, integration)
	}
	out := make([]string, len(schema))
	copy(out, schema)
	return out, nil
}

// validateFields checks a field map against the integration's schema.
// Every schema field must be present and non-empty, and no field
// outside the schema may appear. The error never includes field
// values.
func validateFields(integration string, fields map[string]string) error {
	schema, ok := integrationSchemas[integration]
	if !ok {
		return fmt.Errorf("%w: unknown integration %q", ErrValidation, integration)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty field set for %q", ErrValidation, integration)
	}
	for _, name := range schema {
		value, present := fields[name]
		if !present {
			return fmt.Errorf("%w: %s: missing field %q", ErrValidation, integration, name)
		}
		if value == "" {
			return fmt.Errorf("%w: %s: empty field %q", ErrValidation, integration, name)
		}
	}
	for name := range fields {
		if !schemaHasField(schema, name) {
			return fmt.Errorf("%w: %s: unrecognized field %q", ErrValidation, integration, name)
		}
	}
	return nil
}

func schemaHasField(schema []string, name string) bool {
	for _, field := range schema {
		if field == name {
			return true
		}
	}
	return false
}
