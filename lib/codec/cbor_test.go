// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshal_Deterministic(t *testing.T) {
	value := map[string]any{
		"zebra":  1,
		"apple":  "two",
		"middle": []int{3, 4},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two encodings of the same map differ; deterministic encoding is required for frame signing")
	}
}

func TestUnmarshal_AnyMapType(t *testing.T) {
	encoded, err := Marshal(map[string]any{"symbol": "BTCUSDT", "qty": "0.01"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["symbol"] != "BTCUSDT" {
		t.Errorf("decoded[symbol] = %v, want BTCUSDT", asMap["symbol"])
	}
}

func TestRoundTrip_Struct(t *testing.T) {
	type frame struct {
		Kind      string `cbor:"1,keyasint"`
		RequestID string `cbor:"2,keyasint,omitempty"`
	}

	encoded, err := Marshal(frame{Kind: "ping"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded frame
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.Kind != "ping" || decoded.RequestID != "" {
		t.Errorf("round trip = %+v, want {Kind:ping}", decoded)
	}
}
