// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package wiresig

import (
	"testing"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

func newSecret(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("secret.NewFromBytes() error: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestSignVerify(t *testing.T) {
	relaySecret := newSecret(t, "relay-shared-secret")
	payload := []byte(`{"kind":"call","requestId":"req-1"}`)

	tag := Sign(relaySecret, payload)
	if len(tag) != TagSize {
		t.Fatalf("Sign() tag length = %d, want %d", len(tag), TagSize)
	}
	if !Verify(relaySecret, payload, tag) {
		t.Error("Verify(valid tag) = false, want true")
	}
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	relaySecret := newSecret(t, "relay-shared-secret")
	payload := []byte("comprar BTC 0.01")
	tag := Sign(relaySecret, payload)

	payload[0] ^= 0x01
	if Verify(relaySecret, payload, tag) {
		t.Error("Verify(tampered payload) = true, want false")
	}
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	payload := []byte("ping")
	tag := Sign(newSecret(t, "secret-a"), payload)
	if Verify(newSecret(t, "secret-b"), payload, tag) {
		t.Error("Verify(tag from different secret) = true, want false")
	}
}
