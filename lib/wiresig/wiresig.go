// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package wiresig authenticates agent wire frames with HMAC-SHA256
// under a shared relay secret. The gateway and the local agent hold
// the same secret; a frame whose tag does not verify is dropped before
// any of its content is interpreted. This is message authentication
// only; confidentiality is the transport's problem (a loopback socket
// or an already-encrypted channel).
package wiresig

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

// TagSize is the size in bytes of a frame tag (HMAC-SHA256 output).
const TagSize = sha256.Size

// Sign computes the authentication tag for payload. The relay secret
// is borrowed (read via Bytes) and not closed.
func Sign(relaySecret *secret.Buffer, payload []byte) []byte {
	mac := hmac.New(sha256.New, relaySecret.Bytes())
	mac.Write(payload)
	return mac.Sum(nil)
}

// Verify reports whether tag authenticates payload under the relay
// secret, in constant time.
func Verify(relaySecret *secret.Buffer, payload, tag []byte) bool {
	return hmac.Equal(Sign(relaySecret, payload), tag)
}
