// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/drawbridge-labs/drawbridge/lib/clock"
	"github.com/drawbridge-labs/drawbridge/lib/envelope"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/lib/wiresig"
)

// confirmTTL bounds how long an issued confirmation token stays valid.
// Long enough for a human to read the command and approve it, short
// enough that a leaked token is useless by the time anyone replays it.
const confirmTTL = 5 * time.Minute

// confirmer issues and checks confirmation tokens for commands whose
// scope requires explicit approval before dispatch.
//
// A token is bound to the exact scope and command text it was issued
// for: resubmitting a different command with a previously approved
// token fails the check. The signing key is generated per process, so
// tokens do not survive a gateway restart; callers just reconfirm.
type confirmer struct {
	key   *secret.Buffer
	clock clock.Clock
}

func newConfirmer(clk clock.Clock) (*confirmer, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating confirmation key: %w", err)
	}
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &confirmer{key: key, clock: clk}, nil
}

func (c *confirmer) close() {
	c.key.Close()
}

// tokenPayload builds the signed material: issue time, scope, and
// command text, length-separated so field boundaries cannot shift.
func tokenPayload(issuedAt int64, scope envelope.Scope, commandText string) []byte {
	payload := binary.BigEndian.AppendUint64(nil, uint64(issuedAt))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(scope)))
	payload = append(payload, scope...)
	payload = append(payload, commandText...)
	return payload
}

// issue creates a token approving one (scope, commandText) pair.
func (c *confirmer) issue(scope envelope.Scope, commandText string) string {
	issuedAt := c.clock.Now().Unix()
	tag := wiresig.Sign(c.key, tokenPayload(issuedAt, scope, commandText))
	token := binary.BigEndian.AppendUint64(nil, uint64(issuedAt))
	token = append(token, tag...)
	return base64.RawURLEncoding.EncodeToString(token)
}

// check reports whether token approves the given command and is still
// within its validity window.
func (c *confirmer) check(scope envelope.Scope, commandText, token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 8+wiresig.TagSize {
		return false
	}
	issuedAt := int64(binary.BigEndian.Uint64(raw[:8]))
	age := c.clock.Now().Sub(time.Unix(issuedAt, 0))
	if age < 0 || age > confirmTTL {
		return false
	}
	return wiresig.Verify(c.key, tokenPayload(issuedAt, scope, commandText), raw[8:])
}
