// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"testing"
	"time"

	"github.com/drawbridge-labs/drawbridge/lib/clock"
	"github.com/drawbridge-labs/drawbridge/lib/envelope"
)

func TestConfirmationTokenRoundTrip(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	c, err := newConfirmer(fake)
	if err != nil {
		t.Fatalf("newConfirmer() error: %v", err)
	}
	defer c.close()

	token := c.issue(envelope.ScopeTradeExecution, "comprar BTC 0.01")
	if !c.check(envelope.ScopeTradeExecution, "comprar BTC 0.01", token) {
		t.Fatal("freshly issued token did not check")
	}
	if c.check(envelope.ScopeTradeExecution, "vender BTC 0.01", token) {
		t.Fatal("token checked against a different command")
	}
	if c.check(envelope.ScopeFileModification, "comprar BTC 0.01", token) {
		t.Fatal("token checked against a different scope")
	}
	if c.check(envelope.ScopeTradeExecution, "comprar BTC 0.01", "not-a-token") {
		t.Fatal("garbage token checked")
	}
}

func TestConfirmationTokenExpires(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	c, err := newConfirmer(fake)
	if err != nil {
		t.Fatalf("newConfirmer() error: %v", err)
	}
	defer c.close()

	token := c.issue(envelope.ScopeTradeExecution, "comprar BTC 0.01")
	fake.Advance(confirmTTL - time.Second)
	if !c.check(envelope.ScopeTradeExecution, "comprar BTC 0.01", token) {
		t.Fatal("token expired inside its validity window")
	}
	fake.Advance(2 * time.Second)
	if c.check(envelope.ScopeTradeExecution, "comprar BTC 0.01", token) {
		t.Fatal("expired token still checked")
	}
}

func TestConfirmationKeysPerProcess(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	first, err := newConfirmer(fake)
	if err != nil {
		t.Fatalf("newConfirmer() error: %v", err)
	}
	defer first.close()
	second, err := newConfirmer(fake)
	if err != nil {
		t.Fatalf("newConfirmer() error: %v", err)
	}
	defer second.close()

	token := first.issue(envelope.ScopeTradeExecution, "comprar BTC 0.01")
	if second.check(envelope.ScopeTradeExecution, "comprar BTC 0.01", token) {
		t.Fatal("token from one confirmer checked by another")
	}
}
