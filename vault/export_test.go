// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

func TestExportOpenBundleRoundTrip(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()
	if _, err := v.Put(ctx, IntegrationBinance, map[string]string{"apiKey": "k", "apiSecret": "s"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := v.Put(ctx, IntegrationMT5, map[string]string{"account": "1", "password": "p", "server": "Demo"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	recipient, identityKey, err := GenerateEscrowIdentity()
	if err != nil {
		t.Fatalf("GenerateEscrowIdentity() error: %v", err)
	}
	data, err := v.Export(ctx, []string{recipient})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	bundle, err := OpenBundle(data, identityKey)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}
	if len(bundle.Records) != 2 {
		t.Fatalf("bundle holds %d records, want 2", len(bundle.Records))
	}
	if bundle.Records[0].Integration != IntegrationBinance {
		t.Fatalf("bundle record order starts with %s, want binance", bundle.Records[0].Integration)
	}
	for _, rec := range bundle.Records {
		if rec.Version != 1 {
			t.Fatalf("bundle record %s version = %d, want 1", rec.Integration, rec.Version)
		}
		if _, err := base64.StdEncoding.DecodeString(rec.Ciphertext); err != nil {
			t.Fatalf("bundle record %s ciphertext not base64: %v", rec.Integration, err)
		}
	}
}

func TestExportStaysSealed(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()
	marker := "escrow-visible-secret"
	if _, err := v.Put(ctx, IntegrationBybit, map[string]string{"apiKey": "k", "apiSecret": marker}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	recipient, identityKey, err := GenerateEscrowIdentity()
	if err != nil {
		t.Fatalf("GenerateEscrowIdentity() error: %v", err)
	}
	data, err := v.Export(ctx, []string{recipient})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	bundle, err := OpenBundle(data, identityKey)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}
	for _, rec := range bundle.Records {
		raw, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
		if err != nil {
			t.Fatalf("decoding record ciphertext: %v", err)
		}
		if strings.Contains(string(raw), marker) {
			t.Fatal("escrow bundle exposes a plaintext field value")
		}
	}
}

func TestOpenBundleRejectsWrongIdentity(t *testing.T) {
	v := openTestVault(t)
	ctx := context.Background()
	if _, err := v.Put(ctx, IntegrationBinance, map[string]string{"apiKey": "k", "apiSecret": "s"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	recipient, _, err := GenerateEscrowIdentity()
	if err != nil {
		t.Fatalf("GenerateEscrowIdentity() error: %v", err)
	}
	data, err := v.Export(ctx, []string{recipient})
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	_, otherKey, err := GenerateEscrowIdentity()
	if err != nil {
		t.Fatalf("GenerateEscrowIdentity() error: %v", err)
	}
	if _, err := OpenBundle(data, otherKey); err == nil {
		t.Fatal("OpenBundle() with wrong identity succeeded")
	}
}

func TestExportRequiresRecipient(t *testing.T) {
	v := openTestVault(t)
	if _, err := v.Export(context.Background(), nil); err == nil {
		t.Fatal("Export() with no recipients succeeded")
	}
	if _, err := v.Export(context.Background(), []string{"not-an-age-recipient"}); err == nil {
		t.Fatal("Export() with malformed recipient succeeded")
	}
}
