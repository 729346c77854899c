// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

func testMasterKey(t *testing.T) *secret.Buffer {
	t.Helper()
	raw := bytes.Repeat([]byte{0x42}, KeySize)
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	master := testMasterKey(t)
	plaintext := []byte(`{"apiKey":"k","apiSecret":"s"}`)

	sealed, err := sealRecord(master, IntegrationBinance, 3, plaintext)
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}
	if bytes.Contains(sealed, []byte("apiKey")) {
		t.Fatal("sealed record leaks plaintext")
	}
	opened, err := openRecord(master, IntegrationBinance, 3, sealed)
	if err != nil {
		t.Fatalf("openRecord() error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("openRecord() = %q, want %q", opened, plaintext)
	}
}

func TestOpenRecordBindsIntegrationAndVersion(t *testing.T) {
	master := testMasterKey(t)
	sealed, err := sealRecord(master, IntegrationBinance, 1, []byte("payload"))
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}

	if _, err := openRecord(master, IntegrationBybit, 1, sealed); !errors.Is(err, ErrCipher) {
		t.Fatalf("open with wrong integration: error = %v, want ErrCipher", err)
	}
	if _, err := openRecord(master, IntegrationBinance, 2, sealed); !errors.Is(err, ErrCipher) {
		t.Fatalf("open with wrong version: error = %v, want ErrCipher", err)
	}
}

func TestOpenRecordRejectsTampering(t *testing.T) {
	master := testMasterKey(t)
	sealed, err := sealRecord(master, IntegrationMT5, 1, []byte("payload"))
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if _, err := openRecord(master, IntegrationMT5, 1, sealed); !errors.Is(err, ErrCipher) {
		t.Fatalf("open tampered record: error = %v, want ErrCipher", err)
	}
}

func TestOpenRecordRejectsWrongMasterKey(t *testing.T) {
	master := testMasterKey(t)
	sealed, err := sealRecord(master, IntegrationBinance, 1, []byte("payload"))
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}
	other, err := secret.NewFromBytes(bytes.Repeat([]byte{0x17}, KeySize))
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	defer other.Close()
	if _, err := openRecord(other, IntegrationBinance, 1, sealed); !errors.Is(err, ErrCipher) {
		t.Fatalf("open with wrong key: error = %v, want ErrCipher", err)
	}
}

func TestOpenRecordRejectsMalformedBlobs(t *testing.T) {
	master := testMasterKey(t)
	if _, err := openRecord(master, IntegrationBinance, 1, []byte{0x01, 0x02}); !errors.Is(err, ErrCipher) {
		t.Fatalf("open short blob: error = %v, want ErrCipher", err)
	}
	sealed, err := sealRecord(master, IntegrationBinance, 1, []byte("payload"))
	if err != nil {
		t.Fatalf("sealRecord() error: %v", err)
	}
	sealed[0] = 0x7f
	if _, err := openRecord(master, IntegrationBinance, 1, sealed); !errors.Is(err, ErrCipher) {
		t.Fatalf("open unknown layout: error = %v, want ErrCipher", err)
	}
}

func TestDeriveRecordKeyDiffersPerIntegration(t *testing.T) {
	master := testMasterKey(t)
	binance, err := deriveRecordKey(master, IntegrationBinance)
	if err != nil {
		t.Fatalf("deriveRecordKey() error: %v", err)
	}
	defer binance.Close()
	bybit, err := deriveRecordKey(master, IntegrationBybit)
	if err != nil {
		t.Fatalf("deriveRecordKey() error: %v", err)
	}
	defer bybit.Close()
	if binance.Equal(bybit.Bytes()) {
		t.Fatal("integrations derived the same record key")
	}
}
