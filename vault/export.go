// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

// bundleFormatVersion identifies the export bundle layout.
const bundleFormatVersion = 1

// Bundle is the decrypted form of an export: every stored record,
// still sealed under the vault master key. Restoring a bundle into a
// new vault requires the same master key; the escrow identity alone
// cannot read any field.
type Bundle struct {
	FormatVersion int            `json:"formatVersion"`
	ExportedAt    int64          `json:"exportedAt"`
	Records       []BundleRecord `json:"records"`
}

// BundleRecord is one sealed row in an export bundle.
type BundleRecord struct {
	Integration string `json:"integration"`
	Version     int64  `json:"version"`
	UpdatedAt   int64  `json:"updatedAt"`
	Ciphertext  string `json:"ciphertext"`
}

// Export snapshots every stored record into a bundle, compresses it,
// and encrypts it to the given age recipients. Records stay sealed
// under the master key throughout; export never decrypts anything.
func (v *Vault) Export(ctx context.Context, recipients []string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("export requires at least one recipient")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, raw := range recipients {
		recipient, err := age.ParseX25519Recipient(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing export recipient: %w", err)
		}
		parsed = append(parsed, recipient)
	}

	rows, err := v.store.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	bundle := Bundle{
		FormatVersion: bundleFormatVersion,
		ExportedAt:    v.clock.Now().Unix(),
		Records:       make([]BundleRecord, 0, len(rows)),
	}
	for _, row := range rows {
		bundle.Records = append(bundle.Records, BundleRecord{
			Integration: row.Integration,
			Version:     row.Version,
			UpdatedAt:   row.UpdatedAt,
			Ciphertext:  base64.StdEncoding.EncodeToString(row.Ciphertext),
		})
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encoding export bundle: %w", err)
	}

	var out bytes.Buffer
	sealer, err := age.Encrypt(&out, parsed...)
	if err != nil {
		return nil, fmt.Errorf("starting bundle encryption: %w", err)
	}
	compressor, err := zstd.NewWriter(sealer)
	if err != nil {
		return nil, fmt.Errorf("starting bundle compression: %w", err)
	}
	if _, err := compressor.Write(payload); err != nil {
		return nil, fmt.Errorf("writing export bundle: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("finishing bundle compression: %w", err)
	}
	if err := sealer.Close(); err != nil {
		return nil, fmt.Errorf("finishing bundle encryption: %w", err)
	}
	v.logger.Info("credential bundle exported",
		"records", len(bundle.Records),
		"recipients", len(parsed))
	return out.Bytes(), nil
}

// OpenBundle decrypts an export bundle with an escrow identity in
// "AGE-SECRET-KEY-1..." form. The records inside remain sealed under
// the vault master key.
func OpenBundle(data []byte, identityKey string) (*Bundle, error) {
	identity, err := age.ParseX25519Identity(identityKey)
	if err != nil {
		return nil, fmt.Errorf("parsing escrow identity: %w", err)
	}
	opened, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting export bundle: %w", err)
	}
	decompressor, err := zstd.NewReader(opened)
	if err != nil {
		return nil, fmt.Errorf("starting bundle decompression: %w", err)
	}
	defer decompressor.Close()
	payload, err := io.ReadAll(decompressor)
	if err != nil {
		return nil, fmt.Errorf("reading export bundle: %w", err)
	}
	var bundle Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, fmt.Errorf("decoding export bundle: %w", err)
	}
	if bundle.FormatVersion != bundleFormatVersion {
		return nil, fmt.Errorf("unsupported bundle format %d", bundle.FormatVersion)
	}
	return &bundle, nil
}

// GenerateEscrowIdentity creates a fresh age keypair for bundle
// escrow. The secret key goes to cold storage; only the recipient
// string is needed at export time.
func GenerateEscrowIdentity() (recipient, identityKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating escrow identity: %w", err)
	}
	return identity.Recipient().String(), identity.String(), nil
}
