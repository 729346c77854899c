// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

// KeySize is the required length of the vault master key in bytes.
const KeySize = 32

// blobVersion is the first byte of every stored ciphertext. Bump it
// if the sealed-record layout ever changes.
const blobVersion = 0x01

// keyInfoPrefix namespaces the HKDF derivation so a master key shared
// with another subsystem can never yield the same record keys.
const keyInfoPrefix = "drawbridge.vault.record.v1:"

// deriveRecordKey derives the per-integration AEAD key from the master
// key. The derived key is returned in a fresh secret.Buffer owned by
// the caller.
func deriveRecordKey(master *secret.Buffer, integration string) (*secret.Buffer, error) {
	if master.Len() != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrCipher, KeySize, master.Len())
	}
	reader := hkdf.New(sha256.New, master.Bytes(), nil, []byte(keyInfoPrefix+integration))
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return nil, fmt.Errorf("%w: deriving record key: %v", ErrCipher, err)
	}
	return secret.NewFromBytes(raw)
}

// recordAAD builds the additional authenticated data binding a sealed
// record to its integration and version. A ciphertext moved to a
// different row, or replayed at a different version, fails to open.
func recordAAD(integration string, version int64) []byte {
	aad := make([]byte, 0, 1+len(integration)+8)
	aad = append(aad, blobVersion)
	aad = append(aad, integration...)
	aad = binary.BigEndian.AppendUint64(aad, uint64(version))
	return aad
}

// sealRecord encrypts plaintext under the integration's derived key.
// The output layout is: version byte, 24-byte XChaCha20 nonce,
// ciphertext with Poly1305 tag.
func sealRecord(master *secret.Buffer, integration string, version int64, plaintext []byte) ([]byte, error) {
	key, err := deriveRecordKey(master, integration)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	out[0] = blobVersion
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: reading nonce: %v", ErrCipher, err)
	}
	return aead.Seal(out, nonce, plaintext, recordAAD(integration, version)), nil
}

// openRecord decrypts a sealed record. The returned plaintext is a
// fresh heap slice; callers zero it once the contents are protected.
func openRecord(master *secret.Buffer, integration string, version int64, sealed []byte) ([]byte, error) {
	if len(sealed) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: sealed record too short", ErrCipher)
	}
	if sealed[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported record layout %#x", ErrCipher, sealed[0])
	}
	key, err := deriveRecordKey(master, integration)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipher, err)
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], recordAAD(integration, version))
	if err != nil {
		return nil, fmt.Errorf("%w: record did not authenticate", ErrCipher)
	}
	return plaintext, nil
}
