// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault is the encrypted-at-rest store for per-integration
// credentials: exchange API keys and trading-platform logins that the
// relay injects into agent dispatches on the caller's behalf.
//
// Records are encrypted with XChaCha20-Poly1305 under keys derived
// from a vault master key via HKDF-SHA256, one derivation per
// integration. The master key is supplied externally at startup (key
// file or stdin, never stored beside the ciphertext) and lives in a
// secret.Buffer for the life of the process. The AEAD's additional
// authenticated data binds each ciphertext to its integration name and
// record version, so a ciphertext copied between rows fails to open.
//
// Storage is a single SQLite file in WAL mode. Each record carries a
// version that increments by one on every Put; Delete overwrites the
// stored ciphertext with zeros before removing the row.
//
// Decrypted fields exist only for the scope of the one operation that
// needed them. The vault never returns plaintext to clients, never
// logs field values, and zeroes transient heap copies as soon as the
// protected copies exist.
package vault
