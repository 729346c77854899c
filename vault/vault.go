// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/drawbridge-labs/drawbridge/lib/clock"
	"github.com/drawbridge-labs/drawbridge/lib/codec"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
)

var (
	// ErrNotFound reports that no credential record exists for the
	// requested integration.
	ErrNotFound = errors.New("vault: no credential record")

	// ErrValidation reports a malformed Put: unknown integration,
	// or fields that do not match the integration's schema.
	ErrValidation = errors.New("vault: invalid credential fields")

	// ErrCipher reports a cryptographic fault: bad master key,
	// corrupt ciphertext, or a record that fails authentication.
	ErrCipher = errors.New("vault: cipher failure")
)

// Config carries everything needed to open a vault.
type Config struct {
	// Path is the SQLite database file holding sealed records.
	Path string

	// MasterKey is the 32-byte vault master key. The vault takes
	// ownership and closes it on Close.
	MasterKey *secret.Buffer

	Logger *slog.Logger
	Clock  clock.Clock
}

// Vault stores per-integration credentials encrypted at rest and
// serves decrypt-use-discard reads to the relay.
type Vault struct {
	store  *store
	master *secret.Buffer
	logger *slog.Logger
	clock  clock.Clock

	// locks serializes Put/Delete per integration so a version is
	// never assigned twice under concurrent saves.
	locks map[string]*sync.Mutex
}

// Open opens (creating if necessary) the vault database at cfg.Path.
func Open(cfg Config) (*Vault, error) {
	if cfg.MasterKey == nil {
		return nil, fmt.Errorf("%w: no master key", ErrCipher)
	}
	if cfg.MasterKey.Len() != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", ErrCipher, KeySize, cfg.MasterKey.Len())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	st, err := openStore(cfg.Path)
	if err != nil {
		return nil, err
	}
	locks := make(map[string]*sync.Mutex, len(integrationSchemas))
	for name := range integrationSchemas {
		locks[name] = new(sync.Mutex)
	}
	return &Vault{
		store:  st,
		master: cfg.MasterKey,
		logger: cfg.Logger.With("component", "vault"),
		clock:  cfg.Clock,
		locks:  locks,
	}, nil
}

// Close releases the database pool and destroys the in-memory master
// key.
func (v *Vault) Close() error {
	err := v.store.close()
	v.master.Close()
	return err
}

// Put validates fields against the integration's schema, seals them,
// and stores the record at version prior+1 (1 for a first write). The
// full field set replaces whatever was stored before. Returns the new
// version.
func (v *Vault) Put(ctx context.Context, integration string, fields map[string]string) (int64, error) {
	if err := validateFields(integration, fields); err != nil {
		return 0, err
	}
	mu := v.locks[integration]
	mu.Lock()
	defer mu.Unlock()

	prior, _, exists, err := v.store.readRecord(ctx, integration)
	if err != nil {
		return 0, err
	}
	version := int64(1)
	if exists {
		version = prior + 1
	}

	plaintext, err := codec.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encoding credential fields: %w", err)
	}
	sealed, err := sealRecord(v.master, integration, version, plaintext)
	secret.Zero(plaintext)
	if err != nil {
		return 0, err
	}
	if err := v.store.writeRecord(ctx, integration, version, sealed, v.clock.Now().Unix()); err != nil {
		return 0, err
	}
	v.logger.Info("credential record stored",
		"integration", integration,
		"version", version)
	return version, nil
}

// Get opens the record for an integration and returns its fields in
// locked buffers. The caller owns the Credential and must Close it as
// soon as the one operation that needed it completes.
func (v *Vault) Get(ctx context.Context, integration string) (*Credential, error) {
	if _, ok := integrationSchemas[integration]; !ok {
		return nil, fmt.Errorf("%w: unknown integration %q", ErrValidation, integration)
	}
	version, sealed, exists, err := v.store.readRecord(ctx, integration)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, integration)
	}
	plaintext, err := openRecord(v.master, integration, version, sealed)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	err = codec.Unmarshal(plaintext, &raw)
	secret.Zero(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding record fields", ErrCipher)
	}

	cred := &Credential{
		Integration: integration,
		Version:     version,
		fields:      make(map[string]*secret.Buffer, len(raw)),
	}
	for name, value := range raw {
		buf, err := secret.NewFromBytes([]byte(value))
		if err != nil {
			cred.Close()
			return nil, err
		}
		cred.fields[name] = buf
	}
	return cred, nil
}

// Delete zeroes and removes the record for an integration. Deleting a
// record that does not exist is not an error.
func (v *Vault) Delete(ctx context.Context, integration string) error {
	if _, ok := integrationSchemas[integration]; !ok {
		return fmt.Errorf("%w: unknown integration %q", ErrValidation, integration)
	}
	mu := v.locks[integration]
	mu.Lock()
	defer mu.Unlock()

	existed, err := v.store.zeroAndDelete(ctx, integration)
	if err != nil {
		return err
	}
	if existed {
		v.logger.Info("credential record deleted", "integration", integration)
	}
	return nil
}

// List reports which integrations have stored records, with versions
// and update times but no field material.
func (v *Vault) List(ctx context.Context) ([]Info, error) {
	return v.store.listRecords(ctx)
}

// Credential is a decrypted record checked out of the vault. Field
// values live in locked buffers; Close destroys them.
type Credential struct {
	Integration string
	Version     int64
	fields      map[string]*secret.Buffer
}

// Field returns the buffer holding one field value.
func (c *Credential) Field(name string) (*secret.Buffer, bool) {
	buf, ok := c.fields[name]
	return buf, ok
}

// FieldNames returns the names present in the record.
func (c *Credential) FieldNames() []string {
	names := make([]string, 0, len(c.fields))
	for name := range c.fields {
		names = append(names, name)
	}
	return names
}

// Snapshot materializes the fields as plain strings for the one
// dispatch that injects them into an agent request. The copies are
// ordinary heap strings; callers must not retain the map beyond the
// request being built.
func (c *Credential) Snapshot() map[string]string {
	out := make(map[string]string, len(c.fields))
	for name, buf := range c.fields {
		out[name] = buf.String()
	}
	return out
}

// Close zeroes and unmaps every field buffer. Safe to call more than
// once.
func (c *Credential) Close() {
	for _, buf := range c.fields {
		buf.Close()
	}
}
