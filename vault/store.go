// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS credentials (
	integration TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	ciphertext  BLOB NOT NULL,
	updated_at  INTEGER NOT NULL
);
`

// store wraps the SQLite pool holding sealed credential records. All
// plaintext handling happens above this layer; the store only ever
// sees ciphertext.
type store struct {
	pool *sqlitex.Pool
}

func openStore(path string) (*store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			// Credential writes are rare; pay for full durability.
			// The pragmas run one at a time: ExecuteScript wraps its
			// script in a savepoint, and SQLite rejects changing
			// synchronous inside a transaction.
			for _, pragma := range []string{
				`PRAGMA journal_mode = WAL;`,
				`PRAGMA synchronous = FULL;`,
				`PRAGMA busy_timeout = 5000;`,
			} {
				err := sqlitex.ExecuteTransient(conn, pragma, &sqlitex.ExecOptions{
					ResultFunc: func(*sqlite.Stmt) error { return nil },
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening credential store %s: %w", path, err)
	}
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("taking connection for schema: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schemaSQL, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating credential schema: %w", err)
	}
	return &store{pool: pool}, nil
}

func (s *store) close() error {
	return s.pool.Close()
}

// readRecord returns the stored version and ciphertext for an
// integration. ok is false when no row exists.
func (s *store) readRecord(ctx context.Context, integration string) (version int64, ciphertext []byte, ok bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, nil, false, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT version, ciphertext FROM credentials WHERE integration = ?`, &sqlitex.ExecOptions{
		Args: []any{integration},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			ciphertext = make([]byte, stmt.ColumnLen(1))
			stmt.ColumnBytes(1, ciphertext)
			ok = true
			return nil
		},
	})
	if err != nil {
		return 0, nil, false, fmt.Errorf("reading credential record: %w", err)
	}
	return version, ciphertext, ok, nil
}

// writeRecord inserts or replaces the sealed record for an
// integration.
func (s *store) writeRecord(ctx context.Context, integration string, version int64, ciphertext []byte, updatedAt int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO credentials (integration, version, ciphertext, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (integration) DO UPDATE SET
			version = excluded.version,
			ciphertext = excluded.ciphertext,
			updated_at = excluded.updated_at
	`, &sqlitex.ExecOptions{
		Args: []any{integration, version, ciphertext, updatedAt},
	})
	if err != nil {
		return fmt.Errorf("writing credential record: %w", err)
	}
	return nil
}

// zeroAndDelete overwrites the stored ciphertext with zeros before
// removing the row, so the sealed bytes are not left in free pages.
// Returns false when no row existed.
func (s *store) zeroAndDelete(ctx context.Context, integration string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("starting delete transaction: %w", err)
	}
	existed := false
	err = func() error {
		err := sqlitex.Execute(conn, `
			UPDATE credentials SET ciphertext = zeroblob(length(ciphertext))
			WHERE integration = ?
		`, &sqlitex.ExecOptions{Args: []any{integration}})
		if err != nil {
			return fmt.Errorf("zeroing credential record: %w", err)
		}
		existed = conn.Changes() > 0
		err = sqlitex.Execute(conn, `DELETE FROM credentials WHERE integration = ?`, &sqlitex.ExecOptions{
			Args: []any{integration},
		})
		if err != nil {
			return fmt.Errorf("deleting credential record: %w", err)
		}
		return nil
	}()
	endFn(&err)
	if err != nil {
		return false, err
	}
	return existed, nil
}

// Info describes a stored credential record without exposing any
// field material.
type Info struct {
	Integration string `json:"integration"`
	Version     int64  `json:"version"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (s *store) listRecords(ctx context.Context) ([]Info, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var infos []Info
	err = sqlitex.Execute(conn, `
		SELECT integration, version, updated_at FROM credentials ORDER BY integration
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			infos = append(infos, Info{
				Integration: stmt.ColumnText(0),
				Version:     stmt.ColumnInt64(1),
				UpdatedAt:   stmt.ColumnInt64(2),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing credential records: %w", err)
	}
	return infos, nil
}

// sealedRecord is a row snapshot used by export. The ciphertext stays
// sealed; export re-wraps it without ever opening it here.
type sealedRecord struct {
	Integration string
	Version     int64
	UpdatedAt   int64
	Ciphertext  []byte
}

func (s *store) allRecords(ctx context.Context) ([]sealedRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []sealedRecord
	err = sqlitex.Execute(conn, `
		SELECT integration, version, updated_at, ciphertext FROM credentials ORDER BY integration
	`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rec := sealedRecord{
				Integration: stmt.ColumnText(0),
				Version:     stmt.ColumnInt64(1),
				UpdatedAt:   stmt.ColumnInt64(2),
			}
			rec.Ciphertext = make([]byte, stmt.ColumnLen(3))
			stmt.ColumnBytes(3, rec.Ciphertext)
			records = append(records, rec)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading credential records: %w", err)
	}
	return records, nil
}
