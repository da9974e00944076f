// Copyright 2025 Certen Protocol
//
// PostgresStore backs the Store contract with a relational engine, for
// deployments that already run Postgres for their other services and don't
// want an embedded engine on disk. Single table, byte-oriented, no ORM —
// matches the reference's lib/pq-direct style (pkg/database/client.go).

package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"

	_ "github.com/lib/pq"
)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_store (
	key   BYTEA PRIMARY KEY,
	value BYTEA NOT NULL
)`

// PostgresStore implements Store over a single kv_store(key, value) table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// backing table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create kv_store table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

func (s *PostgresStore) Iterate(ctx context.Context, prefix []byte) ([]KV, error) {
	upper := prefixUpperBound(prefix)
	var rows *sql.Rows
	var err error
	if upper == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key, value FROM kv_store WHERE key >= $1 ORDER BY key`, prefix)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key, value FROM kv_store WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, upper)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, rows.Err()
}

// AtomicIncrement uses SELECT ... FOR UPDATE within a transaction to
// serialize read-modify-write on a single key.
func (s *PostgresStore) AtomicIncrement(ctx context.Context, key []byte, delta int64) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cur uint64
	var value []byte
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1 FOR UPDATE`, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		cur = 0
	case err != nil:
		return 0, err
	case len(value) == 8:
		cur = binary.BigEndian.Uint64(value)
	}

	next := uint64(int64(cur) + delta)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, next)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_store (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, b); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

func (s *PostgresStore) AtomicBatch(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, w := range writes {
		if w.Value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, w.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_store (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, w.Key, w.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil if the prefix is all 0xFF bytes
// (in which case no upper bound is needed).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
