// Copyright 2025 Certen Protocol
//
// CometDBStore backs the Store contract with an embedded engine from
// github.com/cometbft/cometbft-db (goleveldb by default), rather than
// hand-rolling a disk format.

package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
)

// CometDBStore adapts a cometbft-db backend to the Store contract. Atomic
// increment is not part of the underlying engine's API, so it is
// serialized here through a per-key lock table (Design Note 9's "long-lived
// per-key locks" pattern, carried over from the reference counter-lock
// design — acceptable because the key space is bounded).
type CometDBStore struct {
	db       dbm.DB
	keyLocks sync.Map // string -> *sync.Mutex
}

// NewCometDBStore opens (or creates) a goleveldb-backed store at dir.
func NewCometDBStore(name, dir string) (*CometDBStore, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("store: open goleveldb %q: %w", name, err)
	}
	return &CometDBStore{db: db}, nil
}

// NewCometDBStoreWith wraps an already-opened cometbft-db backend, letting
// callers choose badgerdb/boltdb/memdb instead of goleveldb.
func NewCometDBStoreWith(db dbm.DB) *CometDBStore {
	return &CometDBStore{db: db}
}

func (s *CometDBStore) Put(_ context.Context, key, value []byte) error {
	return s.db.Set(key, value)
}

func (s *CometDBStore) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (s *CometDBStore) Delete(_ context.Context, key []byte) error {
	return s.db.Delete(key)
}

func (s *CometDBStore) Iterate(_ context.Context, prefix []byte) ([]KV, error) {
	it, err := s.db.Iterator(prefix, dbm.PrefixEndBytes(prefix))
	if err != nil {
		return nil, fmt.Errorf("store: iterator: %w", err)
	}
	defer it.Close()

	var out []KV
	for ; it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		out = append(out, KV{Key: k, Value: v})
	}
	return out, it.Error()
}

func (s *CometDBStore) lockFor(key []byte) *sync.Mutex {
	l, _ := s.keyLocks.LoadOrStore(string(key), &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *CometDBStore) AtomicIncrement(_ context.Context, key []byte, delta int64) (uint64, error) {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	var cur uint64
	v, err := s.db.Get(key)
	if err != nil {
		return 0, err
	}
	if len(v) == 8 {
		cur = binary.BigEndian.Uint64(v)
	}
	next := uint64(int64(cur) + delta)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, next)
	if err := s.db.Set(key, b); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *CometDBStore) AtomicBatch(_ context.Context, writes []Write) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, w := range writes {
		if w.Value == nil {
			if err := batch.Delete(w.Key); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set(w.Key, w.Value); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (s *CometDBStore) Close() error {
	return s.db.Close()
}
