// Copyright 2025 Certen Protocol
//
// Mempool admission and MEV-resistant selection (spec §4.3), adapted from
// the reference's mempool.rs — minus its GLOBAL_MEMPOOL/MEV_BATCH_ORDERING
// singletons (Design Note 9): this Mempool is an explicit, constructor-
// injected component owned by the Node.

package mempool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

// MaxSize is the soft capacity bound past which admission requires a
// competitive fee.
const MaxSize = 10_000

// MinFeeWhenFull is the minimum fee accepted once the pool is at capacity.
const MinFeeWhenFull uint64 = 100_000

// TTL is the age past which a resident transaction is dropped during
// selection.
const TTL = 24 * time.Hour

// FeeTierDivisor defines the coarse fee bucket used for MEV-resistant
// ordering: tier = fee / FeeTierDivisor.
const FeeTierDivisor = 100_000

var (
	ErrFeeTooLow      = errors.New("mempool: fee too low to evict resident")
	ErrDuplicateTx     = errors.New("mempool: duplicate transaction id")
	ErrInvalidBalance  = errors.New("mempool: insufficient sender balance")
	ErrInvalidNonce    = errors.New("mempool: invalid nonce")
	ErrInvalidChainID  = errors.New("mempool: invalid chain id")
	ErrInvalidSignature = errors.New("mempool: invalid signature")
	ErrMissingParent   = errors.New("mempool: referenced parent does not exist")
	ErrInvalidSystemTx = errors.New("mempool: invalid system transaction signature")
)

const keyPrefix = "mempool:"

// BalanceSource resolves a sender's current balance and nonce, typically
// backed by the Finalization Pipeline's ledger state.
type BalanceSource interface {
	BalanceAndNonce(ctx context.Context, addr string) (balance uint64, nonce uint64, err error)
}

// ParentChecker resolves whether a transaction id is known (finalized or
// resident), used for DAG parent-existence and double-spend checks.
type ParentChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Config bundles the collaborators and chain parameters validation needs.
type Config struct {
	ChainID     string
	SystemSeed  []byte
	Balances    BalanceSource
	KnownTxIDs  ParentChecker
}

// Mempool admits validated transactions and serves MEV-resistant batches
// for the consensus engine to propose.
type Mempool struct {
	mu     sync.Mutex
	store  store.Store
	cfg    Config
}

// New builds a Mempool bound to store and cfg.
func New(s store.Store, cfg Config) *Mempool {
	return &Mempool{store: s, cfg: cfg}
}

// Add runs full validation (§4.9) plus capacity policy, then admits tx.
func (m *Mempool) Add(ctx context.Context, tx *types.Transaction) error {
	if err := m.validate(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := txKey(tx.ID)
	if _, ok, err := m.store.Get(ctx, key); err != nil {
		return fmt.Errorf("mempool: lookup: %w", err)
	} else if ok {
		return ErrDuplicateTx
	}

	entries, err := m.loadAll(ctx)
	if err != nil {
		return err
	}

	resultingSize := len(entries) + 1
	if len(entries) >= MaxSize {
		if tx.Fee < MinFeeWhenFull {
			return fmt.Errorf("%w: fee %d below floor %d", ErrFeeTooLow, tx.Fee, MinFeeWhenFull)
		}
		lowest := entries[0]
		for _, e := range entries[1:] {
			if e.Fee < lowest.Fee {
				lowest = e
			}
		}
		if tx.Fee <= lowest.Fee {
			return fmt.Errorf("%w: fee %d does not exceed lowest resident fee %d", ErrFeeTooLow, tx.Fee, lowest.Fee)
		}
		if err := m.store.Delete(ctx, txKey(lowest.ID)); err != nil {
			return fmt.Errorf("mempool: evict resident: %w", err)
		}
		resultingSize = len(entries)
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("mempool: encode: %w", err)
	}
	if err := m.store.Put(ctx, key, raw); err != nil {
		return err
	}
	metrics.MempoolSize.Set(float64(resultingSize))
	return nil
}

// validate runs the ordered hard-reject checks from §4.9.
func (m *Mempool) validate(ctx context.Context, tx *types.Transaction) error {
	if tx.IsSystem() {
		sig := string(tx.Signature)
		hash := fmt.Sprintf("%x", crypto.Hash256(tx.SigningMessage()))
		if !crypto.VerifySystemTx(m.cfg.SystemSeed, hash, sig) {
			return ErrInvalidSystemTx
		}
		return nil
	}

	if err := tx.StructuralCheck(); err != nil {
		return err
	}

	if m.cfg.Balances != nil {
		balance, nonce, err := m.cfg.Balances.BalanceAndNonce(ctx, tx.Sender)
		if err != nil {
			return fmt.Errorf("mempool: balance lookup: %w", err)
		}
		if balance < tx.Amount+tx.Fee {
			return fmt.Errorf("%w: have %d, need %d", ErrInvalidBalance, balance, tx.Amount+tx.Fee)
		}
		if tx.Nonce != nonce {
			return fmt.Errorf("%w: got %d, expected %d", ErrInvalidNonce, tx.Nonce, nonce)
		}
	}

	if tx.ChainID != m.cfg.ChainID {
		return fmt.Errorf("%w: got %q, expected %q", ErrInvalidChainID, tx.ChainID, m.cfg.ChainID)
	}

	if !crypto.Verify(tx.PublicKey, tx.SigningMessage(), tx.Signature) {
		return ErrInvalidSignature
	}

	if m.cfg.KnownTxIDs != nil {
		exists, err := m.cfg.KnownTxIDs.Exists(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("mempool: known-id lookup: %w", err)
		}
		if exists {
			return ErrDuplicateTx
		}
		for _, p := range tx.Parents {
			ok, err := m.cfg.KnownTxIDs.Exists(ctx, p)
			if err != nil {
				return fmt.Errorf("mempool: parent lookup: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingParent, p)
			}
		}
	}

	return nil
}

// PopForBlock selects up to limit transactions using TTL eviction followed
// by MEV-resistant ordering (§4.3). It does not delete anything; removal
// happens when the Finalization Pipeline processes the block that
// includes the transaction.
func (m *Mempool) PopForBlock(ctx context.Context, limit int) ([]*types.Transaction, error) {
	m.mu.Lock()
	entries, err := m.loadAll(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-TTL)
	live := entries[:0:0]
	for _, tx := range entries {
		if tx.Timestamp.Before(cutoff) {
			continue
		}
		live = append(live, tx)
	}

	sort.Slice(live, func(i, j int) bool {
		ti, tj := live[i].Fee/FeeTierDivisor, live[j].Fee/FeeTierDivisor
		if ti != tj {
			return ti > tj
		}
		return bytes.Compare(crypto.Hash256(live[i].ID[:]), crypto.Hash256(live[j].ID[:])) < 0
	})

	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

// Remove deletes a transaction from the pool (called after finalization).
func (m *Mempool) Remove(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, txKey(id))
}

// Get returns the resident transaction with id, if still present. The
// Finalization Pipeline uses this to load a block's transactions before
// removing them from the pool.
func (m *Mempool) Get(ctx context.Context, id uuid.UUID) (*types.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok, err := m.store.Get(ctx, txKey(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var tx types.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, false, fmt.Errorf("mempool: decode: %w", err)
	}
	return &tx, true, nil
}

// Size returns the current resident count.
func (m *Mempool) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (m *Mempool) loadAll(ctx context.Context) ([]*types.Transaction, error) {
	kvs, err := m.store.Iterate(ctx, []byte(keyPrefix))
	if err != nil {
		return nil, fmt.Errorf("mempool: iterate: %w", err)
	}
	out := make([]*types.Transaction, 0, len(kvs))
	for _, kv := range kvs {
		var tx types.Transaction
		if err := json.Unmarshal(kv.Value, &tx); err != nil {
			return nil, fmt.Errorf("mempool: decode: %w", err)
		}
		out = append(out, &tx)
	}
	return out, nil
}

func txKey(id uuid.UUID) []byte {
	return []byte(keyPrefix + id.String())
}
