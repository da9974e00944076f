// Copyright 2025 Certen Protocol
//
// Optional MEV-resistance extras beyond the default fee-tier ordering in
// mempool.go: a commit-reveal path and a sealed fair-gas auction, adapted
// from the reference's mev_protection.rs. Callers that want stronger
// ordering guarantees than PopForBlock's default can opt into these; they
// do not replace the default mempool flow.

package mempool

import (
	"crypto/sha256"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCommitmentNotFound = errors.New("mev: commitment not found")
	ErrRevealMismatch     = errors.New("mev: reveal does not match commitment")
	ErrRevealTooEarly     = errors.New("mev: commit window not yet elapsed")
)

// Commitment is a hidden commitment to a transaction's content, revealed
// only after the commit window elapses.
type Commitment struct {
	TxID       uuid.UUID
	CommitHash [32]byte
	CommittedAt time.Time
}

// RevealedTx pairs a commitment with its disclosed payload once revealed.
type RevealedTx struct {
	TxID      uuid.UUID
	Payload   []byte
	RevealedAt time.Time
}

// CommitReveal tracks in-flight commitments for one commit window.
type CommitReveal struct {
	mu          sync.Mutex
	commitWindow time.Duration
	commitments map[uuid.UUID]Commitment
}

// NewCommitReveal creates a tracker with the given commit window.
func NewCommitReveal(commitWindow time.Duration) *CommitReveal {
	return &CommitReveal{commitWindow: commitWindow, commitments: make(map[uuid.UUID]Commitment)}
}

// Commit registers a hidden commitment for txID.
func (c *CommitReveal) Commit(txID uuid.UUID, commitHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitments[txID] = Commitment{TxID: txID, CommitHash: commitHash, CommittedAt: time.Now()}
}

// Reveal discloses payload for a previously committed txID, verifying the
// commit window has elapsed and the hash matches.
func (c *CommitReveal) Reveal(txID uuid.UUID, payload []byte) (*RevealedTx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	commit, ok := c.commitments[txID]
	if !ok {
		return nil, ErrCommitmentNotFound
	}
	if time.Since(commit.CommittedAt) < c.commitWindow {
		return nil, ErrRevealTooEarly
	}
	if sha256.Sum256(payload) != commit.CommitHash {
		return nil, ErrRevealMismatch
	}
	delete(c.commitments, txID)
	return &RevealedTx{TxID: txID, Payload: payload, RevealedAt: time.Now()}, nil
}

// BatchOrdering seals a window's worth of transaction ids into a
// deterministic order derived from their hashes, so no single submitter
// can predict or influence placement within the sealed batch.
type BatchOrdering struct {
	mu       sync.Mutex
	interval time.Duration
	lastSeal time.Time
	pending  []uuid.UUID
}

// NewBatchOrdering creates a sealer with the given batching interval.
func NewBatchOrdering(interval time.Duration) *BatchOrdering {
	return &BatchOrdering{interval: interval, lastSeal: time.Now()}
}

// Add queues a transaction id for the next seal.
func (b *BatchOrdering) Add(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, id)
}

// SealBatch orders the pending ids by their SHA-256 digest and clears the
// queue, provided the batching interval has elapsed.
func (b *BatchOrdering) SealBatch() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastSeal) < b.interval {
		return nil
	}
	ordered := make([]uuid.UUID, len(b.pending))
	copy(ordered, b.pending)
	sort.Slice(ordered, func(i, j int) bool {
		hi := sha256.Sum256(ordered[i][:])
		hj := sha256.Sum256(ordered[j][:])
		for k := range hi {
			if hi[k] != hj[k] {
				return hi[k] < hj[k]
			}
		}
		return false
	})
	b.pending = nil
	b.lastSeal = time.Now()
	return ordered
}

// GasBid is one participant's bid in a fair-gas auction.
type GasBid struct {
	TxID      uuid.UUID
	GasPrice  uint64
	Timestamp time.Time
}

// FairGasAuction orders bids by arrival time first, gas price second —
// the inverse of a pure highest-bidder auction, to blunt gas-price races.
type FairGasAuction struct {
	mu   sync.Mutex
	bids []GasBid
}

// NewFairGasAuction creates an empty auction.
func NewFairGasAuction() *FairGasAuction {
	return &FairGasAuction{}
}

// Submit records a bid.
func (a *FairGasAuction) Submit(bid GasBid) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bids = append(a.bids, bid)
}

// Ordered returns bids sorted by (timestamp ascending, gas price descending).
func (a *FairGasAuction) Ordered() []GasBid {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]GasBid, len(a.bids))
	copy(out, a.bids)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].GasPrice > out[j].GasPrice
	})
	return out
}
