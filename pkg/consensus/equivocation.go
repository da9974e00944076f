// Copyright 2025 Certen Protocol
//
// Equivocation detection, ported from the reference's bft/state.rs
// BFTState: a sliding window of (validator, view) -> block_hash, pruned
// past MaxSignatureHistoryRounds to bound memory.

package consensus

import (
	"fmt"
	"sync"
	"time"
)

// MaxSignatureHistoryRounds matches the reference's
// MAX_SIGNATURE_HISTORY_ROUNDS constant.
const MaxSignatureHistoryRounds uint64 = 1000

// Equivocation is evidence that a validator signed two different blocks
// at the same view.
type Equivocation struct {
	Validator   string
	View        uint64
	Existing    string
	Conflicting string
	ObservedAt  time.Time
}

func (e *Equivocation) Error() string {
	return fmt.Sprintf("equivocation: validator %s signed both %s and %s at view %d", e.Validator, e.Existing, e.Conflicting, e.View)
}

type seenKey struct {
	validator string
	view      uint64
}

// EquivocationCache tracks one block-hash-hex per (validator, view) and
// reports a conflict the instant a second, different hash is seen for the
// same pair.
type EquivocationCache struct {
	mu   sync.Mutex
	seen map[seenKey]string
}

// NewEquivocationCache builds an empty cache.
func NewEquivocationCache() *EquivocationCache {
	return &EquivocationCache{seen: make(map[seenKey]string)}
}

// RecordSignature records that validator signed blockHashHex at view, and
// returns an *Equivocation if that conflicts with a prior signature at the
// same view.
func (c *EquivocationCache) RecordSignature(validator string, view uint64, blockHashHex string) *Equivocation {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seenKey{validator: validator, view: view}
	if existing, ok := c.seen[key]; ok {
		if existing != blockHashHex {
			return &Equivocation{
				Validator:   validator,
				View:        view,
				Existing:    existing,
				Conflicting: blockHashHex,
				ObservedAt:  time.Now().UTC(),
			}
		}
		return nil
	}
	c.seen[key] = blockHashHex

	if view > MaxSignatureHistoryRounds {
		cutoff := view - MaxSignatureHistoryRounds
		for k := range c.seen {
			if k.view < cutoff {
				delete(c.seen, k)
			}
		}
	}
	return nil
}
