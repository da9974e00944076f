// Copyright 2025 Certen Protocol
//
// Multi-Sig Coordinator (spec §4.6): collects M-of-N partial signatures
// over anchor roots, keyed by anchor root, and verifies the aggregate once
// threshold is met. Adapted from the reference's multisig/mod.rs.

package multisig

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

// Config validates the M-of-N threshold and the registered validator keys
// used to check partial signatures.
type Config struct {
	Threshold       int
	TotalValidators int
	ValidatorPubKeys map[string][]byte // validator id -> ed25519 pubkey
}

// NewConfig validates 3 <= N, 1 <= M <= N, and warns (via the returned bool)
// when M is below the sub-BFT threshold floor(2N/3)+1.
func NewConfig(threshold, total int, pubkeys map[string][]byte) (*Config, bool, error) {
	if total < 3 {
		return nil, false, fmt.Errorf("multisig: total validators %d below minimum 3", total)
	}
	if threshold < 1 || threshold > total {
		return nil, false, fmt.Errorf("multisig: threshold %d out of range [1,%d]", threshold, total)
	}
	subBFTFloor := (2*total)/3 + 1
	belowSubBFT := threshold < subBFTFloor
	return &Config{Threshold: threshold, TotalValidators: total, ValidatorPubKeys: pubkeys}, belowSubBFT, nil
}

// Coordinator holds in-flight partial-signature sets keyed by anchor root.
// Per-root operations are serialized under mu; cross-root operations are
// independent (spec §5).
type Coordinator struct {
	mu      sync.RWMutex
	cfg     *Config
	pending map[string]*types.MultiSignature // hex(anchor_root) -> state
}

// New builds a Coordinator bound to cfg.
func New(cfg *Config) *Coordinator {
	return &Coordinator{cfg: cfg, pending: make(map[string]*types.MultiSignature)}
}

// SubmitPartial get-or-creates the MultiSignature for root, rejects a
// duplicate validator_id, appends the partial, and reports whether the
// threshold is now met.
func (c *Coordinator) SubmitPartial(root []byte, subchain uuid.UUID, height uint64, partial types.PartialSignature) (complete bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := hex.EncodeToString(root)
	ms, ok := c.pending[key]
	if !ok {
		ms = &types.MultiSignature{AnchorRoot: root, SubchainID: subchain, BlockHeight: height}
		c.pending[key] = ms
	}

	for _, p := range ms.Partials {
		if p.ValidatorID == partial.ValidatorID {
			return false, fmt.Errorf("multisig: duplicate partial signature from %s", partial.ValidatorID)
		}
	}

	if partial.Timestamp.IsZero() {
		partial.Timestamp = time.Now().UTC()
	}
	ms.Partials = append(ms.Partials, partial)

	complete = len(ms.Partials) >= c.cfg.Threshold
	if complete && ms.CompletedAt == nil {
		now := time.Now().UTC()
		ms.CompletedAt = &now
	}
	return complete, nil
}

// GetCompleted returns the MultiSignature for root if it has reached
// threshold, else (nil, false).
func (c *Coordinator) GetCompleted(root []byte) (*types.MultiSignature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.pending[hex.EncodeToString(root)]
	if !ok || ms.CompletedAt == nil {
		return nil, false
	}
	cp := *ms
	return &cp, true
}

// SignatureCount reports how many partials have been collected for root.
func (c *Coordinator) SignatureCount(root []byte) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.pending[hex.EncodeToString(root)]
	if !ok {
		return 0
	}
	return len(ms.Partials)
}

// RemoveCompleted evicts a completed entry once it has been anchored.
func (c *Coordinator) RemoveCompleted(root []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, hex.EncodeToString(root))
}

// Verify requires at least Threshold partials and that every one verifies
// under its claimed validator's registered pubkey over the canonical
// anchor signing message. Fails on any verification failure or unknown
// validator.
func (c *Coordinator) Verify(ms *types.MultiSignature) error {
	if len(ms.Partials) < c.cfg.Threshold {
		return fmt.Errorf("multisig: only %d of %d required partials present", len(ms.Partials), c.cfg.Threshold)
	}

	msg := types.AnchorSigningMessage(ms.AnchorRoot, ms.SubchainID, ms.BlockHeight)
	valid := 0
	for _, p := range ms.Partials {
		pub, known := c.cfg.ValidatorPubKeys[p.ValidatorID]
		if !known {
			return fmt.Errorf("multisig: unknown validator %s", p.ValidatorID)
		}
		if !crypto.Verify(pub, msg, p.Signature) {
			return fmt.Errorf("multisig: invalid signature from validator %s", p.ValidatorID)
		}
		valid++
	}
	if valid < c.cfg.Threshold {
		return fmt.Errorf("multisig: only %d valid signatures, need %d", valid, c.cfg.Threshold)
	}
	return nil
}
