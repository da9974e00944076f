// Copyright 2025 Certen Protocol

package types

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ValidatorStatus is the lifecycle state of a registered validator.
type ValidatorStatus string

const (
	ValidatorPending   ValidatorStatus = "pending"
	ValidatorActive    ValidatorStatus = "active"
	ValidatorUnbonding ValidatorStatus = "unbonding"
	ValidatorSlashed   ValidatorStatus = "slashed"
	ValidatorExited    ValidatorStatus = "exited"
)

// MinValidatorStake is the minimum stake (in base units) required at
// registration time.
const MinValidatorStake uint64 = 1_000_000_000_000

// UnbondingPeriod is the mandatory waiting window between an exit request
// and stake release.
const UnbondingPeriod = 14 * 24 * time.Hour

// Validator is a registered consensus participant.
type Validator struct {
	ID                  string          `json:"id"`
	PubKey              []byte          `json:"pubkey"`
	Stake               uint64          `json:"stake"`
	Status              ValidatorStatus `json:"status"`
	ProposedCount       uint64          `json:"proposed_count"`
	SignedCount         uint64          `json:"signed_count"`
	MissedCount         uint64          `json:"missed_count"`
	Reputation          float64         `json:"reputation"`
	RegisteredAt        time.Time       `json:"registered_at"`
	ActivatedAt         *time.Time      `json:"activated_at,omitempty"`
	ExitRequestedAt     *time.Time      `json:"exit_requested_at,omitempty"`
	UnbondingCompleteAt *time.Time      `json:"unbonding_complete_at,omitempty"`
}

// VotingPower is the validator's stake iff it is Active, else zero: only
// Active validators contribute to quorum arithmetic.
func (v *Validator) VotingPower() uint64 {
	if v.Status == ValidatorActive {
		return v.Stake
	}
	return 0
}

// Block is a consensus-proposed ordering of mempool transactions.
type Block struct {
	ID                  uuid.UUID   `json:"id"`
	Proposer            string      `json:"proposer"`
	View                uint64      `json:"view"`
	Parent              *uuid.UUID  `json:"parent,omitempty"`
	TxIDs               []uuid.UUID `json:"tx_ids"`
	Timestamp           time.Time   `json:"timestamp"`
	ProposerSignature   []byte      `json:"proposer_signature"`
	ValidatorSignatures [][]byte    `json:"validator_signatures,omitempty"`
}

// NewBlock builds a Block for the given view, ready for the leader to sign.
func NewBlock(proposer string, view uint64, parent *uuid.UUID, txIDs []uuid.UUID) *Block {
	return &Block{
		ID:        uuid.New(),
		Proposer:  proposer,
		View:      view,
		Parent:    parent,
		TxIDs:     txIDs,
		Timestamp: time.Now().UTC(),
	}
}

// Vote is one validator's endorsement of a proposed block at a view.
type Vote struct {
	BlockID   uuid.UUID `json:"block_id"`
	View      uint64    `json:"view"`
	Voter     string    `json:"voter"`
	Signature []byte    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// ViewChange carries a validator's evidence for abandoning from_view,
// including the highest QC it has observed so the new leader can recover
// the correct chain tip.
type ViewChange struct {
	From           string     `json:"from"`
	FromView       uint64     `json:"from_view"`
	HighestQCBlock *uuid.UUID `json:"highest_qc_block,omitempty"`
	HighestQCView  *uint64    `json:"highest_qc_view,omitempty"`
	Signature      []byte     `json:"signature"`
}

// ViewChangeSigningMessage: from_view_le_u64 || highest_qc_view_le_u64 (0
// if absent) || highest_qc_block (16 bytes, zero if absent).
func ViewChangeSigningMessage(fromView uint64, highestQCView *uint64, highestQCBlock *uuid.UUID) []byte {
	b := make([]byte, 0, 8+8+16)
	var fv [8]byte
	for i := 0; i < 8; i++ {
		fv[i] = byte(fromView >> (8 * i))
	}
	b = append(b, fv[:]...)
	var qv uint64
	if highestQCView != nil {
		qv = *highestQCView
	}
	var qvb [8]byte
	for i := 0; i < 8; i++ {
		qvb[i] = byte(qv >> (8 * i))
	}
	b = append(b, qvb[:]...)
	if highestQCBlock != nil {
		b = append(b, highestQCBlock[:]...)
	} else {
		b = append(b, make([]byte, 16)...)
	}
	return b
}

// QuorumCertificate attests that a quorum of validators voted for a block
// at a given view.
type QuorumCertificate struct {
	BlockID    uuid.UUID         `json:"block_id"`
	View       uint64            `json:"view"`
	Signers    []string          `json:"signers"`
	Signatures map[string][]byte `json:"signatures"`
}

// SigningMessage for a vote/QC is (block_id, view); both Vote and QC
// signatures are computed over this same pair.
func VoteSigningMessage(blockID uuid.UUID, view uint64) []byte {
	b := make([]byte, 0, 16+8)
	b = append(b, blockID[:]...)
	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(view >> (8 * i))
	}
	return append(b, v[:]...)
}

// QuorumSize implements spec §3/§8: N for N<4 (unanimity), else 2*f+1
// where f = floor((N-1)/3).
func QuorumSize(n int) int {
	if n < 4 {
		if n < 1 {
			return 1
		}
		return n
	}
	f := (n - 1) / 3
	return 2*f + 1
}

// SortedSignerSet returns signers in deterministic (lexicographic) order,
// used for forming a QC's signer list.
func SortedSignerSet(signers map[string]struct{}) []string {
	out := make([]string, 0, len(signers))
	for s := range signers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
