// Copyright 2025 Certen Protocol

package types

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// MicroAnchorLeaf is a single microchain-produced record consumed by a
// subchain aggregator.
type MicroAnchorLeaf struct {
	MicrochainID uuid.UUID `json:"microchain_id"`
	Height       uint64    `json:"height"`
	MicroRoot    []byte    `json:"micro_root"`
	Timestamp    time.Time `json:"timestamp"`
	Signature    []byte    `json:"signature"`
}

// SigningMessage: microchain_uuid_16 || height_be_u64 || micro_root || timestamp_be_i64.
func (l *MicroAnchorLeaf) SigningMessage() []byte {
	var buf bytes.Buffer
	buf.Write(l.MicrochainID[:])
	writeBEU64(&buf, l.Height)
	buf.Write(l.MicroRoot)
	writeBEI64(&buf, l.Timestamp.Unix())
	return buf.Bytes()
}

// BatchRecord is the persisted result of aggregating a batch of leaves.
type BatchRecord struct {
	BatchRoot           []byte    `json:"batch_root"`
	AggregatorID        string    `json:"aggregator_id"`
	LeafCount           int       `json:"leaf_count"`
	CreatedAt           time.Time `json:"created_at"`
	SerializedLeavesRef string    `json:"serialized_leaves_ref"`
	Verified            bool      `json:"verified"`
}

// AggregatorAttestation is an aggregator-signed statement about a batch.
type AggregatorAttestation struct {
	SubchainID      uuid.UUID `json:"subchain_id"`
	BlockHeight     uint64    `json:"block_height"`
	MerkleRoot      []byte    `json:"merkle_root"`
	TxCount         uint64    `json:"tx_count"`
	BatchSizeBytes  uint64    `json:"batch_size_bytes"`
	AggregatorPub   []byte    `json:"aggregator_pubkey"`
	Signature       []byte    `json:"signature"`
	CreatedAt       time.Time `json:"created_at"`
	TxListHash      []byte    `json:"tx_list_hash,omitempty"`
}

// SigningMessage: subchain_uuid_16 || height_le_i64 || merkle_root ||
// tx_count_le_u64 || size_le_u64 || ts_le_i64 || tx_list_hash?
func (a *AggregatorAttestation) SigningMessage() []byte {
	var buf bytes.Buffer
	buf.Write(a.SubchainID[:])
	writeLEI64(&buf, int64(a.BlockHeight))
	buf.Write(a.MerkleRoot)
	writeLEU64(&buf, a.TxCount)
	writeLEU64(&buf, a.BatchSizeBytes)
	writeLEI64(&buf, a.CreatedAt.Unix())
	if len(a.TxListHash) > 0 {
		buf.Write(a.TxListHash)
	}
	return buf.Bytes()
}

// PartialSignature is one validator's contribution toward a MultiSignature.
type PartialSignature struct {
	ValidatorID string    `json:"validator_id"`
	Signature   []byte    `json:"signature"`
	Timestamp   time.Time `json:"timestamp"`
}

// MultiSignature collects partial signatures over an anchor root toward an
// M-of-N threshold.
type MultiSignature struct {
	AnchorRoot   []byte             `json:"anchor_root"`
	SubchainID   uuid.UUID          `json:"subchain_id"`
	BlockHeight  uint64             `json:"block_height"`
	Partials     []PartialSignature `json:"partials"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// AnchorSigningMessage: anchor_root || subchain_uuid_16 || height_le_i64.
func AnchorSigningMessage(root []byte, subchain uuid.UUID, height uint64) []byte {
	var buf bytes.Buffer
	buf.Write(root)
	buf.Write(subchain[:])
	writeLEI64(&buf, int64(height))
	return buf.Bytes()
}

// SlashingReason enumerates why a validator is being penalized.
type SlashingReason string

const (
	ReasonInvalidSignature   SlashingReason = "invalid_signature"
	ReasonEquivocation       SlashingReason = "equivocation"
	ReasonFraudulentData     SlashingReason = "fraudulent_data"
	ReasonInactivity         SlashingReason = "inactivity"
	ReasonProtocolViolation  SlashingReason = "protocol_violation"
)

// SlashingSeverity is the penalty tier applied to stake.
type SlashingSeverity string

const (
	SeverityMinor    SlashingSeverity = "minor"
	SeverityModerate SlashingSeverity = "moderate"
	SeverityMajor    SlashingSeverity = "major"
	SeverityCritical SlashingSeverity = "critical"
)

// PenaltyPercent returns the fractional stake penalty (0-1) for a severity.
func (s SlashingSeverity) PenaltyPercent() float64 {
	switch s {
	case SeverityMinor:
		return 0.05
	case SeverityModerate:
		return 0.20
	case SeverityMajor:
		return 0.50
	case SeverityCritical:
		return 1.00
	default:
		return 0
	}
}

// SlashingEvent is a persisted record of a stake penalty application.
type SlashingEvent struct {
	ValidatorID   string           `json:"validator_id"`
	Reason        SlashingReason   `json:"reason"`
	Severity      SlashingSeverity `json:"severity"`
	StakeBefore   uint64           `json:"stake_before"`
	SlashedAmount uint64           `json:"slashed_amount"`
	StakeAfter    uint64           `json:"stake_after"`
	Timestamp     time.Time        `json:"timestamp"`
	Evidence      string           `json:"evidence"`
}
