// Copyright 2025 Certen Protocol
//
// Subchain Aggregator (spec §4.7): collects microchain leaves, builds a
// domain-separated Merkle tree, and produces a signed AggregatorAttestation
// plus the BatchRecord persisted for later proof serving. Adapted from the
// reference's subchain/aggregator.rs and the teacher's batch/collector.go
// batching shape.

package subchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/merkle"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

const batchKeyPrefix = "subchain_batch:"

// LeafBlobStore persists the serialized leaf list for a batch and returns
// an opaque reference (a URL in production deployments; the Store key
// itself is sufficient for the default Store-backed implementation).
type LeafBlobStore interface {
	PutLeaves(ctx context.Context, batchRoot []byte, leaves []types.MicroAnchorLeaf) (ref string, err error)
}

// StoreLeafBlobs is the default LeafBlobStore: it serializes the leaf list
// as JSON and writes it into the same Store the rest of the node uses,
// keyed by batch root.
type StoreLeafBlobs struct {
	Store store.Store
}

func (s *StoreLeafBlobs) PutLeaves(ctx context.Context, batchRoot []byte, leaves []types.MicroAnchorLeaf) (string, error) {
	raw, err := json.Marshal(leaves)
	if err != nil {
		return "", fmt.Errorf("subchain: encode leaves: %w", err)
	}
	ref := fmt.Sprintf("leaves:%x", batchRoot)
	if err := s.Store.Put(ctx, []byte(ref), raw); err != nil {
		return "", fmt.Errorf("subchain: persist leaves: %w", err)
	}
	return ref, nil
}

// Aggregator builds batches from canonically ordered microchain leaves.
type Aggregator struct {
	id      string
	signer  *crypto.Signer
	store   store.Store
	blobs   LeafBlobStore
}

// New builds an Aggregator identified by id, signing attestations with
// signer and persisting batch state through s.
func New(id string, signer *crypto.Signer, s store.Store, blobs LeafBlobStore) *Aggregator {
	if blobs == nil {
		blobs = &StoreLeafBlobs{Store: s}
	}
	return &Aggregator{id: id, signer: signer, store: s, blobs: blobs}
}

// BuildAndSubmitBatch hashes each leaf with domain separation, computes the
// batch's Merkle root, persists the leaf list, records a BatchRecord, and
// produces a signed AggregatorAttestation.
func (a *Aggregator) BuildAndSubmitBatch(ctx context.Context, subchainID uuid.UUID, blockHeight uint64, leaves []types.MicroAnchorLeaf, txListHash []byte) (*types.BatchRecord, *types.AggregatorAttestation, error) {
	if len(leaves) == 0 {
		return nil, nil, fmt.Errorf("subchain: cannot build batch from zero leaves")
	}

	hashes := make([][]byte, len(leaves))
	sizeBytes := 0
	for i, l := range leaves {
		raw, err := json.Marshal(l)
		if err != nil {
			return nil, nil, fmt.Errorf("subchain: encode leaf %d: %w", i, err)
		}
		sizeBytes += len(raw)
		hashes[i] = merkle.HashLeaf(raw)
	}

	tree, err := merkle.BuildTree(hashes)
	if err != nil {
		return nil, nil, fmt.Errorf("subchain: build merkle tree: %w", err)
	}
	root := tree.Root()

	ref, err := a.blobs.PutLeaves(ctx, root, leaves)
	if err != nil {
		return nil, nil, err
	}

	batch := &types.BatchRecord{
		BatchRoot:           root,
		AggregatorID:        a.id,
		LeafCount:           len(leaves),
		CreatedAt:           time.Now().UTC(),
		SerializedLeavesRef: ref,
		Verified:            false,
	}
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, nil, fmt.Errorf("subchain: encode batch record: %w", err)
	}
	key := fmt.Sprintf("%s%x", batchKeyPrefix, root)
	if err := a.store.Put(ctx, []byte(key), raw); err != nil {
		return nil, nil, fmt.Errorf("subchain: persist batch record: %w", err)
	}

	att := &types.AggregatorAttestation{
		SubchainID:     subchainID,
		BlockHeight:    blockHeight,
		MerkleRoot:     root,
		TxCount:        uint64(len(leaves)),
		BatchSizeBytes: uint64(sizeBytes),
		AggregatorPub:  a.signer.PublicKey(),
		CreatedAt:      time.Now().UTC(),
		TxListHash:     txListHash,
	}
	att.Signature = a.signer.Sign(att.SigningMessage())

	return batch, att, nil
}

// MerkleProof returns a third-party-verifiable inclusion proof for the
// leaf at index within the given leaf list.
func MerkleProof(leaves []types.MicroAnchorLeaf, index int) (*merkle.InclusionProof, error) {
	hashes := make([][]byte, len(leaves))
	for i, l := range leaves {
		raw, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("subchain: encode leaf %d: %w", i, err)
		}
		hashes[i] = merkle.HashLeaf(raw)
	}
	tree, err := merkle.BuildTree(hashes)
	if err != nil {
		return nil, err
	}
	return tree.GenerateProof(index)
}

// VerifyAgainstAttestation checks that a proof is valid and that its root
// matches the attestation's merkle root, and that the attestation itself
// verifies under the aggregator's claimed pubkey.
func VerifyAgainstAttestation(att *types.AggregatorAttestation, proof *merkle.InclusionProof) (bool, error) {
	if !crypto.Verify(att.AggregatorPub, att.SigningMessage(), att.Signature) {
		return false, nil
	}
	leafHash, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, fmt.Errorf("subchain: decode leaf hash: %w", err)
	}
	ok, err := merkle.VerifyProof(leafHash, proof, att.MerkleRoot)
	if err != nil {
		return false, err
	}
	return ok, nil
}
