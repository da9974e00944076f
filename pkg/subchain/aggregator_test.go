// Copyright 2025 Certen Protocol

package subchain

import (
	"context"
	"testing"
	"time"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

func TestBuildAndSubmitBatchRoundTrip(t *testing.T) {
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	s := store.NewMemoryStore()
	agg := New("agg-1", signer, s, nil)

	leaves := make([]types.MicroAnchorLeaf, 4)
	micro := uuid.New()
	for i := range leaves {
		leaves[i] = types.MicroAnchorLeaf{
			MicrochainID: micro,
			Height:       uint64(i),
			MicroRoot:    crypto.Hash256([]byte{byte(i)}),
			Timestamp:    time.Now().UTC(),
		}
	}

	batch, att, err := agg.BuildAndSubmitBatch(context.Background(), micro, 10, leaves, nil)
	if err != nil {
		t.Fatalf("build batch: %v", err)
	}
	if batch.LeafCount != 4 {
		t.Fatalf("expected 4 leaves, got %d", batch.LeafCount)
	}
	if !crypto.Verify(att.AggregatorPub, att.SigningMessage(), att.Signature) {
		t.Fatal("attestation signature should verify")
	}

	proof, err := MerkleProof(leaves, 2)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	ok, err := VerifyAgainstAttestation(att, proof)
	if err != nil {
		t.Fatalf("verify against attestation: %v", err)
	}
	if !ok {
		t.Fatal("expected proof to verify against attestation")
	}
}
