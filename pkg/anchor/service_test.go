// Copyright 2025 Certen Protocol

package anchor

import (
	"context"
	"testing"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/multisig"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

func TestSubmitPartialSignatureReachesThresholdAndPosts(t *testing.T) {
	signers := make(map[string]*crypto.Signer)
	pubkeys := make(map[string][]byte)
	for _, id := range []string{"v1", "v2", "v3"} {
		s, err := crypto.GenerateSigner()
		if err != nil {
			t.Fatal(err)
		}
		signers[id] = s
		pubkeys[id] = s.PublicKey()
	}
	cfg, _, err := multisig.NewConfig(2, 3, pubkeys)
	if err != nil {
		t.Fatalf("multisig config: %v", err)
	}
	coord := multisig.New(cfg)

	s := store.NewMemoryStore()
	signer, _ := crypto.GenerateSigner()
	svc := NewService(Config{Coordinator: coord, Store: s, Signer: signer})

	root := make([]byte, 32)
	subchain := uuid.New()
	height := uint64(7)
	msg := types.AnchorSigningMessage(root, subchain, height)

	res, err := svc.SubmitPartialSignature(context.Background(), subchain, height,
		root, types.PartialSignature{ValidatorID: "v1", Signature: signers["v1"].Sign(msg)})
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if res.Complete {
		t.Fatal("expected incomplete after 1 of 2")
	}

	res, err = svc.SubmitPartialSignature(context.Background(), subchain, height,
		root, types.PartialSignature{ValidatorID: "v2", Signature: signers["v2"].Sign(msg)})
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if !res.Complete {
		t.Fatal("expected complete after 2 of 2")
	}
	if res.TxID == "" {
		t.Fatal("expected a non-empty txid once anchored")
	}

	if _, ok := coord.GetCompleted(root); ok {
		t.Fatal("expected completed entry to be cleared after posting")
	}
}

func TestStoreAttestationRejectsBadSignature(t *testing.T) {
	s := store.NewMemoryStore()
	signer, _ := crypto.GenerateSigner()
	svc := NewService(Config{Store: s, Signer: signer})

	att, err := svc.CreateAttestation(uuid.New(), 1, make([]byte, 32), 4, 100, nil)
	if err != nil {
		t.Fatalf("create attestation: %v", err)
	}
	if err := svc.StoreAttestation(context.Background(), att); err != nil {
		t.Fatalf("expected valid attestation to store: %v", err)
	}

	att.Signature[0] ^= 0xFF
	if err := svc.StoreAttestation(context.Background(), att); err == nil {
		t.Fatal("expected tampered attestation to be rejected")
	}
}
