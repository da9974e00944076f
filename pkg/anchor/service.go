// Copyright 2025 Certen Protocol
//
// Anchor Service (spec §4.8): bridges the Multi-Sig Coordinator to mainchain
// anchor posting. Style (injected Config + DefaultConfig, *log.Logger field)
// follows pkg/attestation/service.go's Config/NewService pattern.

package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/multisig"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

const anchorRecordPrefix = "anchor_record:"

// MainchainPoster posts a completed anchor to the mainchain and returns its
// transaction id. In this codebase the mainchain is the first-party
// consensus engine itself (not an external chain), so the default
// implementation below persists the anchor record directly to the Store
// and mints a local txid; deployments that also mirror anchors externally
// can supply their own MainchainPoster.
type MainchainPoster interface {
	PostAnchor(ctx context.Context, subchain uuid.UUID, height uint64, root []byte, ms *types.MultiSignature) (txid string, err error)
}

// StorePoster is the default MainchainPoster: it writes the anchor record
// into the Store and returns a deterministic local txid derived from the
// anchor root.
type StorePoster struct {
	Store store.Store
}

func (p *StorePoster) PostAnchor(ctx context.Context, subchain uuid.UUID, height uint64, root []byte, ms *types.MultiSignature) (string, error) {
	record := struct {
		Subchain uuid.UUID             `json:"subchain"`
		Height   uint64                `json:"height"`
		Root     []byte                `json:"root"`
		Multisig *types.MultiSignature `json:"multisig"`
	}{Subchain: subchain, Height: height, Root: root, Multisig: ms}

	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("anchor: encode record: %w", err)
	}
	txid := fmt.Sprintf("%x", crypto.Hash256(append(append([]byte(nil), root...), []byte(subchain.String())...)))
	key := fmt.Sprintf("%s%s", anchorRecordPrefix, txid)
	if err := p.Store.Put(ctx, []byte(key), raw); err != nil {
		return "", fmt.Errorf("anchor: persist record: %w", err)
	}
	return txid, nil
}

// Config bundles the Anchor Service's collaborators.
type Config struct {
	Coordinator *multisig.Coordinator
	Poster      MainchainPoster
	Store       store.Store
	Signer      *crypto.Signer
	Logger      *log.Logger
}

// DefaultConfig mirrors pkg/attestation/service.go's DefaultConfig shape.
func DefaultConfig() Config {
	return Config{
		Logger: log.New(os.Stderr, "[anchor] ", log.LstdFlags),
	}
}

// Service implements the submit/create/store-attestation operations of
// spec §4.8.
type Service struct {
	cfg Config
}

// NewService builds a Service from cfg, filling sensible defaults.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[anchor] ", log.LstdFlags)
	}
	if cfg.Poster == nil && cfg.Store != nil {
		cfg.Poster = &StorePoster{Store: cfg.Store}
	}
	return &Service{cfg: cfg}
}

// SubmitResult reports the outcome of SubmitPartialSignature.
type SubmitResult struct {
	Complete bool
	TxID     string
	Count    int
}

// SubmitPartialSignature delegates to the Multi-Sig Coordinator; once
// threshold is reached it fetches, verifies, and posts the completed
// MultiSignature, clearing the pending entry.
func (s *Service) SubmitPartialSignature(ctx context.Context, subchain uuid.UUID, height uint64, root []byte, partial types.PartialSignature) (*SubmitResult, error) {
	complete, err := s.cfg.Coordinator.SubmitPartial(root, subchain, height, partial)
	if err != nil {
		return nil, err
	}
	if !complete {
		return &SubmitResult{Complete: false, Count: s.cfg.Coordinator.SignatureCount(root)}, nil
	}

	ms, ok := s.cfg.Coordinator.GetCompleted(root)
	if !ok {
		return nil, fmt.Errorf("anchor: multisig marked complete but not retrievable for root %x", root)
	}
	if err := s.cfg.Coordinator.Verify(ms); err != nil {
		return nil, fmt.Errorf("anchor: multisig failed verification: %w", err)
	}

	txid, err := s.cfg.Poster.PostAnchor(ctx, subchain, height, root, ms)
	if err != nil {
		return nil, fmt.Errorf("anchor: post anchor: %w", err)
	}
	s.cfg.Coordinator.RemoveCompleted(root)
	metrics.AnchorsPosted.Inc()
	s.cfg.Logger.Printf("anchor posted: subchain=%s height=%d root=%x txid=%s", subchain, height, root, txid)

	return &SubmitResult{Complete: true, TxID: txid, Count: len(ms.Partials)}, nil
}

// CreateAttestation fills and signs an AggregatorAttestation using the
// service's own key (used when the Anchor Service itself also plays an
// aggregator role).
func (s *Service) CreateAttestation(subchain uuid.UUID, height uint64, root []byte, txCount, sizeBytes uint64, txListHash []byte) (*types.AggregatorAttestation, error) {
	att := &types.AggregatorAttestation{
		SubchainID:     subchain,
		BlockHeight:    height,
		MerkleRoot:     root,
		TxCount:        txCount,
		BatchSizeBytes: sizeBytes,
		AggregatorPub:  s.cfg.Signer.PublicKey(),
		CreatedAt:      time.Now().UTC(),
		TxListHash:     txListHash,
	}
	att.Signature = s.cfg.Signer.Sign(att.SigningMessage())
	return att, nil
}

const attestationKeyPrefix = "attestation:"

// StoreAttestation verifies signature first; only then persists.
func (s *Service) StoreAttestation(ctx context.Context, att *types.AggregatorAttestation) error {
	if !crypto.Verify(att.AggregatorPub, att.SigningMessage(), att.Signature) {
		return fmt.Errorf("anchor: attestation signature does not verify")
	}
	raw, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("anchor: encode attestation: %w", err)
	}
	key := fmt.Sprintf("%s%s:%d", attestationKeyPrefix, att.SubchainID, att.BlockHeight)
	return s.cfg.Store.Put(ctx, []byte(key), raw)
}
