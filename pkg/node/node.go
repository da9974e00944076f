// Copyright 2025 Certen Protocol
//
// Node wires every component of a validator replica together. Per Design
// Note 9, every collaborator is constructor-injected here rather than
// reached through a package-global singleton (the reference's
// GLOBAL_MEMPOOL and CLAIM_LOCKS patterns are deliberately not carried
// over). Style (Config + nil-field fallbacks, *log.Logger)
// follows pkg/server's handler constructors.

package node

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/certen/independant-validator/pkg/anchor"
	"github.com/certen/independant-validator/pkg/consensus"
	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/crypto/vrf"
	"github.com/certen/independant-validator/pkg/finalize"
	"github.com/certen/independant-validator/pkg/mempool"
	"github.com/certen/independant-validator/pkg/metrics/mirror"
	"github.com/certen/independant-validator/pkg/multisig"
	"github.com/certen/independant-validator/pkg/rewards"
	"github.com/certen/independant-validator/pkg/slashing"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/subchain"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/validator"
)

// Config bundles everything needed to assemble a Node: identity material,
// the durable store, and the chain parameters each subsystem needs.
type Config struct {
	SelfID   string
	Signer   *crypto.Signer
	VRFKey   *vrf.PrivateKey
	ChainID  string
	Store    store.Store
	Logger   *log.Logger

	MultisigThreshold int
	MultisigTotal     int
	ValidatorPubKeys  map[string][]byte

	Emission finalize.EmissionConfig

	Broadcaster consensus.Broadcaster

	// WalletAddress and Role are this node's own heartbeat identity, used
	// by Heartbeat below. Role defaults to RoleHeavy when unset.
	WalletAddress string
	Role          rewards.Role

	// Mirror is an optional best-effort Firestore heartbeat sink (see
	// pkg/metrics/mirror). Nil disables mirroring entirely.
	Mirror *mirror.Mirror
}

// Node owns one instance of every subsystem component and is the single
// place that knows how they are wired to each other.
type Node struct {
	cfg Config

	Registry   *validator.Registry
	Mempool    *mempool.Mempool
	Engine     *consensus.Engine
	Multisig   *multisig.Coordinator
	Subchains  *subchain.Registry
	Aggregator *subchain.Aggregator
	Anchors    *anchor.Service
	Slashing   *slashing.Manager
	Finalize   *finalize.Pipeline
	Rewards    *rewards.Tracker
	Mirror     *mirror.Mirror

	logger *log.Logger
}

// New assembles a Node from cfg. Components are built bottom-up: Registry
// and Mempool first (no dependencies), then Multisig/Subchains (depend on
// validator pubkeys), then Engine/Anchors/Slashing/Finalize (depend on the
// above), mirroring spec §9's component dependency order.
func New(cfg Config) (*Node, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("node: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[node] ", log.LstdFlags)
	}

	registry := validator.NewRegistry(cfg.Store)

	mp := mempool.New(cfg.Store, mempool.Config{ChainID: cfg.ChainID})

	var coordinator *multisig.Coordinator
	if cfg.MultisigTotal > 0 {
		msCfg, belowSubBFT, err := multisig.NewConfig(cfg.MultisigThreshold, cfg.MultisigTotal, cfg.ValidatorPubKeys)
		if err != nil {
			return nil, fmt.Errorf("node: multisig config: %w", err)
		}
		if belowSubBFT {
			cfg.Logger.Printf("warning: multisig threshold %d is below the sub-BFT floor for %d validators", cfg.MultisigThreshold, cfg.MultisigTotal)
		}
		coordinator = multisig.New(msCfg)
	}

	subchains := subchain.NewRegistry()
	aggregator := subchain.New(cfg.SelfID, cfg.Signer, cfg.Store, nil)

	emission := cfg.Emission
	if emission == (finalize.EmissionConfig{}) {
		emission = finalize.DefaultEmissionConfig()
	}
	pipeline := finalize.New(cfg.Store, emission, mp)

	slashMgr := slashing.New(registry, cfg.Store)
	rewardsTracker := rewards.New(cfg.Store)

	var anchorSvc *anchor.Service
	if coordinator != nil {
		anchorSvc = anchor.NewService(anchor.Config{
			Coordinator: coordinator,
			Store:       cfg.Store,
			Signer:      cfg.Signer,
			Logger:      cfg.Logger,
		})
	}

	n := &Node{
		cfg:        cfg,
		Registry:   registry,
		Mempool:    mp,
		Multisig:   coordinator,
		Subchains:  subchains,
		Aggregator: aggregator,
		Anchors:    anchorSvc,
		Slashing:   slashMgr,
		Finalize:   pipeline,
		Rewards:    rewardsTracker,
		Mirror:     cfg.Mirror,
		logger:     cfg.Logger,
	}

	n.Engine = consensus.NewEngine(consensus.Config{
		SelfID:         cfg.SelfID,
		Signer:         cfg.Signer,
		VRFKey:         cfg.VRFKey,
		Registry:       registry,
		Mempool:        mp,
		Broadcaster:    cfg.Broadcaster,
		OnFinalize:     n.onFinalize,
		OnEquivocation: n.onEquivocation,
	})

	return n, nil
}

// onFinalize is the Consensus Engine's FinalizeHandler: it runs the
// Finalization Pipeline (per-tx receipt + mempool drain + tail-emission
// reward) for the block that just received a QC.
func (n *Node) onFinalize(ctx context.Context, b *types.Block, qc *types.QuorumCertificate) {
	if n.Finalize == nil {
		return
	}
	if _, err := n.Finalize.Finalize(ctx, b.View, b.ID[:], b.Proposer, b.TxIDs); err != nil {
		n.logger.Printf("finalize: height %d: %v", b.View, err)
	}
}

// onEquivocation is the Consensus Engine's EquivocationHandler: it turns
// detected double-signing into a slashing event, per spec §4.4/§4.10
// ("on a conflicting observation it persists evidence and invokes
// slash(...Equivocation, Major)").
func (n *Node) onEquivocation(ctx context.Context, validatorID string, eq *consensus.Equivocation) {
	if n.Slashing == nil {
		return
	}
	if _, err := n.Slashing.Slash(ctx, validatorID, types.ReasonEquivocation, types.SeverityMajor, eq.Error()); err != nil {
		n.logger.Printf("slashing: equivocation by %s: %v", validatorID, err)
	}
}

// Heartbeat records this node's own liveness in the Rewards Tracker and, if
// a Mirror is configured, best-effort-mirrors it to Firestore. Intended to
// be called on a fixed interval by the entrypoint (see cmd/validatornode).
// A mirror failure is logged, never returned: the hosted dashboard is not
// allowed to affect the validator's liveness accounting.
func (n *Node) Heartbeat(ctx context.Context) error {
	role := n.cfg.Role
	if role == "" {
		role = rewards.RoleHeavy
	}
	if err := n.Rewards.RecordHeartbeat(ctx, n.cfg.SelfID, n.cfg.WalletAddress, role); err != nil {
		return fmt.Errorf("node: record heartbeat: %w", err)
	}

	if n.Mirror == nil {
		return nil
	}
	h, err := n.Rewards.NodeStats(ctx, n.cfg.SelfID)
	if err != nil {
		n.logger.Printf("heartbeat mirror: load stats: %v", err)
		return nil
	}
	if err := n.Mirror.MirrorHeartbeat(ctx, h); err != nil {
		n.logger.Printf("heartbeat mirror: %v", err)
	}
	return nil
}

// LoadFromStore hydrates the Registry's in-memory state from prior runs.
func (n *Node) LoadFromStore(ctx context.Context) error {
	return n.Registry.LoadFromStore(ctx)
}
