// Copyright 2025 Certen Protocol
//
// Consensus Engine (spec §4.4): leader-based three-phase finality
// (Propose / Vote / QC) with VRF leader election and exponential-backoff
// view change. This is a from-scratch state machine, not a delegation to
// CometBFT — spec §4.4 names its own propose/vote/QC flow rather than
// consuming an off-the-shelf BFT engine. Adapted in shape (on_message /
// on_timeout driven state machine, as spec §9 directs) from the
// reference's bft module (leader_rotation.rs, state.rs, messages.rs) and
// tests/consensus.rs's three-node propose/vote/QC walkthrough.

package consensus

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/crypto/vrf"
	"github.com/certen/independant-validator/pkg/mempool"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/validator"
	"github.com/google/uuid"
)

// Broadcaster delivers outbound consensus messages to peers. A production
// deployment backs this with the network transport; tests can use an
// in-process fake.
type Broadcaster interface {
	BroadcastProposal(ctx context.Context, p *Proposal)
	BroadcastVote(ctx context.Context, v *types.Vote)
	BroadcastQC(ctx context.Context, qc *types.QuorumCertificate)
	BroadcastViewChange(ctx context.Context, vc *types.ViewChange)
}

// Proposal is a leader's broadcasted block for a view.
type Proposal struct {
	Block *types.Block
}

// FinalizeHandler is invoked once a block receives a QC (and therefore
// finalizes); the engine does not itself run the Finalization Pipeline.
type FinalizeHandler func(ctx context.Context, block *types.Block, qc *types.QuorumCertificate)

// EquivocationHandler is invoked whenever RecordSignature detects a
// validator signing two conflicting things at the same view; the engine
// does not itself slash — that is the Slashing Manager's job.
type EquivocationHandler func(ctx context.Context, validatorID string, eq *Equivocation)

// pendingVotes accumulates votes for one (block, view) pair until quorum.
type pendingVotes struct {
	votes map[string]types.Vote // validator id -> vote
}

// Engine drives the propose/vote/QC state machine for a single validator
// replica.
type Engine struct {
	mu sync.Mutex

	selfID    string
	signer    *crypto.Signer
	vrfKey    *vrf.PrivateKey
	registry  *validator.Registry
	mempool   *mempool.Mempool
	broadcast Broadcaster
	onFinal   FinalizeHandler
	onEquiv   EquivocationHandler
	equiv     *EquivocationCache
	pacemaker *Pacemaker

	view         uint64
	highestQC    *types.QuorumCertificate
	lastFinal    *uuid.UUID
	pendingByKey map[string]*pendingVotes // "blockID:view" -> votes
	knownBlocks  map[uuid.UUID]*types.Block
	viewChanges  map[uint64]map[string]types.ViewChange // view -> voter -> vc, keyed by from_view+1 (target view)
}

// Config bundles an Engine's collaborators.
type Config struct {
	SelfID         string
	Signer         *crypto.Signer
	VRFKey         *vrf.PrivateKey
	Registry       *validator.Registry
	Mempool        *mempool.Mempool
	Broadcaster    Broadcaster
	OnFinalize     FinalizeHandler
	OnEquivocation EquivocationHandler
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		selfID:       cfg.SelfID,
		signer:       cfg.Signer,
		vrfKey:       cfg.VRFKey,
		registry:     cfg.Registry,
		mempool:      cfg.Mempool,
		broadcast:    cfg.Broadcaster,
		onFinal:      cfg.OnFinalize,
		onEquiv:      cfg.OnEquivocation,
		equiv:        NewEquivocationCache(),
		pacemaker:    NewPacemaker(),
		pendingByKey: make(map[string]*pendingVotes),
		knownBlocks:  make(map[uuid.UUID]*types.Block),
		viewChanges:  make(map[uint64]map[string]types.ViewChange),
	}
}

func votesKey(blockID uuid.UUID, view uint64) string {
	return fmt.Sprintf("%s:%d", blockID, view)
}

// CurrentView returns the replica's current view number.
func (e *Engine) CurrentView() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// electLeader implements spec §4.4's leader-election rule: VRF-weighted
// by stake when a VRF output has been collected for every active
// validator, falling back to deterministic round-robin over sorted ids
// otherwise (VRF material unavailable, e.g. at genesis before any view
// has produced outputs to gossip).
func electLeader(activeIDs []string, view uint64, vrfOutputs map[string]*vrf.Output, stakes map[string]uint64) string {
	ordered := append([]string(nil), activeIDs...)
	sort.Strings(ordered)
	if len(ordered) == 0 {
		return ""
	}

	if len(vrfOutputs) == len(ordered) {
		var best string
		var bestVal *big.Int
		for _, id := range ordered {
			out, ok := vrfOutputs[id]
			if !ok {
				continue
			}
			weighted := vrf.StakeWeightedValue(out, stakes[id])
			if bestVal == nil || weighted.Cmp(bestVal) < 0 {
				best = id
				bestVal = weighted
			}
		}
		if best != "" {
			return best
		}
	}
	return ordered[view%uint64(len(ordered))]
}

// StartView begins view v: if the local replica is leader (per
// electLeader, using any VRF outputs collected for this view), proposes
// a block; otherwise it is a no-op, and the replica waits for a
// Proposal.
func (e *Engine) StartView(ctx context.Context, view uint64, activeIDs []string, stakes map[string]uint64, vrfOutputs map[string]*vrf.Output) (*Proposal, error) {
	e.mu.Lock()
	e.view = view
	selfIsLeader := electLeader(activeIDs, view, vrfOutputs, stakes) == e.selfID
	e.mu.Unlock()

	if !selfIsLeader {
		return nil, nil
	}
	return e.propose(ctx, view)
}

// ProveVRF evaluates this replica's VRF for view, for gossiping to peers
// ahead of leader election.
func (e *Engine) ProveVRF(view uint64) (*vrf.Output, error) {
	if e.vrfKey == nil {
		return nil, fmt.Errorf("consensus: no VRF key configured")
	}
	return e.vrfKey.Prove(vrf.ViewInput(view))
}

func (e *Engine) propose(ctx context.Context, view uint64) (*Proposal, error) {
	txs, err := e.mempool.PopForBlock(ctx, 256)
	if err != nil {
		return nil, fmt.Errorf("consensus: select block transactions: %w", err)
	}
	ids := make([]uuid.UUID, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}

	e.mu.Lock()
	parent := e.parentForNewBlock()
	e.mu.Unlock()

	block := types.NewBlock(e.selfID, view, parent, ids)
	block.ProposerSignature = e.signer.Sign(blockSigningMessage(block))

	e.mu.Lock()
	e.knownBlocks[block.ID] = block
	e.mu.Unlock()

	prop := &Proposal{Block: block}
	if e.broadcast != nil {
		e.broadcast.BroadcastProposal(ctx, prop)
	}

	// The leader counts toward its own quorum (spec §4.4's unanimity rule
	// for N<4 requires every validator, proposer included, to vote).
	selfVote := &types.Vote{
		BlockID:   block.ID,
		View:      view,
		Voter:     e.selfID,
		Signature: e.signer.Sign(types.VoteSigningMessage(block.ID, view)),
	}
	if e.broadcast != nil {
		e.broadcast.BroadcastVote(ctx, selfVote)
	}
	return prop, nil
}

func (e *Engine) parentForNewBlock() *uuid.UUID {
	if e.highestQC != nil {
		id := e.highestQC.BlockID
		return &id
	}
	return nil
}

// blockSigningMessage is deliberately simple: proposer || view ||
// parent(16 bytes, zero if none) || sorted tx ids, matching the style of
// the canonical signing messages in pkg/types (field-ordered, no framing
// ambiguity).
func blockSigningMessage(b *types.Block) []byte {
	var buf bytes.Buffer
	buf.WriteString(b.Proposer)
	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(b.View >> (8 * i))
	}
	buf.Write(v[:])
	if b.Parent != nil {
		buf.Write(b.Parent[:])
	} else {
		buf.Write(make([]byte, 16))
	}
	for _, id := range b.TxIDs {
		buf.Write(id[:])
	}
	return buf.Bytes()
}

// HandleProposal validates and votes for a received proposal, per spec
// §4.4's safety checks: parent resolvable, view equals expected, proposer
// matches the elected leader for that view.
func (e *Engine) HandleProposal(ctx context.Context, p *Proposal, expectedLeader string) (*types.Vote, error) {
	b := p.Block
	if b.View != e.CurrentView() {
		return nil, fmt.Errorf("consensus: proposal view %d does not match current view %d", b.View, e.CurrentView())
	}
	if b.Proposer != expectedLeader {
		return nil, fmt.Errorf("consensus: proposal from %s, expected leader %s", b.Proposer, expectedLeader)
	}
	proposerValidator, ok := e.registry.Get(b.Proposer)
	if !ok || !crypto.Verify(proposerValidator.PubKey, blockSigningMessage(b), b.ProposerSignature) {
		return nil, fmt.Errorf("consensus: invalid proposer signature from %s", b.Proposer)
	}

	e.mu.Lock()
	if b.Parent != nil {
		if _, known := e.knownBlocks[*b.Parent]; !known {
			e.mu.Unlock()
			return nil, fmt.Errorf("consensus: proposal parent %s is not a known block", *b.Parent)
		}
	}
	e.knownBlocks[b.ID] = b
	e.mu.Unlock()

	if eq := e.equiv.RecordSignature(e.selfID, b.View, b.ID.String()); eq != nil {
		if e.onEquiv != nil {
			e.onEquiv(ctx, e.selfID, eq)
		}
		return nil, eq
	}

	msg := types.VoteSigningMessage(b.ID, b.View)
	vote := &types.Vote{
		BlockID:   b.ID,
		View:      b.View,
		Voter:     e.selfID,
		Signature: e.signer.Sign(msg),
	}
	if e.broadcast != nil {
		e.broadcast.BroadcastVote(ctx, vote)
	}
	return vote, nil
}

// HandleVote accumulates a vote and, once quorum_size(N) distinct voters
// are present, forms and broadcasts a QC — finalizing the block.
func (e *Engine) HandleVote(ctx context.Context, v *types.Vote, totalValidators int) (*types.QuorumCertificate, error) {
	voterValidator, ok := e.registry.Get(v.Voter)
	if !ok || !crypto.Verify(voterValidator.PubKey, types.VoteSigningMessage(v.BlockID, v.View), v.Signature) {
		return nil, fmt.Errorf("consensus: invalid vote signature from %s", v.Voter)
	}

	if eq := e.equiv.RecordSignature(v.Voter, v.View, v.BlockID.String()); eq != nil {
		if e.onEquiv != nil {
			e.onEquiv(ctx, v.Voter, eq)
		}
		return nil, eq
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := votesKey(v.BlockID, v.View)
	pv, ok := e.pendingByKey[key]
	if !ok {
		pv = &pendingVotes{votes: make(map[string]types.Vote)}
		e.pendingByKey[key] = pv
	}
	pv.votes[v.Voter] = *v

	need := types.QuorumSize(totalValidators)
	if len(pv.votes) < need {
		return nil, nil
	}

	signerSet := make(map[string]struct{}, len(pv.votes))
	sigs := make(map[string][]byte, len(pv.votes))
	for id, vote := range pv.votes {
		signerSet[id] = struct{}{}
		sigs[id] = vote.Signature
	}
	qc := &types.QuorumCertificate{
		BlockID:    v.BlockID,
		View:       v.View,
		Signers:    types.SortedSignerSet(signerSet),
		Signatures: sigs,
	}
	e.highestQC = qc
	delete(e.pendingByKey, key)

	if e.broadcast != nil {
		e.broadcast.BroadcastQC(ctx, qc)
	}
	if block, known := e.knownBlocks[v.BlockID]; known && e.onFinal != nil {
		e.lastFinal = &v.BlockID
		e.pacemaker.OnFinalize()
		metrics.BlocksFinalized.Inc()
		e.onFinal(ctx, block, qc)
	}
	return qc, nil
}

// TriggerViewChange is called by the caller's timer loop when
// view_timeout(v) elapses without a QC; it advances the pacemaker and
// returns the ViewChange message to broadcast.
func (e *Engine) TriggerViewChange(ctx context.Context) *types.ViewChange {
	e.mu.Lock()
	fromView := e.view
	var qcBlock *uuid.UUID
	var qcView *uint64
	if e.highestQC != nil {
		b := e.highestQC.BlockID
		v := e.highestQC.View
		qcBlock, qcView = &b, &v
	}
	e.mu.Unlock()

	e.pacemaker.OnViewChange()
	metrics.ViewChanges.Inc()
	metrics.QuorumUnreachable.Inc()
	vc := &types.ViewChange{
		From:           e.selfID,
		FromView:       fromView,
		HighestQCBlock: qcBlock,
		HighestQCView:  qcView,
	}
	vc.Signature = e.signer.Sign(types.ViewChangeSigningMessage(fromView, qcView, qcBlock))
	if e.broadcast != nil {
		e.broadcast.BroadcastViewChange(ctx, vc)
	}
	return vc
}

// HandleViewChange records a ViewChange toward the quorum needed at
// targetView = vc.FromView+1, and reports whether that quorum is now
// met along with the highest-QC view-change to extend from (spec §4.4's
// view-change tie-break: highest QC view wins, ties broken by signer-set
// lexicographic order).
func (e *Engine) HandleViewChange(vc *types.ViewChange, totalValidators int) (bool, *types.ViewChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := vc.FromView + 1
	set, ok := e.viewChanges[target]
	if !ok {
		set = make(map[string]types.ViewChange)
		e.viewChanges[target] = set
	}
	set[vc.From] = *vc

	need := types.QuorumSize(totalValidators)
	if len(set) < need {
		return false, nil
	}

	var best *types.ViewChange
	var bestSigners []string
	for id := range set {
		v := set[id]
		if best == nil {
			cp := v
			best = &cp
			bestSigners = []string{id}
			continue
		}
		switch {
		case v.HighestQCView != nil && (best.HighestQCView == nil || *v.HighestQCView > *best.HighestQCView):
			cp := v
			best = &cp
			bestSigners = []string{id}
		case v.HighestQCView != nil && best.HighestQCView != nil && *v.HighestQCView == *best.HighestQCView:
			bestSigners = append(bestSigners, id)
			sort.Strings(bestSigners)
			cp := set[bestSigners[0]]
			best = &cp
		}
	}
	delete(e.viewChanges, target)
	return true, best
}

// HighestQC returns the highest QC this replica has observed.
func (e *Engine) HighestQC() *types.QuorumCertificate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highestQC
}
