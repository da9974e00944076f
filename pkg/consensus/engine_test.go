// Copyright 2025 Certen Protocol

package consensus

import (
	"context"
	"sync"
	"testing"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/mempool"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/validator"
	"github.com/google/uuid"
)

// fakeBroadcaster records broadcasts and fans proposals/votes straight out
// to registered peer engines, mirroring tests/consensus.rs's in-process
// three-node walkthrough without a real network transport.
type fakeBroadcaster struct {
	mu       sync.Mutex
	peers    map[string]*Engine
	total    int
	proposals []*Proposal
	votes     []*types.Vote
	qcs       []*types.QuorumCertificate
}

func newFakeBroadcaster(total int) *fakeBroadcaster {
	return &fakeBroadcaster{peers: make(map[string]*Engine), total: total}
}

func (f *fakeBroadcaster) register(id string, e *Engine) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[id] = e
}

func (f *fakeBroadcaster) BroadcastProposal(ctx context.Context, p *Proposal) {
	f.mu.Lock()
	f.proposals = append(f.proposals, p)
	peers := make([]*Engine, 0, len(f.peers))
	for id, e := range f.peers {
		if id != p.Block.Proposer {
			peers = append(peers, e)
		}
	}
	f.mu.Unlock()

	for _, e := range peers {
		vote, err := e.HandleProposal(ctx, p, p.Block.Proposer)
		if err != nil {
			continue
		}
		e.broadcast.BroadcastVote(ctx, vote)
	}
}

func (f *fakeBroadcaster) BroadcastVote(ctx context.Context, v *types.Vote) {
	f.mu.Lock()
	f.votes = append(f.votes, v)
	peers := make([]*Engine, 0, len(f.peers))
	for _, e := range f.peers {
		peers = append(peers, e)
	}
	total := f.total
	f.mu.Unlock()

	for _, e := range peers {
		_, _ = e.HandleVote(ctx, v, total)
	}
}

func (f *fakeBroadcaster) BroadcastQC(ctx context.Context, qc *types.QuorumCertificate) {
	f.mu.Lock()
	f.qcs = append(f.qcs, qc)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) BroadcastViewChange(ctx context.Context, vc *types.ViewChange) {}

type fixture struct {
	ids      []string
	engines  map[string]*Engine
	finals   map[string]int
	registry *validator.Registry
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	ctx := context.Background()

	fx := &fixture{ids: make([]string, n), engines: make(map[string]*Engine), finals: make(map[string]int), registry: reg}
	bc := newFakeBroadcaster(n)

	for i := 0; i < n; i++ {
		signer, err := crypto.GenerateSigner()
		if err != nil {
			t.Fatal(err)
		}
		id := string(rune('A' + i))
		fx.ids[i] = id

		if _, err := reg.Register(ctx, id, signer.PublicKey(), types.MinValidatorStake); err != nil {
			t.Fatal(err)
		}
		if err := reg.Activate(ctx, id); err != nil {
			t.Fatal(err)
		}

		mp := mempool.New(s, mempool.Config{ChainID: "test"})
		id2 := id
		eng := NewEngine(Config{
			SelfID:      id,
			Signer:      signer,
			Registry:    reg,
			Mempool:     mp,
			Broadcaster: bc,
			OnFinalize: func(ctx context.Context, b *types.Block, qc *types.QuorumCertificate) {
				fx.finals[id2]++
			},
		})
		fx.engines[id] = eng
		bc.register(id, eng)
	}
	return fx
}

func TestThreeNodeProposeVoteQCFinalizes(t *testing.T) {
	fx := newFixture(t, 3)
	ctx := context.Background()

	leader := electLeader(fx.ids, 0, nil, nil)
	eng := fx.engines[leader]

	for _, e := range fx.engines {
		e.view = 0
	}

	prop, err := eng.StartView(ctx, 0, fx.ids, nil, nil)
	if err != nil {
		t.Fatalf("StartView: %v", err)
	}
	if prop == nil {
		t.Fatalf("expected %s (elected leader) to propose", leader)
	}

	for id, n := range fx.finals {
		if n != 1 {
			t.Errorf("expected engine %s to finalize exactly once, got %d", id, n)
		}
	}
	if len(fx.finals) != len(fx.ids) {
		t.Fatalf("expected all %d replicas to finalize, got %d", len(fx.ids), len(fx.finals))
	}
}

// TestHandleVoteEquivocationInvokesHandler covers spec §4.4/§4.10: a
// validator signing two conflicting votes at the same view must drive the
// configured EquivocationHandler (which Node wires to the Slashing
// Manager), not just fail closed silently.
func TestHandleVoteEquivocationInvokesHandler(t *testing.T) {
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	ctx := context.Background()

	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, "A", signer.PublicKey(), types.MinValidatorStake); err != nil {
		t.Fatal(err)
	}
	if err := reg.Activate(ctx, "A"); err != nil {
		t.Fatal(err)
	}

	var caught *Equivocation
	var caughtValidator string
	e := NewEngine(Config{
		SelfID:   "self",
		Registry: reg,
		OnEquivocation: func(ctx context.Context, validatorID string, eq *Equivocation) {
			caughtValidator = validatorID
			caught = eq
		},
	})

	blockA, blockB := uuid.New(), uuid.New()
	voteA := &types.Vote{BlockID: blockA, View: 1, Voter: "A"}
	voteA.Signature = signer.Sign(types.VoteSigningMessage(blockA, 1))
	if _, err := e.HandleVote(ctx, voteA, 4); err != nil {
		t.Fatalf("first vote should be accepted: %v", err)
	}

	voteB := &types.Vote{BlockID: blockB, View: 1, Voter: "A"}
	voteB.Signature = signer.Sign(types.VoteSigningMessage(blockB, 1))
	if _, err := e.HandleVote(ctx, voteB, 4); err == nil {
		t.Fatal("expected conflicting vote at the same view to be rejected")
	}

	if caught == nil {
		t.Fatal("expected EquivocationHandler to be invoked")
	}
	if caughtValidator != "A" {
		t.Fatalf("unexpected validator passed to handler: %s", caughtValidator)
	}
}

func TestElectLeaderFallsBackToRoundRobinWithoutVRF(t *testing.T) {
	ids := []string{"C", "A", "B"}
	got := electLeader(ids, 0, nil, nil)
	if got != "A" {
		t.Fatalf("expected round-robin leader A at view 0 from sorted ids, got %s", got)
	}
	got = electLeader(ids, 1, nil, nil)
	if got != "B" {
		t.Fatalf("expected round-robin leader B at view 1, got %s", got)
	}
}

func TestHandleViewChangeReportsQuorumAndPicksHighestQC(t *testing.T) {
	e := NewEngine(Config{SelfID: "A"})
	total := 4

	hiView := uint64(5)
	loView := uint64(3)

	vcs := []types.ViewChange{
		{From: "A", FromView: 0, HighestQCView: &loView},
		{From: "B", FromView: 0, HighestQCView: &hiView},
		{From: "C", FromView: 0},
	}

	var done bool
	var winner *types.ViewChange
	for _, vc := range vcs {
		done, winner = e.HandleViewChange(&vc, total)
	}
	if !done {
		t.Fatalf("expected quorum of 3 to be reached for N=%d", total)
	}
	if winner == nil || winner.From != "B" {
		t.Fatalf("expected B's view-change (highest QC view) to win, got %+v", winner)
	}
}
