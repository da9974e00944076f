// Copyright 2025 Certen Protocol

package slashing

import (
	"context"
	"testing"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/validator"
)

func newTestValidator(t *testing.T, ctx context.Context, reg *validator.Registry, id string, stake uint64) {
	t.Helper()
	s, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, id, s.PublicKey(), stake); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestSlashAppliesSeverityPercentage(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	newTestValidator(t, ctx, reg, "v1", 1_000_000_000_000)

	mgr := New(reg, s)
	event, err := mgr.Slash(ctx, "v1", types.ReasonEquivocation, types.SeverityModerate, "double-voted in view 42")
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if event.SlashedAmount != 200_000_000_000 {
		t.Fatalf("expected 20%% penalty, got %d", event.SlashedAmount)
	}
	if event.StakeAfter != 800_000_000_000 {
		t.Fatalf("unexpected stake after: %d", event.StakeAfter)
	}

	v, _ := reg.Get("v1")
	if v.Stake != 800_000_000_000 {
		t.Fatalf("registry stake not updated: %d", v.Stake)
	}
}

func TestSlashCriticalZeroesStake(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	newTestValidator(t, ctx, reg, "v1", 1_000_000_000_000)

	mgr := New(reg, s)
	event, err := mgr.Slash(ctx, "v1", types.ReasonFraudulentData, types.SeverityCritical, "forged batch root")
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if event.StakeAfter != 0 {
		t.Fatalf("expected full slash to zero stake, got %d", event.StakeAfter)
	}
}

func TestHistoryAndRecentEvents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	newTestValidator(t, ctx, reg, "v1", 1_000_000_000_000)
	newTestValidator(t, ctx, reg, "v2", 1_000_000_000_000)

	mgr := New(reg, s)
	if _, err := mgr.Slash(ctx, "v1", types.ReasonInactivity, types.SeverityMinor, "missed 200 rounds"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Slash(ctx, "v2", types.ReasonInvalidSignature, types.SeverityMajor, "bad vote sig"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Slash(ctx, "v1", types.ReasonProtocolViolation, types.SeverityModerate, "proposed invalid block"); err != nil {
		t.Fatal(err)
	}

	hist, err := mgr.History(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history entries for v1, got %d", len(hist))
	}

	recent, err := mgr.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent events, got %d", len(recent))
	}
	if recent[0].ValidatorID != "v1" || recent[0].Reason != types.ReasonProtocolViolation {
		t.Fatalf("expected most recent event first, got %+v", recent[0])
	}
}

func TestSlashFailsOnUnknownValidator(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	reg := validator.NewRegistry(s)
	mgr := New(reg, s)
	if _, err := mgr.Slash(ctx, "ghost", types.ReasonInactivity, types.SeverityMinor, "n/a"); err == nil {
		t.Fatal("expected error for unknown validator")
	}
}
