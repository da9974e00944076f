// Copyright 2025 Certen Protocol

package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/certen/independant-validator/pkg/store"
)

func TestRecordHeartbeatCreatesAndAccruesUptime(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := New(s)

	if err := tr.RecordHeartbeat(ctx, "node-1", "wallet-1", RoleHeavy); err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	h, err := tr.NodeStats(ctx, "node-1")
	if err != nil {
		t.Fatal(err)
	}
	if h.TotalUptimeSecs != 0 {
		t.Fatalf("expected zero uptime on first heartbeat, got %d", h.TotalUptimeSecs)
	}

	if err := tr.RecordHeartbeat(ctx, "node-1", "wallet-1", RoleHeavy); err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	h, _ = tr.NodeStats(ctx, "node-1")
	if h.TotalUptimeSecs > 5 {
		t.Fatalf("expected small uptime delta for back-to-back heartbeats, got %d", h.TotalUptimeSecs)
	}
}

func TestClaimRewardsFailsBeforeMinUptime(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := New(s)

	if err := tr.RecordHeartbeat(ctx, "node-1", "wallet-1", RoleHeavy); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ClaimRewards(ctx, "node-1"); err == nil {
		t.Fatal("expected claim to fail before minimum uptime has elapsed")
	}
}

func TestClaimRewardsScalesByRole(t *testing.T) {
	now := time.Now().UTC()
	heavy := &Heartbeat{Role: RoleHeavy, LastRewardClaim: now.Add(-24 * time.Hour)}
	light := &Heartbeat{Role: RoleLight, LastRewardClaim: now.Add(-24 * time.Hour)}

	heavyReward := PendingRewards(heavy, 1.0)
	lightReward := PendingRewards(light, 1.0)

	if heavyReward != RewardPerDay {
		t.Fatalf("expected heavy role to earn full daily rate, got %d", heavyReward)
	}
	if lightReward != RewardPerDay/10 {
		t.Fatalf("expected light role to earn 10%% of daily rate, got %d", lightReward)
	}
}

func TestClaimRewardsCapsAtThirtyDays(t *testing.T) {
	h := &Heartbeat{Role: RoleHeavy, LastRewardClaim: time.Now().UTC().Add(-365 * 24 * time.Hour)}
	reward := PendingRewards(h, 1.0)
	if reward != 30*RewardPerDay {
		t.Fatalf("expected claim to cap at 30 days, got %d", reward)
	}
}

func TestActiveNodesExcludesStaleHeartbeats(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	tr := New(s)

	if err := tr.RecordHeartbeat(ctx, "fresh", "wallet-1", RoleHeavy); err != nil {
		t.Fatal(err)
	}

	stale := &Heartbeat{
		NodeID:          "stale",
		WalletAddress:   "wallet-2",
		Role:            RoleHeavy,
		LastHeartbeat:   time.Now().UTC().Add(-10 * time.Minute),
		FirstSeen:       time.Now().UTC().Add(-1 * time.Hour),
		LastRewardClaim: time.Now().UTC().Add(-1 * time.Hour),
	}
	if err := tr.save(ctx, stale); err != nil {
		t.Fatal(err)
	}

	active, err := tr.ActiveNodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].NodeID != "fresh" {
		t.Fatalf("expected only the fresh node active, got %+v", active)
	}
}
