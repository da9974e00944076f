// Copyright 2025 Certen Protocol

package finalize

import "testing"

func TestBlockRewardHalvingSchedule(t *testing.T) {
	cfg := DefaultEmissionConfig()

	if got := BlockReward(0, cfg); got != 50_000_000 {
		t.Fatalf("block 0 reward = %d, want 50_000_000", got)
	}
	if got := BlockReward(6_307_200, cfg); got != 25_000_000 {
		t.Fatalf("first halving reward = %d, want 25_000_000", got)
	}
	if got := BlockReward(12_614_400, cfg); got != 12_500_000 {
		t.Fatalf("second halving reward = %d, want 12_500_000", got)
	}
	// Third halving (50M >> 3 = 6.25M) falls below the 10M tail, so tail applies.
	if got := BlockReward(18_921_600, cfg); got != 10_000_000 {
		t.Fatalf("third halving reward = %d, want tail 10_000_000", got)
	}
}

func TestBlockRewardTailEmissionIsPerpetual(t *testing.T) {
	cfg := DefaultEmissionConfig()
	tailHeight := uint64(18_921_600)

	for _, h := range []uint64{tailHeight, tailHeight + 1_000_000, tailHeight + 10_000_000} {
		if got := BlockReward(h, cfg); got != cfg.TailReward {
			t.Fatalf("height %d reward = %d, want tail %d", h, got, cfg.TailReward)
		}
	}
	if !IsTailEmission(tailHeight, cfg) {
		t.Fatal("expected tail emission flag to be set")
	}
}

func TestSmoothDecayMonotonicallyDecreases(t *testing.T) {
	cfg := EmissionConfig{
		InitialReward: 50_000_000_000,
		HalvingBlocks: 0,
		TailReward:    600_000_000,
		SupplyCap:     0,
	}
	r0 := BlockReward(0, cfg)
	r100k := BlockReward(100_000, cfg)
	r1m := BlockReward(1_000_000, cfg)

	if !(r0 > r100k && r100k > r1m) {
		t.Fatalf("expected strictly decreasing rewards, got %d, %d, %d", r0, r100k, r1m)
	}
	if r1m < cfg.TailReward {
		t.Fatalf("reward should never fall below tail: %d < %d", r1m, cfg.TailReward)
	}
}
