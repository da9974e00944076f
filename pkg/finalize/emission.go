// Copyright 2025 Certen Protocol
//
// Tail-emission block reward schedule, ported from the reference's
// tail_emission.rs. Halving-based by default: reward halves every
// HalvingBlocks blocks and never drops below TailReward once 64 halvings
// have elapsed or the halved value would fall under it.

package finalize

import "math"

// EmissionConfig parameterizes the block reward schedule.
type EmissionConfig struct {
	InitialReward uint64
	HalvingBlocks uint64
	TailReward    uint64
	SupplyCap     uint64
}

// DefaultEmissionConfig mirrors the reference's production constants.
func DefaultEmissionConfig() EmissionConfig {
	return EmissionConfig{
		InitialReward: 50_000_000,
		HalvingBlocks: 6_307_200,
		TailReward:    10_000_000,
		SupplyCap:     103_000_000 * 100_000_000,
	}
}

// BlockReward returns the reward due at height under cfg.
func BlockReward(height uint64, cfg EmissionConfig) uint64 {
	if cfg.HalvingBlocks == 0 {
		return smoothDecayReward(height, cfg)
	}

	halvings := height / cfg.HalvingBlocks
	if halvings >= 64 {
		return cfg.TailReward
	}

	reward := cfg.InitialReward >> halvings
	if reward < cfg.TailReward {
		return cfg.TailReward
	}
	return reward
}

func smoothDecayReward(height uint64, cfg EmissionConfig) uint64 {
	const decay = 0.999998
	reward := float64(cfg.InitialReward) * math.Pow(decay, float64(height))
	rewardU64 := uint64(reward)
	if rewardU64 < cfg.TailReward {
		return cfg.TailReward
	}
	return rewardU64
}

// TotalSupplyAtHeight sums the rewards of blocks 0 through height-1,
// capped at cfg.SupplyCap if set.
func TotalSupplyAtHeight(height uint64, cfg EmissionConfig) uint64 {
	if height == 0 {
		return 0
	}

	var total uint64
	if cfg.HalvingBlocks > 0 {
		currentHeight := uint64(0)
		currentReward := cfg.InitialReward
		for currentHeight < height {
			nextHalving := (currentHeight/cfg.HalvingBlocks + 1) * cfg.HalvingBlocks
			blocksInPeriod := nextHalving - currentHeight
			if nextHalving >= height {
				blocksInPeriod = height - currentHeight
			}
			total += blocksInPeriod * currentReward
			currentHeight += blocksInPeriod
			currentReward /= 2
			if currentReward < cfg.TailReward {
				currentReward = cfg.TailReward
			}
		}
	} else {
		for h := uint64(0); h < height; h++ {
			total += BlockReward(h, cfg)
		}
	}

	if cfg.SupplyCap > 0 && total > cfg.SupplyCap {
		return cfg.SupplyCap
	}
	return total
}

// IsTailEmission reports whether height has reached the perpetual minimum
// reward.
func IsTailEmission(height uint64, cfg EmissionConfig) bool {
	return BlockReward(height, cfg) == cfg.TailReward
}
