// Copyright 2025 Certen Protocol
//
// Stake-weighted VRF leader selection, adapted from the reference
// implementation's proposer_for_view_vrf / elect_leader_vrf_verified.

package vrf

import (
	"encoding/binary"
	"math/big"
)

// StakeWeightedValue reduces a VRF output to a big.Int divided by the
// holder's stake, so that higher-stake validators are more likely to
// produce the lowest weighted value (and thus win leadership) without
// giving them a deterministic monopoly.
func StakeWeightedValue(out *Output, stake uint64) *big.Int {
	raw := new(big.Int).SetBytes(out.Value)
	if stake == 0 {
		stake = 1
	}
	return raw.Div(raw, new(big.Int).SetUint64(stake))
}

// ViewInput builds the canonical VRF input for a leader-election round:
// "view_" || view_le_u64.
func ViewInput(view uint64) []byte {
	b := make([]byte, 5+8)
	copy(b, "view_")
	binary.LittleEndian.PutUint64(b[5:], view)
	return b
}
