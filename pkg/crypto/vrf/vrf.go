// Copyright 2025 Certen Protocol
//
// ECVRF-ED25519 leader-election randomness, built on the ecosystem's
// curve25519-voi ECVRF implementation (RFC 9381 ECVRF-EDWARDS25519-SHA512-TAI)
// rather than a hand-rolled Curve25519 VRF. Same input under the same key
// always yields the same output value — deterministic per key, as required
// by spec §4.1.

package vrf

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/oasisprotocol/curve25519-voi/primitives/ecvrf"
)

var ErrVerificationFailed = errors.New("vrf: proof verification failed")

// Output is the result of a VRF evaluation: Value is the pseudorandom
// output hash, Proof is the publicly verifiable witness that Value was
// produced honestly from the given key and input.
type Output struct {
	Value []byte
	Proof []byte
}

// PrivateKey wraps an ECVRF signing key.
type PrivateKey struct {
	inner *ecvrf.PrivateKey
}

// PublicKey wraps an ECVRF verification key.
type PublicKey struct {
	inner *ecvrf.PublicKey
}

// GenerateKey produces a fresh VRF keypair.
func GenerateKey() (*PublicKey, *PrivateKey, error) {
	pub, priv, err := ecvrf.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("vrf: generate key: %w", err)
	}
	return &PublicKey{inner: pub}, &PrivateKey{inner: priv}, nil
}

// NewPrivateKeyFromSeed derives a VRF key deterministically from a 32-byte
// seed, so a validator's VRF identity can be derived from its Ed25519 seed.
func NewPrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	priv, err := ecvrf.NewKeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("vrf: key from seed: %w", err)
	}
	return &PrivateKey{inner: priv}, nil
}

// Public returns the corresponding public key.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{inner: k.inner.Public()}
}

// Prove evaluates the VRF on input, returning the deterministic output
// value and its proof: prove(sk, input) -> (value, pi).
func (k *PrivateKey) Prove(input []byte) (*Output, error) {
	proof, err := k.inner.Prove(input)
	if err != nil {
		return nil, fmt.Errorf("vrf: prove: %w", err)
	}
	value, err := k.inner.ProofToHash(proof)
	if err != nil {
		return nil, fmt.Errorf("vrf: proof to hash: %w", err)
	}
	return &Output{Value: value, Proof: proof}, nil
}

// Verify recomputes the proof against the claimed value under pub and
// input, failing closed on any mismatch or malformed proof.
func Verify(pub *PublicKey, input []byte, out *Output) (bool, error) {
	if pub == nil || out == nil {
		return false, ErrVerificationFailed
	}
	ok, value, err := pub.inner.Verify(input, out.Proof)
	if err != nil || !ok {
		return false, nil
	}
	if len(value) != len(out.Value) {
		return false, nil
	}
	for i := range value {
		if value[i] != out.Value[i] {
			return false, nil
		}
	}
	return true, nil
}
