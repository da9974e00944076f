// Copyright 2025 Certen Protocol
//
// Ed25519 signing and verification helpers shared by every component that
// authenticates messages: transactions, votes, attestations, anchors.

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKeySize  = errors.New("crypto: invalid public key size")
	ErrInvalidPrivateKeySize = errors.New("crypto: invalid private key size")
	ErrInvalidSignatureSize  = errors.New("crypto: invalid signature size")
)

// Signer wraps an Ed25519 keypair for a single identity (validator,
// aggregator, wallet).
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a Signer from a raw 64-byte private key.
func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidPrivateKeySize, ed25519.PrivateKeySize, len(priv))
	}
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// GenerateSigner creates a fresh random keypair.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKey returns the raw 32-byte public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Sign computes the Ed25519 signature over msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Verify fails closed on any length mismatch or decode error: it never
// panics and always returns a plain boolean.
func Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
