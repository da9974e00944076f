// Copyright 2025 Certen Protocol

package crypto

import "crypto/sha256"

// Hash256 returns the SHA-256 digest of data.
func Hash256(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}
