// Copyright 2025 Certen Protocol
//
// System-originating transactions (sender == "system") are not signed by a
// wallet key; they carry an HMAC computed by the node itself over the
// transaction hash, keyed by a configured secret seed.

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const systemTxTag = "system_hmac:"

// SignSystemTx produces the canonical system-transaction signature string:
// "system_hmac:" || hex(HMAC_SHA256(seed, tx_hash_utf8)).
func SignSystemTx(seed []byte, txHash string) string {
	mac := hmac.New(sha256.New, seed)
	mac.Write([]byte(txHash))
	return systemTxTag + hex.EncodeToString(mac.Sum(nil))
}

// VerifySystemTx checks a system-transaction signature in constant time.
func VerifySystemTx(seed []byte, txHash string, signature string) bool {
	expected := SignSystemTx(seed, txHash)
	if len(expected) != len(signature) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
