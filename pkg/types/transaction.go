// Copyright 2025 Certen Protocol
//
// Core ledger types and their canonical signing-message encodings.
// The byte layouts here are a stable wire contract: any change breaks
// signature verification against previously-issued signatures.

package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SystemSender is the reserved sender address for system-originating
// transactions (block rewards, rent collection, slashing credits).
const SystemSender = "system"

// MaxFee is the hard spam-cap ceiling on a transaction's fee field.
const MaxFee uint64 = 1_000_000_000_000

// MaxFutureSkew bounds how far into the future a transaction timestamp
// may be and still be accepted.
const MaxFutureSkew = 10 * time.Minute

var (
	ErrEmptySender    = errors.New("transaction: sender is empty")
	ErrEmptyRecipient = errors.New("transaction: recipient is empty")
	ErrEmptyPubkey    = errors.New("transaction: pubkey is empty")
	ErrEmptySignature = errors.New("transaction: signature is empty")
	ErrSelfTransfer   = errors.New("transaction: sender equals recipient")
	ErrZeroAmount     = errors.New("transaction: amount must be positive")
	ErrAmountOverflow = errors.New("transaction: amount+fee overflows u64")
	ErrFeeTooHigh     = errors.New("transaction: fee exceeds maximum")
	ErrFutureTimestamp = errors.New("transaction: timestamp too far in the future")
)

// Transaction is a signed transfer of value between two opaque addresses.
// It doubles as a DAG node: Parents references earlier transactions this
// one causally depends on.
type Transaction struct {
	ID        uuid.UUID   `json:"id"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient"`
	Amount    uint64      `json:"amount"`
	Fee       uint64      `json:"fee"`
	Nonce     uint64      `json:"nonce"`
	ChainID   string      `json:"chain_id"`
	Timestamp time.Time   `json:"timestamp"`
	Parents   []uuid.UUID `json:"parents,omitempty"`
	Payload   string      `json:"payload,omitempty"`
	PublicKey []byte      `json:"public_key"`
	Signature []byte      `json:"signature"`
}

// NewTransaction builds a Transaction with a fresh id, ready to be signed.
func NewTransaction(sender, recipient string, amount, fee, nonce uint64, chainID string) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		ChainID:   chainID,
		Timestamp: time.Now().UTC(),
	}
}

// SigningMessage returns the canonical byte layout a Transaction's
// Signature is computed over. The Signature field itself is excluded;
// the ID is included. Layout (see spec §6):
//
//	chain_id_utf8 || nonce_le_u64 || uuid_bytes_16 || sender_utf8 ||
//	recipient_utf8 || amount_le_u64 || fee_le_u64 || ts_le_i64 ||
//	concat(parent_uuid_bytes_16) || payload_utf8?
func (t *Transaction) SigningMessage() []byte {
	var buf bytes.Buffer
	buf.WriteString(t.ChainID)
	writeLEU64(&buf, t.Nonce)
	idBytes := t.ID
	buf.Write(idBytes[:])
	buf.WriteString(t.Sender)
	buf.WriteString(t.Recipient)
	writeLEU64(&buf, t.Amount)
	writeLEU64(&buf, t.Fee)
	writeLEI64(&buf, t.Timestamp.Unix())
	for _, p := range t.Parents {
		buf.Write(p[:])
	}
	if t.Payload != "" {
		buf.WriteString(t.Payload)
	}
	return buf.Bytes()
}

// IsSystem reports whether this transaction originates from the protocol
// itself (block rewards, rent credits) rather than from a signed wallet.
func (t *Transaction) IsSystem() bool {
	return t.Sender == SystemSender
}

// StructuralCheck runs the cheap, stateless checks from §4.9 steps 1-4 that
// require no external lookups (balance/nonce/chain-id/signature/dup/parent
// checks need collaborators and are performed by the mempool).
func (t *Transaction) StructuralCheck() error {
	if t.Sender == "" {
		return ErrEmptySender
	}
	if t.Recipient == "" {
		return ErrEmptyRecipient
	}
	if len(t.PublicKey) == 0 {
		return ErrEmptyPubkey
	}
	if len(t.Signature) == 0 {
		return ErrEmptySignature
	}
	if t.Sender == t.Recipient {
		return ErrSelfTransfer
	}
	if t.Amount == 0 {
		return ErrZeroAmount
	}
	sum := t.Amount + t.Fee
	if sum < t.Amount {
		return ErrAmountOverflow
	}
	if t.Fee > MaxFee {
		return ErrFeeTooHigh
	}
	if t.Timestamp.After(time.Now().Add(MaxFutureSkew)) {
		return ErrFutureTimestamp
	}
	return nil
}

func writeLEU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeLEI64(buf *bytes.Buffer, v int64) {
	writeLEU64(buf, uint64(v))
}

func writeBEU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBEI64(buf *bytes.Buffer, v int64) {
	writeBEU64(buf, uint64(v))
}
