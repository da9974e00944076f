// Copyright 2025 Certen Protocol

package mempool

import (
	"context"
	"testing"

	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
)

const testChainID = "ouroboros-mainnet-1"

type fixedBalances struct {
	balance uint64
	nonce   uint64
}

func (f fixedBalances) BalanceAndNonce(ctx context.Context, addr string) (uint64, uint64, error) {
	return f.balance, f.nonce, nil
}

func signedTx(t *testing.T, signer *crypto.Signer, sender, recipient string, amount, fee, nonce uint64) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction(sender, recipient, amount, fee, nonce, testChainID)
	tx.PublicKey = signer.PublicKey()
	tx.Signature = signer.Sign(tx.SigningMessage())
	return tx
}

func newTestMempool(t *testing.T, balances BalanceSource) (*Mempool, *crypto.Signer) {
	t.Helper()
	signer, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	mp := New(store.NewMemoryStore(), Config{ChainID: testChainID, Balances: balances})
	return mp, signer
}

func TestAddAcceptsValidTransaction(t *testing.T) {
	mp, signer := newTestMempool(t, fixedBalances{balance: 1000, nonce: 0})
	tx := signedTx(t, signer, "alice", "bob", 500, 100, 0)

	if err := mp.Add(context.Background(), tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	size, _ := mp.Size(context.Background())
	if size != 1 {
		t.Fatalf("expected size 1, got %d", size)
	}
}

func TestAddRejectsWrongNonce(t *testing.T) {
	mp, signer := newTestMempool(t, fixedBalances{balance: 1000, nonce: 1})
	tx := signedTx(t, signer, "alice", "bob", 500, 100, 0)

	if err := mp.Add(context.Background(), tx); err == nil {
		t.Fatal("expected nonce rejection")
	}
}

func TestAddRejectsWrongChainID(t *testing.T) {
	mp, signer := newTestMempool(t, fixedBalances{balance: 1000, nonce: 0})
	tx := types.NewTransaction("alice", "bob", 500, 100, 0, "ouroboros-testnet-1")
	tx.PublicKey = signer.PublicKey()
	tx.Signature = signer.Sign(tx.SigningMessage())

	if err := mp.Add(context.Background(), tx); err == nil {
		t.Fatal("expected chain id rejection")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	mp, signer := newTestMempool(t, fixedBalances{balance: 1000, nonce: 0})
	tx := signedTx(t, signer, "alice", "bob", 500, 100, 0)

	if err := mp.Add(context.Background(), tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := mp.Add(context.Background(), tx); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestPopForBlockOrdersByFeeTierThenHash(t *testing.T) {
	mp, signer := newTestMempool(t, fixedBalances{balance: 1_000_000, nonce: 0})
	ctx := context.Background()

	low := signedTx(t, signer, "alice", "bob", 10, 50_000, 0)
	mp.Add(ctx, low)

	high, err := crypto.GenerateSigner()
	if err != nil {
		t.Fatal(err)
	}
	highTx := signedTx(t, high, "carol", "dave", 10, 250_000, 0)
	mp.Add(ctx, highTx)

	selected, err := mp.PopForBlock(ctx, 10)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 txs, got %d", len(selected))
	}
	if selected[0].ID != highTx.ID {
		t.Fatalf("expected higher fee-tier tx first")
	}
}
