// Copyright 2025 Certen Protocol
//
// Finalization Pipeline (spec §4.11): once a block reaches a Quorum
// Certificate, it (1) loads each of the block's transactions out of the
// mempool, (2) persists each as a finalized txn:{id} record, (3) persists
// a per-transaction execution receipt under receipt:{index}, (4) removes
// the transaction from the mempool so it is never re-selected by
// PopForBlock, and (5) mints the tail-emission reward and credits the
// proposer's balance atomically. Grounded on the reference's
// tail_emission.rs reward schedule, the store namespace table (spec §6),
// and the teacher's atomic-increment store contract. Step 3 of spec
// §4.11 (invoking the external payload executor) and step 6 (handing off
// to the index layer) are out-of-scope per spec's own text.

package finalize

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/certen/independant-validator/pkg/mempool"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/google/uuid"
)

const (
	balanceKeyPrefix  = "balance:"
	receiptKeyPrefix  = "finalize_receipt:"
	txnKeyPrefix      = "txn:"
	execReceiptPrefix = "receipt:"
	receiptIndexKey   = "receipt_index"
)

// Receipt is the permanent record of one block's finalization.
type Receipt struct {
	BlockHeight    uint64    `json:"block_height"`
	BlockHash      []byte    `json:"block_hash"`
	ProposerID     string    `json:"proposer_id"`
	Reward         uint64    `json:"reward"`
	TotalSupply    uint64    `json:"total_supply"`
	IsTailEmission bool      `json:"is_tail_emission"`
	TxCount        int       `json:"tx_count"`
	FinalizedAt    time.Time `json:"finalized_at"`
}

// ExecutionReceipt is the per-transaction record persisted under
// receipt:{index} (spec §6's store namespace table). Index is a global
// monotonic counter, not scoped to a block, matching the table's generic
// receipt:{index} entry.
type ExecutionReceipt struct {
	Index       uint64    `json:"index"`
	TxID        uuid.UUID `json:"tx_id"`
	BlockHeight uint64    `json:"block_height"`
	BlockHash   []byte    `json:"block_hash"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Pipeline mints and credits block rewards as blocks finalize, and drains
// finalized transactions out of the mempool into durable txn/receipt
// records.
type Pipeline struct {
	store   store.Store
	cfg     EmissionConfig
	mempool *mempool.Mempool
	logger  *log.Logger
}

// New builds a Pipeline bound to s using cfg's emission schedule. mp is
// where resident transaction bodies live before finalization; it may be
// nil in tests that only exercise the reward/balance path.
func New(s store.Store, cfg EmissionConfig, mp *mempool.Mempool) *Pipeline {
	return &Pipeline{store: s, cfg: cfg, mempool: mp, logger: log.New(os.Stderr, "[finalize] ", log.LstdFlags)}
}

// Finalize runs the full spec §4.11 pipeline for a block that just
// received a QC: loads and persists each of txIDs as a finalized
// transaction, persists its execution receipt, removes it from the
// mempool, then mints and credits the proposer's tail-emission reward.
// Safe to call more than once per height only if the caller has already
// ensured idempotency upstream (finalization is driven by the consensus
// engine, which finalizes each height exactly once).
func (p *Pipeline) Finalize(ctx context.Context, height uint64, blockHash []byte, proposerID string, txIDs []uuid.UUID) (*Receipt, error) {
	processed := 0
	for _, txID := range txIDs {
		if err := p.finalizeTx(ctx, txID, height, blockHash); err != nil {
			return nil, err
		}
		processed++
	}

	reward := BlockReward(height, p.cfg)
	if _, err := p.store.AtomicIncrement(ctx, balanceKey(proposerID), int64(reward)); err != nil {
		return nil, fmt.Errorf("finalize: credit proposer balance: %w", err)
	}

	receipt := &Receipt{
		BlockHeight:    height,
		BlockHash:      blockHash,
		ProposerID:     proposerID,
		Reward:         reward,
		TotalSupply:    TotalSupplyAtHeight(height+1, p.cfg),
		IsTailEmission: IsTailEmission(height, p.cfg),
		TxCount:        processed,
		FinalizedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("finalize: encode receipt: %w", err)
	}
	key := fmt.Sprintf("%s%d", receiptKeyPrefix, height)
	if err := p.store.Put(ctx, []byte(key), raw); err != nil {
		return nil, fmt.Errorf("finalize: persist receipt: %w", err)
	}

	return receipt, nil
}

// finalizeTx loads txID out of the mempool (skipping, and logging, on
// load failure per spec §4.11 step 2), persists it as txn:{id}, persists
// its execution receipt under receipt:{index}, then removes it from the
// mempool.
func (p *Pipeline) finalizeTx(ctx context.Context, txID uuid.UUID, height uint64, blockHash []byte) error {
	if p.mempool == nil {
		return nil
	}

	tx, ok, err := p.mempool.Get(ctx, txID)
	if err != nil {
		p.logger.Printf("finalize: load tx %s: %v (skipping)", txID, err)
		return nil
	}
	if !ok {
		p.logger.Printf("finalize: tx %s not found in mempool (skipping)", txID)
		return nil
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("finalize: encode tx %s: %w", txID, err)
	}
	if err := p.store.Put(ctx, txnKey(txID), raw); err != nil {
		return fmt.Errorf("finalize: persist txn %s: %w", txID, err)
	}

	index, err := p.store.AtomicIncrement(ctx, []byte(receiptIndexKey), 1)
	if err != nil {
		return fmt.Errorf("finalize: allocate receipt index: %w", err)
	}
	execReceipt := &ExecutionReceipt{
		Index:       index,
		TxID:        txID,
		BlockHeight: height,
		BlockHash:   blockHash,
		FinalizedAt: time.Now().UTC(),
	}
	execRaw, err := json.Marshal(execReceipt)
	if err != nil {
		return fmt.Errorf("finalize: encode execution receipt for tx %s: %w", txID, err)
	}
	if err := p.store.Put(ctx, execReceiptKey(index), execRaw); err != nil {
		return fmt.Errorf("finalize: persist execution receipt for tx %s: %w", txID, err)
	}

	if err := p.mempool.Remove(ctx, txID); err != nil {
		return fmt.Errorf("finalize: remove tx %s from mempool: %w", txID, err)
	}
	return nil
}

// Balance returns id's current credited balance.
func (p *Pipeline) Balance(ctx context.Context, id string) (uint64, error) {
	raw, ok, err := p.store.Get(ctx, balanceKey(id))
	if err != nil {
		return 0, fmt.Errorf("finalize: load balance: %w", err)
	}
	if !ok || len(raw) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Receipt returns the finalization receipt for height, if any.
func (p *Pipeline) Receipt(ctx context.Context, height uint64) (*Receipt, bool, error) {
	raw, ok, err := p.store.Get(ctx, []byte(fmt.Sprintf("%s%d", receiptKeyPrefix, height)))
	if err != nil || !ok {
		return nil, false, err
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("finalize: decode receipt: %w", err)
	}
	return &r, true, nil
}

// ExecutionReceipt returns the execution receipt stored at index, if any.
func (p *Pipeline) ExecutionReceipt(ctx context.Context, index uint64) (*ExecutionReceipt, bool, error) {
	raw, ok, err := p.store.Get(ctx, execReceiptKey(index))
	if err != nil || !ok {
		return nil, false, err
	}
	var r ExecutionReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("finalize: decode execution receipt: %w", err)
	}
	return &r, true, nil
}

// FinalizedTransaction returns the finalized transaction persisted under
// txn:{id}, if any.
func (p *Pipeline) FinalizedTransaction(ctx context.Context, id uuid.UUID) (*types.Transaction, bool, error) {
	raw, ok, err := p.store.Get(ctx, txnKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var tx types.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, false, fmt.Errorf("finalize: decode txn: %w", err)
	}
	return &tx, true, nil
}

func balanceKey(id string) []byte {
	return []byte(balanceKeyPrefix + id)
}

func txnKey(id uuid.UUID) []byte {
	return []byte(txnKeyPrefix + id.String())
}

func execReceiptKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", execReceiptPrefix, index))
}
