// Copyright 2025 Certen Protocol
//
// Validator Registry (spec §4.5): tracks {id -> pubkey, stake, status},
// persists the full map on every mutation, and maintains an auxiliary
// per-id stake record for fast lookup by the Slashing Manager. Adapted
// from the reference's bft::validator_registry (full-map persistence) and
// validator_registration (lifecycle/unbonding).

package validator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
)

var (
	ErrNotFound       = errors.New("validator: not found")
	ErrAlreadyExists  = errors.New("validator: already registered")
	ErrInsufficientStake = errors.New("validator: stake below minimum")
	ErrNotPending     = errors.New("validator: not in pending state")
	ErrNotActive      = errors.New("validator: not in active state")
	ErrNotUnbonding   = errors.New("validator: not unbonding")
	ErrUnbondingPeriod = errors.New("validator: unbonding period not complete")
)

const (
	keyRegistry      = "validator_registry"
	keyStakePrefix   = "validator_stake:"
)

// Registry is the sole writer of validator stake values. It keeps an
// in-memory map behind a read/write lock (reads are the common case, per
// spec §5) backed by the Store for durability.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*types.Validator
	store store.Store
}

// NewRegistry creates an empty registry bound to store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{byID: make(map[string]*types.Validator), store: s}
}

// LoadFromStore hydrates the in-memory map from the persisted registry
// blob, if one exists.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, []byte(keyRegistry))
	if err != nil {
		return fmt.Errorf("validator: load registry: %w", err)
	}
	if !ok {
		return nil
	}
	var all map[string]*types.Validator
	if err := json.Unmarshal(raw, &all); err != nil {
		return fmt.Errorf("validator: decode registry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = all
	return nil
}

// persistLocked re-serializes the full map. Acceptable because the
// validator set is small (hundreds to low thousands), per spec §4.5.
// Caller must hold r.mu.
func (r *Registry) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(r.byID)
	if err != nil {
		return fmt.Errorf("validator: encode registry: %w", err)
	}
	return r.store.Put(ctx, []byte(keyRegistry), raw)
}

// Register admits a new Pending validator. Requires stake >=
// MinValidatorStake.
func (r *Registry) Register(ctx context.Context, id string, pubkey []byte, stake uint64) (*types.Validator, error) {
	if stake < types.MinValidatorStake {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientStake, stake, types.MinValidatorStake)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	v := &types.Validator{
		ID:            id,
		PubKey:        append([]byte(nil), pubkey...),
		Stake:         stake,
		Status:        types.ValidatorPending,
		RegisteredAt:  time.Now().UTC(),
	}
	r.byID[id] = v
	if err := r.persistLocked(ctx); err != nil {
		return nil, err
	}
	if _, err := r.store.AtomicIncrement(ctx, stakeKey(id), int64(stake)); err != nil {
		return nil, fmt.Errorf("validator: write stake record: %w", err)
	}
	metrics.ValidatorStake.WithLabelValues(id).Set(float64(stake))
	return v, nil
}

// Activate transitions a Pending validator to Active.
func (r *Registry) Activate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if v.Status != types.ValidatorPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, v.Status)
	}
	now := time.Now().UTC()
	v.Status = types.ValidatorActive
	v.ActivatedAt = &now
	return r.persistLocked(ctx)
}

// RequestExit transitions an Active validator to Unbonding, returning the
// deadline after which stake may be released.
func (r *Registry) RequestExit(ctx context.Context, id string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if v.Status != types.ValidatorActive {
		return time.Time{}, fmt.Errorf("%w: %s is %s", ErrNotActive, id, v.Status)
	}
	now := time.Now().UTC()
	deadline := now.Add(types.UnbondingPeriod)
	v.Status = types.ValidatorUnbonding
	v.ExitRequestedAt = &now
	v.UnbondingCompleteAt = &deadline
	if err := r.persistLocked(ctx); err != nil {
		return time.Time{}, err
	}
	return deadline, nil
}

// CompleteExit transitions an Unbonding validator whose deadline has
// passed to Exited, releasing its stake back to the holder (external to
// this registry; this method only updates the lifecycle status).
func (r *Registry) CompleteExit(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if v.Status != types.ValidatorUnbonding {
		return fmt.Errorf("%w: %s is %s", ErrNotUnbonding, id, v.Status)
	}
	if v.UnbondingCompleteAt == nil || time.Now().Before(*v.UnbondingCompleteAt) {
		return ErrUnbondingPeriod
	}
	v.Status = types.ValidatorExited
	return r.persistLocked(ctx)
}

// UpdateStake overwrites a validator's stake (used by the Slashing
// Manager, which is the only other component permitted to change stake).
func (r *Registry) UpdateStake(ctx context.Context, id string, newStake uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v.Stake = newStake
	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, newStake)
	metrics.ValidatorStake.WithLabelValues(id).Set(float64(newStake))
	return r.store.Put(ctx, stakeKey(id), raw)
}

// Get returns a copy of the validator record for id.
func (r *Registry) Get(id string) (*types.Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// GetByStake returns all validators sorted by stake descending.
func (r *Registry) GetByStake() []*types.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Validator, 0, len(r.byID))
	for _, v := range r.byID {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stake > out[j].Stake })
	return out
}

// TotalStake sums VotingPower across all validators (Active only, per
// spec's voting_power rule).
func (r *Registry) TotalStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total uint64
	for _, v := range r.byID {
		total += v.VotingPower()
	}
	return total
}

// ActiveIDs returns the ids of all Active validators, sorted.
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for id, v := range r.byID {
		if v.Status == types.ValidatorActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered validators.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func stakeKey(id string) []byte {
	return []byte(keyStakePrefix + id)
}
