// Copyright 2025 Certen Protocol
//
// Slashing Manager (spec §4.9): penalizes Byzantine validators by reducing
// stake and records a permanent, queryable trail of why. Adapted from the
// reference's bft/slashing.rs, including its key layout
// (slashing_event:{ts_ms}:{id}, slashing_history:{id}, a ring-buffered
// slashing_events_index capped at 1000 entries) and its log-then-persist
// order.

package slashing

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/validator"
)

const (
	eventKeyPrefix   = "slashing_event:"
	historyKeyPrefix = "slashing_history:"
	indexKey         = "slashing_events_index"
	maxIndexEntries  = 1000
)

// Manager slashes validators through the Registry (the sole other writer
// of stake, per the registry's own doc comment) and persists an audit
// trail through Store.
type Manager struct {
	registry *validator.Registry
	store    store.Store
	logger   *log.Logger
}

// New builds a Manager bound to registry and store.
func New(registry *validator.Registry, s store.Store) *Manager {
	return &Manager{registry: registry, store: s, logger: log.New(os.Stderr, "[slashing] ", log.LstdFlags)}
}

// Slash reduces validator_id's stake by severity's penalty percentage,
// records the event, and returns it. Fails if the validator has no
// current stake.
func (m *Manager) Slash(ctx context.Context, validatorID string, reason types.SlashingReason, severity types.SlashingSeverity, evidence string) (*types.SlashingEvent, error) {
	v, ok := m.registry.Get(validatorID)
	if !ok {
		return nil, fmt.Errorf("slashing: validator %s not found", validatorID)
	}
	stakeBefore := v.Stake
	if stakeBefore == 0 {
		return nil, fmt.Errorf("slashing: validator %s has no stake to slash", validatorID)
	}

	pct := severity.PenaltyPercent()
	slashed := uint64(float64(stakeBefore) * pct)
	var stakeAfter uint64
	if slashed >= stakeBefore {
		stakeAfter = 0
	} else {
		stakeAfter = stakeBefore - slashed
	}

	m.logger.Printf("SLASHING VALIDATOR: %s for %s (severity: %s)", validatorID, reason, severity)
	m.logger.Printf("stake before: %d, slashing: %d (%.0f%%), remaining: %d", stakeBefore, slashed, pct*100, stakeAfter)
	m.logger.Printf("evidence: %s", evidence)

	if err := m.registry.UpdateStake(ctx, validatorID, stakeAfter); err != nil {
		return nil, fmt.Errorf("slashing: update stake: %w", err)
	}

	event := &types.SlashingEvent{
		ValidatorID:   validatorID,
		Reason:        reason,
		Severity:      severity,
		StakeBefore:   stakeBefore,
		SlashedAmount: slashed,
		StakeAfter:    stakeAfter,
		Timestamp:     time.Now().UTC(),
		Evidence:      evidence,
	}
	if err := m.persistEvent(ctx, event); err != nil {
		return nil, err
	}
	metrics.SlashingEvents.WithLabelValues(string(severity)).Inc()
	metrics.ValidatorStake.WithLabelValues(validatorID).Set(float64(stakeAfter))
	m.logger.Printf("slashing event recorded: validator=%s reason=%s amount=%d", validatorID, reason, slashed)
	return event, nil
}

func (m *Manager) persistEvent(ctx context.Context, event *types.SlashingEvent) error {
	eventKey := fmt.Sprintf("%s%d:%s", eventKeyPrefix, event.Timestamp.UnixMilli(), event.ValidatorID)
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("slashing: encode event: %w", err)
	}
	if err := m.store.Put(ctx, []byte(eventKey), raw); err != nil {
		return fmt.Errorf("slashing: persist event: %w", err)
	}

	historyKey := []byte(historyKeyPrefix + event.ValidatorID)
	var history []types.SlashingEvent
	if existing, ok, err := m.store.Get(ctx, historyKey); err != nil {
		return fmt.Errorf("slashing: load history: %w", err)
	} else if ok {
		if err := json.Unmarshal(existing, &history); err != nil {
			return fmt.Errorf("slashing: decode history: %w", err)
		}
	}
	history = append(history, *event)
	historyRaw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("slashing: encode history: %w", err)
	}
	if err := m.store.Put(ctx, historyKey, historyRaw); err != nil {
		return fmt.Errorf("slashing: persist history: %w", err)
	}

	var index []string
	if existing, ok, err := m.store.Get(ctx, []byte(indexKey)); err != nil {
		return fmt.Errorf("slashing: load index: %w", err)
	} else if ok {
		if err := json.Unmarshal(existing, &index); err != nil {
			return fmt.Errorf("slashing: decode index: %w", err)
		}
	}
	index = append(index, eventKey)
	if len(index) > maxIndexEntries {
		index = index[len(index)-maxIndexEntries:]
	}
	indexRaw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("slashing: encode index: %w", err)
	}
	return m.store.Put(ctx, []byte(indexKey), indexRaw)
}

// RecentEvents returns up to limit of the most recently recorded slashing
// events, newest first.
func (m *Manager) RecentEvents(ctx context.Context, limit int) ([]types.SlashingEvent, error) {
	raw, ok, err := m.store.Get(ctx, []byte(indexKey))
	if err != nil {
		return nil, fmt.Errorf("slashing: load index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("slashing: decode index: %w", err)
	}

	start := 0
	if len(index) > limit {
		start = len(index) - limit
	}

	var events []types.SlashingEvent
	for i := len(index) - 1; i >= start; i-- {
		eventRaw, ok, err := m.store.Get(ctx, []byte(index[i]))
		if err != nil || !ok {
			continue
		}
		var e types.SlashingEvent
		if err := json.Unmarshal(eventRaw, &e); err != nil {
			continue
		}
		events = append(events, e)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// History returns every slashing event ever recorded against validatorID.
func (m *Manager) History(ctx context.Context, validatorID string) ([]types.SlashingEvent, error) {
	raw, ok, err := m.store.Get(ctx, []byte(historyKeyPrefix+validatorID))
	if err != nil {
		return nil, fmt.Errorf("slashing: load history: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var history []types.SlashingEvent
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("slashing: decode history: %w", err)
	}
	return history, nil
}
