// Copyright 2025 Certen Protocol
//
// Subchain rent and market-discovery registry. spec.md names rent as part
// of economic safety without assigning it a component; this is adapted
// from the reference's subchain/registry.rs, which carries the concrete
// rent/grace-period/advertisement mechanics.

package subchain

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RentPerBlock and GracePeriodBlocks match the reference's economic
// constants exactly.
const (
	RentPerBlock      uint64 = 1_000
	GracePeriodBlocks uint64 = 8_640
)

// SubchainState is the rent-lifecycle state of a registered subchain.
type SubchainState string

const (
	SubchainActive       SubchainState = "active"
	SubchainGracePeriod  SubchainState = "grace_period"
	SubchainSuspended    SubchainState = "suspended"
	SubchainDeregistered SubchainState = "deregistered"
)

// SubchainInfo tracks one subchain's rent account.
type SubchainInfo struct {
	ID                 uuid.UUID
	Owner              string
	State              SubchainState
	RegisteredAtBlock  uint64
	RentPaidUntilBlock uint64
	RentPerBlock       uint64
	GracePeriodBlocks  uint64
	TotalRentPaid      uint64
}

// IsRentOverdue reports whether height has passed the paid-until block.
func (s *SubchainInfo) IsRentOverdue(height uint64) bool {
	return height > s.RentPaidUntilBlock
}

// IsPastGracePeriod reports whether height is past the grace window after
// rent became overdue.
func (s *SubchainInfo) IsPastGracePeriod(height uint64) bool {
	return s.IsRentOverdue(height) && height > s.RentPaidUntilBlock+s.GracePeriodBlocks
}

// SubchainAdvertisement is how an aggregator advertises capacity for
// market discovery by app type.
type SubchainAdvertisement struct {
	SubchainID       uuid.UUID
	AggregatorNodeID string
	AggregatorAddr   string
	AppType          string
	CapacityPercent  float64
	LastSeen         time.Time
	ReputationScore  float64
}

// Registry tracks subchain rent accounts and aggregator advertisements.
type Registry struct {
	mu              sync.RWMutex
	subchains       map[uuid.UUID]*SubchainInfo
	advertisements  map[uuid.UUID]*SubchainAdvertisement
}

// NewRegistry creates an empty rent/discovery registry.
func NewRegistry() *Registry {
	return &Registry{
		subchains:      make(map[uuid.UUID]*SubchainInfo),
		advertisements: make(map[uuid.UUID]*SubchainAdvertisement),
	}
}

// RegisterSubchain admits a new subchain at the given registration block.
func (r *Registry) RegisterSubchain(id uuid.UUID, owner string, atBlock uint64) *SubchainInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := &SubchainInfo{
		ID:                 id,
		Owner:              owner,
		State:              SubchainActive,
		RegisteredAtBlock:  atBlock,
		RentPaidUntilBlock: atBlock,
		RentPerBlock:       RentPerBlock,
		GracePeriodBlocks:  GracePeriodBlocks,
	}
	r.subchains[id] = info
	return info
}

// PayRent extends RentPaidUntilBlock by numBlocks and reactivates a
// subchain that was in its grace period.
func (r *Registry) PayRent(id uuid.UUID, numBlocks uint64) (*SubchainInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.subchains[id]
	if !ok {
		return nil, errSubchainNotFound(id)
	}
	paid := numBlocks * info.RentPerBlock
	info.RentPaidUntilBlock += numBlocks
	info.TotalRentPaid += paid
	if info.State == SubchainGracePeriod || info.State == SubchainSuspended {
		info.State = SubchainActive
	}
	return info, nil
}

// CollectRentForBlock transitions overdue subchains Active -> GracePeriod
// -> Suspended as height advances, called once per finalized block.
func (r *Registry) CollectRentForBlock(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range r.subchains {
		if info.State == SubchainDeregistered {
			continue
		}
		switch {
		case info.IsPastGracePeriod(height):
			info.State = SubchainSuspended
		case info.IsRentOverdue(height):
			if info.State == SubchainActive {
				info.State = SubchainGracePeriod
			}
		}
	}
}

// Advertise registers or refreshes an aggregator's capacity advertisement.
func (r *Registry) Advertise(ad SubchainAdvertisement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ad.LastSeen = time.Now().UTC()
	r.advertisements[ad.SubchainID] = &ad
}

// DiscoverByAppType returns advertisements for the given app type, sorted
// by reputation descending.
func (r *Registry) DiscoverByAppType(appType string) []*SubchainAdvertisement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SubchainAdvertisement
	for _, ad := range r.advertisements {
		if ad.AppType == appType {
			cp := *ad
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReputationScore > out[j].ReputationScore })
	return out
}

// GetAll returns every tracked subchain.
func (r *Registry) GetAll() []*SubchainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SubchainInfo, 0, len(r.subchains))
	for _, info := range r.subchains {
		cp := *info
		out = append(out, &cp)
	}
	return out
}

type subchainNotFoundError struct{ id uuid.UUID }

func (e subchainNotFoundError) Error() string { return "subchain: not found: " + e.id.String() }

func errSubchainNotFound(id uuid.UUID) error { return subchainNotFoundError{id: id} }
