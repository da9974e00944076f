// Copyright 2025 Certen Protocol
//
// Rewards Query/Claim API Handlers
// Provides HTTP endpoints for node liveness and uptime-reward queries.
// Style grounded on the teacher's pkg/server/ledger_handlers.go: a thin
// Handlers struct wrapping one collaborator, one method per endpoint,
// manual JSON-error bodies rather than a framework.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/certen/independant-validator/pkg/rewards"
)

// RewardsHandlers provides HTTP handlers for the Rewards Tracker.
type RewardsHandlers struct {
	tracker *rewards.Tracker
}

// NewRewardsHandlers creates new rewards query/claim handlers.
func NewRewardsHandlers(tracker *rewards.Tracker) *RewardsHandlers {
	return &RewardsHandlers{tracker: tracker}
}

// HandleActiveNodes handles GET /api/rewards/active-nodes requests.
func (h *RewardsHandlers) HandleActiveNodes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	nodes, err := h.tracker.ActiveNodes(r.Context())
	if err != nil {
		errorMsg := fmt.Sprintf(`{"error":"failed to load active nodes: %s"}`, err.Error())
		http.Error(w, errorMsg, http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(nodes); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleNodeStats handles GET /api/rewards/nodes/{id} requests.
func (h *RewardsHandlers) HandleNodeStats(w http.ResponseWriter, r *http.Request, nodeID string) {
	w.Header().Set("Content-Type", "application/json")

	if nodeID == "" {
		http.Error(w, `{"error":"node id is required"}`, http.StatusBadRequest)
		return
	}

	stats, err := h.tracker.NodeStats(r.Context(), nodeID)
	if err != nil {
		errorMsg := fmt.Sprintf(`{"error":"failed to load node stats: %s"}`, err.Error())
		http.Error(w, errorMsg, http.StatusNotFound)
		return
	}

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// HandleClaimRewards handles POST /api/rewards/claim/{id} requests.
func (h *RewardsHandlers) HandleClaimRewards(w http.ResponseWriter, r *http.Request, nodeID string) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if nodeID == "" {
		http.Error(w, `{"error":"node id is required"}`, http.StatusBadRequest)
		return
	}

	result, err := h.tracker.ClaimRewards(r.Context(), nodeID)
	if err != nil {
		errorMsg := fmt.Sprintf(`{"error":"failed to claim rewards: %s"}`, err.Error())
		http.Error(w, errorMsg, http.StatusBadRequest)
		return
	}

	if err := json.NewEncoder(w).Encode(result); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}
