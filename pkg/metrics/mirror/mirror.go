// Copyright 2025 Certen Protocol
//
// Heartbeat Mirror: an optional, best-effort secondary sink that mirrors
// pkg/rewards.Heartbeat records to Firestore so operators can see node
// liveness in a hosted dashboard without that visibility being part of the
// consensus-critical path. Grounded on the teacher's pkg/firestore/client.go
// Firebase Admin SDK wiring (firebase.NewApp -> app.Firestore -> doc.Set);
// trimmed to the single collection this domain needs instead of the
// teacher's general-purpose Collection/Doc accessors.

package mirror

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/certen/independant-validator/pkg/rewards"
)

const heartbeatCollection = "node_heartbeats"

// Config configures the Firestore heartbeat mirror.
type Config struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string

	// CredentialsFile is the path to a service account JSON file. If
	// empty, the SDK falls back to GOOGLE_APPLICATION_CREDENTIALS or
	// application default credentials.
	CredentialsFile string

	// Enabled controls whether Firestore operations are actually
	// performed. If false, New returns a no-op Mirror (useful for local
	// development and for deployments that don't want the dependency).
	Enabled bool

	Logger *log.Logger
}

// DefaultConfig returns a Config populated from environment variables,
// mirroring the teacher's firestore.DefaultConfig convention.
func DefaultConfig() *Config {
	return &Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("HEARTBEAT_MIRROR_ENABLED") == "true",
		Logger:          log.New(os.Stderr, "[heartbeat-mirror] ", log.LstdFlags),
	}
}

// Mirror writes node heartbeats to Firestore on a best-effort basis. A
// disabled Mirror is a no-op rather than an error, since it never sits on
// the consensus-critical path; New does report an error for an enabled
// Mirror with no project ID.
type Mirror struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// New builds a Mirror from cfg. If cfg.Enabled is false, it returns a no-op
// Mirror and never touches the network.
func New(ctx context.Context, cfg *Config) (*Mirror, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[heartbeat-mirror] ", log.LstdFlags)
	}

	m := &Mirror{logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("heartbeat mirror is DISABLED - running in no-op mode")
		return m, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("mirror: FIREBASE_PROJECT_ID is required when the heartbeat mirror is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("mirror: initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: create firestore client: %w", err)
	}

	m.app = app
	m.firestore = client
	cfg.Logger.Printf("heartbeat mirror enabled for project: %s", cfg.ProjectID)
	return m, nil
}

// Close releases the underlying Firestore client, if any.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firestore != nil {
		return m.firestore.Close()
	}
	return nil
}

// IsEnabled reports whether this Mirror actually talks to Firestore.
func (m *Mirror) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// MirrorHeartbeat upserts h's liveness fields into the node_heartbeats
// collection, merging rather than overwriting so concurrent writers (e.g.
// a dashboard annotation) are not clobbered. A no-op Mirror returns nil
// immediately; this call must never block the caller's consensus-critical
// path on Firestore availability.
func (m *Mirror) MirrorHeartbeat(ctx context.Context, h *rewards.Heartbeat) error {
	m.mu.RLock()
	enabled := m.enabled
	client := m.firestore
	m.mu.RUnlock()
	if !enabled || client == nil {
		return nil
	}

	doc := client.Collection(heartbeatCollection).Doc(h.NodeID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"node_id":           h.NodeID,
		"wallet_address":    h.WalletAddress,
		"role":              string(h.Role),
		"last_heartbeat":    h.LastHeartbeat,
		"first_seen":        h.FirstSeen,
		"total_uptime_secs": h.TotalUptimeSecs,
		"mirrored_at":       time.Now().UTC(),
	}, gcpfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("mirror: write heartbeat for %s: %w", h.NodeID, err)
	}
	return nil
}

// Ping checks Firestore reachability the same way the teacher's client
// does: a read against a well-known health-check document. A disabled
// Mirror always reports healthy.
func (m *Mirror) Ping(ctx context.Context) error {
	m.mu.RLock()
	enabled := m.enabled
	client := m.firestore
	m.mu.RUnlock()
	if !enabled || client == nil {
		return nil
	}
	_, err := client.Collection("_health_check").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("mirror: health check: %w", err)
	}
	return nil
}
