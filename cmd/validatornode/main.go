// Copyright 2025 Certen Protocol
//
// validatornode is the entrypoint for a single BFT validator replica:
// loads configuration, opens the store, derives signing/VRF keys, and
// wires a pkg/node.Node before serving its metrics endpoint.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/crypto"
	"github.com/certen/independant-validator/pkg/crypto/vrf"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/metrics/mirror"
	"github.com/certen/independant-validator/pkg/node"
	"github.com/certen/independant-validator/pkg/rewards"
	"github.com/certen/independant-validator/pkg/server"
	"github.com/certen/independant-validator/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// heartbeatInterval is how often this replica refreshes its own liveness
// record and, if configured, mirrors it to Firestore.
const heartbeatInterval = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.New(os.Stderr, "[validatornode] ", log.LstdFlags)

	signer, err := loadOrGenerateSigner(cfg.Ed25519KeyPath)
	if err != nil {
		log.Fatalf("load signing key: %v", err)
	}

	vrfKey, err := vrf.NewPrivateKeyFromSeed(signerSeed(signer))
	if err != nil {
		log.Fatalf("derive vrf key: %v", err)
	}

	var s store.Store
	if cfg.DatabaseURL != "" {
		s, err = store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open postgres store: %v", err)
		}
	} else {
		s = store.NewMemoryStore()
		logger.Printf("warning: DATABASE_URL not set, using in-memory store (not durable)")
	}

	heartbeatMirror, err := mirror.New(context.Background(), mirror.DefaultConfig())
	if err != nil {
		log.Fatalf("init heartbeat mirror: %v", err)
	}

	n, err := node.New(node.Config{
		SelfID:            cfg.ValidatorID,
		Signer:            signer,
		VRFKey:            vrfKey,
		ChainID:           cfg.ChainID,
		Store:             s,
		Logger:            logger,
		MultisigThreshold: cfg.MultisigThreshold,
		MultisigTotal:     cfg.MultisigTotal,
		WalletAddress:     cfg.ValidatorID,
		Role:              rewards.RoleHeavy,
		Mirror:            heartbeatMirror,
	})
	if err != nil {
		log.Fatalf("assemble node: %v", err)
	}

	if err := n.LoadFromStore(context.Background()); err != nil {
		log.Fatalf("hydrate node state: %v", err)
	}

	go runHeartbeatLoop(context.Background(), n, logger)

	reg := metrics.NewRegistry()
	metrics.MustRegister(reg)

	rewardsHandlers := server.NewRewardsHandlers(n.Rewards)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/rewards/active-nodes", rewardsHandlers.HandleActiveNodes)
	mux.HandleFunc("/api/rewards/nodes/", func(w http.ResponseWriter, r *http.Request) {
		rewardsHandlers.HandleNodeStats(w, r, strings.TrimPrefix(r.URL.Path, "/api/rewards/nodes/"))
	})
	mux.HandleFunc("/api/rewards/claim/", func(w http.ResponseWriter, r *http.Request) {
		rewardsHandlers.HandleClaimRewards(w, r, strings.TrimPrefix(r.URL.Path, "/api/rewards/claim/"))
	})

	logger.Printf("validator %s listening on %s", cfg.ValidatorID, cfg.MetricsAddr)
	if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
		log.Fatalf("metrics server: %v", err)
	}
}

// runHeartbeatLoop refreshes n's liveness record (and, if configured,
// mirrors it to Firestore) every heartbeatInterval until ctx is canceled.
func runHeartbeatLoop(ctx context.Context, n *node.Node, logger *log.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	if err := n.Heartbeat(ctx); err != nil {
		logger.Printf("heartbeat: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Heartbeat(ctx); err != nil {
				logger.Printf("heartbeat: %v", err)
			}
		}
	}
}

// loadOrGenerateSigner reads a hex-encoded 64-byte Ed25519 private key from
// path, or generates a fresh one if path is empty or missing; when path is
// set, the fresh key is written there hex-encoded with owner-only
// permissions. This
// mirrors the teacher's ED25519_KEY_PATH convention in pkg/config.
func loadOrGenerateSigner(path string) (*crypto.Signer, error) {
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			decoded := make([]byte, ed25519.PrivateKeySize)
			if _, err := hex.Decode(decoded, raw); err != nil {
				return nil, err
			}
			return crypto.NewSigner(decoded)
		}
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger := log.New(os.Stderr, "[validatornode] ", log.LstdFlags)
		logger.Printf("writing freshly generated signing key to %s", path)
		if err := os.WriteFile(path, []byte(hex.EncodeToString(priv)), 0o600); err != nil {
			return nil, err
		}
	}
	return crypto.NewSigner(priv)
}

// signerSeed derives a stable 32-byte seed for the VRF key from the
// signer's Ed25519 public key, so a validator's VRF identity is
// deterministic given its signing identity without exposing the Ed25519
// private key material to the VRF subsystem.
func signerSeed(s *crypto.Signer) []byte {
	return crypto.Hash256(s.PublicKey())
}
