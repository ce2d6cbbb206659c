// Package scheduler runs the declarative worker nodes: operator-managed
// configs, interval ticks, and dependency gating on heartbeat freshness.
package scheduler

import (
	"context"
	"sync"
	"time"

	"SigRelay/internal/domain/models"
)

// Registry is the in-memory node config and heartbeat store. Configs are
// seeded from the config file at startup and mutated through the API.
type Registry struct {
	mu         sync.RWMutex
	configs    map[string]*models.NodeConfig
	heartbeats map[string]*models.NodeHeartbeat
}

func NewRegistry() *Registry {
	return &Registry{
		configs:    make(map[string]*models.NodeConfig),
		heartbeats: make(map[string]*models.NodeHeartbeat),
	}
}

func (r *Registry) Upsert(_ context.Context, cfg *models.NodeConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *cfg
	now := time.Now()
	if existing, ok := r.configs[cfg.NodeID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.configs[cfg.NodeID] = &cp
	cfg.CreatedAt = cp.CreatedAt
	cfg.UpdatedAt = cp.UpdatedAt
	return nil
}

func (r *Registry) Get(_ context.Context, nodeID string) (*models.NodeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[nodeID]
	if !ok {
		return nil, models.ErrNodeNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (r *Registry) Delete(_ context.Context, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.configs[nodeID]; !ok {
		return models.ErrNodeNotFound
	}
	delete(r.configs, nodeID)
	delete(r.heartbeats, nodeID)
	return nil
}

func (r *Registry) List(_ context.Context) ([]*models.NodeConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.NodeConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		cp := *cfg
		out = append(out, &cp)
	}
	return out, nil
}

func (r *Registry) RecordHeartbeat(_ context.Context, hb *models.NodeHeartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *hb
	r.heartbeats[hb.NodeID] = &cp
	return nil
}

func (r *Registry) Heartbeat(_ context.Context, nodeID string) (*models.NodeHeartbeat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hb, ok := r.heartbeats[nodeID]
	if !ok {
		return nil, models.ErrNodeNotFound
	}
	cp := *hb
	return &cp, nil
}
