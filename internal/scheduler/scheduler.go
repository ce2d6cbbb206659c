package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// RunFunc is the work a node performs on each tick.
type RunFunc func(ctx context.Context) error

// Scheduler drives node ticks from their interval configs. A node with
// stale dependency heartbeats skips its tick but still records a
// heartbeat, so staleness propagates instead of hiding.
type Scheduler struct {
	registry  drepo.NodeRegistry
	metrics   drepo.Metrics
	log       *logger.Logger
	freshness time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	runners map[string]RunFunc
	running map[string]bool
	now     func() time.Time

	baseCtx context.Context
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(
	lgr *logger.Logger,
	registry drepo.NodeRegistry,
	metrics drepo.Metrics,
	freshness time.Duration,
) *Scheduler {
	if freshness <= 0 {
		freshness = 90 * time.Second
	}
	return &Scheduler{
		registry:  registry,
		metrics:   metrics,
		log:       lgr,
		freshness: freshness,
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
		runners:   make(map[string]RunFunc),
		running:   make(map[string]bool),
		now:       time.Now,
		baseCtx:   context.Background(),
	}
}

// RegisterRunner binds the work function for a node id. Nodes without a
// runner skip their ticks.
func (s *Scheduler) RegisterRunner(nodeID string, fn RunFunc) {
	s.mu.Lock()
	s.runners[nodeID] = fn
	s.mu.Unlock()
}

// Upsert stores the config and reschedules the node's cron entry.
func (s *Scheduler) Upsert(ctx context.Context, cfg *models.NodeConfig) error {
	if !cfg.Type.Valid() {
		return fmt.Errorf("invalid node type %q", cfg.Type)
	}
	if cfg.IntervalSec <= 0 {
		return fmt.Errorf("node %q: interval must be positive", cfg.NodeID)
	}
	if err := s.registry.Upsert(ctx, cfg); err != nil {
		return err
	}
	return s.reschedule(cfg)
}

// Delete removes the node and its cron entry.
func (s *Scheduler) Delete(ctx context.Context, nodeID string) error {
	if err := s.registry.Delete(ctx, nodeID); err != nil {
		return err
	}
	s.mu.Lock()
	if id, ok := s.entries[nodeID]; ok {
		s.cron.Remove(id)
		delete(s.entries, nodeID)
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) reschedule(cfg *models.NodeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[cfg.NodeID]; ok {
		s.cron.Remove(id)
		delete(s.entries, cfg.NodeID)
	}
	if !cfg.Enabled {
		return nil
	}

	nodeID := cfg.NodeID
	spec := fmt.Sprintf("@every %ds", cfg.IntervalSec)
	entryID, err := s.cron.AddFunc(spec, func() { s.tick(nodeID) })
	if err != nil {
		return fmt.Errorf("schedule node %q: %w", nodeID, err)
	}
	s.entries[nodeID] = entryID
	return nil
}

// Start begins ticking. The context bounds every node run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts ticking and waits for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick(nodeID string) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if _, err := s.RunNode(ctx, nodeID); err != nil && !errors.Is(err, models.ErrNodeNotFound) {
		s.log.Error("node tick", logger.String("node_id", nodeID), logger.Error(err))
	}
}

// RunNode executes one tick for the node right now, honoring enablement
// and dependency gating. Serves both cron ticks and manual triggers.
func (s *Scheduler) RunNode(ctx context.Context, nodeID string) (*models.NodeHeartbeat, error) {
	cfg, err := s.registry.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.running[nodeID] {
		s.mu.Unlock()
		return s.skip(ctx, nodeID, "previous run still in progress")
	}
	s.running[nodeID] = true
	runner := s.runners[nodeID]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, nodeID)
		s.mu.Unlock()
	}()

	if !cfg.Enabled {
		return s.skip(ctx, nodeID, "disabled")
	}
	if reason := s.staleDependency(ctx, cfg); reason != "" {
		return s.skip(ctx, nodeID, reason)
	}
	if runner == nil {
		return s.skip(ctx, nodeID, "no runner bound")
	}

	start := s.now()
	_ = s.registry.RecordHeartbeat(ctx, &models.NodeHeartbeat{
		NodeID: nodeID, State: models.NodeRunning, LastRun: start,
	})

	hb := &models.NodeHeartbeat{NodeID: nodeID, LastRun: start}
	if err := runner(ctx); err != nil {
		hb.State = models.NodeFailed
		hb.LastError = err.Error()
		s.log.Error("node run failed", logger.String("node_id", nodeID), logger.Error(err))
	} else {
		hb.State = models.NodeSucceeded
	}
	s.metrics.RecordNodeRun(nodeID, string(hb.State))
	if err := s.registry.RecordHeartbeat(ctx, hb); err != nil {
		return hb, err
	}
	return hb, nil
}

// staleDependency returns a skip reason when any dependency has no
// fresh, successful heartbeat.
func (s *Scheduler) staleDependency(ctx context.Context, cfg *models.NodeConfig) string {
	now := s.now()
	for _, dep := range cfg.Dependencies {
		hb, err := s.registry.Heartbeat(ctx, dep)
		if err != nil {
			return "dependency never ran: " + dep
		}
		if hb.State == models.NodeFailed {
			return "dependency failed: " + dep
		}
		if now.Sub(hb.LastRun) > s.freshness {
			return "dependency stale: " + dep
		}
	}
	return ""
}

func (s *Scheduler) skip(ctx context.Context, nodeID, reason string) (*models.NodeHeartbeat, error) {
	hb := &models.NodeHeartbeat{
		NodeID:     nodeID,
		State:      models.NodeSkipped,
		LastRun:    s.now(),
		SkipReason: reason,
	}
	s.metrics.RecordNodeRun(nodeID, string(models.NodeSkipped))
	s.log.Debug("node skipped",
		logger.String("node_id", nodeID), logger.String("reason", reason))
	if err := s.registry.RecordHeartbeat(ctx, hb); err != nil {
		return hb, err
	}
	return hb, nil
}

// SetClock replaces the freshness time source. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
