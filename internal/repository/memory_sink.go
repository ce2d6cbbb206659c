package repository

import (
	"context"
	"sync"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

// MemorySink buffers status-change events in process. Default sink for
// single-node deployments and tests; swap in the Kafka sink when the
// notification consumers live elsewhere.
type MemorySink struct {
	mu     sync.Mutex
	events []*models.StatusChangedEvent
	log    *logger.Logger
}

func NewMemorySink(lgr *logger.Logger) *MemorySink {
	return &MemorySink{log: lgr}
}

func (m *MemorySink) Publish(_ context.Context, e *models.StatusChangedEvent) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	m.log.Debug("event published",
		logger.String("signal_id", e.SignalID),
		logger.String("status", string(e.NewStatus)))
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *MemorySink) Events() []*models.StatusChangedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.StatusChangedEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemorySink) Close() error { return nil }
