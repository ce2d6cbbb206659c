package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"SigRelay/internal/broker"
	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/queue"
	internalrepo "SigRelay/internal/repository"
	"SigRelay/pkg/logger"
)

const testSecret = "test-secret"

// pipeline wires real store, queue, and sinks around the use cases for
// end-to-end style tests without any network dependency.
type pipeline struct {
	store  drepo.SignalStore
	queue  *queue.MemoryQueue
	sink   *internalrepo.MemorySink
	rec    *Reconciler
	intake *Intake
	orch   *Orchestrator
}

func newPipeline(t *testing.T, adapter drepo.BrokerAdapter, qcfg queue.Config, ocfg OrchestratorConfig) *pipeline {
	t.Helper()
	lgr := logger.Nop()

	store, err := internalrepo.NewSQLiteStore(lgr, filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q := queue.NewMemoryQueue(lgr, qcfg)
	sink := internalrepo.NewMemorySink(lgr)
	m := drepo.NopMetrics{}

	rec := NewReconciler(lgr, store, sink, internalrepo.NopAudit{}, m)
	in := NewIntake(lgr, testSecret, store, q, rec, m)

	if adapter == nil {
		adapter = broker.NewPaper(lgr, "paper", 1.1000, 0)
	}
	router := broker.NewStaticRouter(nil, adapter)
	orch := NewOrchestrator(lgr, ocfg, q, store, router, rec, m)

	return &pipeline{store: store, queue: q, sink: sink, rec: rec, intake: in, orch: orch}
}

func alertReq(externalID string) *models.AlertRequest {
	return &models.AlertRequest{
		Source:          "tradingview",
		ExternalAlertID: externalID,
		Symbol:          "EURUSD",
		Action:          "buy",
		Size:            0.5,
		Account:         "default",
		Timestamp:       time.Now().Unix(),
	}
}

// scriptedBroker fails PlaceOrder with the scripted errors in order,
// then succeeds, queueing a fill for each accepted order.
type scriptedBroker struct {
	mu     sync.Mutex
	errs   []error
	placed int
	fills  []*models.ExecutionOutcome
}

func (b *scriptedBroker) Name() string { return "scripted" }

func (b *scriptedBroker) PlaceOrder(_ context.Context, req *drepo.OrderRequest) (*drepo.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	b.placed++
	ticket := fmt.Sprintf("tk-%d", b.placed)
	b.fills = append(b.fills, &models.ExecutionOutcome{
		SignalID:  req.SignalID,
		TicketID:  ticket,
		Status:    models.StatusFilled,
		FillPrice: 1.2345,
	})
	return &drepo.OrderResult{TicketID: ticket}, nil
}

func (b *scriptedBroker) ClosePosition(context.Context, string) error { return nil }

func (b *scriptedBroker) PollFills(context.Context) ([]*models.ExecutionOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.fills
	b.fills = nil
	return out, nil
}

func statuses(events []*models.StatusChangedEvent) []models.Status {
	out := make([]models.Status, len(events))
	for i, e := range events {
		out[i] = e.NewStatus
	}
	return out
}
