// Package broker contains the adapters that turn signals into broker
// orders. Every adapter maps native failures into exec error classes so
// the orchestrator can decide retry versus terminate without knowing
// broker specifics.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// Paper simulates a broker in process. Orders acknowledge after a
// configurable latency and fill asynchronously through PollFills, which
// exercises the same reconciliation path a real broker would.
type Paper struct {
	name      string
	fillPrice float64
	latency   time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	pending []*models.ExecutionOutcome
	tickets map[string]string // ticket -> signal id
}

func NewPaper(lgr *logger.Logger, name string, fillPrice float64, latency time.Duration) *Paper {
	if fillPrice <= 0 {
		fillPrice = 100.0
	}
	return &Paper{
		name:      name,
		fillPrice: fillPrice,
		latency:   latency,
		log:       lgr,
		tickets:   make(map[string]string),
	}
}

func (p *Paper) Name() string { return p.name }

func (p *Paper) PlaceOrder(ctx context.Context, req *repository.OrderRequest) (*repository.OrderResult, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, models.TransientExecError("order timed out", ctx.Err())
		}
	}
	if req.Size <= 0 {
		return nil, models.PermanentExecError("invalid order size", fmt.Errorf("size %v", req.Size))
	}

	ticket := "paper-" + uuid.NewString()
	p.mu.Lock()
	p.tickets[ticket] = req.SignalID
	p.pending = append(p.pending, &models.ExecutionOutcome{
		SignalID:  req.SignalID,
		TicketID:  ticket,
		Status:    models.StatusFilled,
		FillPrice: p.fillPrice,
	})
	p.mu.Unlock()

	p.log.Debug("paper order placed",
		logger.String("signal_id", req.SignalID),
		logger.String("ticket", ticket),
		logger.String("symbol", req.Symbol))
	return &repository.OrderResult{TicketID: ticket}, nil
}

func (p *Paper) ClosePosition(_ context.Context, ticketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tickets[ticketID]; !ok {
		return models.PermanentExecError("unknown ticket", fmt.Errorf("ticket %s", ticketID))
	}
	delete(p.tickets, ticketID)
	return nil
}

// PollFills drains the simulated fills accumulated since the last poll.
func (p *Paper) PollFills(_ context.Context) ([]*models.ExecutionOutcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}
