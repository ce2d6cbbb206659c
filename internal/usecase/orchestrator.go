package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SigRelay/internal/broker"
	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// OrchestratorConfig tunes the worker pool.
type OrchestratorConfig struct {
	Workers      int
	Lease        time.Duration
	OrderTimeout time.Duration
	SignalTTL    time.Duration
	IdleDelay    time.Duration
}

// Orchestrator runs the worker pool that drains the job queue and
// drives signals through the broker. Workers hold one lease at a time;
// every writeback carries the lease's fencing token so work finished
// after a lease expired cannot clobber a newer attempt.
type Orchestrator struct {
	cfg        OrchestratorConfig
	queue      drepo.JobQueue
	store      drepo.SignalStore
	router     *broker.Router
	reconciler *Reconciler
	metrics    drepo.Metrics
	log        *logger.Logger

	wg sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(
	lgr *logger.Logger,
	cfg OrchestratorConfig,
	queue drepo.JobQueue,
	store drepo.SignalStore,
	router *broker.Router,
	reconciler *Reconciler,
	metrics drepo.Metrics,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 5 * time.Second
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 200 * time.Millisecond
	}
	return &Orchestrator{
		cfg:        cfg,
		queue:      queue,
		store:      store,
		router:     router,
		reconciler: reconciler,
		metrics:    metrics,
		log:        lgr,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained their in-flight job.
func (o *Orchestrator) Run(ctx context.Context) {
	for w := 0; w < o.cfg.Workers; w++ {
		workerID := fmt.Sprintf("worker-%d", w)
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.workerLoop(ctx, workerID)
		}()
	}
	o.wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		worked, err := o.ProcessNext(ctx, workerID)
		if err != nil {
			o.log.Error("process job", logger.String("worker", workerID), logger.Error(err))
			o.metrics.RecordError("process_job")
		}
		if !worked {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.IdleDelay):
			}
		}
	}
}

// Drain processes jobs until the queue reports empty. Used by the node
// scheduler's execution node and by tests.
func (o *Orchestrator) Drain(ctx context.Context, workerID string) error {
	for {
		worked, err := o.ProcessNext(ctx, workerID)
		if err != nil {
			return err
		}
		if !worked {
			return nil
		}
	}
}

// ProcessNext claims at most one job and drives it to an ack or a nack.
// Returns false when nothing was eligible.
func (o *Orchestrator) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := o.queue.Claim(ctx, workerID, o.cfg.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		if depth, derr := o.queue.Depth(ctx); derr == nil {
			o.metrics.RecordQueueDepth(depth)
		}
		return false, nil
	}
	o.metrics.RecordJobClaimed()

	sig, err := o.store.SignalByID(ctx, job.SignalID)
	if err != nil {
		if errors.Is(err, models.ErrSignalNotFound) {
			// queue entry outlived its signal; drop it
			o.ack(ctx, job)
			return true, nil
		}
		o.nack(ctx, job, sig, "transient: store read failed")
		return true, err
	}

	switch {
	case sig.Status.Terminal():
		// duplicate delivery after the signal already finished
		o.ack(ctx, job)
		return true, nil

	case sig.CancelRequested:
		o.finalize(ctx, job, sig, models.StatusCancelled, "")
		return true, nil

	case o.cfg.SignalTTL > 0 && time.Since(sig.CreatedAt) > o.cfg.SignalTTL:
		o.finalize(ctx, job, sig, models.StatusExpired, models.ErrStaleSignal.Error())
		return true, nil

	case sig.Status == models.StatusReceived:
		// intake enqueued before its queued transition landed
		o.nack(ctx, job, sig, "transient: signal not queued yet")
		return true, nil

	case sig.Status == models.StatusDispatched,
		sig.Status == models.StatusPartiallyFilled:
		// a previous holder already placed the order and died before its
		// ack; the broker side effect exists, so only fill polling may
		// finish this signal
		o.ack(ctx, job)
		return true, nil
	}

	if sig.Status == models.StatusQueued {
		sig, err = o.reconciler.Transition(ctx, sig.ID, models.StatusClaimed, job.FencingToken, workerID, nil)
		if err != nil {
			if errors.Is(err, models.ErrFencingConflict) {
				// a newer claim owns this signal; drop our copy
				o.ack(ctx, job)
				return true, nil
			}
			o.nack(ctx, job, sig, "transient: claim writeback failed")
			return true, err
		}
	}
	// a reclaimed job finds the signal already claimed; the fresh token
	// fences out whoever held it before, so dispatch proceeds directly

	return true, o.dispatch(ctx, workerID, job, sig)
}

func (o *Orchestrator) dispatch(ctx context.Context, workerID string, job *models.Job, sig *models.Signal) error {
	adapter, err := o.router.ForAccount(sig.Account)
	if err != nil {
		o.finalize(ctx, job, sig, models.StatusFailed, err.Error())
		return nil
	}

	octx, cancel := context.WithTimeout(ctx, o.cfg.OrderTimeout)
	start := time.Now()
	result, err := adapter.PlaceOrder(octx, &drepo.OrderRequest{
		SignalID:    sig.ID,
		Symbol:      sig.Symbol,
		Action:      sig.Action,
		Size:        sig.Size,
		StrategyTag: sig.StrategyTag,
		Account:     sig.Account,
	})
	cancel()
	o.metrics.RecordDispatchLatency(adapter.Name(), time.Since(start).Seconds())

	if err != nil {
		class := models.ClassifyExecError(err)
		reason := fmt.Sprintf("%s: %v", class, err)
		if class == models.ClassPermanent {
			o.finalize(ctx, job, sig, models.StatusFailed, err.Error())
			return nil
		}
		o.log.Warn("dispatch failed",
			logger.String("worker", workerID),
			logger.String("signal_id", sig.ID),
			logger.String("class", class.String()),
			logger.Int("attempt", job.Attempt),
			logger.Error(err))
		o.nack(ctx, job, sig, reason)
		return nil
	}

	_, err = o.reconciler.Transition(ctx, sig.ID, models.StatusDispatched, job.FencingToken, workerID, func(s *models.Signal) {
		s.BrokerTicketID = result.TicketID
		if result.FillPrice > 0 {
			s.FillPrice = result.FillPrice
		}
	})
	if err != nil && !errors.Is(err, models.ErrFencingConflict) {
		o.log.Error("mark dispatched",
			logger.String("signal_id", sig.ID), logger.Error(err))
	}
	o.ack(ctx, job)
	o.log.Info("order dispatched",
		logger.String("worker", workerID),
		logger.String("signal_id", sig.ID),
		logger.String("broker", adapter.Name()),
		logger.String("ticket", result.TicketID))
	return nil
}

// finalize moves the signal to a terminal status and retires the job.
func (o *Orchestrator) finalize(ctx context.Context, job *models.Job, sig *models.Signal, to models.Status, lastError string) {
	_, err := o.reconciler.Transition(ctx, sig.ID, to, job.FencingToken, "orchestrator", func(s *models.Signal) {
		if lastError != "" {
			s.LastError = lastError
		}
		s.RetryCount = job.Attempt - 1
	})
	if err != nil && !errors.Is(err, models.ErrTerminalStatus) && !errors.Is(err, models.ErrFencingConflict) {
		o.log.Error("finalize signal",
			logger.String("signal_id", sig.ID),
			logger.String("to", string(to)), logger.Error(err))
	}
	o.ack(ctx, job)
}

func (o *Orchestrator) ack(ctx context.Context, job *models.Job) {
	if err := o.queue.Ack(ctx, job); err != nil {
		if errors.Is(err, models.ErrFencingConflict) {
			o.metrics.RecordFencingConflict()
			return
		}
		o.log.Error("ack job", logger.String("signal_id", job.SignalID), logger.Error(err))
		return
	}
	o.metrics.RecordJobAcked()
}

// nack requeues the claimed signal and hands the job back to the queue.
// On dead-letter the owning signal fails with the budget marker.
func (o *Orchestrator) nack(ctx context.Context, job *models.Job, sig *models.Signal, reason string) {
	if sig != nil && sig.Status == models.StatusClaimed {
		_, err := o.reconciler.Transition(ctx, sig.ID, models.StatusQueued, job.FencingToken, "orchestrator", func(s *models.Signal) {
			s.RetryCount = job.Attempt
			s.LastError = reason
		})
		if err != nil && !errors.Is(err, models.ErrFencingConflict) {
			o.log.Error("requeue signal", logger.String("signal_id", sig.ID), logger.Error(err))
		}
	}

	disp, err := o.queue.Nack(ctx, job, reason)
	if err != nil {
		if errors.Is(err, models.ErrFencingConflict) {
			o.metrics.RecordFencingConflict()
			return
		}
		o.log.Error("nack job", logger.String("signal_id", job.SignalID), logger.Error(err))
		return
	}
	o.metrics.RecordJobNacked(reason)

	if disp == models.DispositionDeadLettered {
		o.metrics.RecordJobDeadLettered()
		_, err := o.reconciler.Transition(ctx, job.SignalID, models.StatusFailed, job.FencingToken, "orchestrator", func(s *models.Signal) {
			s.LastError = "max_attempts_exceeded"
			s.RetryCount = job.Attempt
		})
		if err != nil && !errors.Is(err, models.ErrTerminalStatus) {
			o.log.Error("fail dead-lettered signal",
				logger.String("signal_id", job.SignalID), logger.Error(err))
		}
	}
}
