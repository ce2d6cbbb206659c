package usecase

import (
	"context"
	"errors"
	"time"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// Reconciler owns every signal status change after intake. It funnels
// all writebacks through the store's compare-and-swap, then mirrors the
// audit record and publishes the outbound event. Event and mirror
// failures never roll back a persisted transition.
type Reconciler struct {
	store   drepo.SignalStore
	events  drepo.EventSink
	audit   drepo.AuditSink
	metrics drepo.Metrics
	log     *logger.Logger
}

// NewReconciler creates a new Reconciler instance.
func NewReconciler(
	lgr *logger.Logger,
	store drepo.SignalStore,
	events drepo.EventSink,
	audit drepo.AuditSink,
	metrics drepo.Metrics,
) *Reconciler {
	return &Reconciler{
		store:   store,
		events:  events,
		audit:   audit,
		metrics: metrics,
		log:     lgr,
	}
}

// Transition persists a status change and then fans it out. Errors from
// the store pass through unchanged so callers can branch on the
// sentinels.
func (r *Reconciler) Transition(ctx context.Context, id string, to models.Status, token int64, actor string, apply func(*models.Signal)) (*models.Signal, error) {
	sig, prev, err := r.store.Transition(ctx, id, to, token, actor, apply)
	if err != nil {
		if errors.Is(err, models.ErrFencingConflict) {
			r.metrics.RecordFencingConflict()
			r.log.Warn("stale writeback discarded",
				logger.String("signal_id", id),
				logger.String("to", string(to)),
				logger.Int64("token", token))
		}
		return nil, err
	}

	r.fanOut(ctx, &models.AuditRecord{
		SignalID:       id,
		PreviousStatus: prev,
		NewStatus:      to,
		Actor:          actor,
		At:             sig.UpdatedAt,
	}, sig)
	return sig, nil
}

// NotifyCreated publishes the creation event for a freshly stored
// signal. The store already wrote the audit row inside CreateSignal.
func (r *Reconciler) NotifyCreated(ctx context.Context, sig *models.Signal) {
	r.publish(ctx, &models.StatusChangedEvent{
		SignalID:  sig.ID,
		NewStatus: sig.Status,
		At:        sig.CreatedAt,
	})
	r.mirror(ctx, &models.AuditRecord{
		SignalID:  sig.ID,
		NewStatus: sig.Status,
		Actor:     "intake",
		At:        sig.CreatedAt,
	})
}

// OnExecutionOutcome folds a broker-side result into the signal. Safe to
// call more than once per outcome; terminal signals absorb duplicates.
func (r *Reconciler) OnExecutionOutcome(ctx context.Context, out *models.ExecutionOutcome) error {
	sig, err := r.store.SignalByID(ctx, out.SignalID)
	if err != nil {
		return err
	}
	if sig.Status.Terminal() {
		if sig.Status != out.Status {
			r.log.Debug("late outcome for terminal signal",
				logger.String("signal_id", out.SignalID),
				logger.String("have", string(sig.Status)),
				logger.String("got", string(out.Status)))
		}
		return nil
	}
	if sig.Status == out.Status {
		// duplicate delivery of a non-terminal outcome, nothing to fold
		return nil
	}

	_, err = r.Transition(ctx, out.SignalID, out.Status, out.FencingToken, "reconciler", func(s *models.Signal) {
		if out.TicketID != "" {
			s.BrokerTicketID = out.TicketID
		}
		if out.FillPrice > 0 {
			s.FillPrice = out.FillPrice
		}
		if out.Error != "" {
			s.LastError = out.Error
		}
	})
	if errors.Is(err, models.ErrTerminalStatus) {
		return nil
	}
	return err
}

// PollFills drains the given pollers once and folds every outcome in.
// Runs on a schedule under the node scheduler.
func (r *Reconciler) PollFills(ctx context.Context, pollers []drepo.FillPoller) error {
	var first error
	for _, p := range pollers {
		outs, err := p.PollFills(ctx)
		if err != nil {
			if first == nil {
				first = err
			}
			r.metrics.RecordError("poll_fills")
			continue
		}
		for _, out := range outs {
			if err := r.OnExecutionOutcome(ctx, out); err != nil {
				r.log.Error("fold outcome",
					logger.String("signal_id", out.SignalID), logger.Error(err))
				r.metrics.RecordError("fold_outcome")
			}
		}
	}
	return first
}

func (r *Reconciler) fanOut(ctx context.Context, rec *models.AuditRecord, sig *models.Signal) {
	r.publish(ctx, &models.StatusChangedEvent{
		SignalID:       sig.ID,
		PreviousStatus: rec.PreviousStatus,
		NewStatus:      rec.NewStatus,
		BrokerTicketID: sig.BrokerTicketID,
		Error:          sig.LastError,
		At:             rec.At,
	})
	r.mirror(ctx, rec)
}

func (r *Reconciler) publish(ctx context.Context, e *models.StatusChangedEvent) {
	if err := r.events.Publish(ctx, e); err != nil {
		r.log.Error("publish status event",
			logger.String("signal_id", e.SignalID), logger.Error(err))
		r.metrics.RecordError("event_publish")
	}
}

func (r *Reconciler) mirror(ctx context.Context, rec *models.AuditRecord) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.audit.Append(mctx, rec); err != nil {
		r.log.Warn("audit mirror append",
			logger.String("signal_id", rec.SignalID), logger.Error(err))
		r.metrics.RecordError("audit_mirror")
	}
}
