// Package usecase holds the relay pipeline's business logic: alert
// intake, the execution orchestrator, and broker reconciliation.
package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// ErrBadSignature rejects webhook deliveries whose HMAC does not match.
var ErrBadSignature = errors.New("signature mismatch")

// secretEntry is one immutable version of the webhook secret. Rotation
// swaps the whole entry instead of mutating the key in place.
type secretEntry struct {
	version uint64
	key     []byte
}

// Intake turns verified webhook alerts into stored, queued signals.
// Acceptance is idempotent on (source, externalAlertId) while the
// earlier signal is still in flight.
type Intake struct {
	secret     atomic.Pointer[secretEntry]
	store      drepo.SignalStore
	queue      drepo.JobQueue
	reconciler *Reconciler
	metrics    drepo.Metrics
	log        *logger.Logger
}

// NewIntake creates a new Intake instance.
func NewIntake(
	lgr *logger.Logger,
	secret string,
	store drepo.SignalStore,
	queue drepo.JobQueue,
	reconciler *Reconciler,
	metrics drepo.Metrics,
) *Intake {
	i := &Intake{
		store:      store,
		queue:      queue,
		reconciler: reconciler,
		metrics:    metrics,
		log:        lgr,
	}
	i.secret.Store(&secretEntry{version: 1, key: []byte(secret)})
	return i
}

// ReloadSecret swaps in a new webhook secret and returns its version.
// In-flight verifications finish against the entry they loaded.
func (i *Intake) ReloadSecret(secret string) uint64 {
	next := &secretEntry{
		version: i.secret.Load().version + 1,
		key:     []byte(secret),
	}
	i.secret.Store(next)
	i.log.Info("webhook secret reloaded", logger.Int64("version", int64(next.version)))
	return next.version
}

// VerifySignature checks the hex HMAC-SHA256 of the raw request body.
// Callers must pass the body bytes exactly as received.
func (i *Intake) VerifySignature(body []byte, signature string) error {
	mac := hmac.New(sha256.New, i.secret.Load().key)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// SignBody computes the hex HMAC-SHA256 a sender puts on a delivery.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// IdempotencyKey derives the dedup key for an alert.
func IdempotencyKey(source, externalAlertID string) string {
	sum := sha256.Sum256([]byte(source + ":" + externalAlertID))
	return hex.EncodeToString(sum[:])
}

// Accept stores the alert as a signal and enqueues its first execution
// attempt. A redelivery of an in-flight alert returns the existing
// signal id without side effects.
func (i *Intake) Accept(ctx context.Context, req *models.AlertRequest) (*models.AlertResponse, error) {
	key := IdempotencyKey(req.Source, req.ExternalAlertID)

	if existing, err := i.store.SignalByIdempotencyKey(ctx, key); err == nil {
		if !existing.Status.Terminal() {
			i.metrics.RecordAlertReceived(req.Source, "duplicate")
			i.log.Debug("duplicate alert",
				logger.String("source", req.Source),
				logger.String("signal_id", existing.ID))
			return &models.AlertResponse{Accepted: true, SignalID: existing.ID}, nil
		}
	} else if !errors.Is(err, models.ErrSignalNotFound) {
		return nil, err
	}

	sig := &models.Signal{
		ID:              uuid.NewString(),
		Source:          req.Source,
		ExternalAlertID: req.ExternalAlertID,
		IdempotencyKey:  key,
		Symbol:          req.Symbol,
		Action:          models.Action(req.Action),
		Size:            req.Size,
		StrategyTag:     req.StrategyTag,
		Account:         req.Account,
		Status:          models.StatusReceived,
	}

	if err := i.store.CreateSignal(ctx, sig); err != nil {
		if errors.Is(err, models.ErrDuplicateSignal) {
			// lost a race with a concurrent delivery of the same alert
			existing, lerr := i.store.SignalByIdempotencyKey(ctx, key)
			if lerr != nil {
				return nil, lerr
			}
			i.metrics.RecordAlertReceived(req.Source, "duplicate")
			return &models.AlertResponse{Accepted: true, SignalID: existing.ID}, nil
		}
		return nil, err
	}
	i.reconciler.NotifyCreated(ctx, sig)

	now := time.Now()
	job := &models.Job{
		SignalID:     sig.ID,
		PartitionKey: sig.PartitionKey(),
		Attempt:      1,
		NextRunAt:    now,
		EnqueuedAt:   now,
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	i.metrics.RecordJobEnqueued(job.PartitionKey)

	if _, err := i.reconciler.Transition(ctx, sig.ID, models.StatusQueued, 0, "intake", nil); err != nil {
		// the job is already in the queue; a worker claiming early sees
		// the signal still in received and requeues with backoff
		i.log.Warn("mark queued", logger.String("signal_id", sig.ID), logger.Error(err))
	}

	i.metrics.RecordAlertReceived(req.Source, "accepted")
	i.log.Info("alert accepted",
		logger.String("source", req.Source),
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("action", string(sig.Action)))
	return &models.AlertResponse{Accepted: true, SignalID: sig.ID}, nil
}

// Cancel flags a signal for cancellation before dispatch.
func (i *Intake) Cancel(ctx context.Context, signalID string) (*models.Signal, error) {
	sig, err := i.store.RequestCancel(ctx, signalID)
	if err != nil {
		return nil, err
	}
	// a signal still waiting for its first claim can finish right away;
	// claimed ones are cancelled by the worker holding the lease
	if sig.Status == models.StatusReceived || sig.Status == models.StatusQueued {
		if done, terr := i.reconciler.Transition(ctx, sig.ID, models.StatusCancelled, 0, "operator", nil); terr == nil {
			return done, nil
		}
	}
	return sig, nil
}
