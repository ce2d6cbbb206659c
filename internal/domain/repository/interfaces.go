package repository

import (
	"context"
	"time"

	"SigRelay/internal/domain/models"
)

// SignalStore is the single source of truth for signals and their audit
// trail. Implementations must make Transition atomic: the status check,
// fencing check, mutation, and audit append commit together.
type SignalStore interface {
	Init(ctx context.Context) error

	// CreateSignal persists a new signal together with its initial audit
	// record. Returns models.ErrDuplicateSignal when the idempotency key
	// is held by a non-terminal signal.
	CreateSignal(ctx context.Context, s *models.Signal) error

	SignalByID(ctx context.Context, id string) (*models.Signal, error)
	SignalByIdempotencyKey(ctx context.Context, key string) (*models.Signal, error)

	// Transition applies a compare-and-swap writeback guarded by the
	// current status and fencing token. A token lower than the persisted
	// one fails with models.ErrFencingConflict; a terminal current status
	// fails with models.ErrTerminalStatus; an edge off the lifecycle
	// graph fails with models.ErrInvalidTransition. apply may mutate
	// ticket, fill price, retry count, and last error before the write.
	// The returned previous status is the pre-image the swap was applied
	// to, read inside the same transaction.
	Transition(ctx context.Context, id string, to models.Status, token int64, actor string, apply func(*models.Signal)) (*models.Signal, models.Status, error)

	// RequestCancel flags a signal for cancellation if it has not been
	// dispatched yet. The orchestrator honors the flag right before the
	// broker call.
	RequestCancel(ctx context.Context, id string) (*models.Signal, error)

	AuditTrail(ctx context.Context, signalID string) ([]*models.AuditRecord, error)

	Health(ctx context.Context) error
	Close() error
}

// JobQueue delivers execution jobs at least once, FIFO within a partition
// key, with lease-based claims and fencing tokens.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error

	// Claim leases the next eligible job for the given worker. The lease
	// bumps the signal's fencing token. Returns (nil, nil) when no job is
	// eligible. A job not acked or nacked before its lease expires
	// becomes reclaimable, holding the partition until then.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*models.Job, error)

	Ack(ctx context.Context, job *models.Job) error

	// Nack reschedules the job with exponential backoff and jitter, or
	// dead-letters it once the attempt ceiling is exceeded. The caller
	// finalizes the owning signal on DispositionDeadLettered.
	Nack(ctx context.Context, job *models.Job, reason string) (models.Disposition, error)

	Depth(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context) ([]*models.Job, error)
	Close() error
}

// EventSink receives outbound status-change events after they are
// persisted. Delivery failures must not roll back the transition.
type EventSink interface {
	Publish(ctx context.Context, e *models.StatusChangedEvent) error
	Close() error
}

// AuditSink mirrors audit records to an analytical store for dashboard
// collaborators. Best effort, off the hot path.
type AuditSink interface {
	Append(ctx context.Context, rec *models.AuditRecord) error
	Close() error
}

// OrderRequest is the broker-facing translation of a signal.
type OrderRequest struct {
	SignalID    string
	Symbol      string
	Action      models.Action
	Size        float64
	StrategyTag string
	Account     string
}

// OrderResult is a broker acknowledgement of a placed order.
type OrderResult struct {
	TicketID  string
	FillPrice float64
}

// BrokerAdapter places orders with a concrete broker. Implementations
// must map broker-native failures into models.ExecError classes.
type BrokerAdapter interface {
	Name() string
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	ClosePosition(ctx context.Context, ticketID string) error
}

// FillPoller is implemented by adapters whose fills confirm
// asynchronously; reconciliation drains it on a schedule.
type FillPoller interface {
	PollFills(ctx context.Context) ([]*models.ExecutionOutcome, error)
}

// NodeRegistry holds operator-managed node configs and their heartbeats.
type NodeRegistry interface {
	Upsert(ctx context.Context, cfg *models.NodeConfig) error
	Get(ctx context.Context, nodeID string) (*models.NodeConfig, error)
	Delete(ctx context.Context, nodeID string) error
	List(ctx context.Context) ([]*models.NodeConfig, error)

	RecordHeartbeat(ctx context.Context, hb *models.NodeHeartbeat) error
	Heartbeat(ctx context.Context, nodeID string) (*models.NodeHeartbeat, error)
}

// Metrics records operational counters for the relay pipeline.
type Metrics interface {
	RecordAlertReceived(source, result string)
	RecordJobEnqueued(partition string)
	RecordJobClaimed()
	RecordJobAcked()
	RecordJobNacked(reason string)
	RecordJobDeadLettered()
	RecordDispatchLatency(broker string, seconds float64)
	RecordFencingConflict()
	RecordQueueDepth(n int)
	RecordNodeRun(nodeID, state string)
	RecordError(kind string)
}
