package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

// Config bounds retries and leases for a job queue.
type Config struct {
	MaxAttempts int
	// UnknownMaxAttempts is the reduced ceiling applied to failures the
	// broker could not classify.
	UnknownMaxAttempts int
	BackoffBase        time.Duration
	BackoffMax         time.Duration
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.UnknownMaxAttempts <= 0 || c.UnknownMaxAttempts > c.MaxAttempts {
		c.UnknownMaxAttempts = c.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Minute
	}
}

// ceiling picks the attempt budget for a nack reason. Reasons are
// prefixed with the error class by the orchestrator.
func (c *Config) ceiling(reason string) int {
	if strings.HasPrefix(reason, "unknown") {
		return c.UnknownMaxAttempts
	}
	return c.MaxAttempts
}

// partition serializes jobs sharing a partition key. The head job may be
// leased; jobs behind it never overtake.
type partition struct {
	pending []*models.Job
	leased  *models.Job
}

// MemoryQueue is the in-process reference implementation of the job
// queue contract: strict FIFO per partition, lease-based claims with
// expiry, strictly increasing fencing tokens per signal, exponential
// backoff with jitter, and a dead-letter tail.
type MemoryQueue struct {
	log *logger.Logger
	cfg Config

	mu     sync.Mutex
	parts  map[string]*partition
	order  []string // stable claim iteration order
	rr     int      // round-robin cursor over order
	tokens map[string]int64
	dead   []*models.Job
	clock  func() time.Time
	closed bool
}

// NewMemoryQueue creates an in-memory job queue.
func NewMemoryQueue(lgr *logger.Logger, cfg Config) *MemoryQueue {
	cfg.normalize()
	return &MemoryQueue{
		log:    lgr,
		cfg:    cfg,
		parts:  make(map[string]*partition),
		tokens: make(map[string]int64),
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Tests use it to expire leases
// without sleeping.
func (q *MemoryQueue) SetClock(clock func() time.Time) {
	q.mu.Lock()
	q.clock = clock
	q.mu.Unlock()
}

// Enqueue appends the job to its partition's tail.
func (q *MemoryQueue) Enqueue(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed
	}

	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	job.EnqueuedAt = q.clock()
	if job.NextRunAt.IsZero() {
		job.NextRunAt = job.EnqueuedAt
	}

	p, ok := q.parts[job.PartitionKey]
	if !ok {
		p = &partition{}
		q.parts[job.PartitionKey] = p
		q.order = append(q.order, job.PartitionKey)
	}
	p.pending = append(p.pending, job)
	return nil
}

// Claim leases the head job of the next eligible partition. A partition
// whose lease has expired is reclaimed here: the abandoned job returns to
// the head and may be leased again with a fresh, higher fencing token.
func (q *MemoryQueue) Claim(_ context.Context, workerID string, lease time.Duration) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errClosed
	}

	now := q.clock()
	n := len(q.order)
	for i := 0; i < n; i++ {
		key := q.order[(q.rr+i)%n]
		p := q.parts[key]
		if p == nil {
			continue
		}

		if p.leased != nil {
			if now.Before(p.leased.ClaimExpiresAt) {
				continue // partition busy
			}
			// lease expired: the job becomes reclaimable
			q.log.Warn("lease expired, reclaiming job",
				logger.String("signal_id", p.leased.SignalID),
				logger.String("worker", p.leased.ClaimedBy),
			)
			p.pending = append([]*models.Job{p.leased}, p.pending...)
			p.leased = nil
		}

		if len(p.pending) == 0 {
			continue
		}
		head := p.pending[0]
		if head.NextRunAt.After(now) {
			continue // backing off
		}

		p.pending = p.pending[1:]
		q.tokens[head.SignalID]++
		head.FencingToken = q.tokens[head.SignalID]
		head.ClaimedBy = workerID
		head.ClaimExpiresAt = now.Add(lease)
		p.leased = head
		q.rr = (q.rr + i + 1) % n

		cp := *head
		return &cp, nil
	}
	return nil, nil
}

// Ack completes the leased job. A stale fencing token means the lease
// expired and someone else holds the job now; the ack is rejected.
func (q *MemoryQueue) Ack(_ context.Context, job *models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.parts[job.PartitionKey]
	if p == nil || p.leased == nil || p.leased.SignalID != job.SignalID {
		return models.ErrFencingConflict
	}
	if job.FencingToken != q.tokens[job.SignalID] {
		return models.ErrFencingConflict
	}
	p.leased = nil
	q.gcPartition(job.PartitionKey, p)
	return nil
}

// Nack releases the lease and either reschedules the job with backoff or
// dead-letters it once its attempt ceiling is exceeded.
func (q *MemoryQueue) Nack(_ context.Context, job *models.Job, reason string) (models.Disposition, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := q.parts[job.PartitionKey]
	if p == nil || p.leased == nil || p.leased.SignalID != job.SignalID {
		return 0, models.ErrFencingConflict
	}
	if job.FencingToken != q.tokens[job.SignalID] {
		return 0, models.ErrFencingConflict
	}

	held := p.leased
	p.leased = nil
	held.ClaimedBy = ""
	held.LastReason = reason

	if held.Attempt >= q.cfg.ceiling(reason) {
		q.dead = append(q.dead, held)
		q.gcPartition(job.PartitionKey, p)
		q.log.Error("job dead-lettered",
			logger.String("signal_id", held.SignalID),
			logger.Int("attempt", held.Attempt),
			logger.String("reason", reason),
		)
		return models.DispositionDeadLettered, nil
	}

	held.Attempt++
	delay := Backoff(held.Attempt, q.cfg.BackoffBase, q.cfg.BackoffMax)
	held.BackoffSeconds = delay.Seconds()
	held.NextRunAt = q.clock().Add(delay)
	// back to the head: FIFO within the partition is preserved
	p.pending = append([]*models.Job{held}, p.pending...)
	return models.DispositionRetry, nil
}

// Depth counts pending and leased jobs.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, p := range q.parts {
		n += len(p.pending)
		if p.leased != nil {
			n++
		}
	}
	return n, nil
}

// DeadLetters returns a snapshot of dead-lettered jobs.
func (q *MemoryQueue) DeadLetters(_ context.Context) ([]*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Job, len(q.dead))
	copy(out, q.dead)
	return out, nil
}

// Close marks the queue closed; further enqueues and claims fail.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) gcPartition(key string, p *partition) {
	if len(p.pending) > 0 || p.leased != nil {
		return
	}
	delete(q.parts, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if len(q.order) > 0 {
		q.rr %= len(q.order)
	} else {
		q.rr = 0
	}
}
