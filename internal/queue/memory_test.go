package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

func newTestQueue(cfg Config) (*MemoryQueue, *time.Time) {
	q := NewMemoryQueue(logger.Nop(), cfg)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := &now
	var mu sync.Mutex
	q.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *current
	})
	return q, current
}

func job(signalID, partition string) *models.Job {
	return &models.Job{SignalID: signalID, PartitionKey: partition, Attempt: 1}
}

func TestClaimFIFOWithinPartition(t *testing.T) {
	q, _ := newTestQueue(Config{})
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := q.Enqueue(ctx, job(id, "EURUSD:default")); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	j1, err := q.Claim(ctx, "w1", 30*time.Second)
	if err != nil || j1 == nil {
		t.Fatalf("first claim: %v %v", j1, err)
	}
	if j1.SignalID != "s1" {
		t.Fatalf("expected s1 first, got %s", j1.SignalID)
	}

	// the partition is leased; s2 must not be claimable yet
	if j, _ := q.Claim(ctx, "w2", 30*time.Second); j != nil {
		t.Fatalf("partition should be busy, claimed %s", j.SignalID)
	}

	if err := q.Ack(ctx, j1); err != nil {
		t.Fatalf("ack: %v", err)
	}
	j2, _ := q.Claim(ctx, "w2", 30*time.Second)
	if j2 == nil || j2.SignalID != "s2" {
		t.Fatalf("expected s2 next, got %+v", j2)
	}
}

func TestClaimIndependentPartitions(t *testing.T) {
	q, _ := newTestQueue(Config{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, job("s2", "GBPUSD:a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j1, _ := q.Claim(ctx, "w1", 30*time.Second)
	j2, _ := q.Claim(ctx, "w2", 30*time.Second)
	if j1 == nil || j2 == nil {
		t.Fatalf("both partitions should be claimable: %v %v", j1, j2)
	}
	if j1.PartitionKey == j2.PartitionKey {
		t.Fatalf("same partition leased twice: %s", j1.PartitionKey)
	}
}

func TestLeaseExpiryReclaim(t *testing.T) {
	q, clock := newTestQueue(Config{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stale, _ := q.Claim(ctx, "w1", 30*time.Second)
	if stale == nil {
		t.Fatal("expected claim")
	}

	*clock = clock.Add(31 * time.Second)

	fresh, _ := q.Claim(ctx, "w2", 30*time.Second)
	if fresh == nil || fresh.SignalID != "s1" {
		t.Fatalf("expected reclaimed job, got %+v", fresh)
	}
	if fresh.FencingToken <= stale.FencingToken {
		t.Fatalf("fencing token must increase on reclaim: stale=%d fresh=%d",
			stale.FencingToken, fresh.FencingToken)
	}

	// the old worker finishing late must be fenced out
	if err := q.Ack(ctx, stale); err != models.ErrFencingConflict {
		t.Fatalf("stale ack should conflict, got %v", err)
	}
	if _, err := q.Nack(ctx, stale, "transient: late"); err != models.ErrFencingConflict {
		t.Fatalf("stale nack should conflict, got %v", err)
	}

	if err := q.Ack(ctx, fresh); err != nil {
		t.Fatalf("fresh ack: %v", err)
	}
}

func TestNackBackoffDelaysNextClaim(t *testing.T) {
	q, clock := newTestQueue(Config{BackoffBase: 2 * time.Second, BackoffMax: time.Minute})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j, _ := q.Claim(ctx, "w1", 30*time.Second)
	disp, err := q.Nack(ctx, j, "transient: broker timeout")
	if err != nil || disp != models.DispositionRetry {
		t.Fatalf("nack: disp=%v err=%v", disp, err)
	}

	// still backing off
	if j, _ := q.Claim(ctx, "w1", 30*time.Second); j != nil {
		t.Fatalf("claim during backoff should return nothing, got %+v", j)
	}

	*clock = clock.Add(time.Minute)
	j2, _ := q.Claim(ctx, "w1", 30*time.Second)
	if j2 == nil {
		t.Fatal("expected claim after backoff elapsed")
	}
	if j2.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", j2.Attempt)
	}
	if j2.LastReason != "transient: broker timeout" {
		t.Fatalf("unexpected last reason %q", j2.LastReason)
	}
}

func TestNackDeadLettersAtCeiling(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 2, BackoffBase: time.Second, BackoffMax: time.Second})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j, _ := q.Claim(ctx, "w1", 30*time.Second)
	if disp, _ := q.Nack(ctx, j, "transient: timeout"); disp != models.DispositionRetry {
		t.Fatalf("first nack should retry, got %v", disp)
	}

	*clock = clock.Add(5 * time.Second)
	j, _ = q.Claim(ctx, "w1", 30*time.Second)
	if j == nil || j.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %+v", j)
	}
	disp, err := q.Nack(ctx, j, "transient: timeout")
	if err != nil || disp != models.DispositionDeadLettered {
		t.Fatalf("second nack should dead-letter: disp=%v err=%v", disp, err)
	}

	dead, err := q.DeadLetters(ctx)
	if err != nil || len(dead) != 1 || dead[0].SignalID != "s1" {
		t.Fatalf("dead letters: %v %v", dead, err)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Fatalf("queue should be empty, depth=%d", depth)
	}
}

func TestUnknownReasonReducedBudget(t *testing.T) {
	q, _ := newTestQueue(Config{MaxAttempts: 5, UnknownMaxAttempts: 1})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j, _ := q.Claim(ctx, "w1", 30*time.Second)
	disp, err := q.Nack(ctx, j, "unknown: connection reset mid-order")
	if err != nil || disp != models.DispositionDeadLettered {
		t.Fatalf("unknown failure should hit reduced ceiling: disp=%v err=%v", disp, err)
	}
}

func TestFencingTokensStrictlyIncrease(t *testing.T) {
	q, clock := newTestQueue(Config{MaxAttempts: 10, BackoffBase: time.Second, BackoffMax: time.Second})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var last int64
	for i := 0; i < 4; i++ {
		j, _ := q.Claim(ctx, "w1", 30*time.Second)
		if j == nil {
			t.Fatalf("claim %d returned nothing", i)
		}
		if j.FencingToken <= last {
			t.Fatalf("token not increasing: %d after %d", j.FencingToken, last)
		}
		last = j.FencingToken
		if _, err := q.Nack(ctx, j, "transient: retry"); err != nil {
			t.Fatalf("nack %d: %v", i, err)
		}
		*clock = clock.Add(5 * time.Second)
	}
}

func TestConcurrentClaimsSinglePartition(t *testing.T) {
	q, _ := newTestQueue(Config{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var mu sync.Mutex
	var got []*models.Job
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, err := q.Claim(ctx, "w", 30*time.Second)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if j != nil {
				mu.Lock()
				got = append(got, j)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(got) != 1 {
		t.Fatalf("exactly one worker should win the lease, got %d", len(got))
	}
}

func TestBackoffBounds(t *testing.T) {
	base := time.Second
	max := 8 * time.Second
	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(attempt, base, max)
		if d < base/2 {
			t.Fatalf("attempt %d: delay %v below half base", attempt, d)
		}
		if d > max {
			t.Fatalf("attempt %d: delay %v above cap", attempt, d)
		}
	}
}

func TestClosedQueueRejectsWork(t *testing.T) {
	q, _ := newTestQueue(Config{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, job("s1", "EURUSD:default")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := q.Enqueue(ctx, job("s2", "EURUSD:default")); err == nil {
		t.Fatal("enqueue on a closed queue should fail")
	}
	if _, err := q.Claim(ctx, "w1", time.Minute); err == nil {
		t.Fatal("claim on a closed queue should fail")
	}
}
