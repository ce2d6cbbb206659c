package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(logger.Nop(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSignal(id, key string) *models.Signal {
	return &models.Signal{
		ID:              id,
		Source:          "tradingview",
		ExternalAlertID: "alert-" + id,
		IdempotencyKey:  key,
		Symbol:          "EURUSD",
		Action:          models.ActionBuy,
		Size:            0.5,
		Account:         "default",
		Status:          models.StatusReceived,
	}
}

func TestCreateAndFetchSignal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.SignalByID(ctx, "sig-1")
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if got.Symbol != "EURUSD" || got.Status != models.StatusReceived {
		t.Fatalf("unexpected signal %+v", got)
	}

	byKey, err := store.SignalByIdempotencyKey(ctx, "key-1")
	if err != nil || byKey.ID != "sig-1" {
		t.Fatalf("by key: %+v %v", byKey, err)
	}

	if _, err := store.SignalByID(ctx, "missing"); !errors.Is(err, models.ErrSignalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateDuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CreateSignal(ctx, testSignal("sig-2", "key-1"))
	if !errors.Is(err, models.ErrDuplicateSignal) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestTerminalSignalReleasesKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusFailed, 0, "test", nil); err != nil {
		t.Fatalf("fail signal: %v", err)
	}

	// the key belongs to a terminal signal now; a fresh alert reusing it
	// must be storable
	if err := store.CreateSignal(ctx, testSignal("sig-2", "key-1")); err != nil {
		t.Fatalf("create after terminal: %v", err)
	}
}

func TestTransitionLifecycleAndAudit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		to    models.Status
		token int64
		actor string
	}{
		{models.StatusQueued, 0, "intake"},
		{models.StatusClaimed, 1, "worker-0"},
		{models.StatusDispatched, 1, "worker-0"},
		{models.StatusFilled, 1, "reconciler"},
	}
	for _, step := range steps {
		if _, _, err := store.Transition(ctx, "sig-1", step.to, step.token, step.actor, nil); err != nil {
			t.Fatalf("transition to %s: %v", step.to, err)
		}
	}

	trail, err := store.AuditTrail(ctx, "sig-1")
	if err != nil {
		t.Fatalf("audit trail: %v", err)
	}
	want := []models.Status{
		models.StatusReceived, models.StatusQueued, models.StatusClaimed,
		models.StatusDispatched, models.StatusFilled,
	}
	if len(trail) != len(want) {
		t.Fatalf("expected %d audit rows, got %d", len(want), len(trail))
	}
	for i, rec := range trail {
		if rec.NewStatus != want[i] {
			t.Fatalf("audit row %d: expected %s, got %s", i, want[i], rec.NewStatus)
		}
	}
	if trail[1].Actor != "intake" || trail[2].Actor != "worker-0" {
		t.Fatalf("unexpected actors: %s %s", trail[1].Actor, trail[2].Actor)
	}
}

func TestTransitionStaleTokenRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusQueued, 0, "intake", nil); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusClaimed, 3, "worker-1", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// a worker whose lease expired writes back with its old token
	_, _, err := store.Transition(ctx, "sig-1", models.StatusDispatched, 2, "worker-0", nil)
	if !errors.Is(err, models.ErrFencingConflict) {
		t.Fatalf("expected fencing conflict, got %v", err)
	}

	// the current holder is unaffected
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusDispatched, 3, "worker-1", nil); err != nil {
		t.Fatalf("current holder: %v", err)
	}
}

func TestTransitionTerminalImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusCancelled, 0, "operator", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, _, err := store.Transition(ctx, "sig-1", models.StatusQueued, 0, "intake", nil)
	if !errors.Is(err, models.ErrTerminalStatus) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestTransitionInvalidEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _, err := store.Transition(ctx, "sig-1", models.StatusDispatched, 0, "worker-0", nil)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransitionApplyMutations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusQueued, 0, "intake", nil); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusClaimed, 1, "worker-0", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	sig, _, err := store.Transition(ctx, "sig-1", models.StatusDispatched, 1, "worker-0", func(s *models.Signal) {
		s.BrokerTicketID = "ticket-9"
		s.FillPrice = 1.0842
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sig.BrokerTicketID != "ticket-9" || sig.FillPrice != 1.0842 {
		t.Fatalf("apply not persisted in return: %+v", sig)
	}

	got, _ := store.SignalByID(ctx, "sig-1")
	if got.BrokerTicketID != "ticket-9" || got.FillPrice != 1.0842 {
		t.Fatalf("apply not persisted: %+v", got)
	}
	if got.FencingToken != 1 {
		t.Fatalf("token not persisted: %d", got.FencingToken)
	}
}

func TestRequestCancel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := store.Transition(ctx, "sig-1", models.StatusQueued, 0, "intake", nil); err != nil {
		t.Fatalf("queue: %v", err)
	}

	sig, err := store.RequestCancel(ctx, "sig-1")
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if !sig.CancelRequested {
		t.Fatal("cancel flag not set")
	}

	got, _ := store.SignalByID(ctx, "sig-1")
	if !got.CancelRequested {
		t.Fatal("cancel flag not persisted")
	}
}

func TestRequestCancelAfterDispatchRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, to := range []models.Status{models.StatusQueued, models.StatusClaimed, models.StatusDispatched} {
		if _, _, err := store.Transition(ctx, "sig-1", to, 0, "test", nil); err != nil {
			t.Fatalf("to %s: %v", to, err)
		}
	}

	if _, err := store.RequestCancel(ctx, "sig-1"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransitionReturnsPreImage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, prev, err := store.Transition(ctx, "sig-1", models.StatusQueued, 0, "intake", nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if prev != models.StatusReceived {
		t.Fatalf("expected pre-image received, got %s", prev)
	}

	sig, prev, err := store.Transition(ctx, "sig-1", models.StatusClaimed, 1, "worker-0", nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if prev != models.StatusQueued || sig.Status != models.StatusClaimed {
		t.Fatalf("expected queued -> claimed, got %s -> %s", prev, sig.Status)
	}
}

func TestPartialFillKeepsIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, testSignal("sig-1", "key-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, to := range []models.Status{
		models.StatusQueued, models.StatusClaimed,
		models.StatusDispatched, models.StatusPartiallyFilled,
	} {
		if _, _, err := store.Transition(ctx, "sig-1", to, 0, "test", nil); err != nil {
			t.Fatalf("to %s: %v", to, err)
		}
	}

	// still in flight: a redelivery of the same alert must be refused
	if err := store.CreateSignal(ctx, testSignal("sig-2", "key-1")); !errors.Is(err, models.ErrDuplicateSignal) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	if _, _, err := store.Transition(ctx, "sig-1", models.StatusFilled, 0, "reconciler", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.CreateSignal(ctx, testSignal("sig-2", "key-1")); err != nil {
		t.Fatalf("terminal signal should release the key: %v", err)
	}
}
