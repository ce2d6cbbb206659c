package usecase

import (
	"context"
	"testing"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/queue"
)

func TestAcceptStoresAndQueues(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	ctx := context.Background()

	resp, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !resp.Accepted || resp.SignalID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	sig, err := p.store.SignalByID(ctx, resp.SignalID)
	if err != nil {
		t.Fatalf("fetch signal: %v", err)
	}
	if sig.Status != models.StatusQueued {
		t.Fatalf("expected queued, got %s", sig.Status)
	}
	if sig.IdempotencyKey != IdempotencyKey("tradingview", "a-1") {
		t.Fatalf("unexpected idempotency key %s", sig.IdempotencyKey)
	}

	if depth, _ := p.queue.Depth(ctx); depth != 1 {
		t.Fatalf("expected one queued job, depth=%d", depth)
	}
}

func TestAcceptIdempotentWhileInFlight(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	ctx := context.Background()

	first, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	second, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if second.SignalID != first.SignalID {
		t.Fatalf("redelivery created a new signal: %s vs %s", second.SignalID, first.SignalID)
	}

	// exactly one execution job despite two deliveries
	if depth, _ := p.queue.Depth(ctx); depth != 1 {
		t.Fatalf("expected one job, depth=%d", depth)
	}
}

func TestAcceptAgainAfterTerminal(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	ctx := context.Background()

	first, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := p.rec.Transition(ctx, first.SignalID, models.StatusCancelled, 0, "operator", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	second, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("accept after terminal: %v", err)
	}
	if second.SignalID == first.SignalID {
		t.Fatal("redelivery after terminal should create a new signal")
	}
}

func TestSignatureVerification(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	body := []byte(`{"source":"tradingview"}`)

	sig := SignBody(testSecret, body)
	if err := p.intake.VerifySignature(body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := p.intake.VerifySignature(body, "deadbeef"); err != ErrBadSignature {
		t.Fatalf("expected bad signature, got %v", err)
	}
	if err := p.intake.VerifySignature([]byte(`{"source":"x"}`), sig); err != ErrBadSignature {
		t.Fatalf("tampered body should fail, got %v", err)
	}
}

func TestSecretRotation(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	body := []byte(`{"source":"tradingview"}`)
	oldSig := SignBody(testSecret, body)

	if v := p.intake.ReloadSecret("rotated"); v != 2 {
		t.Fatalf("expected version 2, got %d", v)
	}
	if err := p.intake.VerifySignature(body, oldSig); err != ErrBadSignature {
		t.Fatalf("old secret should stop verifying, got %v", err)
	}
	if err := p.intake.VerifySignature(body, SignBody("rotated", body)); err != nil {
		t.Fatalf("new secret rejected: %v", err)
	}
}

func TestCancelBeforeClaim(t *testing.T) {
	p := newPipeline(t, nil, queue.Config{}, OrchestratorConfig{})
	ctx := context.Background()

	resp, err := p.intake.Accept(ctx, alertReq("a-1"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	sig, err := p.intake.Cancel(ctx, resp.SignalID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sig.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", sig.Status)
	}

	// the queued job is retired as a no-op when a worker reaches it
	worked, err := p.orch.ProcessNext(ctx, "w1")
	if err != nil || !worked {
		t.Fatalf("process: worked=%v err=%v", worked, err)
	}
	if depth, _ := p.queue.Depth(ctx); depth != 0 {
		t.Fatalf("job should be retired, depth=%d", depth)
	}
}
