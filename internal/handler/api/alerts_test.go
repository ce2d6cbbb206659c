package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/queue"
	internalrepo "SigRelay/internal/repository"
	"SigRelay/internal/service/ratelimit"
	"SigRelay/internal/usecase"
	"SigRelay/pkg/logger"
)

const testSecret = "webhook-secret"

type alertsFixture struct {
	e     *echo.Echo
	store drepo.SignalStore
}

func newAlertsFixture(t *testing.T, rlCapacity float64) *alertsFixture {
	t.Helper()
	lgr := logger.Nop()

	store, err := internalrepo.NewSQLiteStore(lgr, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q := queue.NewMemoryQueue(lgr, queue.Config{})
	m := drepo.NopMetrics{}
	rec := usecase.NewReconciler(lgr, store, internalrepo.NewMemorySink(lgr), internalrepo.NopAudit{}, m)
	in := usecase.NewIntake(lgr, testSecret, store, q, rec, m)
	rl := ratelimit.New(rlCapacity, 0.001)

	e := echo.New()
	NewAlertsHandler(lgr, in, store, q, rl).RegisterRoutes(e)
	return &alertsFixture{e: e, store: store}
}

func postAlert(f *alertsFixture, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/alerts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func validBody(externalID string) string {
	return `{"source":"tradingview","externalAlertId":"` + externalID +
		`","symbol":"EURUSD","action":"buy","size":0.5}`
}

func TestPostAlertAccepted(t *testing.T) {
	f := newAlertsFixture(t, 10)
	body := validBody("a-1")

	rec := postAlert(f, body, usecase.SignBody(testSecret, []byte(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data models.AlertResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Accepted || envelope.Data.SignalID == "" {
		t.Fatalf("unexpected payload %+v", envelope.Data)
	}

	sig, err := f.store.SignalByID(context.Background(), envelope.Data.SignalID)
	if err != nil {
		t.Fatalf("signal not stored: %v", err)
	}
	if sig.Account != "default" {
		t.Fatalf("account default not applied: %q", sig.Account)
	}
}

func TestPostAlertBadSignatureLeavesNoTrace(t *testing.T) {
	f := newAlertsFixture(t, 10)
	body := validBody("a-1")

	rec := postAlert(f, body, "0000")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	key := usecase.IdempotencyKey("tradingview", "a-1")
	if _, err := f.store.SignalByIdempotencyKey(context.Background(), key); !errors.Is(err, models.ErrSignalNotFound) {
		t.Fatalf("rejected delivery must not store a signal, got %v", err)
	}
}

func TestPostAlertMissingSignature(t *testing.T) {
	f := newAlertsFixture(t, 10)
	body := validBody("a-1")

	if rec := postAlert(f, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPostAlertInvalidPayload(t *testing.T) {
	f := newAlertsFixture(t, 10)
	body := `{"source":"tradingview","externalAlertId":"a-1","symbol":"EURUSD","action":"hold","size":0.5}`

	rec := postAlert(f, body, usecase.SignBody(testSecret, []byte(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPostAlertRateLimited(t *testing.T) {
	f := newAlertsFixture(t, 1)

	body := validBody("a-1")
	if rec := postAlert(f, body, usecase.SignBody(testSecret, []byte(body))); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: %d", rec.Code)
	}

	body2 := validBody("a-2")
	if rec := postAlert(f, body2, usecase.SignBody(testSecret, []byte(body2))); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestGetAlertNotFound(t *testing.T) {
	f := newAlertsFixture(t, 10)

	r := httptest.NewRequest(http.MethodGet, "/alerts/missing", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelAlert(t *testing.T) {
	f := newAlertsFixture(t, 10)
	body := validBody("a-1")

	post := postAlert(f, body, usecase.SignBody(testSecret, []byte(body)))
	var envelope struct {
		Data models.AlertResponse `json:"data"`
	}
	if err := json.Unmarshal(post.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/alerts/"+envelope.Data.SignalID+"/cancel", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	sig, _ := f.store.SignalByID(context.Background(), envelope.Data.SignalID)
	if sig.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", sig.Status)
	}

	// cancelling a terminal signal conflicts
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/"+envelope.Data.SignalID+"/cancel", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newAlertsFixture(t, 10)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
