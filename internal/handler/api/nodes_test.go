package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/scheduler"
	"SigRelay/pkg/logger"
)

type nodesFixture struct {
	e     *echo.Echo
	sched *scheduler.Scheduler
	reg   *scheduler.Registry
}

func newNodesFixture(t *testing.T) *nodesFixture {
	t.Helper()
	lgr := logger.Nop()
	reg := scheduler.NewRegistry()
	sched := scheduler.NewScheduler(lgr, reg, drepo.NopMetrics{}, time.Minute)

	e := echo.New()
	NewNodesHandler(lgr, sched, reg).RegisterRoutes(e)
	return &nodesFixture{e: e, sched: sched, reg: reg}
}

func (f *nodesFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestNodeCRUD(t *testing.T) {
	f := newNodesFixture(t)

	rec := f.do(http.MethodPost, "/nodes",
		`{"node_id":"sync-1","type":"processing","interval_sec":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/nodes/sync-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var envelope struct {
		Data models.NodeStatusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Config == nil || envelope.Data.Config.IntervalSec != 10 {
		t.Fatalf("unexpected config: %+v", envelope.Data.Config)
	}
	if !envelope.Data.Config.Enabled {
		t.Fatal("enabled should default to true")
	}

	rec = f.do(http.MethodPut, "/nodes/sync-1",
		`{"node_id":"sync-1","type":"processing","interval_sec":30,"enabled":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cfg, err := f.reg.Get(context.Background(), "sync-1")
	if err != nil || cfg.IntervalSec != 30 || cfg.Enabled {
		t.Fatalf("update not applied: %+v %v", cfg, err)
	}

	rec = f.do(http.MethodGet, "/nodes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}

	rec = f.do(http.MethodDelete, "/nodes/sync-1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}
	rec = f.do(http.MethodGet, "/nodes/sync-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestUpsertNodeRejectsBadInput(t *testing.T) {
	f := newNodesFixture(t)

	rec := f.do(http.MethodPost, "/nodes",
		`{"node_id":"n1","type":"mystery","interval_sec":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid type: expected 400, got %d", rec.Code)
	}

	rec = f.do(http.MethodPut, "/nodes/other",
		`{"node_id":"n1","type":"processing","interval_sec":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("id mismatch: expected 400, got %d", rec.Code)
	}
}

func TestTriggerNode(t *testing.T) {
	f := newNodesFixture(t)

	ran := 0
	f.sched.RegisterRunner("sync-1", func(context.Context) error { ran++; return nil })

	rec := f.do(http.MethodPost, "/nodes/sync-1/trigger", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("trigger unknown node: expected 404, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/nodes",
		`{"node_id":"sync-1","type":"processing","interval_sec":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/nodes/sync-1/trigger", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data models.NodeHeartbeat `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.State != models.NodeSucceeded {
		t.Fatalf("expected succeeded heartbeat, got %+v", envelope.Data)
	}
	if ran != 1 {
		t.Fatalf("runner should have run once, got %d", ran)
	}
}
