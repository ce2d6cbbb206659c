package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/logger"
)

func newBridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectAfterCloseRefused(t *testing.T) {
	srv := newBridgeServer(t)
	b := NewBridge(logger.Nop(), "mt", wsURL(srv), time.Second, time.Minute)

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Connect(context.Background()); err == nil {
		t.Fatal("connect on a closed bridge should fail")
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		t.Fatal("closed bridge must not hold a connection")
	}
}

func TestClassifyBridgeError(t *testing.T) {
	cases := []struct {
		code string
		want models.ErrClass
	}{
		{"TIMEOUT", models.ClassTransient},
		{"NO_CONNECTION", models.ClassTransient},
		{"INVALID_SYMBOL", models.ClassPermanent},
		{"NOT_ENOUGH_MONEY", models.ClassPermanent},
		{"SOMETHING_NEW", models.ClassUnknown},
	}
	for _, tc := range cases {
		err := classifyBridgeError(tc.code, "msg")
		if got := models.ClassifyExecError(err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.code, tc.want, got)
		}
	}
	var execErr *models.ExecError
	if !errors.As(classifyBridgeError("TIMEOUT", "m"), &execErr) {
		t.Fatal("bridge errors should carry the exec classification")
	}
}
