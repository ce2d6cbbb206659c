package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// orderFrame goes out to the terminal-side bridge.
type orderFrame struct {
	Type      string  `json:"type"` // place_order or close_position
	RequestID string  `json:"request_id"`
	SignalID  string  `json:"signal_id,omitempty"`
	Symbol    string  `json:"symbol,omitempty"`
	Action    string  `json:"action,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
	Strategy  string  `json:"strategy,omitempty"`
	Account   string  `json:"account,omitempty"`
	Ticket    string  `json:"ticket,omitempty"`
}

// bridgeFrame comes back. Replies carry the request id; fill frames
// arrive unsolicited whenever the terminal confirms an execution.
type bridgeFrame struct {
	Type      string  `json:"type"` // reply or fill
	RequestID string  `json:"request_id,omitempty"`
	OK        bool    `json:"ok,omitempty"`
	Ticket    string  `json:"ticket,omitempty"`
	SignalID  string  `json:"signal_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	FillPrice float64 `json:"fill_price,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Bridge talks to a trading-terminal bridge over a WebSocket. One
// connection multiplexes all requests; replies are matched back by
// request id, fills are buffered for the reconciliation poller.
type Bridge struct {
	name           string
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *bridgeFrame
	fills   []*models.ExecutionOutcome
	closed  bool
}

func NewBridge(lgr *logger.Logger, name, url string, reconnectDelay, pingInterval time.Duration) *Bridge {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 15 * time.Second
	}
	return &Bridge{
		name:           name,
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            lgr,
		pending:        make(map[string]chan *bridgeFrame),
	}
}

func (b *Bridge) Name() string { return b.name }

// Connect dials the bridge and starts the read and ping loops.
func (b *Bridge) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("bridge connect %s: %w", b.url, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("bridge %s is closed", b.name)
	}
	b.conn = conn
	b.mu.Unlock()

	go b.readLoop(conn)
	go b.pingLoop(ctx, conn)
	b.log.Info("bridge connected", logger.String("broker", b.name), logger.String("url", b.url))
	return nil
}

func (b *Bridge) PlaceOrder(ctx context.Context, req *repository.OrderRequest) (*repository.OrderResult, error) {
	frame := &orderFrame{
		Type:      "place_order",
		RequestID: uuid.NewString(),
		SignalID:  req.SignalID,
		Symbol:    req.Symbol,
		Action:    string(req.Action),
		Volume:    req.Size,
		Strategy:  req.StrategyTag,
		Account:   req.Account,
	}

	reply, err := b.roundTrip(ctx, frame)
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		return nil, classifyBridgeError(reply.ErrorCode, reply.Error)
	}
	return &repository.OrderResult{TicketID: reply.Ticket, FillPrice: reply.FillPrice}, nil
}

func (b *Bridge) ClosePosition(ctx context.Context, ticketID string) error {
	frame := &orderFrame{Type: "close_position", RequestID: uuid.NewString(), Ticket: ticketID}
	reply, err := b.roundTrip(ctx, frame)
	if err != nil {
		return err
	}
	if !reply.OK {
		return classifyBridgeError(reply.ErrorCode, reply.Error)
	}
	return nil
}

// PollFills drains fill frames received since the last poll.
func (b *Bridge) PollFills(_ context.Context) ([]*models.ExecutionOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.fills
	b.fills = nil
	return out, nil
}

func (b *Bridge) roundTrip(ctx context.Context, frame *orderFrame) (*bridgeFrame, error) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return nil, models.TransientExecError("bridge disconnected", nil)
	}
	ch := make(chan *bridgeFrame, 1)
	b.pending[frame.RequestID] = ch
	err := conn.WriteJSON(frame)
	b.mu.Unlock()

	if err != nil {
		b.dropPending(frame.RequestID)
		return nil, models.TransientExecError("bridge write failed", err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		b.dropPending(frame.RequestID)
		return nil, models.TransientExecError("bridge reply timed out", ctx.Err())
	}
}

func (b *Bridge) dropPending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			b.handleDisconnect(conn, err)
			return
		}
		var frame bridgeFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// ignore frames we do not understand
			continue
		}
		switch frame.Type {
		case "reply":
			b.mu.Lock()
			ch, ok := b.pending[frame.RequestID]
			if ok {
				delete(b.pending, frame.RequestID)
			}
			b.mu.Unlock()
			if ok {
				ch <- &frame
			}
		case "fill":
			status := models.Status(frame.Status)
			if status != models.StatusFilled && status != models.StatusPartiallyFilled {
				status = models.StatusFilled
			}
			b.mu.Lock()
			b.fills = append(b.fills, &models.ExecutionOutcome{
				SignalID:  frame.SignalID,
				TicketID:  frame.Ticket,
				Status:    status,
				FillPrice: frame.FillPrice,
			})
			b.mu.Unlock()
		}
	}
}

func (b *Bridge) handleDisconnect(conn *websocket.Conn, err error) {
	_ = conn.Close()

	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	// in-flight requests will never get a reply on this connection
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- &bridgeFrame{Type: "reply", OK: false, ErrorCode: "DISCONNECTED", Error: err.Error()}
	}
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return
	}
	b.log.Warn("bridge disconnected, reconnecting",
		logger.String("broker", b.name), logger.Error(err))
	go func() {
		time.Sleep(b.reconnectDelay)
		b.mu.Lock()
		stop := b.closed
		b.mu.Unlock()
		if stop {
			// Close raced the backoff sleep; do not re-dial
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := b.Connect(ctx); cerr != nil {
			b.log.Error("bridge reconnect failed", logger.Error(cerr))
			b.handleDisconnect(conn, cerr)
		}
	}()
}

func (b *Bridge) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			current := b.conn
			b.mu.Unlock()
			if current != conn {
				return
			}
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// classifyBridgeError maps terminal error codes into exec classes.
// Unlisted codes fall through to unknown instead of guessing.
func classifyBridgeError(code, msg string) error {
	err := fmt.Errorf("bridge: %s %s", code, msg)
	switch code {
	case "TIMEOUT", "REQUOTE", "PRICE_CHANGED", "MARKET_CLOSED",
		"TRADE_CONTEXT_BUSY", "NO_CONNECTION", "DISCONNECTED", "RATE_LIMITED":
		return models.TransientExecError("bridge "+code, err)
	case "INVALID_SYMBOL", "INVALID_VOLUME", "INVALID_STOPS",
		"NOT_ENOUGH_MONEY", "TRADE_DISABLED", "ACCOUNT_DISABLED", "UNKNOWN_TICKET":
		return models.PermanentExecError("bridge "+code, err)
	default:
		return models.UnknownExecError("bridge "+code, err)
	}
}
