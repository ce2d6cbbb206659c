package models

import "time"

// Status is the lifecycle state of a Signal. Transitions are monotonic
// along the graph below; a terminal status never changes again.
type Status string

const (
	StatusReceived        Status = "received"
	StatusQueued          Status = "queued"
	StatusClaimed         Status = "claimed"
	StatusDispatched      Status = "dispatched"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFailed          Status = "failed"
	StatusExpired         Status = "expired"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusReceived:        {StatusQueued, StatusFailed, StatusExpired, StatusCancelled},
	StatusQueued:          {StatusClaimed, StatusFailed, StatusExpired, StatusCancelled},
	StatusClaimed:         {StatusDispatched, StatusQueued, StatusFailed, StatusExpired, StatusCancelled},
	StatusDispatched:      {StatusFilled, StatusPartiallyFilled, StatusFailed},
	StatusPartiallyFilled: {StatusFilled, StatusFailed},
	StatusFilled:          {},
	StatusFailed:          {},
	StatusExpired:         {},
	StatusCancelled:       {},
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an edge of the lifecycle graph.
func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Action is the normalized trading instruction carried by a signal.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Valid reports whether the action is one of buy/sell/close.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell || a == ActionClose
}

// Signal is a normalized trading instruction derived from an external alert.
// The store exclusively owns Signal records; all mutation goes through a
// compare-and-swap on (status, fencing token).
type Signal struct {
	ID              string
	Source          string
	ExternalAlertID string
	IdempotencyKey  string
	Symbol          string
	Action          Action
	Size            float64
	StrategyTag     string
	Account         string
	Status          Status
	CancelRequested bool
	RetryCount      int
	LastError       string
	BrokerTicketID  string
	FillPrice       float64
	FencingToken    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PartitionKey groups signals whose execution must be serialized:
// conflicting orders on the same instrument and account.
func (s *Signal) PartitionKey() string {
	return s.Symbol + ":" + s.Account
}
