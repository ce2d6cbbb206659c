package models

import "time"

// AlertRequest is the JSON body of POST /alerts. The signature over the
// raw body is checked before this shape is ever parsed.
type AlertRequest struct {
	Source          string  `json:"source" validate:"required"`
	ExternalAlertID string  `json:"externalAlertId" validate:"required"`
	Symbol          string  `json:"symbol" validate:"required"`
	Action          string  `json:"action" validate:"required,oneof=buy sell close"`
	Size            float64 `json:"size" validate:"required,gt=0"`
	StrategyTag     string  `json:"strategyTag"`
	Account         string  `json:"account" default:"default"`
	Timestamp       int64   `json:"timestamp"`
}

// AlertResponse acknowledges an accepted (or deduplicated) alert.
type AlertResponse struct {
	Accepted bool   `json:"accepted"`
	SignalID string `json:"signalId"`
}

// SignalResponse is the external view of a Signal.
type SignalResponse struct {
	SignalID       string    `json:"signalId"`
	Source         string    `json:"source"`
	Symbol         string    `json:"symbol"`
	Action         Action    `json:"action"`
	Size           float64   `json:"size"`
	StrategyTag    string    `json:"strategyTag,omitempty"`
	Account        string    `json:"account"`
	Status         Status    `json:"status"`
	RetryCount     int       `json:"retryCount"`
	LastError      string    `json:"lastError,omitempty"`
	BrokerTicketID string    `json:"brokerTicketId,omitempty"`
	FillPrice      float64   `json:"fillPrice,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewSignalResponse converts a stored signal to its external view.
func NewSignalResponse(s *Signal) *SignalResponse {
	return &SignalResponse{
		SignalID:       s.ID,
		Source:         s.Source,
		Symbol:         s.Symbol,
		Action:         s.Action,
		Size:           s.Size,
		StrategyTag:    s.StrategyTag,
		Account:        s.Account,
		Status:         s.Status,
		RetryCount:     s.RetryCount,
		LastError:      s.LastError,
		BrokerTicketID: s.BrokerTicketID,
		FillPrice:      s.FillPrice,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

// NodeConfigRequest is the body of POST /nodes and PUT /nodes/:id.
type NodeConfigRequest struct {
	NodeID       string            `json:"node_id" validate:"required"`
	Type         string            `json:"type" validate:"required,oneof=ingestion processing policy community"`
	Enabled      *bool             `json:"enabled"`
	IntervalSec  int               `json:"interval_sec" validate:"required,gt=0"`
	Dependencies []string          `json:"dependencies"`
	Outputs      []string          `json:"outputs"`
	Metadata     map[string]string `json:"metadata"`
}

// NodeStatusResponse pairs a node's config with its latest heartbeat.
type NodeStatusResponse struct {
	Config    *NodeConfig    `json:"config"`
	Heartbeat *NodeHeartbeat `json:"heartbeat,omitempty"`
}
