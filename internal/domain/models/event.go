package models

import "time"

// EventStatusChanged is the type tag of outbound status-change events.
const EventStatusChanged = "signal.status_changed"

// StatusChangedEvent is published to the event sink after every successful
// persisted transition, never before. Consumed by notification and
// dashboard collaborators.
type StatusChangedEvent struct {
	SignalID       string    `json:"signal_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	BrokerTicketID string    `json:"broker_ticket_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// AuditRecord is one entry of a signal's append-only transition trail.
type AuditRecord struct {
	SignalID       string    `json:"signal_id"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	Actor          string    `json:"actor"`
	At             time.Time `json:"at"`
}

// ExecutionOutcome carries a broker-side result back into reconciliation.
type ExecutionOutcome struct {
	SignalID     string
	TicketID     string
	Status       Status // filled, partially_filled, or failed
	FillPrice    float64
	Error        string
	FencingToken int64
}
