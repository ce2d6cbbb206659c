package models

import "time"

// NodeType classifies a scheduled worker node.
type NodeType string

const (
	NodeIngestion  NodeType = "ingestion"
	NodeProcessing NodeType = "processing"
	NodePolicy     NodeType = "policy"
	NodeCommunity  NodeType = "community"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeIngestion, NodeProcessing, NodePolicy, NodeCommunity:
		return true
	}
	return false
}

// NodeConfig is a declarative descriptor controlling a scheduled worker's
// cadence, dependencies, and enablement. Created and updated by operators
// through the registry; read by the scheduler on every tick.
type NodeConfig struct {
	NodeID       string            `json:"node_id"`
	Type         NodeType          `json:"type"`
	Enabled      bool              `json:"enabled"`
	IntervalSec  int               `json:"interval_sec"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Outputs      []string          `json:"outputs,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NodeRunState is the per-tick state of a node.
// Idle -> Running -> {Succeeded, Skipped, Failed} -> Idle.
type NodeRunState string

const (
	NodeIdle      NodeRunState = "idle"
	NodeRunning   NodeRunState = "running"
	NodeSucceeded NodeRunState = "succeeded"
	NodeSkipped   NodeRunState = "skipped"
	NodeFailed    NodeRunState = "failed"
)

// NodeHeartbeat records the outcome of a node's most recent tick.
// Disabled and dependency-gated ticks still record a heartbeat with a
// skip reason, so staleness of a node is always observable.
type NodeHeartbeat struct {
	NodeID     string       `json:"node_id"`
	State      NodeRunState `json:"state"`
	LastRun    time.Time    `json:"last_run"`
	LastError  string       `json:"last_error,omitempty"`
	SkipReason string       `json:"skip_reason,omitempty"`
}
