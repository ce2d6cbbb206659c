package models

import "time"

// Job is a queued unit of work representing one execution attempt for a
// signal. At most one non-expired lease exists per job at a time; the
// fencing token strictly increases on every new claim.
type Job struct {
	SignalID       string    `json:"signal_id"`
	PartitionKey   string    `json:"partition_key"`
	Attempt        int       `json:"attempt"`
	NextRunAt      time.Time `json:"next_run_at"`
	BackoffSeconds float64   `json:"backoff_seconds"`
	ClaimedBy      string    `json:"claimed_by,omitempty"`
	ClaimExpiresAt time.Time `json:"claim_expires_at,omitempty"`
	FencingToken   int64     `json:"fencing_token"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	LastReason     string    `json:"last_reason,omitempty"`
}

// Disposition is the queue's verdict after a nack.
type Disposition int

const (
	// DispositionRetry means the job was rescheduled with backoff.
	DispositionRetry Disposition = iota
	// DispositionDeadLettered means the retry budget is exhausted and the
	// job will not run again; the owning signal must be finalized.
	DispositionDeadLettered
)
