// Package queue implements the lease-based, partitioned job queue that
// feeds the execution orchestrator. Two backends share one contract: an
// in-process queue for single-node deployments and tests, and a Redis
// queue for multi-node deployments.
package queue

import "errors"

var errClosed = errors.New("queue closed")
