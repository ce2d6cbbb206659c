package repository

// NopMetrics discards all measurements. Used in tests and as a fallback
// when metrics are disabled.
type NopMetrics struct{}

func (NopMetrics) RecordAlertReceived(string, string)    {}
func (NopMetrics) RecordJobEnqueued(string)              {}
func (NopMetrics) RecordJobClaimed()                     {}
func (NopMetrics) RecordJobAcked()                       {}
func (NopMetrics) RecordJobNacked(string)                {}
func (NopMetrics) RecordJobDeadLettered()                {}
func (NopMetrics) RecordDispatchLatency(string, float64) {}
func (NopMetrics) RecordFencingConflict()                {}
func (NopMetrics) RecordQueueDepth(int)                  {}
func (NopMetrics) RecordNodeRun(string, string)          {}
func (NopMetrics) RecordError(string)                    {}
