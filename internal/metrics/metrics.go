// Package metrics provides metrics recording for the dispatch pipeline.
// Counters are periodically written to Redis for centralized operator
// visibility. It uses the null object pattern to avoid nil checks throughout
// the codebase.
package metrics

import "time"

// Recorder defines the interface for recording pipeline metrics.
type Recorder interface {
	// RecordReceived increments the count of received alert messages.
	RecordReceived()

	// RecordProcessed records a fully processed message with its latency.
	RecordProcessed(latency time.Duration)

	// RecordPublished increments the count of published dispatch events.
	RecordPublished()

	// RecordError increments the processing error counter.
	RecordError()

	// RecordAcked increments the count of acknowledged messages.
	RecordAcked()

	// RecordNaked increments the count of nak'd messages awaiting redelivery.
	RecordNaked()

	// RecordDiscarded increments the count of schema-invalid messages dropped.
	RecordDiscarded()

	// RecordSkipped increments the count of low-severity alerts skipped.
	RecordSkipped()

	// RecordDuplicate increments the count of suppressed duplicate alerts.
	RecordDuplicate()
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
// Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (*NoOp) RecordReceived()                 {}
func (*NoOp) RecordProcessed(_ time.Duration) {}
func (*NoOp) RecordPublished()                {}
func (*NoOp) RecordError()                    {}
func (*NoOp) RecordAcked()                    {}
func (*NoOp) RecordNaked()                    {}
func (*NoOp) RecordDiscarded()                {}
func (*NoOp) RecordSkipped()                  {}
func (*NoOp) RecordDuplicate()                {}

// Ensure NoOp implements Recorder.
var _ Recorder = (*NoOp)(nil)
