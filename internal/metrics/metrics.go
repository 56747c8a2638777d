// Package metrics holds the in-process counters the pipeline and broker
// session update as they run. It is deliberately not wired to an external
// scrape endpoint (§1 places metrics sinks out of scope) — these counters
// exist for tests and for whatever operator tooling chooses to read them.
package metrics

import "sync/atomic"

// Pipeline tracks outcomes of the processing pipeline's state machine.
type Pipeline struct {
	DeliveriesReceived atomic.Int64
	DispatchAttempts   atomic.Int64
	DispatchSuccesses  atomic.Int64
	DispatchFailures   atomic.Int64
	IdempotencyHits    atomic.Int64
	Republishes        atomic.Int64
	DeadLettered       atomic.Int64
	MarkFailures       atomic.Int64
}

// NewPipeline returns a zero-valued metrics set.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Snapshot is an immutable read of Pipeline's counters at a point in time.
type Snapshot struct {
	DeliveriesReceived int64
	DispatchAttempts   int64
	DispatchSuccesses  int64
	DispatchFailures   int64
	IdempotencyHits    int64
	Republishes        int64
	DeadLettered       int64
	MarkFailures       int64
}

// Snapshot reads all counters without blocking writers.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		DeliveriesReceived: p.DeliveriesReceived.Load(),
		DispatchAttempts:   p.DispatchAttempts.Load(),
		DispatchSuccesses:  p.DispatchSuccesses.Load(),
		DispatchFailures:   p.DispatchFailures.Load(),
		IdempotencyHits:    p.IdempotencyHits.Load(),
		Republishes:        p.Republishes.Load(),
		DeadLettered:       p.DeadLettered.Load(),
		MarkFailures:       p.MarkFailures.Load(),
	}
}

// Broker tracks the connection lifecycle of the broker session.
type Broker struct {
	ConnectionAttempts   atomic.Int64
	ConnectionSuccesses  atomic.Int64
	ConnectionFailures   atomic.Int64
	ReconnectionAttempts atomic.Int64
	Disconnections       atomic.Int64
}

// NewBroker returns a zero-valued metrics set.
func NewBroker() *Broker {
	return &Broker{}
}

// BrokerSnapshot is an immutable read of Broker's counters at a point in
// time.
type BrokerSnapshot struct {
	ConnectionAttempts   int64
	ConnectionSuccesses  int64
	ConnectionFailures   int64
	ReconnectionAttempts int64
	Disconnections       int64
}

// Snapshot reads all counters without blocking writers.
func (b *Broker) Snapshot() BrokerSnapshot {
	return BrokerSnapshot{
		ConnectionAttempts:   b.ConnectionAttempts.Load(),
		ConnectionSuccesses:  b.ConnectionSuccesses.Load(),
		ConnectionFailures:   b.ConnectionFailures.Load(),
		ReconnectionAttempts: b.ReconnectionAttempts.Load(),
		Disconnections:       b.Disconnections.Load(),
	}
}
