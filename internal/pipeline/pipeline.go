// Package pipeline implements the processing state machine that sits
// between a broker delivery and the dispatch/idempotency/retry
// subsystems: parse, dedupe, dispatch, and decide ack/retry/dead-letter.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sendwell/notifyworker/internal/dispatch"
	"github.com/sendwell/notifyworker/internal/idempotency"
	"github.com/sendwell/notifyworker/internal/metrics"
	"github.com/sendwell/notifyworker/internal/notification"
	"github.com/sendwell/notifyworker/internal/retry"
)

// Pipeline wires the idempotency store, dispatch registry, and retry
// policy into the single decision path described in §4.F. It holds no
// broker state of its own; Process is driven once per Delivery by
// whatever is consuming the queue.
type Pipeline struct {
	Store       idempotency.Store
	Dispatchers dispatch.Registry
	Policy      retry.Policy
	Metrics     *metrics.Pipeline
	Logger      *zap.Logger

	// DispatchTimeout bounds a single dispatcher call. Zero means no
	// timeout is applied.
	DispatchTimeout time.Duration
}

// New builds a Pipeline from its collaborators. A nil Metrics or Logger
// is replaced with a usable zero value so callers in tests don't have to
// construct both.
func New(store idempotency.Store, dispatchers dispatch.Registry, policy retry.Policy, m *metrics.Pipeline, logger *zap.Logger) *Pipeline {
	if m == nil {
		m = metrics.NewPipeline()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Store:       store,
		Dispatchers: dispatchers,
		Policy:      policy,
		Metrics:     m,
		Logger:      logger,
	}
}

// Process drives a single delivery through RECEIVED -> PARSED ->
// DUPLICATE|dispatch -> SENT|retry|DLQ. It returns the error (if any)
// from the terminal ack/nack/republish call against d; a nil return
// means the delivery was fully resolved one way or another.
func (p *Pipeline) Process(ctx context.Context, d Delivery) error {
	p.Metrics.DeliveriesReceived.Add(1)

	msg, err := notification.Parse(d.Body(), d.HeaderRetryCount())
	if err != nil {
		p.Logger.Warn("dead-lettering unparseable delivery", zap.Error(err))
		p.Metrics.DeadLettered.Add(1)
		return d.DeadLetter(ctx)
	}

	log := p.Logger.With(
		zap.String("message_id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("user_id", msg.UserID),
		zap.Int("retry_count", msg.RetryCount),
	)

	seen, err := p.Store.Seen(ctx, msg.UserID, msg.IdempotencyKey)
	if err != nil {
		log.Warn("idempotency store unavailable, requeueing", zap.Error(err))
		return d.Requeue(ctx)
	}
	if seen {
		log.Info("duplicate delivery, skipping dispatch")
		p.Metrics.IdempotencyHits.Add(1)
		return d.Ack(ctx)
	}

	dispatcher, ok := p.Dispatchers.Lookup(msg.Type)
	if !ok {
		log.Error("no dispatcher registered for type")
		p.Metrics.DeadLettered.Add(1)
		return d.DeadLetter(ctx)
	}

	dispatchCtx := ctx
	if p.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, p.DispatchTimeout)
		defer cancel()
	}

	p.Metrics.DispatchAttempts.Add(1)
	if dispatchErr := dispatcher.Dispatch(dispatchCtx, msg.Payload); dispatchErr != nil {
		p.Metrics.DispatchFailures.Add(1)
		log.Warn("dispatch failed", zap.Error(dispatchErr))
		return p.retryOrDeadLetter(ctx, d, msg, log)
	}

	p.Metrics.DispatchSuccesses.Add(1)
	if err := p.Store.Mark(ctx, msg.UserID, msg.IdempotencyKey); err != nil {
		// The send already happened; failing to record it only widens the
		// duplicate-delivery window on redelivery, it does not change the
		// outcome of this delivery.
		log.Warn("failed to mark idempotency record after dispatch", zap.Error(err))
		p.Metrics.MarkFailures.Add(1)
	}
	log.Info("dispatched successfully")
	return d.Ack(ctx)
}

func (p *Pipeline) retryOrDeadLetter(ctx context.Context, d Delivery, msg *notification.Message, log *zap.Logger) error {
	if !p.Policy.CanRetry(msg.RetryCount) {
		log.Error("retries exhausted, dead-lettering")
		p.Metrics.DeadLettered.Add(1)
		return d.DeadLetter(ctx)
	}

	next := msg.WithIncrementedRetry()
	body, err := next.MarshalBody()
	if err != nil {
		log.Error("failed to marshal retry body, dead-lettering", zap.Error(err))
		p.Metrics.DeadLettered.Add(1)
		return d.DeadLetter(ctx)
	}

	delay := p.Policy.Delay(msg.RetryCount)
	log.Info("scheduling retry", zap.Duration("delay", delay), zap.Int("next_retry_count", next.RetryCount))
	p.Metrics.Republishes.Add(1)
	return d.RepublishWithDelay(ctx, body, next.RetryCount, delay)
}
