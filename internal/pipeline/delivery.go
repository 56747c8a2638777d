package pipeline

import (
	"context"
	"time"
)

// Delivery abstracts the broker-side handle for a single message so the
// pipeline can be driven and tested without a live broker connection. The
// broker session (internal/broker) adapts a real amqp091-go.Delivery to
// this interface.
type Delivery interface {
	// Body returns the raw message bytes as received.
	Body() []byte
	// HeaderRetryCount returns the broker-side x-retry-count header, or
	// nil if the header was not present on this delivery.
	HeaderRetryCount() *int
	// Ack positively acknowledges the delivery.
	Ack(ctx context.Context) error
	// DeadLetter negatively acknowledges the delivery without requeue,
	// routing it to the dead-letter exchange.
	DeadLetter(ctx context.Context) error
	// Requeue negatively acknowledges the delivery with requeue, used
	// when an infrastructure failure (not the message) prevented
	// processing.
	Requeue(ctx context.Context) error
	// RepublishWithDelay publishes body back to the original routing key
	// with a per-message TTL of delay and header x-retry-count=retryCount,
	// then acknowledges the original delivery. Implementations must
	// perform the ack as part of this call per §4.E.
	RepublishWithDelay(ctx context.Context, body []byte, retryCount int, delay time.Duration) error
}
