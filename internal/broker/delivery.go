package broker

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// retryCountHeader is the broker-side header that survives republish and
// takes priority over the message body's retryCount field (§4.D).
const retryCountHeader = "x-retry-count"

// delivery adapts one amqp.Delivery to pipeline.Delivery, so the
// processing pipeline never imports amqp091-go directly.
type delivery struct {
	ch            *amqp.Channel
	delayExchange string
	raw           amqp.Delivery
}

func (d *delivery) Body() []byte {
	return d.raw.Body
}

func (d *delivery) HeaderRetryCount() *int {
	v, ok := d.raw.Headers[retryCountHeader]
	if !ok {
		return nil
	}
	n, ok := toInt(v)
	if !ok {
		return nil
	}
	return &n
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.raw.Ack(false)
}

func (d *delivery) DeadLetter(ctx context.Context) error {
	return d.raw.Nack(false, false)
}

func (d *delivery) Requeue(ctx context.Context) error {
	return d.raw.Nack(false, true)
}

func (d *delivery) RepublishWithDelay(ctx context.Context, body []byte, retryCount int, delay time.Duration) error {
	// A delay exchange queue with no consumer holds the message until its
	// per-message TTL (the "expiration" property) elapses, at which point
	// the broker dead-letters it back onto the work exchange using the
	// same routing key it arrived on (see DeclareTopology).
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers: amqp.Table{
			retryCountHeader: retryCount,
		},
	}
	if err := d.ch.PublishWithContext(ctx, d.delayExchange, d.raw.RoutingKey, false, false, pub); err != nil {
		return NewError(ErrCodePublishFailed, "republish", err)
	}
	return d.raw.Ack(false)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case int16:
		return int(n), true
	default:
		return 0, false
	}
}
