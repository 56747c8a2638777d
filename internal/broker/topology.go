package broker

import amqp "github.com/rabbitmq/amqp091-go"

// routingKeys pairs each notification type with the routing key it is
// published under. DeclareTopology binds the delay queue on each of these
// keys; RepublishWithDelay reuses the key the delivery arrived on and
// does not consult this table.
var routingKeys = map[string]string{
	"email": "email",
	"sms":   "sms",
	"push":  "push",
}

// DeclareTopology declares the exchanges and queues fixed by §6,
// idempotently: re-declaring an identical topology against a live broker
// is a no-op, which is what lets N worker replicas start independently
// against the same vhost.
func DeclareTopology(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(cfg.DLXExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(cfg.DelayExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	dlq := DefaultQueueConfig(cfg.DLQQueue)
	if err := declareQueue(ch, dlq); err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, cfg.DLQRoutingKey, cfg.DLXExchange, false, nil); err != nil {
		return err
	}

	workQueues := map[string]string{
		cfg.EmailQueue: "email",
		cfg.SMSQueue:   "sms",
		cfg.PushQueue:  "push",
	}
	for name, key := range workQueues {
		q := DefaultQueueConfig(name).WithDeadLetter(cfg.DLXExchange, cfg.DLQRoutingKey)
		if err := declareQueue(ch, q); err != nil {
			return err
		}
		if err := ch.QueueBind(name, key, cfg.Exchange, false, nil); err != nil {
			return err
		}
	}

	// The delay queue holds in-flight retries until their per-message TTL
	// expires, then the broker dead-letters them back onto the work
	// exchange preserving the original routing key (no x-dead-letter-
	// routing-key is set here, which is what makes that preservation
	// happen). It carries no consumer of its own.
	delay := DefaultQueueConfig(cfg.DelayQueue).WithDeadLetter(cfg.Exchange, "")
	if err := declareQueue(ch, delay); err != nil {
		return err
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(delay.Name, key, cfg.DelayExchange, false, nil); err != nil {
			return err
		}
	}

	return nil
}

func declareQueue(ch *amqp.Channel, q *QueueConfig) error {
	_, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, q.NoWait, amqp.Table(q.Args))
	return err
}
