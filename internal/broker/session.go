package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/sendwell/notifyworker/internal/metrics"
	"github.com/sendwell/notifyworker/internal/pipeline"
)

// ConnectionState mirrors the lifecycle a Session moves through.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one delivery end to end. The pipeline satisfies this
// signature via a thin adapter in cmd/worker.
type Handler func(ctx context.Context, d pipeline.Delivery) error

// Session owns one AMQP connection and one channel: the topology they
// declare, the consumers attached to the three work queues, and the
// ack/requeue/dead-letter/republish primitives a Handler drives a
// delivery with. §6 fixes prefetch at 1 and single-threaded processing,
// so one Session is never shared between goroutines while a delivery is
// in flight.
type Session struct {
	cfg    *Config
	logger *zap.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel

	state   atomic.Int32
	closed  atomic.Bool
	metrics *metrics.Broker
}

// NewSession builds a Session. A nil cfg falls back to DefaultConfig and
// a nil logger to a no-op logger, matching the rest of the package's
// constructors.
func NewSession(cfg *Config, logger *zap.Logger) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewBroker(),
	}
}

// State reports the session's current connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Metrics returns a read-only snapshot of the session's connection-
// lifecycle counters, taken at the moment of the call.
func (s *Session) Metrics() metrics.BrokerSnapshot {
	return s.metrics.Snapshot()
}

// Connect dials the broker, retrying with the configured backoff table
// until MaxReconnectTries is exhausted. It opens one channel, sets
// prefetch per §4.E, and declares the full topology before returning.
func (s *Session) Connect(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxReconnectTries; attempt++ {
		if attempt > 0 {
			s.metrics.ReconnectionAttempts.Add(1)
			s.state.Store(int32(StateReconnecting))
			delay := s.cfg.ReconnectDelay(attempt - 1)
			s.logger.Warn("retrying broker connection",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		s.metrics.ConnectionAttempts.Add(1)
		conn, err := amqp.DialConfig(s.cfg.URL, amqp.Config{
			Dial:      amqp.DefaultDial(s.cfg.ConnectionTimeout),
			Heartbeat: 600 * time.Second,
		})
		if err != nil {
			lastErr = err
			s.metrics.ConnectionFailures.Add(1)
			continue
		}

		ch, err := conn.Channel()
		if err != nil {
			lastErr = err
			s.metrics.ConnectionFailures.Add(1)
			_ = conn.Close()
			continue
		}

		// global=true makes RabbitMQ apply the prefetch to the whole
		// channel, shared by the three work-queue consumers.
		if err := ch.Qos(s.cfg.PrefetchCount, 0, true); err != nil {
			lastErr = err
			s.metrics.ConnectionFailures.Add(1)
			_ = ch.Close()
			_ = conn.Close()
			continue
		}

		if err := DeclareTopology(ch, s.cfg); err != nil {
			lastErr = err
			s.metrics.ConnectionFailures.Add(1)
			_ = ch.Close()
			_ = conn.Close()
			continue
		}

		s.conn = conn
		s.ch = ch
		s.metrics.ConnectionSuccesses.Add(1)
		s.state.Store(int32(StateConnected))
		s.logger.Info("connected to broker", zap.Int("attempt", attempt))
		return nil
	}

	s.state.Store(int32(StateDisconnected))
	return NewError(ErrCodeConnectionFailed, fmt.Sprintf("exhausted %d reconnect attempts", s.cfg.MaxReconnectTries), lastErr)
}

// Consume attaches handler to all three work queues and blocks until ctx
// is cancelled. It processes deliveries single-threaded: handler runs for
// one delivery at a time, and the channel-wide prefetch of 1 set in
// Connect keeps the broker from sending the next delivery until the
// current one is acked or rejected, so at most one delivery is in flight
// per worker.
func (s *Session) Consume(ctx context.Context, handler Handler) error {
	queues := []string{s.cfg.EmailQueue, s.cfg.SMSQueue, s.cfg.PushQueue}
	merged := make(chan amqp.Delivery)

	for _, q := range queues {
		consumerTag := fmt.Sprintf("notifyworker-%s", uuid.NewString())
		deliveries, err := s.ch.Consume(q, consumerTag, false, false, false, false, nil)
		if err != nil {
			return NewError(ErrCodeConsumeFailed, fmt.Sprintf("consume %s", q), err)
		}
		go func(in <-chan amqp.Delivery) {
			for d := range in {
				select {
				case merged <- d:
				case <-ctx.Done():
					return
				}
			}
		}(deliveries)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-merged:
			if err := handler(ctx, &delivery{ch: s.ch, delayExchange: s.cfg.DelayExchange, raw: d}); err != nil {
				s.logger.Error("handler returned error, delivery outcome is indeterminate", zap.Error(err))
			}
		}
	}
}

// Close idempotently tears down the channel and connection. Safe to call
// more than once, including concurrently with a signal-driven shutdown.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.state.Store(int32(StateClosed))
	s.metrics.Disconnections.Add(1)

	var err error
	if s.ch != nil {
		if cerr := s.ch.Close(); cerr != nil {
			err = cerr
		}
	}
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
