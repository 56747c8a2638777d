package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 1, cfg.PrefetchCount)
	assert.Equal(t, "notifications.exchange", cfg.Exchange)
	assert.Equal(t, "notifications.dlx", cfg.DLXExchange)
	assert.Equal(t, "notifications.delay", cfg.DelayExchange)
	assert.Equal(t, "notifications.email", cfg.EmailQueue)
	assert.Equal(t, "notifications.sms", cfg.SMSQueue)
	assert.Equal(t, "notifications.push", cfg.PushQueue)
	assert.Equal(t, "notifications.dlq", cfg.DLQQueue)
	assert.Equal(t, "dead", cfg.DLQRoutingKey)
	assert.Equal(t, 10, cfg.MaxReconnectTries)
	assert.Len(t, cfg.ReconnectDelays, 5)
}

func TestConfig_ReconnectDelay_FollowsTableThenCaps(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay(0))
	assert.Equal(t, 4*time.Second, cfg.ReconnectDelay(1))
	assert.Equal(t, 8*time.Second, cfg.ReconnectDelay(2))
	assert.Equal(t, 16*time.Second, cfg.ReconnectDelay(3))
	assert.Equal(t, 30*time.Second, cfg.ReconnectDelay(4))
	// Beyond the table, caps at the last entry rather than indexing out of range.
	assert.Equal(t, 30*time.Second, cfg.ReconnectDelay(9))
	assert.Equal(t, 30*time.Second, cfg.ReconnectDelay(-1))
}

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig("test.queue")

	assert.Equal(t, "test.queue", cfg.Name)
	assert.True(t, cfg.Durable)
	assert.False(t, cfg.AutoDelete)
	assert.False(t, cfg.Exclusive)
	assert.NotNil(t, cfg.Args)
}

func TestQueueConfig_WithDeadLetter(t *testing.T) {
	cfg := DefaultQueueConfig("test.queue")
	cfg.WithDeadLetter("dlx.exchange", "dlx.key")

	assert.Equal(t, "dlx.exchange", cfg.DeadLetterExchange)
	assert.Equal(t, "dlx.key", cfg.DeadLetterRoutingKey)
	assert.Equal(t, "dlx.exchange", cfg.Args["x-dead-letter-exchange"])
	assert.Equal(t, "dlx.key", cfg.Args["x-dead-letter-routing-key"])
}

func TestQueueConfig_WithDeadLetter_NilArgs(t *testing.T) {
	cfg := &QueueConfig{Name: "test.queue"}
	cfg.WithDeadLetter("dlx.exchange", "dlx.key")

	assert.NotNil(t, cfg.Args)
	assert.Equal(t, "dlx.exchange", cfg.Args["x-dead-letter-exchange"])
}

func TestQueueConfig_WithDeadLetter_EmptyRoutingKeyOmitted(t *testing.T) {
	cfg := DefaultQueueConfig("test.queue")
	cfg.WithDeadLetter("dlx.exchange", "")

	assert.Equal(t, "dlx.exchange", cfg.Args["x-dead-letter-exchange"])
	_, ok := cfg.Args["x-dead-letter-routing-key"]
	assert.False(t, ok)
}

func TestDefaultExchangeConfig(t *testing.T) {
	cfg := DefaultExchangeConfig("test.exchange")

	assert.Equal(t, "test.exchange", cfg.Name)
	assert.Equal(t, "direct", cfg.Type)
	assert.True(t, cfg.Durable)
	assert.NotNil(t, cfg.Args)
}
