package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// SMSDispatcher sends SMS notifications. In production this would
// integrate with Twilio, Vonage, or a similar gateway; that transport is
// an external collaborator (§1) and is out of scope here.
type SMSDispatcher struct {
	ForceFailure bool
	Logger       *zap.Logger
}

// Dispatch validates the to/message fields and simulates the send.
func (d *SMSDispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) error {
	to, ok := requireStringField(payload, "to")
	if !ok {
		return InvalidPayload("sms payload missing \"to\"")
	}
	message, ok := requireStringField(payload, "message")
	if !ok {
		return InvalidPayload("sms payload missing \"message\"")
	}

	if d.ForceFailure {
		return Transient("forced failure for testing retry mechanism", nil)
	}

	if d.Logger != nil {
		d.Logger.Info("sms dispatched",
			zap.String("to", to),
			zap.Int("message_len", len(message)),
		)
	}
	return nil
}
