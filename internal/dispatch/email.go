package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// EmailDispatcher sends email notifications. In production this would
// integrate with an SMTP provider or transactional email API; that
// transport is an external collaborator (§1) and is out of scope here.
type EmailDispatcher struct {
	ForceFailure bool
	Logger       *zap.Logger
}

// Dispatch validates the to/subject/body fields and simulates the send.
func (d *EmailDispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) error {
	to, ok := requireStringField(payload, "to")
	if !ok {
		return InvalidPayload("email payload missing \"to\"")
	}
	subject, ok := requireStringField(payload, "subject")
	if !ok {
		return InvalidPayload("email payload missing \"subject\"")
	}
	body, ok := requireStringField(payload, "body")
	if !ok {
		return InvalidPayload("email payload missing \"body\"")
	}

	if d.ForceFailure {
		return Transient("forced failure for testing retry mechanism", nil)
	}

	if d.Logger != nil {
		d.Logger.Info("email dispatched",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Int("body_len", len(body)),
		)
	}
	return nil
}
