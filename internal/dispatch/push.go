package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// PushDispatcher sends push notifications. In production this would
// integrate with Firebase FCM, APNs, or a similar service; that
// transport is an external collaborator (§1) and is out of scope here.
type PushDispatcher struct {
	ForceFailure bool
	Logger       *zap.Logger
}

// Dispatch validates the deviceToken/title/body fields (data is
// optional) and simulates the send.
func (d *PushDispatcher) Dispatch(ctx context.Context, payload map[string]interface{}) error {
	deviceToken, ok := requireStringField(payload, "deviceToken")
	if !ok {
		return InvalidPayload("push payload missing \"deviceToken\"")
	}
	title, ok := requireStringField(payload, "title")
	if !ok {
		return InvalidPayload("push payload missing \"title\"")
	}
	body, ok := requireStringField(payload, "body")
	if !ok {
		return InvalidPayload("push payload missing \"body\"")
	}

	if d.ForceFailure {
		return Transient("forced failure for testing retry mechanism", nil)
	}

	if d.Logger != nil {
		d.Logger.Info("push dispatched",
			zap.String("device_token", deviceToken),
			zap.String("title", title),
			zap.Int("body_len", len(body)),
			zap.Bool("has_data", payload["data"] != nil),
		)
	}
	return nil
}
