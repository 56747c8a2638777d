// Package dispatch implements the per-channel delivery adapters. Each
// dispatcher is a pure, synchronous function over a payload mapping: it
// either succeeds or fails with a classified *Error. Registration is
// closed over the three known channel variants; no plugin model is
// required (§9).
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/sendwell/notifyworker/internal/notification"
)

// Dispatcher delivers a single notification payload over one channel.
// Implementations must be synchronous: the pipeline's decision to ack
// depends on the returned outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload map[string]interface{}) error
}

// Registry maps a notification type to the dispatcher responsible for it.
type Registry map[notification.Type]Dispatcher

// NewRegistry builds the closed set of dispatchers. forceFailure, when
// true, makes every dispatcher unconditionally fail — used for
// retry/DLQ testing per §6's FORCE_FAILURE environment variable.
func NewRegistry(forceFailure bool, logger *zap.Logger) Registry {
	return Registry{
		notification.TypeEmail: &EmailDispatcher{ForceFailure: forceFailure, Logger: logger},
		notification.TypeSMS:   &SMSDispatcher{ForceFailure: forceFailure, Logger: logger},
		notification.TypePush:  &PushDispatcher{ForceFailure: forceFailure, Logger: logger},
	}
}

// Lookup returns the dispatcher for typ, or false if the type is unknown.
// Callers should treat a false return as a parse-stage condition; by
// construction, Parse already rejects unknown types, so this is only
// reachable if the registry was built with a gap.
func (r Registry) Lookup(typ notification.Type) (Dispatcher, bool) {
	d, ok := r[typ]
	return d, ok
}

func requireStringField(payload map[string]interface{}, field string) (string, bool) {
	v, ok := payload[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
