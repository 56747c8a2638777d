package broker

import "fmt"

// ErrorCode classifies why a broker operation failed.
type ErrorCode string

const (
	// ErrCodeConnectionFailed means dialing or reconnecting to the broker
	// was exhausted without success.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeConsumeFailed means attaching a consumer to a queue failed.
	ErrCodeConsumeFailed ErrorCode = "CONSUME_FAILED"
	// ErrCodePublishFailed means publishing a republish/delay message to
	// the broker failed.
	ErrCodePublishFailed ErrorCode = "PUBLISH_FAILED"
)

// retryableCodes holds the codes a caller can reasonably retry. Connection
// exhaustion and publish failures are transient broker/network conditions;
// none of the current codes are permanent, but the table exists so adding
// one later doesn't require touching every call site.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeConnectionFailed: true,
	ErrCodeConsumeFailed:    true,
	ErrCodePublishFailed:    true,
}

// Error is the classified outcome of a failed broker operation, mirroring
// the teacher's messaging.BrokerError: a stable Code sentinel codes can be
// matched against with errors.Is/errors.As, a human Message, and an
// optional wrapped Cause.
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Retryable bool
}

// NewError builds a classified Error, deriving Retryable from Code.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Retryable: retryableCodes[code]}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("broker: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two *Error values by Code alone, the way the
// teacher's BrokerError does, so callers can check errors.Is(err,
// &Error{Code: ErrCodeConnectionFailed}) without caring about Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
