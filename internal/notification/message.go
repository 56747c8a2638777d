// Package notification defines the parsed notification envelope and the
// wire format it is decoded from.
package notification

import (
	"encoding/json"
	"fmt"
)

// Type identifies a notification channel.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
	TypePush  Type = "push"
)

// IsValid reports whether t is one of the three known channel types.
func (t Type) IsValid() bool {
	switch t {
	case TypeEmail, TypeSMS, TypePush:
		return true
	default:
		return false
	}
}

// MaxRetries is the maximum number of retry attempts a message may carry
// on successful parse. A body with a higher RetryCount was redelivered
// more times than the pipeline would ever schedule and is routed to the
// DLQ instead of processed.
const MaxRetries = 5

// wireMessage is the JSON shape produced by the upstream producer.
type wireMessage struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	UserID         string          `json:"userId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	RetryCount     int             `json:"retryCount"`
}

// Message is the parsed, validated representation of a notification.
type Message struct {
	ID             string
	Type           Type
	UserID         string
	IdempotencyKey string
	Payload        map[string]interface{}
	RetryCount     int
}

// Parse decodes body as JSON and validates it against the invariants in
// §3 of the specification. headerRetryCount, when non-nil, is the
// broker-side x-retry-count header and takes priority over the body's
// retryCount field per §4.D.
//
// A non-nil error is always a DLQ-without-retry condition: malformed
// JSON, a missing or unknown type, a missing userId/idempotencyKey, a
// retry count above MaxRetries or below zero, or a malformed payload.
func Parse(body []byte, headerRetryCount *int) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Cause: err}
	}

	t := Type(wire.Type)
	if wire.Type == "" {
		return nil, &ParseError{Reason: "missing type"}
	}
	if !t.IsValid() {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown type %q", wire.Type)}
	}
	if wire.UserID == "" {
		return nil, &ParseError{Reason: "missing userId"}
	}
	if wire.IdempotencyKey == "" {
		return nil, &ParseError{Reason: "missing idempotencyKey"}
	}

	retryCount := wire.RetryCount
	if headerRetryCount != nil {
		retryCount = *headerRetryCount
	}
	if retryCount > MaxRetries {
		return nil, &ParseError{Reason: fmt.Sprintf("retryCount %d exceeds MaxRetries %d", retryCount, MaxRetries)}
	}
	if retryCount < 0 {
		return nil, &ParseError{Reason: "negative retryCount"}
	}

	var payload map[string]interface{}
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, &ParseError{Reason: "malformed payload", Cause: err}
		}
	}

	return &Message{
		ID:             wire.ID,
		Type:           t,
		UserID:         wire.UserID,
		IdempotencyKey: wire.IdempotencyKey,
		Payload:        payload,
		RetryCount:     retryCount,
	}, nil
}

// WithIncrementedRetry returns a copy of m with RetryCount incremented by
// one, ready to be re-marshaled for republish.
func (m *Message) WithIncrementedRetry() *Message {
	clone := *m
	clone.RetryCount = m.RetryCount + 1
	return &clone
}

// MarshalBody re-serializes the message to the wire format, preserving
// the original payload shape.
func (m *Message) MarshalBody() ([]byte, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{
		ID:             m.ID,
		Type:           string(m.Type),
		UserID:         m.UserID,
		IdempotencyKey: m.IdempotencyKey,
		Payload:        payload,
		RetryCount:     m.RetryCount,
	})
}
