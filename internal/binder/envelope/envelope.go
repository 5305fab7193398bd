// Package envelope unwraps SNS fan-out notifications delivered through SQS
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.sqsbinder.tech/internal/queue"
)

// NotificationType is the envelope Type value carrying a payload
const NotificationType = "Notification"

// maxExcerpt bounds how much of a rejected payload ends up in error messages
const maxExcerpt = 256

// Transformation errors
var (
	ErrMalformedPayload = errors.New("payload is not a JSON object")
	ErrMissingType      = errors.New("payload does not contain a Type attribute")
	ErrUnsupportedType  = errors.New("payload is not a valid notification")
	ErrMissingMessage   = errors.New("payload does not contain a message")
)

// Transformer turns a received message into the message forwarded to the
// application
type Transformer interface {
	Unwrap(raw queue.Message) (queue.Message, error)
}

// ForBinding returns the transformer for a consumer binding
func ForBinding(snsFanout bool) Transformer {
	if snsFanout {
		return NotificationEnvelopeTransformer{}
	}
	return IdentityTransformer{}
}

// IdentityTransformer forwards messages unchanged
type IdentityTransformer struct{}

// Unwrap returns raw as-is
func (IdentityTransformer) Unwrap(raw queue.Message) (queue.Message, error) {
	return raw, nil
}

// NotificationEnvelopeTransformer extracts the Message field of an SNS
// notification envelope
type NotificationEnvelopeTransformer struct{}

// Unwrap parses the envelope and returns a new message whose body is the
// notification's Message and whose metadata is a copy of raw's
func (NotificationEnvelopeTransformer) Unwrap(raw queue.Message) (queue.Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw.Body), &fields); err != nil || fields == nil {
		return queue.Message{}, fmt.Errorf("%w: '%s'", ErrMalformedPayload, excerpt(raw.Body))
	}

	typ, ok := fields["Type"]
	if !ok {
		return queue.Message{}, fmt.Errorf("%w: '%s'", ErrMissingType, excerpt(raw.Body))
	}
	if text(typ) != NotificationType {
		return queue.Message{}, fmt.Errorf("%w: '%s'", ErrUnsupportedType, excerpt(raw.Body))
	}

	msg, ok := fields["Message"]
	if !ok {
		return queue.Message{}, fmt.Errorf("%w: '%s'", ErrMissingMessage, excerpt(raw.Body))
	}

	return queue.Message{
		Body:     text(msg),
		Metadata: raw.Metadata.Clone(),
	}, nil
}

// text returns the value of a JSON string, or the raw JSON of any other value
func text(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

func excerpt(body string) string {
	if len(body) <= maxExcerpt {
		return body
	}
	return body[:maxExcerpt] + "..."
}

// Reason returns a short label for a transformation error, used in metrics
// and warnings
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrMissingType):
		return "missing_type"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrMissingMessage):
		return "missing_message"
	default:
		return "unknown"
	}
}
