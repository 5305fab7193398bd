package binder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.sqsbinder.tech/internal/queue"
)

// ErrConfiguration is returned (wrapped) when a binding cannot be created
// from its configuration
var ErrConfiguration = errors.New("invalid binding configuration")

// Polling defaults and limits
const (
	DefaultConcurrency       = 1
	DefaultMaxMessages       = 10
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultWaitTimeout       = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultErrorBackoff      = time.Second

	MaxMessagesLimit     = 10
	MaxWaitTimeout       = 20 * time.Second
	MaxVisibilityTimeout = 12 * time.Hour
	ackTimeout           = 10 * time.Second
)

// PollOptions configures how every worker of a pool polls its queues
type PollOptions struct {
	MaxMessages       int32
	VisibilityTimeout time.Duration
	WaitTimeout       time.Duration
	// ShutdownTimeout bounds how long Stop waits for in-flight dispatch
	ShutdownTimeout time.Duration
	// ErrorBackoff is the minimum delay between receive attempts after a
	// failed receive
	ErrorBackoff time.Duration
}

// DefaultPollOptions returns the defaults for a consumer binding
func DefaultPollOptions() PollOptions {
	return PollOptions{
		MaxMessages:       DefaultMaxMessages,
		VisibilityTimeout: DefaultVisibilityTimeout,
		WaitTimeout:       DefaultWaitTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ErrorBackoff:      DefaultErrorBackoff,
	}
}

// withDefaults fills zero values with defaults
func (o PollOptions) withDefaults() PollOptions {
	d := DefaultPollOptions()
	if o.MaxMessages == 0 {
		o.MaxMessages = d.MaxMessages
	}
	if o.VisibilityTimeout == 0 {
		o.VisibilityTimeout = d.VisibilityTimeout
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = d.WaitTimeout
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.ErrorBackoff == 0 {
		o.ErrorBackoff = d.ErrorBackoff
	}
	return o
}

// Validate checks the options against the limits of the queue service
func (o PollOptions) Validate() error {
	if o.MaxMessages < 1 || o.MaxMessages > MaxMessagesLimit {
		return fmt.Errorf("%w: max messages per poll must be between 1 and %d, got %d",
			ErrConfiguration, MaxMessagesLimit, o.MaxMessages)
	}
	if o.WaitTimeout < time.Second || o.WaitTimeout > MaxWaitTimeout {
		return fmt.Errorf("%w: wait timeout must be between 1s and %s, got %s",
			ErrConfiguration, MaxWaitTimeout, o.WaitTimeout)
	}
	if o.VisibilityTimeout < 0 || o.VisibilityTimeout > MaxVisibilityTimeout {
		return fmt.Errorf("%w: visibility timeout must be between 0 and %s, got %s",
			ErrConfiguration, MaxVisibilityTimeout, o.VisibilityTimeout)
	}
	if o.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrConfiguration)
	}
	return nil
}

func (o PollOptions) receiveOptions() queue.ReceiveOptions {
	return queue.ReceiveOptions{
		MaxMessages:       o.MaxMessages,
		VisibilityTimeout: o.VisibilityTimeout,
		WaitTimeout:       o.WaitTimeout,
	}
}

// AckMode controls when received messages are deleted from their queue
type AckMode string

const (
	// AckOnSuccess deletes a message once the sink accepted it
	AckOnSuccess AckMode = "on_success"
	// AckManual leaves deletion to the application via Metadata.Acknowledgment
	AckManual AckMode = "manual"
)

// ParseAckMode parses a configured acknowledgement mode, defaulting to
// AckOnSuccess
func ParseAckMode(s string) (AckMode, error) {
	switch AckMode(s) {
	case "", AckOnSuccess:
		return AckOnSuccess, nil
	case AckManual:
		return AckManual, nil
	default:
		return "", fmt.Errorf("%w: unknown ack mode %q", ErrConfiguration, s)
	}
}

// Sink receives the messages consumed by a listener pool
type Sink interface {
	Handle(ctx context.Context, msg queue.Message) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, msg queue.Message) error

// Handle calls f
func (f SinkFunc) Handle(ctx context.Context, msg queue.Message) error {
	return f(ctx, msg)
}
