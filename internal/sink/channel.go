// Package sink provides the application-facing destinations a listener pool
// forwards messages to
package sink

import (
	"context"
	"errors"
	"time"

	"go.sqsbinder.tech/internal/queue"
)

// ErrSinkTimeout is returned when a channel consumer did not take a message
// in time
var ErrSinkTimeout = errors.New("sink: timed out handing off message")

// ChannelSink hands messages to an in-process consumer over a Go channel
type ChannelSink struct {
	ch      chan queue.Message
	timeout time.Duration
}

// NewChannelSink creates a sink backed by a channel with the given buffer.
// A positive timeout bounds how long Handle waits for buffer space; zero
// waits until the context is done.
func NewChannelSink(buffer int, timeout time.Duration) *ChannelSink {
	return &ChannelSink{
		ch:      make(chan queue.Message, buffer),
		timeout: timeout,
	}
}

// Messages returns the channel the application reads from
func (s *ChannelSink) Messages() <-chan queue.Message {
	return s.ch
}

// Handle delivers msg to the channel
func (s *ChannelSink) Handle(ctx context.Context, msg queue.Message) error {
	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case s.ch <- msg:
		return nil
	case <-expired:
		return ErrSinkTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
