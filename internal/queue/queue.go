// Package queue defines the queue client contract the binder consumes
package queue

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrQueueNotFound is returned (wrapped) when the queue service reports
// that a queue does not exist
var ErrQueueNotFound = errors.New("queue does not exist")

// Client is the minimum surface the binder needs from the queue service
type Client interface {
	// Receive long-polls queueID for up to opts.MaxMessages messages
	Receive(ctx context.Context, queueID string, opts ReceiveOptions) ([]Message, error)
	// ResolveURL resolves a logical queue name to its URL
	ResolveURL(ctx context.Context, name string) (string, error)
	// GetAttributes fetches the named attributes of a queue
	GetAttributes(ctx context.Context, queueID string, names []string) (map[string]string, error)
	// Send publishes a message and returns the queue-assigned message ID
	Send(ctx context.Context, queueID string, req SendRequest) (string, error)
	// Delete removes a received message from its queue
	Delete(ctx context.Context, queueID, receiptHandle string) error
}

// ReceiveOptions controls a single long-poll
type ReceiveOptions struct {
	MaxMessages       int32
	VisibilityTimeout time.Duration
	WaitTimeout       time.Duration
}

// SendRequest is the outbound message handed to Send
type SendRequest struct {
	Body            string
	GroupID         string
	DeduplicationID string
	DelaySeconds    *int32
	Attributes      map[string]string
}

// Acknowledgment deletes a received message from the queue it came from
type Acknowledgment interface {
	Acknowledge(ctx context.Context) error
}

// Metadata is the transport metadata attached to a received message
type Metadata struct {
	MessageID         string
	ReceiptHandle     string
	ReceivedQueue     string
	Attributes        map[string]string
	MessageAttributes map[string]string
	Acknowledgment    Acknowledgment
}

// Clone returns a copy of the metadata that shares no maps with m
func (m Metadata) Clone() Metadata {
	out := m
	out.Attributes = cloneMap(m.Attributes)
	out.MessageAttributes = cloneMap(m.MessageAttributes)
	return out
}

// Message is a received or transformed queue message
type Message struct {
	Body     string
	Metadata Metadata
}

// IsQueueURL reports whether id is a resolved queue URL (http or https
// scheme) rather than a logical queue name
func IsQueueURL(id string) bool {
	u, err := url.Parse(id)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AckFunc adapts a function to the Acknowledgment interface
type AckFunc func(ctx context.Context) error

// Acknowledge calls f
func (f AckFunc) Acknowledge(ctx context.Context) error {
	return f(ctx)
}
