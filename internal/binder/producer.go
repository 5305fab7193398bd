package binder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// Header names recognised by OutboundFromHeaders
const (
	HeaderPrefix          = "sqs_"
	HeaderGroupID         = HeaderPrefix + "groupId"
	HeaderDeduplicationID = HeaderPrefix + "deduplicationId"
	HeaderDelay           = HeaderPrefix + "delay"
)

// OutboundMessage is a message produced by the application
type OutboundMessage struct {
	Payload []byte
	// GroupID is required for FIFO queues
	GroupID string
	// DeduplicationID is required for FIFO queues without content-based
	// deduplication
	DeduplicationID string
	DelaySeconds    *int32
	Attributes      map[string]string
}

// OutboundFromHeaders builds an outbound message from a payload and
// transport headers. Headers other than the sqs_ ones become message
// attributes.
func OutboundFromHeaders(payload []byte, headers map[string]string) (OutboundMessage, error) {
	msg := OutboundMessage{Payload: payload}

	for k, v := range headers {
		switch k {
		case HeaderGroupID:
			msg.GroupID = v
		case HeaderDeduplicationID:
			msg.DeduplicationID = v
		case HeaderDelay:
			d, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return OutboundMessage{}, fmt.Errorf("invalid %s header %q: %w", HeaderDelay, v, err)
			}
			delay := int32(d)
			msg.DelaySeconds = &delay
		default:
			if msg.Attributes == nil {
				msg.Attributes = make(map[string]string)
			}
			msg.Attributes[k] = v
		}
	}
	return msg, nil
}

// Producer sends outbound messages to a single destination queue
type Producer struct {
	name        string
	destination string
	client      queue.Client
}

// Name returns the binding name
func (p *Producer) Name() string {
	return p.name
}

// Destination returns the destination queue
func (p *Producer) Destination() string {
	return p.destination
}

// Send maps msg onto a send request and returns the queue-assigned message ID
func (p *Producer) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	id, err := p.client.Send(ctx, p.destination, queue.SendRequest{
		Body:            string(msg.Payload),
		GroupID:         msg.GroupID,
		DeduplicationID: msg.DeduplicationID,
		DelaySeconds:    msg.DelaySeconds,
		Attributes:      msg.Attributes,
	})
	if err != nil {
		metrics.ProducerMessagesSent.WithLabelValues(p.name, "failed").Inc()
		return "", fmt.Errorf("producer %s: %w", p.name, err)
	}

	metrics.ProducerMessagesSent.WithLabelValues(p.name, "success").Inc()
	log.Debug().
		Str("binding", p.name).
		Str("destination", p.destination).
		Str("messageId", id).
		Msg("Message sent")
	return id, nil
}
