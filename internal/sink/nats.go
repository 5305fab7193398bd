package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// Headers set on every forwarded NATS message
const (
	HeaderMessageID     = "Sqs-Message-Id"
	HeaderReceivedQueue = "Sqs-Received-Queue"
	// HeaderAttributePrefix prefixes each SQS message attribute
	HeaderAttributePrefix = "Sqs-Attr-"
)

const defaultFlushTimeout = 5 * time.Second

// NATSConfig holds the connection settings for NATS sinks
type NATSConfig struct {
	URL  string
	Name string
}

// Connect opens the NATS connection shared by all NATS sinks
func Connect(cfg NATSConfig) (*nats.Conn, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	log.Info().Str("url", url).Msg("Connected to NATS")
	return conn, nil
}

// NATSSink republishes messages on a NATS subject. Handle returns only after
// the server has processed the publish, so an acknowledged SQS message is
// never lost in the client buffer.
type NATSSink struct {
	conn         *nats.Conn
	subject      string
	flushTimeout time.Duration
}

// NewNATSSink creates a sink publishing to subject
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject, flushTimeout: defaultFlushTimeout}
}

// Subject returns the target subject
func (s *NATSSink) Subject() string {
	return s.subject
}

// Handle publishes msg with its metadata as headers
func (s *NATSSink) Handle(ctx context.Context, msg queue.Message) error {
	out := nats.NewMsg(s.subject)
	out.Data = []byte(msg.Body)
	out.Header.Set(HeaderMessageID, msg.Metadata.MessageID)
	if msg.Metadata.ReceivedQueue != "" {
		out.Header.Set(HeaderReceivedQueue, msg.Metadata.ReceivedQueue)
	}
	for k, v := range msg.Metadata.MessageAttributes {
		out.Header.Set(HeaderAttributePrefix+k, v)
	}

	if err := s.conn.PublishMsg(out); err != nil {
		metrics.SinkPublishErrors.WithLabelValues("nats").Inc()
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	if err := s.conn.FlushWithContext(flushCtx); err != nil {
		metrics.SinkPublishErrors.WithLabelValues("nats").Inc()
		return fmt.Errorf("flush %s: %w", s.subject, err)
	}
	return nil
}
