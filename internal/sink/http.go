package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// Webhook failures. A permanent failure is not worth retrying, the message
// goes back to the queue and eventually to its redrive policy.
var (
	ErrWebhookPermanent = errors.New("webhook rejected message")
	ErrWebhookTransient = errors.New("webhook temporarily unavailable")
	ErrWebhookNotReady  = errors.New("webhook asked for redelivery")
)

// HTTPConfig configures a webhook sink
type HTTPConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration

	MaxRetries  int
	BaseBackoff time.Duration

	CircuitBreakerEnabled     bool
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerMinRequests uint32
	CircuitBreakerRatio       float64
}

// DefaultHTTPConfig returns webhook defaults for url
func DefaultHTTPConfig(url string) HTTPConfig {
	return HTTPConfig{
		URL:                       url,
		Timeout:                   30 * time.Second,
		MaxRetries:                3,
		BaseBackoff:               time.Second,
		CircuitBreakerEnabled:     true,
		CircuitBreakerInterval:    60 * time.Second,
		CircuitBreakerTimeout:     5 * time.Second,
		CircuitBreakerMinRequests: 10,
		CircuitBreakerRatio:       0.5,
	}
}

// HTTPSink posts every message body to a webhook
type HTTPSink struct {
	binding     string
	url         string
	authToken   string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	maxRetries  int
	baseBackoff time.Duration
}

// NewHTTPSink creates a webhook sink for binding
func NewHTTPSink(binding string, cfg HTTPConfig) *HTTPSink {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	s := &HTTPSink{
		binding:   binding,
		url:       cfg.URL,
		authToken: cfg.AuthToken,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}

	if cfg.CircuitBreakerEnabled {
		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "webhook-" + binding,
			Interval: cfg.CircuitBreakerInterval,
			Timeout:  cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.CircuitBreakerRatio
			},
			// a rejected message says nothing about the endpoint's health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrWebhookPermanent) || errors.Is(err, ErrWebhookNotReady)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Info().
					Str("name", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")

				var state float64
				switch to {
				case gobreaker.StateClosed:
					state = metrics.CircuitBreakerClosed
				case gobreaker.StateOpen:
					state = metrics.CircuitBreakerOpen
				case gobreaker.StateHalfOpen:
					state = metrics.CircuitBreakerHalfOpen
				}
				metrics.ClientCircuitBreakerState.WithLabelValues(name).Set(state)
			},
		})
	}

	return s
}

// Handle posts msg, retrying transient failures with a linear backoff
func (s *HTTPSink) Handle(ctx context.Context, msg queue.Message) error {
	if s.breaker == nil {
		return s.deliverWithRetry(ctx, msg)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.deliverWithRetry(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.SinkPublishErrors.WithLabelValues("http").Inc()
		return fmt.Errorf("%w: %w", ErrWebhookTransient, err)
	}
	return err
}

func (s *HTTPSink) deliverWithRetry(ctx context.Context, msg queue.Message) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.deliver(ctx, msg, attempt)
		if err == nil || !errors.Is(err, ErrWebhookTransient) {
			break
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(attempt) * s.baseBackoff
			log.Info().
				Str("binding", s.binding).
				Str("messageId", msg.Metadata.MessageID).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying webhook after backoff")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err != nil {
		metrics.SinkPublishErrors.WithLabelValues("http").Inc()
	}
	return err
}

func (s *HTTPSink) deliver(ctx context.Context, msg queue.Message, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrWebhookPermanent, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderMessageID, msg.Metadata.MessageID)
	if msg.Metadata.ReceivedQueue != "" {
		req.Header.Set(HeaderReceivedQueue, msg.Metadata.ReceivedQueue)
	}
	for k, v := range msg.Metadata.MessageAttributes {
		req.Header.Set(HeaderAttributePrefix+k, v)
	}
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.SinkHTTPDuration.WithLabelValues(s.binding).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SinkHTTPRequests.WithLabelValues(s.binding, "error").Inc()
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn().
			Err(err).
			Str("binding", s.binding).
			Str("messageId", msg.Metadata.MessageID).
			Int("attempt", attempt).
			Msg("Webhook request failed")
		return fmt.Errorf("%w: %w", ErrWebhookTransient, err)
	}
	defer resp.Body.Close()

	metrics.SinkHTTPRequests.WithLabelValues(s.binding, strconv.Itoa(resp.StatusCode)).Inc()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	return s.classify(msg, resp.StatusCode, body)
}

// classify maps a webhook response onto the sink's error classes. A 2xx
// with {"ack": false} means the receiver wants the message redelivered.
func (s *HTTPSink) classify(msg queue.Message, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		if ack := parseAck(body); ack != nil && !*ack {
			log.Info().
				Str("binding", s.binding).
				Str("messageId", msg.Metadata.MessageID).
				Msg("Webhook responded ack=false, leaving message for redelivery")
			return ErrWebhookNotReady
		}
		return nil
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: status %d", ErrWebhookTransient, status)
	default:
		log.Warn().
			Str("binding", s.binding).
			Str("messageId", msg.Metadata.MessageID).
			Int("statusCode", status).
			Msg("Webhook rejected message, will not retry")
		return fmt.Errorf("%w: status %d", ErrWebhookPermanent, status)
	}
}

func parseAck(body []byte) *bool {
	if len(body) == 0 {
		return nil
	}
	var resp struct {
		Ack *bool `json:"ack"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	return resp.Ack
}
