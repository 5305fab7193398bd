// Package sqs provides the AWS SQS implementation of queue.Client
package sqs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// SQSClientAPI defines the subset of the SQS API used by Client (for testing)
type SQSClientAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Error codes SQS uses for a missing queue across the query and JSON protocols
const (
	errCodeNonExistentQueue  = "AWS.SimpleQueueService.NonExistentQueue"
	errCodeQueueDoesNotExist = "QueueDoesNotExist"
)

// ClientConfig holds SQS client configuration
type ClientConfig struct {
	Region string
	// Endpoint overrides the SQS endpoint (LocalStack/testing)
	Endpoint string
	// AccessKeyID for static credentials (optional, for testing)
	AccessKeyID string
	// SecretAccessKey for static credentials (optional, for testing)
	SecretAccessKey string

	// CircuitBreaker settings for ReceiveMessage
	CircuitBreakerEnabled     bool
	CircuitBreakerTimeout     time.Duration // Time in open state before half-open
	CircuitBreakerMinRequests uint32        // Min requests before evaluating ratio
	CircuitBreakerRatio       float64       // Failure ratio to trip
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Region:                    "eu-central-1",
		CircuitBreakerEnabled:     true,
		CircuitBreakerTimeout:     10 * time.Second,
		CircuitBreakerMinRequests: 5,
		CircuitBreakerRatio:       0.8,
	}
}

// Client implements queue.Client on top of the AWS SDK
type Client struct {
	sqs     SQSClientAPI
	breaker *gobreaker.CircuitBreaker

	urls   map[string]string
	urlsMu sync.RWMutex
}

var _ queue.Client = (*Client)(nil)

// NewClient loads the AWS configuration and creates a new SQS client
func NewClient(ctx context.Context, cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Info().
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Bool("circuitBreaker", cfg.CircuitBreakerEnabled).
		Msg("SQS client created")

	return NewClientWithAPI(api, cfg), nil
}

// NewClientWithAPI wraps an existing SQS API implementation
func NewClientWithAPI(api SQSClientAPI, cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	c := &Client{
		sqs:  api,
		urls: make(map[string]string),
	}

	if cfg.CircuitBreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sqs-receive",
			Timeout: cfg.CircuitBreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < cfg.CircuitBreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= cfg.CircuitBreakerRatio
			},
			// Cancelled long-polls are shutdown, not service failures
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(classify(err), queue.ErrQueueNotFound)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn().
					Str("name", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")

				var stateValue float64
				switch to {
				case gobreaker.StateClosed:
					stateValue = float64(metrics.CircuitBreakerClosed)
				case gobreaker.StateOpen:
					stateValue = float64(metrics.CircuitBreakerOpen)
				case gobreaker.StateHalfOpen:
					stateValue = float64(metrics.CircuitBreakerHalfOpen)
				}
				metrics.ClientCircuitBreakerState.WithLabelValues(name).Set(stateValue)
			},
		})
	}

	return c
}

// Receive long-polls a queue and maps the result to queue messages
func (c *Client) Receive(ctx context.Context, queueID string, opts queue.ReceiveOptions) ([]queue.Message, error) {
	queueURL, err := c.queueURL(ctx, queueID)
	if err != nil {
		return nil, err
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   opts.MaxMessages,
		WaitTimeSeconds:       int32(opts.WaitTimeout / time.Second),
		VisibilityTimeout:     int32(opts.VisibilityTimeout / time.Second),
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{"All"},
	}

	var out *sqs.ReceiveMessageOutput
	if c.breaker != nil {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.sqs.ReceiveMessage(ctx, input)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to receive messages: %w", classify(err))
		}
		out = res.(*sqs.ReceiveMessageOutput)
	} else {
		out, err = c.sqs.ReceiveMessage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to receive messages: %w", classify(err))
		}
	}

	messages := make([]queue.Message, 0, len(out.Messages))
	for _, msg := range out.Messages {
		messages = append(messages, c.toMessage(queueID, queueURL, msg))
	}
	return messages, nil
}

func (c *Client) toMessage(queueID, queueURL string, msg types.Message) queue.Message {
	receiptHandle := aws.ToString(msg.ReceiptHandle)

	attrs := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attrs[k] = v
	}

	msgAttrs := make(map[string]string, len(msg.MessageAttributes))
	for k, v := range msg.MessageAttributes {
		if v.StringValue != nil {
			msgAttrs[k] = *v.StringValue
		}
	}

	return queue.Message{
		Body: aws.ToString(msg.Body),
		Metadata: queue.Metadata{
			MessageID:         aws.ToString(msg.MessageId),
			ReceiptHandle:     receiptHandle,
			ReceivedQueue:     queueID,
			Attributes:        attrs,
			MessageAttributes: msgAttrs,
			Acknowledgment: queue.AckFunc(func(ctx context.Context) error {
				return c.Delete(ctx, queueURL, receiptHandle)
			}),
		},
	}
}

// ResolveURL resolves a logical queue name with GetQueueUrl
func (c *Client) ResolveURL(ctx context.Context, name string) (string, error) {
	out, err := c.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue url for %q: %w", name, classify(err))
	}
	return aws.ToString(out.QueueUrl), nil
}

// GetAttributes fetches queue attributes for a queue name or URL
func (c *Client) GetAttributes(ctx context.Context, queueID string, names []string) (map[string]string, error) {
	queueURL, err := c.queueURL(ctx, queueID)
	if err != nil {
		return nil, err
	}

	attrNames := make([]types.QueueAttributeName, 0, len(names))
	for _, n := range names {
		attrNames = append(attrNames, types.QueueAttributeName(n))
	}

	out, err := c.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: attrNames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get queue attributes: %w", classify(err))
	}
	return out.Attributes, nil
}

// Send publishes a message, setting FIFO fields only when present
func (c *Client) Send(ctx context.Context, queueID string, req queue.SendRequest) (string, error) {
	queueURL, err := c.queueURL(ctx, queueID)
	if err != nil {
		return "", err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(req.Body),
	}
	if req.GroupID != "" {
		input.MessageGroupId = aws.String(req.GroupID)
	}
	if req.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(req.DeduplicationID)
	}
	if req.DelaySeconds != nil {
		input.DelaySeconds = *req.DelaySeconds
	}
	if len(req.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(req.Attributes))
		for k, v := range req.Attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	out, err := c.sqs.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to send SQS message: %w", classify(err))
	}
	return aws.ToString(out.MessageId), nil
}

// Delete deletes a message from the queue
func (c *Client) Delete(ctx context.Context, queueID, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}

	queueURL, err := c.queueURL(ctx, queueID)
	if err != nil {
		return err
	}

	_, err = c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete SQS message: %w", classify(err))
	}

	log.Debug().Str("queue", queueID).Msg("SQS message deleted successfully")
	return nil
}

// queueURL returns queueID unchanged when it already is a URL, otherwise the
// cached or freshly resolved URL for the logical name
func (c *Client) queueURL(ctx context.Context, queueID string) (string, error) {
	if queue.IsQueueURL(queueID) {
		return queueID, nil
	}

	c.urlsMu.RLock()
	u, ok := c.urls[queueID]
	c.urlsMu.RUnlock()
	if ok {
		return u, nil
	}

	u, err := c.ResolveURL(ctx, queueID)
	if err != nil {
		return "", err
	}

	c.urlsMu.Lock()
	c.urls[queueID] = u
	c.urlsMu.Unlock()

	log.Debug().Str("queue", queueID).Str("queueURL", u).Msg("Resolved SQS queue url")
	return u, nil
}

// classify wraps missing-queue errors with queue.ErrQueueNotFound
func classify(err error) error {
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", queue.ErrQueueNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case errCodeNonExistentQueue, errCodeQueueDoesNotExist:
			return fmt.Errorf("%w: %w", queue.ErrQueueNotFound, err)
		}
	}
	return err
}
