package sqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.sqsbinder.tech/internal/queue"
)

const testQueueURL = "https://sqs.eu-central-1.amazonaws.com/1234567890/orders"

// fakeSQS records calls and returns canned responses
type fakeSQS struct {
	mu sync.Mutex

	getQueueURLCalls  []string
	attributeCalls    []string
	receiveInputs     []*sqs.ReceiveMessageInput
	sendInputs        []*sqs.SendMessageInput
	deleteInputs      []*sqs.DeleteMessageInput
	receiveMessages   []types.Message
	receiveErr        error
	getQueueURLErr    error
	getAttributesErr  error
	getAttributesResp map[string]string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiveInputs = append(f.receiveInputs, params)
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return &sqs.ReceiveMessageOutput{Messages: f.receiveMessages}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteInputs = append(f.deleteInputs, params)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendInputs = append(f.sendInputs, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("sent-1")}, nil
}

func (f *fakeSQS) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getQueueURLCalls = append(f.getQueueURLCalls, aws.ToString(params.QueueName))
	if f.getQueueURLErr != nil {
		return nil, f.getQueueURLErr
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(testQueueURL)}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attributeCalls = append(f.attributeCalls, aws.ToString(params.QueueUrl))
	if f.getAttributesErr != nil {
		return nil, f.getAttributesErr
	}
	return &sqs.GetQueueAttributesOutput{Attributes: f.getAttributesResp}, nil
}

func newTestClient(api *fakeSQS) *Client {
	cfg := DefaultClientConfig()
	cfg.CircuitBreakerEnabled = false
	return NewClientWithAPI(api, cfg)
}

func TestReceiveResolvesLogicalNameOnce(t *testing.T) {
	api := &fakeSQS{}
	c := newTestClient(api)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.Receive(ctx, "orders", queue.ReceiveOptions{MaxMessages: 10})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"orders"}, api.getQueueURLCalls)
	require.Len(t, api.receiveInputs, 3)
	assert.Equal(t, testQueueURL, aws.ToString(api.receiveInputs[0].QueueUrl))
}

func TestReceiveUsesURLDirectly(t *testing.T) {
	api := &fakeSQS{}
	c := newTestClient(api)

	_, err := c.Receive(context.Background(), testQueueURL, queue.ReceiveOptions{
		MaxMessages:       5,
		VisibilityTimeout: 30 * time.Second,
		WaitTimeout:       10 * time.Second,
	})
	require.NoError(t, err)

	assert.Empty(t, api.getQueueURLCalls)
	require.Len(t, api.receiveInputs, 1)
	in := api.receiveInputs[0]
	assert.Equal(t, int32(5), in.MaxNumberOfMessages)
	assert.Equal(t, int32(30), in.VisibilityTimeout)
	assert.Equal(t, int32(10), in.WaitTimeSeconds)
}

func TestReceiveMapsMetadata(t *testing.T) {
	api := &fakeSQS{
		receiveMessages: []types.Message{{
			MessageId:     aws.String("msg-1"),
			ReceiptHandle: aws.String("rh-1"),
			Body:          aws.String(`{"hello":"world"}`),
			Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
			MessageAttributes: map[string]types.MessageAttributeValue{
				"trace":  {DataType: aws.String("String"), StringValue: aws.String("abc")},
				"binary": {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
			},
		}},
	}
	c := newTestClient(api)

	msgs, err := c.Receive(context.Background(), "orders", queue.ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, `{"hello":"world"}`, msg.Body)
	assert.Equal(t, "msg-1", msg.Metadata.MessageID)
	assert.Equal(t, "rh-1", msg.Metadata.ReceiptHandle)
	assert.Equal(t, "orders", msg.Metadata.ReceivedQueue)
	assert.Equal(t, "1", msg.Metadata.Attributes["ApproximateReceiveCount"])
	assert.Equal(t, map[string]string{"trace": "abc"}, msg.Metadata.MessageAttributes)

	require.NotNil(t, msg.Metadata.Acknowledgment)
	require.NoError(t, msg.Metadata.Acknowledgment.Acknowledge(context.Background()))
	require.Len(t, api.deleteInputs, 1)
	assert.Equal(t, "rh-1", aws.ToString(api.deleteInputs[0].ReceiptHandle))
	assert.Equal(t, testQueueURL, aws.ToString(api.deleteInputs[0].QueueUrl))
}

func TestResolveURLMapsMissingQueue(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed", &types.QueueDoesNotExist{Message: aws.String("no such queue")}},
		{"query protocol code", &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue"}},
		{"json protocol code", &smithy.GenericAPIError{Code: "QueueDoesNotExist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeSQS{getQueueURLErr: tt.err})
			_, err := c.ResolveURL(context.Background(), "missing")
			require.Error(t, err)
			assert.ErrorIs(t, err, queue.ErrQueueNotFound)
		})
	}
}

func TestResolveURLKeepsOtherErrors(t *testing.T) {
	c := newTestClient(&fakeSQS{getQueueURLErr: &smithy.GenericAPIError{Code: "AccessDenied"}})
	_, err := c.ResolveURL(context.Background(), "orders")
	require.Error(t, err)
	assert.False(t, errors.Is(err, queue.ErrQueueNotFound))
}

func TestGetAttributesOnURL(t *testing.T) {
	api := &fakeSQS{getAttributesResp: map[string]string{"CreatedTimestamp": "1234567890"}}
	c := newTestClient(api)

	attrs, err := c.GetAttributes(context.Background(), testQueueURL, []string{"CreatedTimestamp"})
	require.NoError(t, err)
	assert.Equal(t, "1234567890", attrs["CreatedTimestamp"])
	assert.Equal(t, []string{testQueueURL}, api.attributeCalls)
	assert.Empty(t, api.getQueueURLCalls)
}

func TestSendSetsFIFOFieldsOnlyWhenPresent(t *testing.T) {
	api := &fakeSQS{}
	c := newTestClient(api)
	delay := int32(5)

	id, err := c.Send(context.Background(), testQueueURL, queue.SendRequest{
		Body:            "payload",
		GroupID:         "g-1",
		DeduplicationID: "d-1",
		DelaySeconds:    &delay,
		Attributes:      map[string]string{"source": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)

	_, err = c.Send(context.Background(), testQueueURL, queue.SendRequest{Body: "plain"})
	require.NoError(t, err)

	require.Len(t, api.sendInputs, 2)
	fifo := api.sendInputs[0]
	assert.Equal(t, "payload", aws.ToString(fifo.MessageBody))
	assert.Equal(t, "g-1", aws.ToString(fifo.MessageGroupId))
	assert.Equal(t, "d-1", aws.ToString(fifo.MessageDeduplicationId))
	assert.Equal(t, int32(5), fifo.DelaySeconds)
	assert.Equal(t, "test", aws.ToString(fifo.MessageAttributes["source"].StringValue))

	plain := api.sendInputs[1]
	assert.Nil(t, plain.MessageGroupId)
	assert.Nil(t, plain.MessageDeduplicationId)
	assert.Equal(t, int32(0), plain.DelaySeconds)
	assert.Nil(t, plain.MessageAttributes)
}

func TestDeleteSkipsEmptyReceiptHandle(t *testing.T) {
	api := &fakeSQS{}
	c := newTestClient(api)

	require.NoError(t, c.Delete(context.Background(), testQueueURL, ""))
	assert.Empty(t, api.deleteInputs)
}

func TestReceiveThroughCircuitBreaker(t *testing.T) {
	api := &fakeSQS{receiveErr: errors.New("connection reset")}
	cfg := DefaultClientConfig()
	cfg.CircuitBreakerMinRequests = 2
	cfg.CircuitBreakerRatio = 0.5
	cfg.CircuitBreakerTimeout = time.Minute
	c := NewClientWithAPI(api, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Receive(ctx, testQueueURL, queue.ReceiveOptions{MaxMessages: 1})
		require.Error(t, err)
	}

	// breaker is open now, the API is not called again
	_, err := c.Receive(ctx, testQueueURL, queue.ReceiveOptions{MaxMessages: 1})
	require.Error(t, err)
	assert.Len(t, api.receiveInputs, 2)
}
