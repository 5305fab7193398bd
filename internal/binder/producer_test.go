package binder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.sqsbinder.tech/internal/queue"
)

type failingSendClient struct {
	*fakeClient
}

func (failingSendClient) Send(context.Context, string, queue.SendRequest) (string, error) {
	return "", errors.New("access denied")
}

func TestOutboundFromHeaders(t *testing.T) {
	t.Run("maps sqs headers onto fields", func(t *testing.T) {
		msg, err := OutboundFromHeaders([]byte("payload"), map[string]string{
			HeaderGroupID:         "group-1",
			HeaderDeduplicationID: "dedup-1",
			HeaderDelay:           "15",
			"traceId":             "abc",
		})

		require.NoError(t, err)
		assert.Equal(t, "group-1", msg.GroupID)
		assert.Equal(t, "dedup-1", msg.DeduplicationID)
		require.NotNil(t, msg.DelaySeconds)
		assert.Equal(t, int32(15), *msg.DelaySeconds)
		assert.Equal(t, map[string]string{"traceId": "abc"}, msg.Attributes)
	})

	t.Run("no headers leaves optional fields unset", func(t *testing.T) {
		msg, err := OutboundFromHeaders([]byte("payload"), nil)

		require.NoError(t, err)
		assert.Empty(t, msg.GroupID)
		assert.Nil(t, msg.DelaySeconds)
		assert.Nil(t, msg.Attributes)
	})

	t.Run("invalid delay is rejected", func(t *testing.T) {
		_, err := OutboundFromHeaders([]byte("payload"), map[string]string{HeaderDelay: "soon"})
		assert.ErrorContains(t, err, HeaderDelay)
	})
}

func TestProducerSend(t *testing.T) {
	t.Run("copies every field into the send request", func(t *testing.T) {
		client := newFakeClient()
		b := New(client)
		p, err := b.BindProducer("events", "events.fifo")
		require.NoError(t, err)

		delay := int32(5)
		id, err := p.Send(context.Background(), OutboundMessage{
			Payload:         []byte(`{"id":1}`),
			GroupID:         "g",
			DeduplicationID: "d",
			DelaySeconds:    &delay,
			Attributes:      map[string]string{"k": "v"},
		})

		require.NoError(t, err)
		assert.Equal(t, "msg-id", id)
		require.Len(t, client.sent, 1)
		assert.Equal(t, queue.SendRequest{
			Body:            `{"id":1}`,
			GroupID:         "g",
			DeduplicationID: "d",
			DelaySeconds:    &delay,
			Attributes:      map[string]string{"k": "v"},
		}, client.sent[0])
	})

	t.Run("wraps client errors with the binding name", func(t *testing.T) {
		b := New(failingSendClient{newFakeClient()})
		p, err := b.BindProducer("events", "events")
		require.NoError(t, err)

		_, err = p.Send(context.Background(), OutboundMessage{Payload: []byte("x")})

		assert.ErrorContains(t, err, "producer events")
		assert.ErrorContains(t, err, "access denied")
	})
}
