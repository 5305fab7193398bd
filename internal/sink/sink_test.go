package sink

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.sqsbinder.tech/internal/queue"
)

func testMessage() queue.Message {
	return queue.Message{
		Body: `{"orderId":42}`,
		Metadata: queue.Metadata{
			MessageID:         "m-1",
			ReceivedQueue:     "orders",
			MessageAttributes: map[string]string{"traceId": "abc"},
		},
	}
}

func TestChannelSink(t *testing.T) {
	t.Run("delivers to the channel", func(t *testing.T) {
		s := NewChannelSink(1, 0)

		require.NoError(t, s.Handle(context.Background(), testMessage()))

		got := <-s.Messages()
		assert.Equal(t, "m-1", got.Metadata.MessageID)
	})

	t.Run("times out when nobody reads", func(t *testing.T) {
		s := NewChannelSink(0, 20*time.Millisecond)

		err := s.Handle(context.Background(), testMessage())

		assert.ErrorIs(t, err, ErrSinkTimeout)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		s := NewChannelSink(0, 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := s.Handle(ctx, testMessage())

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, NewLogSink("orders").Handle(context.Background(), testMessage()))
}

func TestNATSSink(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	conn, err := Connect(NATSConfig{URL: srv.ClientURL(), Name: "sink-test"})
	require.NoError(t, err)
	defer conn.Close()

	sub, err := conn.SubscribeSync("orders.received")
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	s := NewNATSSink(conn, "orders.received")
	require.NoError(t, s.Handle(context.Background(), testMessage()))

	got, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"orderId":42}`, string(got.Data))
	assert.Equal(t, "m-1", got.Header.Get(HeaderMessageID))
	assert.Equal(t, "orders", got.Header.Get(HeaderReceivedQueue))
	assert.Equal(t, "abc", got.Header.Get(HeaderAttributePrefix+"traceId"))
}

func TestNATSSinkClosedConnection(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	conn.Close()

	err = NewNATSSink(conn, "orders.received").Handle(context.Background(), testMessage())

	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}
