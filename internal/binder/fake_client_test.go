package binder

import (
	"context"
	"sync"

	"go.sqsbinder.tech/internal/queue"
)

// fakeClient serves queued batches per queue and blocks on an empty queue
// until the poll is cancelled, like a long poll that never returns early
type fakeClient struct {
	mu       sync.Mutex
	batches  map[string]chan []queue.Message
	failures map[string][]error
	deleted  []string
	sent     []queue.SendRequest
	receives map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		batches:  make(map[string]chan []queue.Message),
		failures: make(map[string][]error),
		receives: make(map[string]int),
	}
}

func (c *fakeClient) channel(queueID string) chan []queue.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.batches[queueID]
	if !ok {
		ch = make(chan []queue.Message, 16)
		c.batches[queueID] = ch
	}
	return ch
}

func (c *fakeClient) push(queueID string, msgs ...queue.Message) {
	c.channel(queueID) <- msgs
}

// failNext makes the next receives on queueID fail with errs, in order
func (c *fakeClient) failNext(queueID string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[queueID] = append(c.failures[queueID], errs...)
}

func (c *fakeClient) Receive(ctx context.Context, queueID string, _ queue.ReceiveOptions) ([]queue.Message, error) {
	c.mu.Lock()
	c.receives[queueID]++
	if errs := c.failures[queueID]; len(errs) > 0 {
		c.failures[queueID] = errs[1:]
		c.mu.Unlock()
		return nil, errs[0]
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msgs := <-c.channel(queueID):
		return msgs, nil
	}
}

func (c *fakeClient) ResolveURL(_ context.Context, name string) (string, error) {
	return "http://localhost:4566/000000000000/" + name, nil
}

func (c *fakeClient) GetAttributes(context.Context, string, []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (c *fakeClient) Send(_ context.Context, _ string, req queue.SendRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, req)
	return "msg-id", nil
}

func (c *fakeClient) Delete(_ context.Context, _ string, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, receiptHandle)
	return nil
}

func (c *fakeClient) deletedHandles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deleted))
	copy(out, c.deleted)
	return out
}

func (c *fakeClient) receiveCount(queueID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receives[queueID]
}

// recordingSink collects handled messages
type recordingSink struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (s *recordingSink) Handle(_ context.Context, msg queue.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Body
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func message(id, body string) queue.Message {
	return queue.Message{
		Body: body,
		Metadata: queue.Metadata{
			MessageID:     id,
			ReceiptHandle: "rh-" + id,
		},
	}
}
