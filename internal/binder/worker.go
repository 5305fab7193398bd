package binder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"go.sqsbinder.tech/internal/binder/envelope"
	"go.sqsbinder.tech/internal/binder/warning"
	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// ListenerWorker polls every queue of its pool's queue set. Each queue gets
// its own poll loop; all loops share the worker's running flag and stop
// signal.
type ListenerWorker struct {
	id    string
	index int
	pool  *ListenerPool

	running atomic.Bool

	// guards cancel and done across Start/Stop
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newListenerWorker(pool *ListenerPool, index int) *ListenerWorker {
	return &ListenerWorker{
		id:    uuid.NewString(),
		index: index,
		pool:  pool,
	}
}

// ID returns the worker's unique identifier
func (w *ListenerWorker) ID() string {
	return w.id
}

// IsRunning reports whether the worker has been started and not stopped
func (w *ListenerWorker) IsRunning() bool {
	return w.running.Load()
}

// Start launches one poll loop per bound queue. It is a no-op when the worker
// is already running.
func (w *ListenerWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var wg sync.WaitGroup
	for _, queueID := range w.pool.queues {
		wg.Add(1)
		go func(queueID string) {
			defer wg.Done()
			w.pollLoop(ctx, queueID)
		}(queueID)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	w.cancel = cancel
	w.done = done
	w.running.Store(true)

	log.Debug().
		Str("pool", w.pool.name).
		Str("worker", w.id).
		Int("index", w.index).
		Msg("Listener worker started")
}

// Stop signals every poll loop to stop and waits up to timeout for in-flight
// dispatch to finish. It returns false when the loops were abandoned.
func (w *ListenerWorker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running.Load() {
		w.mu.Unlock()
		return true
	}
	w.running.Store(false)
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Debug().Str("pool", w.pool.name).Str("worker", w.id).Msg("Listener worker stopped")
		return true
	case <-timer.C:
		log.Warn().
			Str("pool", w.pool.name).
			Str("worker", w.id).
			Dur("timeout", timeout).
			Msg("Listener worker did not stop within shutdown timeout, abandoning")
		return false
	}
}

func (w *ListenerWorker) pollLoop(ctx context.Context, queueID string) {
	p := w.pool
	opts := p.poll.receiveOptions()

	// starts empty so the first failed receive already backs off
	backoff := rate.NewLimiter(rate.Every(p.poll.ErrorBackoff), 1)
	backoff.Allow()

	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := p.client.Receive(ctx, queueID, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			log.Error().
				Err(err).
				Str("pool", p.name).
				Str("queue", queueID).
				Str("worker", w.id).
				Msg("Error polling queue")
			metrics.ListenerPollErrors.WithLabelValues(p.name, queueID).Inc()
			if p.warnings != nil {
				p.warnings.AddWarning(warning.CategoryPoll, warning.SeverityError,
					fmt.Sprintf("receive from %s failed: %v", queueID, err), p.name)
			}

			if err := backoff.Wait(ctx); err != nil {
				return
			}
			continue
		}

		// a batch that was received is dispatched in full, even when Stop
		// is called meanwhile
		dispatchCtx := context.WithoutCancel(ctx)
		for _, msg := range messages {
			w.dispatch(dispatchCtx, queueID, msg)
		}
	}
}

func (w *ListenerWorker) dispatch(ctx context.Context, queueID string, raw queue.Message) {
	p := w.pool

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("pool", p.name).
				Str("queue", queueID).
				Str("messageId", raw.Metadata.MessageID).
				Msg("Recovered from panic while dispatching message")
			metrics.ListenerMessagesForwarded.WithLabelValues(p.name, "failed").Inc()
		}
	}()

	metrics.ListenerMessagesReceived.WithLabelValues(p.name, queueID).Inc()

	msg, err := p.transformer.Unwrap(raw)
	if err != nil {
		reason := envelope.Reason(err)
		log.Warn().
			Err(err).
			Str("pool", p.name).
			Str("queue", queueID).
			Str("messageId", raw.Metadata.MessageID).
			Str("reason", reason).
			Msg("Dropping message that could not be unwrapped")
		metrics.ListenerTransformErrors.WithLabelValues(p.name, reason).Inc()
		if p.warnings != nil {
			p.warnings.AddWarning(warning.CategoryTransform, warning.SeverityWarn,
				fmt.Sprintf("message %s from %s: %v", raw.Metadata.MessageID, queueID, err), p.name)
		}
		return
	}

	if err := p.sink.Handle(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("pool", p.name).
			Str("queue", queueID).
			Str("messageId", msg.Metadata.MessageID).
			Msg("Sink rejected message")
		metrics.ListenerMessagesForwarded.WithLabelValues(p.name, "failed").Inc()
		if p.warnings != nil {
			p.warnings.AddWarning(warning.CategoryDispatch, warning.SeverityError,
				fmt.Sprintf("message %s from %s: %v", msg.Metadata.MessageID, queueID, err), p.name)
		}
		return
	}
	metrics.ListenerMessagesForwarded.WithLabelValues(p.name, "success").Inc()

	if p.ackMode == AckOnSuccess {
		w.acknowledge(ctx, queueID, msg)
	}
}

func (w *ListenerWorker) acknowledge(ctx context.Context, queueID string, msg queue.Message) {
	p := w.pool

	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	var err error
	if msg.Metadata.Acknowledgment != nil {
		err = msg.Metadata.Acknowledgment.Acknowledge(ackCtx)
	} else {
		err = p.client.Delete(ackCtx, queueID, msg.Metadata.ReceiptHandle)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("pool", p.name).
			Str("queue", queueID).
			Str("messageId", msg.Metadata.MessageID).
			Msg("Failed to acknowledge message, it will be redelivered after the visibility timeout")
		metrics.ListenerMessagesAcknowledged.WithLabelValues(p.name, "failed").Inc()
		return
	}
	metrics.ListenerMessagesAcknowledged.WithLabelValues(p.name, "success").Inc()
}
