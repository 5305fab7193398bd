package binder

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/binder/envelope"
	"go.sqsbinder.tech/internal/binder/warning"
	"go.sqsbinder.tech/internal/common/metrics"
	"go.sqsbinder.tech/internal/queue"
)

// PoolConfig holds configuration for a listener pool
type PoolConfig struct {
	// Name identifies the pool in logs and metrics, defaults to the
	// comma-joined queue set
	Name        string
	QueueIDs    []string
	Concurrency int
	Poll        PollOptions
	// Transformer is applied to every received message, defaults to
	// envelope.IdentityTransformer
	Transformer envelope.Transformer
	Sink        Sink
	AckMode     AckMode
	// Warnings optionally records transformation and poll failures
	Warnings warning.Recorder
}

// ListenerPool runs Concurrency independent workers, each polling the full
// queue set. The queue service distributes messages across them.
type ListenerPool struct {
	name        string
	queues      []string
	client      queue.Client
	poll        PollOptions
	transformer envelope.Transformer
	sink        Sink
	ackMode     AckMode
	warnings    warning.Recorder

	workers []*ListenerWorker

	// serializes Start and Stop
	lifecycleMu sync.Mutex
}

// NewListenerPool validates cfg and creates the pool's workers without
// starting them
func NewListenerPool(client queue.Client, cfg PoolConfig) (*ListenerPool, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: queue client is required", ErrConfiguration)
	}
	if len(cfg.QueueIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one queue is required", ErrConfiguration)
	}
	for i, q := range cfg.QueueIDs {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("%w: queue at position %d is empty", ErrConfiguration, i)
		}
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrConfiguration, cfg.Concurrency)
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrConfiguration)
	}

	poll := cfg.Poll.withDefaults()
	if err := poll.Validate(); err != nil {
		return nil, err
	}

	ackMode, err := ParseAckMode(string(cfg.AckMode))
	if err != nil {
		return nil, err
	}

	transformer := cfg.Transformer
	if transformer == nil {
		transformer = envelope.IdentityTransformer{}
	}

	queues := make([]string, len(cfg.QueueIDs))
	copy(queues, cfg.QueueIDs)

	name := cfg.Name
	if name == "" {
		name = strings.Join(queues, ",")
	}

	p := &ListenerPool{
		name:        name,
		queues:      queues,
		client:      client,
		poll:        poll,
		transformer: transformer,
		sink:        cfg.Sink,
		ackMode:     ackMode,
		warnings:    cfg.Warnings,
	}

	p.workers = make([]*ListenerWorker, cfg.Concurrency)
	for i := range p.workers {
		p.workers[i] = newListenerWorker(p, i)
	}

	log.Info().
		Str("pool", name).
		Strs("queues", queues).
		Int("concurrency", cfg.Concurrency).
		Int32("maxMessages", poll.MaxMessages).
		Dur("waitTimeout", poll.WaitTimeout).
		Dur("visibilityTimeout", poll.VisibilityTimeout).
		Str("ackMode", string(ackMode)).
		Msg("Created listener pool")

	return p, nil
}

// Name returns the pool name
func (p *ListenerPool) Name() string {
	return p.name
}

// Queues returns a copy of the bound queue set
func (p *ListenerPool) Queues() []string {
	out := make([]string, len(p.queues))
	copy(out, p.queues)
	return out
}

// Concurrency returns the number of workers
func (p *ListenerPool) Concurrency() int {
	return len(p.workers)
}

// Workers returns the pool's workers
func (p *ListenerPool) Workers() []*ListenerWorker {
	out := make([]*ListenerWorker, len(p.workers))
	copy(out, p.workers)
	return out
}

// RunningWorkers returns how many workers are currently running
func (p *ListenerPool) RunningWorkers() int {
	n := 0
	for _, w := range p.workers {
		if w.IsRunning() {
			n++
		}
	}
	return n
}

// Start starts every worker that is not already running
func (p *ListenerPool) Start() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	for _, w := range p.workers {
		w.Start()
	}
	running := p.RunningWorkers()
	metrics.ListenerRunningWorkers.WithLabelValues(p.name).Set(float64(running))

	log.Info().Str("pool", p.name).Int("workers", running).Msg("Listener pool started")
}

// Stop stops all workers in parallel. Each worker gets the configured
// shutdown timeout to finish in-flight dispatch; workers exceeding it are
// abandoned and Stop returns regardless.
func (p *ListenerPool) Stop() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		abandoned int
	)
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *ListenerWorker) {
			defer wg.Done()
			if !w.Stop(p.poll.ShutdownTimeout) {
				mu.Lock()
				abandoned++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	metrics.ListenerRunningWorkers.WithLabelValues(p.name).Set(float64(p.RunningWorkers()))

	if abandoned > 0 {
		log.Warn().Str("pool", p.name).Int("abandoned", abandoned).Msg("Listener pool stopped with abandoned workers")
		return
	}
	log.Info().Str("pool", p.name).Msg("Listener pool stopped")
}

// IsRunning reports whether queueID belongs to the pool and at least one
// worker is running
func (p *ListenerPool) IsRunning(queueID string) bool {
	if !p.listensTo(queueID) {
		return false
	}
	for _, w := range p.workers {
		if w.IsRunning() {
			return true
		}
	}
	return false
}

func (p *ListenerPool) listensTo(queueID string) bool {
	for _, q := range p.queues {
		if q == queueID {
			return true
		}
	}
	return false
}
