// Package binder binds application consumers and producers to SQS queues
package binder

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/binder/envelope"
	"go.sqsbinder.tech/internal/binder/health"
	"go.sqsbinder.tech/internal/binder/warning"
	"go.sqsbinder.tech/internal/queue"
)

// ConsumerOptions holds the per-binding consumer settings
type ConsumerOptions struct {
	Concurrency int
	Poll        PollOptions
	// SNSFanout unwraps SNS notification envelopes before dispatch
	SNSFanout bool
	AckMode   AckMode
}

// DefaultConsumerOptions returns the consumer defaults
func DefaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		Concurrency: DefaultConcurrency,
		Poll:        DefaultPollOptions(),
		SNSFanout:   true,
		AckMode:     AckOnSuccess,
	}
}

// Option configures a Binder
type Option func(*Binder)

// WithWarnings records transformation and poll failures of every pool
func WithWarnings(r warning.Recorder) Option {
	return func(b *Binder) {
		b.warnings = r
	}
}

// Binder owns the listener pools and producers created for the configured
// bindings
type Binder struct {
	client   queue.Client
	warnings warning.Recorder

	mu        sync.RWMutex
	pools     []*ListenerPool
	producers map[string]*Producer
	started   bool
}

// New creates a binder on top of a queue client
func New(client queue.Client, opts ...Option) *Binder {
	b := &Binder{
		client:    client,
		producers: make(map[string]*Producer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ParseDestination splits a comma separated destination into queue ids
func ParseDestination(destination string) []string {
	parts := strings.Split(destination, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// BindConsumer creates a listener pool for destination that forwards to
// sink. The pool is started right away when the binder is already running.
func (b *Binder) BindConsumer(name, destination string, opts ConsumerOptions, sink Sink) (*ListenerPool, error) {
	pool, err := NewListenerPool(b.client, PoolConfig{
		Name:        name,
		QueueIDs:    ParseDestination(destination),
		Concurrency: opts.Concurrency,
		Poll:        opts.Poll,
		Transformer: envelope.ForBinding(opts.SNSFanout),
		Sink:        sink,
		AckMode:     opts.AckMode,
		Warnings:    b.warnings,
	})
	if err != nil {
		return nil, fmt.Errorf("bind consumer %s: %w", name, err)
	}

	b.mu.Lock()
	b.pools = append(b.pools, pool)
	started := b.started
	b.mu.Unlock()

	if started {
		pool.Start()
	}

	log.Info().
		Str("binding", name).
		Str("destination", destination).
		Bool("snsFanout", opts.SNSFanout).
		Msg("Consumer bound")
	return pool, nil
}

// BindProducer creates a producer for destination
func (b *Binder) BindProducer(name, destination string) (*Producer, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("bind producer %s: %w: destination is required", name, ErrConfiguration)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.producers[name]; exists {
		return nil, fmt.Errorf("bind producer %s: %w: binding already exists", name, ErrConfiguration)
	}

	p := &Producer{name: name, destination: destination, client: b.client}
	b.producers[name] = p

	log.Info().Str("binding", name).Str("destination", destination).Msg("Producer bound")
	return p, nil
}

// Producer returns the producer bound under name
func (b *Binder) Producer(name string) (*Producer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.producers[name]
	return p, ok
}

// Pools returns the bound listener pools
func (b *Binder) Pools() []*ListenerPool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*ListenerPool, len(b.pools))
	copy(out, b.pools)
	return out
}

// ListenerPools returns the bound listener pools for health checks
func (b *Binder) ListenerPools() []health.ListenerPool {
	pools := b.Pools()
	out := make([]health.ListenerPool, len(pools))
	for i, p := range pools {
		out[i] = p
	}
	return out
}

// Start starts every bound listener pool
func (b *Binder) Start() {
	b.mu.Lock()
	b.started = true
	pools := make([]*ListenerPool, len(b.pools))
	copy(pools, b.pools)
	b.mu.Unlock()

	for _, p := range pools {
		p.Start()
	}
	log.Info().Int("pools", len(pools)).Msg("Binder started")
}

// Stop stops every bound listener pool in parallel
func (b *Binder) Stop() {
	b.mu.Lock()
	b.started = false
	pools := make([]*ListenerPool, len(b.pools))
	copy(pools, b.pools)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *ListenerPool) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
	log.Info().Int("pools", len(pools)).Msg("Binder stopped")
}
