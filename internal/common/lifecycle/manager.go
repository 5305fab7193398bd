// Package lifecycle orders the graceful shutdown of the binder process
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Phase defines the order in which shutdown hooks run
type Phase int

const (
	// PhaseHTTP stops the health and metrics endpoints
	PhaseHTTP Phase = iota
	// PhaseListeners stops listener pools and lets in-flight dispatch finish
	PhaseListeners
	// PhaseConnections closes producer and sink connections
	PhaseConnections
	// PhaseFinal performs any final cleanup
	PhaseFinal
)

var phaseOrder = []Phase{PhaseHTTP, PhaseListeners, PhaseConnections, PhaseFinal}

func (p Phase) String() string {
	switch p {
	case PhaseHTTP:
		return "http"
	case PhaseListeners:
		return "listeners"
	case PhaseConnections:
		return "connections"
	case PhaseFinal:
		return "final"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Default hook timeouts per phase
const (
	DefaultHookTimeout       = 10 * time.Second
	DefaultListenerTimeout   = 30 * time.Second
	DefaultConnectionTimeout = 5 * time.Second
)

// Hook is called during shutdown
type Hook struct {
	Name     string
	Phase    Phase
	Timeout  time.Duration
	Shutdown func(ctx context.Context) error
}

// ErrHookTimeout is reported for hooks that did not return within their
// timeout
var ErrHookTimeout = errors.New("shutdown hook timed out")

// Manager runs shutdown hooks phase by phase. Hooks within a phase run in
// parallel; a phase starts only after the previous one finished.
type Manager struct {
	mu      sync.Mutex
	hooks   []Hook
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewManager creates a manager with an overall shutdown timeout
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Manager{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown hook
func (m *Manager) Register(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hook.Timeout <= 0 {
		hook.Timeout = DefaultHookTimeout
	}
	m.hooks = append(m.hooks, hook)
}

// OnHTTP registers the shutdown of an HTTP server
func (m *Manager) OnHTTP(name string, timeout time.Duration, shutdown func(ctx context.Context) error) {
	m.Register(Hook{Name: name, Phase: PhaseHTTP, Timeout: timeout, Shutdown: shutdown})
}

// OnListeners registers a function that stops listener pools. stop is
// expected to honour its own shutdown timeouts.
func (m *Manager) OnListeners(name string, stop func()) {
	m.Register(Hook{
		Name:    name,
		Phase:   PhaseListeners,
		Timeout: DefaultListenerTimeout,
		Shutdown: func(context.Context) error {
			stop()
			return nil
		},
	})
}

// OnConnection registers closing a connection
func (m *Manager) OnConnection(name string, closeFn func() error) {
	m.Register(Hook{
		Name:    name,
		Phase:   PhaseConnections,
		Timeout: DefaultConnectionTimeout,
		Shutdown: func(context.Context) error {
			return closeFn()
		},
	})
}

// Wait blocks until SIGINT or SIGTERM is received, ctx is done or Trigger is
// called
func (m *Manager) Wait(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-m.done:
		log.Info().Msg("Shutdown triggered")
	case <-ctx.Done():
		log.Info().Msg("Shutdown context done")
	}
}

// Trigger requests shutdown, releasing Wait. Safe to call more than once.
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.done)
	})
}

// Execute runs every phase in order. It returns the joined hook failures,
// or the context error when the overall timeout expired.
func (m *Manager) Execute() error {
	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	timeout := m.timeout
	m.mu.Unlock()

	log.Info().Int("hooks", len(hooks)).Dur("timeout", timeout).Msg("Starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	byPhase := make(map[Phase][]Hook)
	for _, h := range hooks {
		byPhase[h.Phase] = append(byPhase[h.Phase], h)
	}

	var (
		errMu sync.Mutex
		errs  []error
	)

	for _, phase := range phaseOrder {
		phaseHooks := byPhase[phase]
		if len(phaseHooks) == 0 {
			continue
		}

		log.Info().Stringer("phase", phase).Int("hooks", len(phaseHooks)).Msg("Executing shutdown phase")

		var wg sync.WaitGroup
		for _, h := range phaseHooks {
			wg.Add(1)
			go func(h Hook) {
				defer wg.Done()
				if err := runHook(ctx, h); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
					errMu.Unlock()
				}
			}(h)
		}
		wg.Wait()

		if ctx.Err() != nil {
			log.Warn().Stringer("phase", phase).Msg("Shutdown timeout reached, skipping remaining phases")
			return ctx.Err()
		}
	}

	if len(errs) > 0 {
		log.Warn().Int("failed", len(errs)).Msg("Graceful shutdown completed with errors")
		return errors.Join(errs...)
	}
	log.Info().Msg("Graceful shutdown completed")
	return nil
}

// runHook runs a hook bounded by its own timeout. A hook that overruns is
// left running in the background.
func runHook(parent context.Context, h Hook) error {
	ctx, cancel := context.WithTimeout(parent, h.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Shutdown(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Str("hook", h.Name).Msg("Shutdown hook failed")
			return err
		}
		log.Debug().Str("hook", h.Name).Msg("Shutdown hook completed")
		return nil
	case <-ctx.Done():
		log.Warn().Str("hook", h.Name).Dur("timeout", h.Timeout).Msg("Shutdown hook timed out")
		return ErrHookTimeout
	}
}

// Run waits for a shutdown request and executes the hooks
func (m *Manager) Run(ctx context.Context) error {
	m.Wait(ctx)
	return m.Execute()
}
