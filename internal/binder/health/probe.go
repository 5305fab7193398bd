// Package health reports whether every bound queue is both actively consumed
// and reachable
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.sqsbinder.tech/internal/queue"
)

// Detail reasons
const (
	ReasonNotRunning   = "listener is not running"
	ReasonDoesNotExist = "queue does not exist"
	ReasonNotReachable = "queue is not reachable"
)

// DefaultProbeTimeout bounds a single reachability check
const DefaultProbeTimeout = 5 * time.Second

// createdTimestampAttribute is the attribute fetched when checking a queue URL
const createdTimestampAttribute = "CreatedTimestamp"

// QueueLookup is the part of the queue client used by the probe
type QueueLookup interface {
	ResolveURL(ctx context.Context, name string) (string, error)
	GetAttributes(ctx context.Context, queueID string, names []string) (map[string]string, error)
}

// Detail explains a failed reachability check
type Detail struct {
	Reason string
	Err    error
}

// NotFound reports whether the queue was missing, as opposed to unreachable
func (d Detail) NotFound() bool {
	return d.Reason == ReasonDoesNotExist
}

// Probe checks that a queue exists and can be reached
type Probe struct {
	client  QueueLookup
	timeout time.Duration
}

// ProbeOption configures a Probe
type ProbeOption func(*Probe)

// WithProbeTimeout overrides DefaultProbeTimeout
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProbe creates a reachability probe
func NewProbe(client QueueLookup, opts ...ProbeOption) *Probe {
	p := &Probe{client: client, timeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check classifies id and performs the matching lookup. A URL is checked with
// an attribute fetch, a logical name with a name resolution. Failures are
// reported through Detail and never returned or panicked.
func (p *Probe) Check(ctx context.Context, id string) (ok bool, detail Detail) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			detail = Detail{Reason: ReasonNotReachable, Err: fmt.Errorf("panic during reachability check: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var err error
	if queue.IsQueueURL(id) {
		_, err = p.client.GetAttributes(ctx, id, []string{createdTimestampAttribute})
	} else {
		_, err = p.client.ResolveURL(ctx, id)
	}

	switch {
	case err == nil:
		return true, Detail{}
	case errors.Is(err, queue.ErrQueueNotFound):
		return false, Detail{Reason: ReasonDoesNotExist, Err: err}
	default:
		return false, Detail{Reason: ReasonNotReachable, Err: err}
	}
}
