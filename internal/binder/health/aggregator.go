package health

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"go.sqsbinder.tech/internal/common/metrics"
)

// Status is the outcome of a health check
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// ListenerPool is the view of a listener pool needed for health checks
type ListenerPool interface {
	Name() string
	Queues() []string
	IsRunning(queueID string) bool
}

// PoolSource lists the registered listener pools
type PoolSource interface {
	ListenerPools() []ListenerPool
}

// Prober checks queue reachability
type Prober interface {
	Check(ctx context.Context, id string) (bool, Detail)
}

// Verdict is the result of a single evaluation. Details maps a queue id to
// the reasons it is unhealthy.
type Verdict struct {
	Status  Status            `json:"status"`
	Details map[string]string `json:"details"`
}

// Aggregator combines the running state of every pool with the
// reachability of its queues. Each Check is a fresh evaluation.
type Aggregator struct {
	pools PoolSource
	probe Prober
}

// NewAggregator creates an aggregator
func NewAggregator(pools PoolSource, probe Prober) *Aggregator {
	return &Aggregator{pools: pools, probe: probe}
}

// Check evaluates every queue of every pool. Both the running and the
// reachability check run for each queue.
func (a *Aggregator) Check(ctx context.Context) Verdict {
	pools := a.pools.ListenerPools()
	if len(pools) == 0 {
		metrics.HealthChecks.WithLabelValues(string(StatusUnknown)).Inc()
		return Verdict{Status: StatusUnknown, Details: map[string]string{}}
	}

	reasons := make(map[string][]string)
	allGood := true

	for _, pool := range pools {
		for _, q := range pool.Queues() {
			healthy := true

			if !pool.IsRunning(q) {
				log.Warn().Str("pool", pool.Name()).Str("queue", q).Msg("Listener is not running")
				reasons[q] = appendReason(reasons[q], ReasonNotRunning)
				healthy = false
			}

			if ok, detail := a.probe.Check(ctx, q); !ok {
				if detail.NotFound() {
					log.Warn().Err(detail.Err).Str("queue", q).Msg("Queue does not exist")
				} else {
					log.Error().Err(detail.Err).Str("queue", q).Msg("Queue is not reachable")
				}
				reasons[q] = appendReason(reasons[q], detail.Reason)
				healthy = false
			}

			if healthy {
				metrics.HealthQueueUp.WithLabelValues(q).Set(1)
			} else {
				metrics.HealthQueueUp.WithLabelValues(q).Set(0)
				allGood = false
			}
		}
	}

	details := make(map[string]string, len(reasons))
	for q, r := range reasons {
		details[q] = strings.Join(r, "; ")
	}

	status := StatusUp
	if !allGood {
		status = StatusDown
	}
	metrics.HealthChecks.WithLabelValues(string(status)).Inc()

	return Verdict{Status: status, Details: details}
}

// appendReason skips duplicates, which occur when two pools bind the same
// queue
func appendReason(reasons []string, reason string) []string {
	for _, r := range reasons {
		if r == reason {
			return reasons
		}
	}
	return append(reasons, reason)
}
