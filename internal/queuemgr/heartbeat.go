package queuemgr

import (
	"context"
	"time"

	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
	"github.com/cuemby/cos/internal/repo"
)

// HeartbeatMonitor disables a queue once its agent has missed too many
// UpdateUsedResource reports in a row, the way Warren's reconciler ticker
// loop closes the equivalent gap for down cluster nodes.
type HeartbeatMonitor struct {
	queues   repo.QueueRepo
	interval time.Duration
	limit    int
	stopCh   chan struct{}
}

// NewHeartbeatMonitor builds a monitor. interval is how often a queue must
// report (internal/agentapi resets MissedHeartbeat on every report); limit
// is how many consecutive misses disable the queue.
func NewHeartbeatMonitor(queues repo.QueueRepo, interval time.Duration, limit int) *HeartbeatMonitor {
	if limit <= 0 {
		limit = 3
	}
	return &HeartbeatMonitor{queues: queues, interval: interval, limit: limit, stopCh: make(chan struct{})}
}

// Start begins the sweep loop, ticking at interval.
func (h *HeartbeatMonitor) Start() { go h.run() }

// Stop ends the sweep loop.
func (h *HeartbeatMonitor) Stop() { close(h.stopCh) }

func (h *HeartbeatMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	log := logx.WithComponent("queuemgr")
	log.Info().Msg("heartbeat monitor started")

	for {
		select {
		case <-ticker.C:
			if err := h.Sweep(context.Background()); err != nil {
				log.Error().Err(err).Msg("heartbeat sweep failed")
			}
		case <-h.stopCh:
			log.Info().Msg("heartbeat monitor stopped")
			return
		}
	}
}

// Sweep runs one reconciliation cycle: every enabled queue whose last
// report is older than interval gets its miss count bumped, and is
// disabled once that count reaches limit.
func (h *HeartbeatMonitor) Sweep(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	queues, err := h.queues.ListEnabled(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, q := range queues {
		if now.Sub(q.LastHeartbeat) < h.interval {
			continue
		}

		q.MissedHeartbeat++
		if q.MissedHeartbeat >= h.limit {
			q.Enabled = false
			logx.WithQueue(q.ID).Warn().
				Int("missed_heartbeats", q.MissedHeartbeat).
				Msg("queue disabled: agent stopped reporting")
		}
		if err := h.queues.Update(ctx, q); err != nil {
			logx.WithQueue(q.ID).Error().Err(err).Msg("failed to persist heartbeat miss")
		}
	}
	return nil
}
