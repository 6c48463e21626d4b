package schedule

import (
	"context"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
)

// nodeTransitions is NodeSchedule's table. Node reuses FlowStatus's
// vocabulary (see domain.NodeStatus); Finished is reached only via its own
// task chain completing, never requested directly.
var nodeTransitions = map[domain.NodeStatus][]domain.NodeStatus{
	domain.FlowPending:     {domain.FlowRunning, domain.FlowFailed, domain.FlowSkipped, domain.FlowTerminating},
	domain.FlowRunning:     {domain.FlowFinished, domain.FlowFailed, domain.FlowPausing, domain.FlowTerminating},
	domain.FlowPausing:     {domain.FlowPaused},
	domain.FlowPaused:      {domain.FlowResuming, domain.FlowTerminating},
	domain.FlowResuming:    {domain.FlowRunning, domain.FlowTerminating},
	domain.FlowTerminating: {domain.FlowTerminated},
}

func (e *Engine) applyNode(ctx context.Context, msg domain.ChangeMsg) error {
	node, err := e.nodes.Get(ctx, msg.ID)
	if err != nil {
		return errs.NewNotFound("node instance not found: " + msg.ID)
	}

	target := msg.TargetStatus
	if node.Status == target {
		return nil
	}

	if !transitionAllowed(nodeTransitions, node.Status, target) {
		metrics.TransitionsDropped.WithLabelValues("node").Inc()
		logx.WithNode(msg.ID).Warn().
			Str("from", string(node.Status)).Str("to", string(target)).
			Msg("node transition dropped: unexpected source state")
		return nil
	}

	node.Status = target
	if err := e.nodes.Update(ctx, node); err != nil {
		return errs.Wrap(errs.Transient, "failed to update node instance", err)
	}
	metrics.TransitionsTotal.WithLabelValues("node", string(target)).Inc()
	metrics.NodesTotal.WithLabelValues(string(node.Kind), string(target)).Inc()

	switch target {
	case domain.FlowPausing, domain.FlowResuming, domain.FlowTerminating:
		if err := e.dispatcher.ForwardControl(node, nodeTargetToTaskStatus(target)); err != nil {
			logx.WithNode(node.ID).Warn().Err(err).Msg("failed to forward control command to active task")
		}
	}

	return e.recomputeFlow(ctx, node.FlowInstanceID)
}

func nodeTargetToTaskStatus(t domain.NodeStatus) domain.TaskStatus {
	switch t {
	case domain.FlowPausing:
		return domain.TaskPausing
	case domain.FlowResuming:
		return domain.TaskRecovering
	default:
		return domain.TaskTerminating
	}
}

// recomputeFlow implements the Flow-aggregation rules: any Node.Failed
// fails the flow and cascades Terminate to every other non-terminal node;
// otherwise all-Finished-or-Skipped finishes it, all-Paused pauses it,
// all-Terminated terminates it, and the first Running node starts it.
func (e *Engine) recomputeFlow(ctx context.Context, flowID string) error {
	inst, err := e.instances.Get(ctx, flowID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to read workflow instance", err)
	}
	nodes, err := e.nodes.ListByFlow(ctx, flowID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to list node instances", err)
	}
	if len(nodes) == 0 {
		return nil
	}

	var anyFailed, allDone, allPaused, allTerminated, anyRunning bool
	allDone, allPaused, allTerminated = true, true, true

	for _, n := range nodes {
		if n.Status == domain.FlowFailed {
			anyFailed = true
		}
		if n.Status != domain.FlowFinished && n.Status != domain.FlowSkipped {
			allDone = false
		}
		if n.Status != domain.FlowPaused {
			allPaused = false
		}
		if n.Status != domain.FlowTerminated {
			allTerminated = false
		}
		if n.Status == domain.FlowRunning {
			anyRunning = true
		}
	}

	var desired domain.FlowStatus
	switch {
	case anyFailed:
		desired = domain.FlowFailed
	case allTerminated:
		desired = domain.FlowTerminated
	case allDone:
		desired = domain.FlowFinished
	case allPaused:
		desired = domain.FlowPaused
	case anyRunning && inst.Status != domain.FlowRunning:
		desired = domain.FlowRunning
	}

	if desired == "" || desired == inst.Status {
		// No flow-level transition, but a just-finished node may have
		// unblocked a downstream node; re-run the ready set.
		if inst.Status == domain.FlowRunning {
			return e.dispatchReady(ctx, inst, nodes)
		}
		return nil
	}

	e.bus.Publish(domain.ChangeMsg{Kind: domain.KindFlow, ID: flowID, TargetStatus: desired, DoNotEmit: true})

	switch desired {
	case domain.FlowFailed:
		return e.cascadeNodeTarget(ctx, flowID, domain.FlowTerminating)
	case domain.FlowRunning:
		return e.dispatchReady(ctx, inst, nodes)
	default:
		return nil
	}
}
