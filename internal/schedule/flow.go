package schedule

import (
	"context"
	"errors"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
	"github.com/cuemby/cos/internal/repo"
)

// flowTransitions is FlowSchedule's table. Finished/Failed/Terminated are
// reached through aggregation (recomputeFlow), not requested directly.
var flowTransitions = map[domain.FlowStatus][]domain.FlowStatus{
	domain.FlowPending:     {domain.FlowRunning, domain.FlowTerminating, domain.FlowFailed},
	domain.FlowRunning:     {domain.FlowPausing, domain.FlowFailed, domain.FlowFinished, domain.FlowTerminating},
	domain.FlowPausing:     {domain.FlowPaused},
	domain.FlowPaused:      {domain.FlowResuming, domain.FlowTerminating},
	domain.FlowResuming:    {domain.FlowRunning, domain.FlowTerminating},
	domain.FlowTerminating: {domain.FlowTerminated},
	domain.FlowFailed:      {domain.FlowTerminating, domain.FlowTerminated},
}

func (e *Engine) applyFlow(ctx context.Context, msg domain.ChangeMsg) error {
	inst, err := e.instances.Get(ctx, msg.ID)
	if err != nil {
		return errs.NewNotFound("workflow instance not found: " + msg.ID)
	}

	target := msg.TargetStatus
	if inst.Status == target {
		return nil
	}

	if !transitionAllowed(flowTransitions, inst.Status, target) {
		metrics.TransitionsDropped.WithLabelValues("flow").Inc()
		logx.WithFlow(msg.ID).Warn().
			Str("from", string(inst.Status)).Str("to", string(target)).
			Msg("flow transition dropped: unexpected source state")
		return nil
	}

	if err := e.updateFlowStatus(ctx, inst, target); err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues("flow", string(target)).Inc()
	metrics.FlowsTotal.WithLabelValues(string(target)).Inc()

	switch target {
	case domain.FlowRunning:
		return e.onFlowRunning(ctx, inst)
	case domain.FlowTerminating:
		return e.cascadeNodeTarget(ctx, inst.ID, domain.FlowTerminating)
	}
	return nil
}

// updateFlowStatus applies the optimistic-concurrency contract: on
// ErrConflict it re-reads the instance and retries the same target a bounded
// number of times, since every schedule transition is idempotent to replay.
func (e *Engine) updateFlowStatus(ctx context.Context, inst *domain.WorkflowInstance, target domain.FlowStatus) error {
	for attempt := 0; attempt < 5; attempt++ {
		observed := inst.LastModifiedTime
		inst.Status = target
		err := e.instances.UpdateWithLock(ctx, inst, observed)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return errs.Wrap(errs.Transient, "failed to update workflow instance", err)
		}
		fresh, gerr := e.instances.Get(ctx, inst.ID)
		if gerr != nil {
			return errs.Wrap(errs.Transient, "failed to re-read workflow instance after conflict", gerr)
		}
		*inst = *fresh
	}
	return errs.Wrap(errs.Conflict, "exhausted retries updating workflow instance "+inst.ID, nil)
}

// onFlowRunning materialises NodeInstance rows the first time a flow goes
// Running (idempotent: a replay finds them already created) and dispatches
// whatever is immediately ready.
func (e *Engine) onFlowRunning(ctx context.Context, inst *domain.WorkflowInstance) error {
	existing, err := e.nodes.ListByFlow(ctx, inst.ID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to list node instances", err)
	}

	if len(existing) == 0 {
		for _, spec := range inst.Spec.Nodes {
			n := &domain.NodeInstance{
				ID:             spec.NodeID,
				FlowInstanceID: inst.ID,
				Kind:           spec.Kind,
				Status:         domain.FlowPending,
				BatchParentID:  spec.BatchParentID,
				InputSlots:     spec.InputSlots,
				OutputSlots:    spec.OutputSlots,
			}
			if err := e.nodes.Create(ctx, n); err != nil {
				return errs.Wrap(errs.Transient, "failed to persist node instance", err)
			}
			existing = append(existing, n)
		}
	}

	return e.dispatchReady(ctx, inst, existing)
}

// dispatchReady materialises the task chain for every Pending node whose
// upstream relations are all Finished or Skipped, in the nodes slice's
// iteration order.
func (e *Engine) dispatchReady(ctx context.Context, inst *domain.WorkflowInstance, nodes []*domain.NodeInstance) error {
	byID := make(map[string]*domain.NodeInstance, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	specByID := make(map[string]domain.NodeSpec, len(inst.Spec.Nodes))
	for _, s := range inst.Spec.Nodes {
		specByID[s.NodeID] = s
	}

	deps := make(map[string][]string, len(inst.Spec.Relations))
	for _, rel := range inst.Spec.Relations {
		deps[rel.ToNode] = append(deps[rel.ToNode], rel.FromNode)
	}

	for _, n := range nodes {
		if n.Status != domain.FlowPending {
			continue
		}

		ready := true
		for _, up := range deps[n.ID] {
			upNode, ok := byID[up]
			if !ok || (upNode.Status != domain.FlowFinished && upNode.Status != domain.FlowSkipped) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}

		spec, ok := specByID[n.ID]
		if !ok {
			continue
		}
		if err := e.dispatcher.Dispatch(ctx, n, spec); err != nil {
			logx.WithNode(n.ID).Error().Err(err).Msg("dispatch failed")
		}
	}
	return nil
}

// cascadeNodeTarget addresses target at every non-terminal node of a flow,
// used when a flow-level command (terminate) must propagate down.
func (e *Engine) cascadeNodeTarget(ctx context.Context, flowID string, target domain.NodeStatus) error {
	nodes, err := e.nodes.ListByFlow(ctx, flowID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to list node instances", err)
	}
	for _, n := range nodes {
		if isTerminalNode(n.Status) {
			continue
		}
		e.bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: n.ID, TargetStatus: target, DoNotEmit: true})
	}
	return nil
}
