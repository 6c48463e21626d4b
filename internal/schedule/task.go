package schedule

import (
	"context"

	"github.com/cuemby/cos/internal/dispatch"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
)

// taskTransitions is TaskSchedule's table. "Any → Failed" is handled
// separately in transitionAllowedTask since it applies from every
// non-terminal state, not just the ones listed here.
var taskTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStandby:     {domain.TaskQueuing, domain.TaskTerminating},
	domain.TaskQueuing:     {domain.TaskRunning, domain.TaskTerminating},
	domain.TaskRunning:     {domain.TaskCompleted, domain.TaskPausing, domain.TaskTerminating},
	domain.TaskPausing:     {domain.TaskPaused},
	domain.TaskPaused:      {domain.TaskRecovering, domain.TaskTerminating},
	domain.TaskRecovering:  {domain.TaskRunning},
	domain.TaskTerminating: {domain.TaskTerminated},
}

func (e *Engine) applyTask(ctx context.Context, msg domain.ChangeMsg) error {
	task, err := e.tasks.Get(ctx, msg.ID)
	if err != nil {
		return errs.NewNotFound("task not found: " + msg.ID)
	}

	target := msg.TargetTask
	if task.Status == target {
		return nil
	}

	if !transitionAllowedTask(task.Status, target) {
		metrics.TransitionsDropped.WithLabelValues("task").Inc()
		logx.WithTask(msg.ID).Warn().
			Str("from", string(task.Status)).Str("to", string(target)).
			Msg("task transition dropped: unexpected source state")
		return nil
	}

	node, err := e.nodes.Get(ctx, task.NodeInstanceID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to read owning node instance", err)
	}

	switch target {
	case domain.TaskQueuing:
		return e.admitTask(ctx, task, node)
	case domain.TaskRunning:
		return e.markTaskRunning(ctx, task, node)
	case domain.TaskCompleted:
		return e.finishTask(ctx, task, node, domain.TaskCompleted, "")
	case domain.TaskFailed:
		return e.finishTask(ctx, task, node, domain.TaskFailed, msg.Message)
	case domain.TaskTerminated:
		return e.finishTask(ctx, task, node, domain.TaskTerminated, msg.Message)
	case domain.TaskPausing, domain.TaskPaused, domain.TaskRecovering, domain.TaskTerminating:
		return e.advanceControlTask(ctx, task, node, target)
	default:
		return nil
	}
}

// admitTask runs queue admission for a task entering Queuing. NoAction and
// Milestone tasks never touch a queue: NoAction completes immediately, and
// Milestone completes (or fails) synchronously against its webhook.
func (e *Engine) admitTask(ctx context.Context, task *domain.Task, node *domain.NodeInstance) error {
	switch task.Type {
	case domain.TaskNoAction:
		return e.finishTask(ctx, task, node, domain.TaskCompleted, "")
	case domain.TaskMilestone:
		if err := dispatch.PostWebhook(ctx, task.Body.WebhookURL); err != nil {
			return e.finishTask(ctx, task, node, domain.TaskFailed, err.Error())
		}
		return e.finishTask(ctx, task, node, domain.TaskCompleted, "")
	}

	sel, err := e.nodeQueueSelector(ctx, node)
	if err != nil {
		return err
	}

	queue, err := e.queues.Admit(ctx, sel, task.Body.Resources)
	if err != nil {
		logx.WithTask(task.ID).Warn().Err(err).Msg("queue admission failed")
		return e.finishTask(ctx, task, node, domain.TaskFailed, "no queue available for task resource needs")
	}

	task.QueueID = queue.ID
	task.QueueTopic = queue.TopicName
	task.Status = domain.TaskQueuing
	if err := e.tasks.Update(ctx, task); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist task", err)
	}
	metrics.TransitionsTotal.WithLabelValues("task", string(domain.TaskQueuing)).Inc()
	e.queues.Reserve(queue.ID, task.Body.Resources)

	// Hand the task to whichever remote agent is subscribed to the queue's
	// topic; the agent reports back via ReceiveTaskStatus (internal/agentapi).
	e.bus.Publish(eventbus.QueueTopic(queue.TopicName), *task)

	if node.Status != domain.FlowRunning || node.ActiveTaskIndex != task.ChainIndex {
		node.ActiveTaskIndex = task.ChainIndex
		node.Status = domain.FlowRunning
		if err := e.nodes.Update(ctx, node); err != nil {
			return errs.Wrap(errs.Transient, "failed to update node instance", err)
		}
		metrics.TransitionsTotal.WithLabelValues("node", string(domain.FlowRunning)).Inc()
		return e.recomputeFlow(ctx, node.FlowInstanceID)
	}
	return nil
}

// markTaskRunning applies the agent's "started" report (Queuing→Running, or
// Recovering→Running after a resumed pause).
func (e *Engine) markTaskRunning(ctx context.Context, task *domain.Task, node *domain.NodeInstance) error {
	task.Status = domain.TaskRunning
	if err := e.tasks.Update(ctx, task); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist task", err)
	}
	metrics.TransitionsTotal.WithLabelValues("task", string(domain.TaskRunning)).Inc()
	if task.QueueID != "" {
		e.queues.MarkRunning(task.QueueID)
	}
	return nil
}

// finishTask handles every terminal task status: it persists the status,
// releases any queue reservation, and either advances the node's task chain
// (Completed) or escalates the owning node (Failed/Terminated).
func (e *Engine) finishTask(ctx context.Context, task *domain.Task, node *domain.NodeInstance, status domain.TaskStatus, message string) error {
	task.Status = status
	task.Message = message
	if err := e.tasks.Update(ctx, task); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist task", err)
	}
	metrics.TransitionsTotal.WithLabelValues("task", string(status)).Inc()

	if task.QueueID != "" {
		e.queues.Release(task.QueueID, task.Body.Resources)
	}

	switch status {
	case domain.TaskCompleted:
		return e.advanceChain(ctx, task, node)
	case domain.TaskFailed:
		e.bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: node.ID, TargetStatus: domain.FlowFailed, Message: message, DoNotEmit: true})
		return nil
	case domain.TaskTerminated:
		e.bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: node.ID, TargetStatus: domain.FlowTerminated, DoNotEmit: true})
		return nil
	}
	return nil
}

// advanceChain moves the node's next task (by ChainIndex) into Queuing, or
// finishes the node if task was the chain's last element.
func (e *Engine) advanceChain(ctx context.Context, task *domain.Task, node *domain.NodeInstance) error {
	siblings, err := e.tasks.ListByNode(ctx, node.ID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to list node tasks", err)
	}
	for _, t := range siblings {
		if t.ChainIndex == task.ChainIndex+1 {
			e.bus.Publish(domain.ChangeMsg{Kind: domain.KindTask, ID: t.ID, TargetTask: domain.TaskQueuing, DoNotEmit: true})
			return nil
		}
	}
	e.bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: node.ID, TargetStatus: domain.FlowFinished, DoNotEmit: true})
	return nil
}

// advanceControlTask applies Pausing/Paused/Recovering/Terminating, the
// states an agent or dispatch.ForwardControl drives a task through that
// aren't terminal and don't touch the queue reservation (it's either not
// acquired yet, or retained across a pause).
func (e *Engine) advanceControlTask(ctx context.Context, task *domain.Task, node *domain.NodeInstance, target domain.TaskStatus) error {
	task.Status = target
	if err := e.tasks.Update(ctx, task); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist task", err)
	}
	metrics.TransitionsTotal.WithLabelValues("task", string(target)).Inc()

	if target == domain.TaskPaused {
		e.bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: node.ID, TargetStatus: domain.FlowPaused, DoNotEmit: true})
	}
	return nil
}
