package schedule

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cuemby/cos/internal/dispatch"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
	"github.com/cuemby/cos/internal/queuemgr"
	"github.com/cuemby/cos/internal/repo"
)

// Engine is the Schedule Engine: it owns the three transition tables
// (flow.go, node.go, task.go) plus the repos and collaborators needed to
// apply them.
type Engine struct {
	instances  repo.WorkflowInstanceRepo
	nodes      repo.NodeInstanceRepo
	tasks      repo.TaskRepo
	bus        *eventbus.ChangeBus
	dispatcher *dispatch.Dispatcher
	queues     *queuemgr.Manager
	raft       *raft.Raft
}

// New builds an Engine and registers it as the handler for all three
// ChangeMsg kinds on bus. Without a subsequent SetRaft call the engine
// applies every ChangeMsg directly (cmd/cosctl's standalone mode); SetRaft
// moves command application onto the replicated log instead.
func New(instances repo.WorkflowInstanceRepo, nodes repo.NodeInstanceRepo, tasks repo.TaskRepo, bus *eventbus.ChangeBus, dispatcher *dispatch.Dispatcher, queues *queuemgr.Manager) *Engine {
	e := &Engine{
		instances:  instances,
		nodes:      nodes,
		tasks:      tasks,
		bus:        bus,
		dispatcher: dispatcher,
		queues:     queues,
	}
	bus.Register(domain.KindFlow, e.Apply)
	bus.Register(domain.KindNode, e.Apply)
	bus.Register(domain.KindTask, e.Apply)
	return e
}

// SetRaft wires r as the engine's durability/replication log.
func (e *Engine) SetRaft(r *raft.Raft) { e.raft = r }

// IsLeader reports whether this replica may accept ChangeMsg events. A
// standalone engine (no raft configured) is always its own leader.
func (e *Engine) IsLeader() bool {
	return e.raft == nil || e.raft.State() == raft.Leader
}

// Apply is the ChangeBus handler registered for every kind. With no raft
// node it applies msg immediately; otherwise it replicates msg through the
// log first and lets FSM.Apply invoke applyDirect once committed. DoNotEmit
// messages always apply directly: they're cascades the engine published to
// itself while applying a message that already went through replication
// once, so routing them through raft again would just be the engine
// re-submitting its own output as new input, and on a follower replaying
// that outer entry it would be dropped outright by the leader check below.
func (e *Engine) Apply(msg domain.ChangeMsg) error {
	if e.raft == nil || msg.DoNotEmit {
		return e.applyDirect(msg)
	}

	if e.raft.State() != raft.Leader {
		logx.WithComponent("schedule").Debug().
			Str("kind", string(msg.Kind)).Str("id", msg.ID).
			Msg("dropping change message: not the raft leader")
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	data, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.Fatal, "failed to marshal change message", err)
	}
	cmd, err := json.Marshal(Command{Op: "apply_change", Data: data})
	if err != nil {
		return errs.Wrap(errs.Fatal, "failed to marshal raft command", err)
	}

	future := e.raft.Apply(cmd, 5*time.Second)
	if err := future.Error(); err != nil {
		return errs.Wrap(errs.Transient, "raft apply failed", err)
	}
	if resp := future.Response(); resp != nil {
		if rerr, ok := resp.(error); ok && rerr != nil {
			return rerr
		}
	}
	return nil
}

func (e *Engine) applyDirect(msg domain.ChangeMsg) error {
	ctx := context.Background()
	switch msg.Kind {
	case domain.KindFlow:
		return e.applyFlow(ctx, msg)
	case domain.KindNode:
		return e.applyNode(ctx, msg)
	case domain.KindTask:
		return e.applyTask(ctx, msg)
	default:
		return nil
	}
}

func transitionAllowed(table map[domain.FlowStatus][]domain.FlowStatus, current, target domain.FlowStatus) bool {
	for _, s := range table[current] {
		if s == target {
			return true
		}
	}
	return false
}

// transitionAllowedTask allows the blanket "any non-terminal state may fail"
// rule on top of the explicit table.
func transitionAllowedTask(current, target domain.TaskStatus) bool {
	if target == domain.TaskFailed {
		return !current.Terminal()
	}
	for _, s := range taskTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

func isTerminalNode(s domain.NodeStatus) bool {
	switch s {
	case domain.FlowFinished, domain.FlowFailed, domain.FlowTerminated, domain.FlowSkipped:
		return true
	default:
		return false
	}
}

func (e *Engine) nodeQueueSelector(ctx context.Context, node *domain.NodeInstance) (domain.QueueSelector, error) {
	inst, err := e.instances.Get(ctx, node.FlowInstanceID)
	if err != nil {
		return domain.QueueSelector{}, errs.Wrap(errs.Transient, "failed to read workflow instance", err)
	}
	for _, spec := range inst.Spec.Nodes {
		if spec.NodeID == node.ID {
			return spec.QueueSelector, nil
		}
	}
	return domain.QueueSelector{Kind: domain.QueueSelectAuto}, nil
}
