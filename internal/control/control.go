package control

import (
	"context"
	"fmt"

	"github.com/cuemby/cos/internal/compiler"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/repo"
)

// Service is the Workflow Control Service.
type Service struct {
	drafts    repo.WorkflowDraftRepo
	instances repo.WorkflowInstanceRepo
	compiler  *compiler.Compiler
	bus       *eventbus.ChangeBus
}

// New builds a Service.
func New(drafts repo.WorkflowDraftRepo, instances repo.WorkflowInstanceRepo, comp *compiler.Compiler, bus *eventbus.ChangeBus) *Service {
	return &Service{drafts: drafts, instances: instances, compiler: comp, bus: bus}
}

// allowedSources lists the source statuses each operation accepts.
var allowedSources = map[string][]domain.FlowStatus{
	"start":     {domain.FlowPending},
	"pause":     {domain.FlowRunning},
	"resume":    {domain.FlowPaused},
	"terminate": {domain.FlowPending, domain.FlowRunning, domain.FlowPaused, domain.FlowPausing, domain.FlowResuming, domain.FlowFailed},
}

// Submit compiles draftID into a WorkflowInstance owned by userID, persists
// it Pending, and emits Flow→Pending.
func (s *Service) Submit(ctx context.Context, draftID, userID string) (string, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return "", errs.NewNotFound(fmt.Sprintf("draft %s not found", draftID))
	}

	inst, err := s.compiler.Compile(ctx, draft, userID)
	if err != nil {
		return "", err
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		return "", errs.Wrap(errs.Transient, "failed to persist workflow instance", err)
	}

	s.emit(inst.ID, domain.FlowPending, "")
	return inst.ID, nil
}

// Start transitions a Pending instance toward Running.
func (s *Service) Start(ctx context.Context, id string) error {
	return s.transition(ctx, "start", id, domain.FlowRunning)
}

// Pause transitions a Running instance toward Paused.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, "pause", id, domain.FlowPausing)
}

// Resume transitions a Paused instance toward Running.
func (s *Service) Resume(ctx context.Context, id string) error {
	return s.transition(ctx, "resume", id, domain.FlowResuming)
}

// Terminate transitions a Pending, Running, Paused, Pausing, Resuming or
// Failed instance toward Terminated.
func (s *Service) Terminate(ctx context.Context, id string) error {
	return s.transition(ctx, "terminate", id, domain.FlowTerminating)
}

func (s *Service) transition(ctx context.Context, op, id string, target domain.FlowStatus) error {
	inst, err := s.instances.Get(ctx, id)
	if err != nil {
		return errs.NewNotFound(fmt.Sprintf("workflow instance %s not found", id))
	}

	if !sourceAllowed(allowedSources[op], inst.Status) {
		logx.WithComponent("control").Warn().
			Str("op", op).Str("instance_id", id).Str("status", string(inst.Status)).
			Msg("control op refused: instance not in an allowed source state")
		return errs.NewPreconditionFailed(fmt.Sprintf("%s requires source state in %v, instance %s is %s", op, allowedSources[op], id, inst.Status))
	}

	s.emit(id, target, "")
	return nil
}

func sourceAllowed(sources []domain.FlowStatus, status domain.FlowStatus) bool {
	for _, s := range sources {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Service) emit(instanceID string, target domain.FlowStatus, message string) {
	s.bus.Publish(domain.ChangeMsg{
		Kind:         domain.KindFlow,
		ID:           instanceID,
		TargetStatus: target,
		Message:      message,
	})
}
