package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/repo"
)

// Handler materialises one NodeKind's ordered Task chain. Implementations
// must persist every task with domain.TaskStandby and ChainIndex 0..n-1,
// in execution order; Dispatcher takes care of emitting the first task's
// ChangeMsg after Handle returns.
type Handler interface {
	Handle(ctx context.Context, node *domain.NodeInstance, spec domain.NodeSpec) ([]*domain.Task, error)
}

// Dispatcher routes a ready node to its kind's Handler and persists/emits
// the resulting task chain.
type Dispatcher struct {
	tasks    repo.TaskRepo
	bus      *eventbus.ChangeBus
	handlers map[domain.NodeKind]Handler
}

// New builds a Dispatcher with the four built-in NodeKind handlers wired.
func New(tasks repo.TaskRepo, packages repo.PackageRepo, bus *eventbus.ChangeBus) *Dispatcher {
	d := &Dispatcher{tasks: tasks, bus: bus, handlers: make(map[domain.NodeKind]Handler)}
	d.handlers[domain.NodeNoAction] = noActionHandler{}
	d.handlers[domain.NodeMilestone] = milestoneHandler{}
	d.handlers[domain.NodeScript] = scriptHandler{}
	d.handlers[domain.NodeSoftwareUsecaseComputing] = usecaseHandler{packages: packages}
	return d
}

// Dispatch materialises node's task chain and kicks off the first task.
func (d *Dispatcher) Dispatch(ctx context.Context, node *domain.NodeInstance, spec domain.NodeSpec) error {
	h, ok := d.handlers[node.Kind]
	if !ok {
		return errs.NewInvalid(fmt.Sprintf("no usecase handler registered for node kind %q", node.Kind))
	}

	tasks, err := h.Handle(ctx, node, spec)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errs.NewInvalid(fmt.Sprintf("node kind %q produced no tasks", node.Kind))
	}

	for _, t := range tasks {
		if err := d.tasks.Create(ctx, t); err != nil {
			return errs.Wrap(errs.Transient, "failed to persist task", err)
		}
	}

	logx.WithNode(node.ID).Debug().
		Int("task_count", len(tasks)).
		Msg("node dispatched, task chain persisted")

	d.bus.Publish(domain.ChangeMsg{
		Kind:       domain.KindTask,
		ID:         tasks[0].ID,
		TargetTask: domain.TaskQueuing,
		DoNotEmit:  true,
	})
	return nil
}

// ForwardControl addresses a pause/resume/terminate command at node's
// currently-active task.
func (d *Dispatcher) ForwardControl(node *domain.NodeInstance, target domain.TaskStatus) error {
	active, err := d.activeTask(node)
	if err != nil {
		return err
	}
	d.bus.Publish(domain.ChangeMsg{Kind: domain.KindTask, ID: active.ID, TargetTask: target, DoNotEmit: true})
	return nil
}

func (d *Dispatcher) activeTask(node *domain.NodeInstance) (*domain.Task, error) {
	tasks, err := d.tasks.ListByNode(context.Background(), node.ID)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "failed to list node tasks", err)
	}
	for _, t := range tasks {
		if t.ChainIndex == node.ActiveTaskIndex {
			return t, nil
		}
	}
	return nil, errs.NewNotFound(fmt.Sprintf("no active task at chain index %d for node %s", node.ActiveTaskIndex, node.ID))
}

func newTask(nodeID string, typ domain.TaskType, chainIndex int, body domain.TaskBody) *domain.Task {
	return &domain.Task{
		ID:             uuid.NewString(),
		NodeInstanceID: nodeID,
		Type:           typ,
		Status:         domain.TaskStandby,
		Body:           body,
		ChainIndex:     chainIndex,
	}
}

// noActionHandler synthesizes a single task that the schedule engine will
// carry straight to Completed without ever reserving a queue.
type noActionHandler struct{}

func (noActionHandler) Handle(_ context.Context, node *domain.NodeInstance, _ domain.NodeSpec) ([]*domain.Task, error) {
	return []*domain.Task{newTask(node.ID, domain.TaskNoAction, 0, domain.TaskBody{})}, nil
}

// milestoneHandler synthesizes a single task carrying the node's webhook
// URL; the schedule engine posts that webhook when the task reaches Queuing
// and completes (or fails) the task from the result, so the node never
// occupies a queue.
type milestoneHandler struct{}

func (milestoneHandler) Handle(_ context.Context, node *domain.NodeInstance, spec domain.NodeSpec) ([]*domain.Task, error) {
	if strings.TrimSpace(spec.WebhookURL) == "" {
		return nil, errs.NewInvalid("milestone node has no webhook_url")
	}
	return []*domain.Task{newTask(node.ID, domain.TaskMilestone, 0, domain.TaskBody{WebhookURL: spec.WebhookURL})}, nil
}

// PostWebhook performs the milestone node's outbound call. Exported so the
// schedule engine's TaskSchedule can invoke it synchronously in the same
// step that advances a TaskMilestone task, rather than routing the POST
// through an agent.
func PostWebhook(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errs.Wrap(errs.Invalid, "invalid webhook url", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Transient, "webhook request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errs.Wrap(errs.Transient, fmt.Sprintf("webhook returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// scriptHandler builds the node's sole ExecuteScript task.
type scriptHandler struct{}

func (scriptHandler) Handle(_ context.Context, node *domain.NodeInstance, spec domain.NodeSpec) ([]*domain.Task, error) {
	return []*domain.Task{newTask(node.ID, domain.TaskExecuteScript, 0, domain.TaskBody{
		ScriptInfo: spec.ScriptInfo,
		Resources:  spec.ScriptInfo.Resources,
	})}, nil
}

// usecaseHandler resolves (software_pkg, usecase_pkg) and produces the
// canonical five-task chain.
type usecaseHandler struct {
	packages repo.PackageRepo
}

func (h usecaseHandler) Handle(ctx context.Context, node *domain.NodeInstance, spec domain.NodeSpec) ([]*domain.Task, error) {
	sw, err := h.packages.GetSoftwarePackage(ctx, spec.SoftwarePkgID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("software package %s not found", spec.SoftwarePkgID), err)
	}
	uc, err := h.packages.GetUsecasePackage(ctx, spec.UsecasePkgID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("usecase package %s not found", spec.UsecasePkgID), err)
	}

	var inputMetaIDs []string
	for _, s := range spec.InputSlots {
		if s.Kind == domain.SlotFile && s.FileMetaID != "" {
			inputMetaIDs = append(inputMetaIDs, s.FileMetaID)
		}
	}
	var outputPreparedIDs []string
	for _, s := range spec.OutputSlots {
		if s.Kind == domain.SlotFile {
			outputPreparedIDs = append(outputPreparedIDs, s.PreparedContentID)
		}
	}

	body := domain.TaskBody{
		SoftwarePkgID:     sw.ID,
		UsecasePkgID:      uc.ID,
		InputFileMetaIDs:  inputMetaIDs,
		OutputPreparedIDs: outputPreparedIDs,
		Resources:         spec.ResourceNeeds,
	}

	return []*domain.Task{
		newTask(node.ID, domain.TaskSoftwareDeployment, 0, body),
		newTask(node.ID, domain.TaskFileDownload, 1, body),
		newTask(node.ID, domain.TaskUsecaseExecution, 2, body),
		newTask(node.ID, domain.TaskFileUpload, 3, body),
		newTask(node.ID, domain.TaskOutputCollect, 4, body),
	}, nil
}
