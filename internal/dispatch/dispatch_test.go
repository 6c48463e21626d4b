package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/repo"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, repo.TaskRepo, <-chan domain.ChangeMsg) {
	t.Helper()
	store := repo.NewMemoryStore()
	bus := eventbus.NewChangeBus()

	received := make(chan domain.ChangeMsg, 16)
	bus.Register(domain.KindTask, func(msg domain.ChangeMsg) error {
		received <- msg
		return nil
	})

	packages := repo.NewLocalPackageRepo(t.TempDir())
	return New(store.Tasks(), packages, bus), store.Tasks(), received
}

func awaitMsg(t *testing.T, ch <-chan domain.ChangeMsg) domain.ChangeMsg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ChangeMsg")
		return domain.ChangeMsg{}
	}
}

func TestDispatchNoActionProducesOneTaskAndEmitsQueuing(t *testing.T) {
	d, tasks, received := newTestDispatcher(t)
	ctx := context.Background()

	node := &domain.NodeInstance{ID: "node-1", Kind: domain.NodeNoAction}
	require.NoError(t, d.Dispatch(ctx, node, domain.NodeSpec{Kind: domain.NodeNoAction}))

	stored, err := tasks.ListByNode(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.TaskNoAction, stored[0].Type)
	assert.Equal(t, domain.TaskStandby, stored[0].Status)

	msg := awaitMsg(t, received)
	assert.Equal(t, stored[0].ID, msg.ID)
	assert.Equal(t, domain.TaskQueuing, msg.TargetTask)
}

func TestDispatchMilestoneRequiresWebhookURL(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	node := &domain.NodeInstance{ID: "node-1", Kind: domain.NodeMilestone}

	err := d.Dispatch(context.Background(), node, domain.NodeSpec{Kind: domain.NodeMilestone})
	assert.Error(t, err)
}

func TestDispatchUsecaseProducesFiveTaskChain(t *testing.T) {
	store := repo.NewMemoryStore()
	bus := eventbus.NewChangeBus()
	received := make(chan domain.ChangeMsg, 16)
	bus.Register(domain.KindTask, func(msg domain.ChangeMsg) error {
		received <- msg
		return nil
	})

	dir := t.TempDir()
	writeManifest(t, dir, "software", "gromacs")
	writeManifest(t, dir, "usecase", "md-sim")
	packages := repo.NewLocalPackageRepo(dir)

	d := New(store.Tasks(), packages, bus)
	ctx := context.Background()

	node := &domain.NodeInstance{ID: "node-1", Kind: domain.NodeSoftwareUsecaseComputing}
	spec := domain.NodeSpec{
		Kind:          domain.NodeSoftwareUsecaseComputing,
		SoftwarePkgID: "gromacs",
		UsecasePkgID:  "md-sim",
		InputSlots:    []domain.ResolvedSlot{{Name: "in", Kind: domain.SlotFile, FileMetaID: "meta-1"}},
		OutputSlots:   []domain.ResolvedSlot{{Name: "out", Kind: domain.SlotFile, PreparedContentID: "prep-1"}},
	}

	require.NoError(t, d.Dispatch(ctx, node, spec))

	tasks, err := store.Tasks().ListByNode(ctx, "node-1")
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	assert.Equal(t, domain.TaskSoftwareDeployment, tasks[0].Type)
	assert.Equal(t, domain.TaskFileDownload, tasks[1].Type)
	assert.Equal(t, domain.TaskUsecaseExecution, tasks[2].Type)
	assert.Equal(t, domain.TaskFileUpload, tasks[3].Type)
	assert.Equal(t, domain.TaskOutputCollect, tasks[4].Type)
	assert.Equal(t, []string{"meta-1"}, tasks[0].Body.InputFileMetaIDs)
}

func TestDispatchUsecaseUnknownSoftwarePackage(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	node := &domain.NodeInstance{ID: "node-1", Kind: domain.NodeSoftwareUsecaseComputing}
	spec := domain.NodeSpec{Kind: domain.NodeSoftwareUsecaseComputing, SoftwarePkgID: "ghost", UsecasePkgID: "ghost"}

	err := d.Dispatch(context.Background(), node, spec)
	assert.Error(t, err)
}

func TestForwardControlTargetsActiveTask(t *testing.T) {
	d, tasks, received := newTestDispatcher(t)
	ctx := context.Background()

	require.NoError(t, tasks.Create(ctx, &domain.Task{ID: "t0", NodeInstanceID: "node-1", ChainIndex: 0}))
	require.NoError(t, tasks.Create(ctx, &domain.Task{ID: "t1", NodeInstanceID: "node-1", ChainIndex: 1}))

	node := &domain.NodeInstance{ID: "node-1", ActiveTaskIndex: 1}
	require.NoError(t, d.ForwardControl(node, domain.TaskTerminating))

	msg := awaitMsg(t, received)
	assert.Equal(t, "t1", msg.ID)
	assert.Equal(t, domain.TaskTerminating, msg.TargetTask)
}

func writeManifest(t *testing.T, dir, kind, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, kind), 0755))
	content := "id: " + id + "\nname: " + id + "\ncommand: run\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, kind, id+".yaml"), []byte(content), 0644))
}
