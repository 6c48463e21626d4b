package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/dispatch"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/queuemgr"
	"github.com/cuemby/cos/internal/repo"
)

func newTestEngine(t *testing.T) (*Engine, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	bus := eventbus.NewChangeBus()
	packages := repo.NewLocalPackageRepo(t.TempDir())
	d := dispatch.New(store.Tasks(), packages, bus)
	qm := queuemgr.New(store.Queues())
	return New(store.Instances(), store.Nodes(), store.Tasks(), bus, d, qm), store
}

func awaitFlowStatus(t *testing.T, store *repo.MemoryStore, id string, want domain.FlowStatus) *domain.WorkflowInstance {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := store.Instances().Get(ctx, id)
		require.NoError(t, err)
		if inst.Status == want {
			return inst
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for flow %s to reach %s", id, want)
	return nil
}

func singleNodeInstance(id string, kind domain.NodeKind) *domain.WorkflowInstance {
	return &domain.WorkflowInstance{
		ID:     id,
		UserID: "user-1",
		Status: domain.FlowPending,
		Spec: domain.InstanceSpec{
			Nodes: []domain.NodeSpec{{NodeID: "n1", Kind: kind}},
		},
	}
}

func TestRunningFlowDrivesSingleNoActionNodeToFinished(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	inst := singleNodeInstance("flow-1", domain.NodeNoAction)
	require.NoError(t, store.Instances().Create(ctx, inst))

	require.NoError(t, e.applyFlow(ctx, domain.ChangeMsg{Kind: domain.KindFlow, ID: inst.ID, TargetStatus: domain.FlowRunning}))

	final := awaitFlowStatus(t, store, inst.ID, domain.FlowFinished)
	assert.Equal(t, domain.FlowFinished, final.Status)

	node, err := store.Nodes().Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowFinished, node.Status)

	tasks, err := store.Tasks().ListByNode(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskCompleted, tasks[0].Status)
}

func TestNodeFailureFailsFlowAndCascadesTerminate(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	inst := &domain.WorkflowInstance{
		ID:     "flow-2",
		UserID: "user-1",
		Status: domain.FlowPending,
		Spec: domain.InstanceSpec{
			Nodes: []domain.NodeSpec{
				{NodeID: "n1", Kind: domain.NodeNoAction},
				{NodeID: "n2", Kind: domain.NodeMilestone, WebhookURL: "http://127.0.0.1:1/webhook"},
			},
		},
	}
	require.NoError(t, store.Instances().Create(ctx, inst))

	// n2's webhook points at a port nothing listens on, so admitTask's
	// PostWebhook call fails the task as soon as it reaches Queuing.
	require.NoError(t, e.applyFlow(ctx, domain.ChangeMsg{Kind: domain.KindFlow, ID: inst.ID, TargetStatus: domain.FlowRunning}))

	final := awaitFlowStatus(t, store, inst.ID, domain.FlowFailed)
	assert.Equal(t, domain.FlowFailed, final.Status)

	n1, err := store.Nodes().Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowFinished, n1.Status)

	n2, err := store.Nodes().Get(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, domain.FlowFailed, n2.Status)
}

func TestApplyFlowDropsTransitionFromUnexpectedSource(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	inst := singleNodeInstance("flow-3", domain.NodeNoAction)
	require.NoError(t, store.Instances().Create(ctx, inst))

	// Pending has no direct path to Paused in flowTransitions: the engine
	// should log and drop rather than erroring.
	err := e.applyFlow(ctx, domain.ChangeMsg{Kind: domain.KindFlow, ID: inst.ID, TargetStatus: domain.FlowPaused})
	require.NoError(t, err)

	fresh, err := store.Instances().Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FlowPending, fresh.Status)
}

func TestApplyFlowUnknownInstanceReturnsNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.applyFlow(context.Background(), domain.ChangeMsg{Kind: domain.KindFlow, ID: "ghost", TargetStatus: domain.FlowRunning})
	assert.Error(t, err)
}

func TestScriptNodeReservesAndReleasesAgainstQueueIDNotTopicName(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	// ID and TopicName deliberately differ: Reserve/Release must key off
	// Queue.ID, the same axis fits()/Usage() read, not the eventbus topic.
	queue := &domain.Queue{
		ID: "queue-gpu", TopicName: "gpu-topic", Enabled: true,
		MemoryBytes: 1 << 30, CoreNumber: 64, StorageBytes: 1 << 30, NodeCount: 8,
	}
	require.NoError(t, store.CreateQueue(ctx, queue))

	inst := singleNodeInstance("flow-script", domain.NodeScript)
	inst.Spec.Nodes[0].ScriptInfo = domain.ScriptInfo{
		Interpreter: "bash",
		Body:        "echo hi",
		Resources:   domain.ResourceRequest{MemoryBytes: 1024, CoreCount: 1, StorageBytes: 1024, NodeCount: 1},
	}
	require.NoError(t, store.Instances().Create(ctx, inst))

	require.NoError(t, e.applyFlow(ctx, domain.ChangeMsg{Kind: domain.KindFlow, ID: inst.ID, TargetStatus: domain.FlowRunning}))

	// While the task is Queuing/Running, the reservation must be visible
	// under queue.ID.
	deadline := time.Now().Add(2 * time.Second)
	var usage domain.QueueCacheInfo
	for time.Now().Before(deadline) {
		usage = e.queues.Usage(queue.ID)
		if usage.UsedMemory > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1024), usage.UsedMemory, "Reserve must key its cache entry by queue.ID")

	// No simulated agent is attached to gpu-topic in this test, so drive the
	// task to completion the way its eventual "task-status" report would.
	tasks, err := store.Tasks().ListByNode(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, e.Apply(domain.ChangeMsg{Kind: domain.KindTask, ID: tasks[0].ID, TargetTask: domain.TaskRunning}))
	require.NoError(t, e.Apply(domain.ChangeMsg{Kind: domain.KindTask, ID: tasks[0].ID, TargetTask: domain.TaskCompleted}))

	final := awaitFlowStatus(t, store, inst.ID, domain.FlowFinished)
	assert.Equal(t, domain.FlowFinished, final.Status)

	released := e.queues.Usage(queue.ID)
	assert.Equal(t, int64(0), released.UsedMemory, "Release must clear the same cache entry Reserve wrote")
}

func TestEngineAppliesDirectlyWithoutRaft(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	assert.True(t, e.IsLeader())

	inst := singleNodeInstance("flow-4", domain.NodeNoAction)
	require.NoError(t, store.Instances().Create(ctx, inst))

	require.NoError(t, e.Apply(domain.ChangeMsg{Kind: domain.KindFlow, ID: inst.ID, TargetStatus: domain.FlowRunning}))
	awaitFlowStatus(t, store, inst.ID, domain.FlowFinished)
}
