package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/compiler"
	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/repo"
)

func newTestService(t *testing.T) (*Service, repo.WorkflowDraftRepo, <-chan domain.ChangeMsg) {
	t.Helper()
	store := repo.NewMemoryStore()
	bus := eventbus.NewChangeBus()

	received := make(chan domain.ChangeMsg, 16)
	bus.Register(domain.KindFlow, func(msg domain.ChangeMsg) error {
		received <- msg
		return nil
	})

	comp := compiler.New(store.FileMetas(), store.FileStorages())
	return New(store.Drafts(), store.Instances(), comp, bus), store.Drafts(), received
}

func simpleDraft(id string) *domain.WorkflowDraft {
	return &domain.WorkflowDraft{
		ID: id,
		Spec: domain.DraftSpec{
			Nodes: []domain.DraftNode{
				{ID: "n1", Kind: domain.NodeNoAction, QueueSelector: domain.QueueSelector{Kind: domain.QueueSelectAuto}},
			},
		},
	}
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

func TestSubmitCompilesAndEmitsPending(t *testing.T) {
	svc, drafts, received := newTestService(t)
	ctx := context.Background()

	draft := simpleDraft("draft-1")
	require.NoError(t, drafts.Create(ctx, draft))

	id, err := svc.Submit(ctx, "draft-1", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msg := awaitMsg(t, received)
	assert.Equal(t, domain.KindFlow, msg.Kind)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, domain.FlowPending, msg.TargetStatus)
}

func TestSubmitUnknownDraftReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), "ghost", "user-1")
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}

func TestPauseRejectsPendingSource(t *testing.T) {
	svc, drafts, _ := newTestService(t)
	ctx := context.Background()

	draft := simpleDraft("draft-1")
	require.NoError(t, drafts.Create(ctx, draft))
	id, err := svc.Submit(ctx, "draft-1", "user-1")
	require.NoError(t, err)

	// instance is Pending; Pause only accepts Running sources.
	err = svc.Pause(ctx, id)
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.PreconditionFailed, derr.Kind)
}

func TestTerminateAllowsManyNonTerminalSources(t *testing.T) {
	svc, drafts, _ := newTestService(t)
	ctx := context.Background()

	draft := simpleDraft("draft-1")
	require.NoError(t, drafts.Create(ctx, draft))
	id, err := svc.Submit(ctx, "draft-1", "user-1")
	require.NoError(t, err)

	assert.NoError(t, svc.Terminate(ctx, id))
}

func TestTransitionUnknownInstanceReturnsNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.Start(context.Background(), "ghost")
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}
