package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
)

func TestChangeBusDeliversInPublishOrderPerID(t *testing.T) {
	bus := NewChangeBus()

	var mu sync.Mutex
	var order []domain.FlowStatus
	done := make(chan struct{})

	bus.Register(domain.KindFlow, func(msg domain.ChangeMsg) error {
		mu.Lock()
		order = append(order, msg.TargetStatus)
		if len(order) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	bus.Publish(domain.ChangeMsg{Kind: domain.KindFlow, ID: "flow-1", TargetStatus: domain.FlowRunning})
	bus.Publish(domain.ChangeMsg{Kind: domain.KindFlow, ID: "flow-1", TargetStatus: domain.FlowPausing})
	bus.Publish(domain.ChangeMsg{Kind: domain.KindFlow, ID: "flow-1", TargetStatus: domain.FlowPaused})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all three messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.FlowStatus{domain.FlowRunning, domain.FlowPausing, domain.FlowPaused}, order)
}

func TestChangeBusRunsDifferentIDsConcurrently(t *testing.T) {
	bus := NewChangeBus()

	release := make(chan struct{})
	started := make(chan string, 2)

	bus.Register(domain.KindNode, func(msg domain.ChangeMsg) error {
		started <- msg.ID
		<-release
		return nil
	})

	bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: "node-a", TargetStatus: domain.FlowRunning})
	bus.Publish(domain.ChangeMsg{Kind: domain.KindNode, ID: "node-b", TargetStatus: domain.FlowRunning})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for both ids to start concurrently")
		}
	}
	close(release)

	assert.True(t, seen["node-a"])
	assert.True(t, seen["node-b"])
}

func TestChangeBusSkipsUnregisteredKind(t *testing.T) {
	bus := NewChangeBus()
	require.NotPanics(t, func() {
		bus.Publish(domain.ChangeMsg{Kind: domain.KindTask, ID: "t1", TargetTask: domain.TaskQueuing})
	})
}
