package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/kvstore"
)

func newTestStreamer(t *testing.T, ttl time.Duration) (*Streamer, *eventbus.Broker) {
	t.Helper()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	broker := eventbus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return New(kv.WsReqInfos(), broker, ttl), broker
}

func TestRequestFileMintsIDAndPublishesToQueueTopic(t *testing.T) {
	s, broker := newTestStreamer(t, time.Minute)
	sub := broker.Subscribe(eventbus.QueueTopic("gpu-topic"))

	reqID, err := s.RequestFile(context.Background(), "session-1", TailRequest{TaskID: "task-1", QueueTopic: "gpu-topic"})
	require.NoError(t, err)
	assert.NotEmpty(t, reqID)

	select {
	case payload := <-sub:
		tr, ok := payload.(TailRequest)
		require.True(t, ok)
		assert.Equal(t, reqID, tr.RequestID)
		assert.Equal(t, "task-1", tr.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tail request on queue topic")
	}
}

func TestRequestFileKeepsCallerSuppliedID(t *testing.T) {
	s, _ := newTestStreamer(t, time.Minute)
	reqID, err := s.RequestFile(context.Background(), "session-1", TailRequest{RequestID: "fixed-id", QueueTopic: "gpu-topic"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", reqID)
}

func TestSendFragmentRelaysToCorrelatedSession(t *testing.T) {
	s, broker := newTestStreamer(t, time.Minute)
	sub := broker.Subscribe(eventbus.TopicWebSocket)

	reqID, err := s.RequestFile(context.Background(), "session-1", TailRequest{QueueTopic: "gpu-topic"})
	require.NoError(t, err)

	require.NoError(t, s.SendFragment(context.Background(), reqID, "log line"))

	select {
	case payload := <-sub:
		msg, ok := payload.(SendContentToSession)
		require.True(t, ok)
		assert.Equal(t, "session-1", msg.SessionID)
		assert.Equal(t, "log line", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed fragment")
	}
}

func TestSendFragmentUnknownRequestReturnsNotFound(t *testing.T) {
	s, _ := newTestStreamer(t, time.Minute)
	err := s.SendFragment(context.Background(), "ghost-request", "data")
	require.Error(t, err)

	var derr *errs.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errs.NotFound, derr.Kind)
}

func TestSendFragmentAfterTTLExpiryReturnsNotFound(t *testing.T) {
	s, _ := newTestStreamer(t, 10*time.Millisecond)
	reqID, err := s.RequestFile(context.Background(), "session-1", TailRequest{QueueTopic: "gpu-topic"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	err = s.SendFragment(context.Background(), reqID, "late fragment")
	require.Error(t, err)
}

func TestNewDefaultsTTL(t *testing.T) {
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	s := New(kv.WsReqInfos(), eventbus.NewBroker(), 0)
	assert.Equal(t, time.Hour, s.ttl)
}
