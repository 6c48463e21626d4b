package agentsim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/eventbus"
)

type recordingServer struct {
	mu    sync.Mutex
	calls []recordedCall
	srv   *httptest.Server
}

type recordedCall struct {
	path string
	body map[string]any
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		rs.mu.Lock()
		rs.calls = append(rs.calls, recordedCall{path: r.URL.Path, body: body})
		rs.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *recordingServer) snapshot() []recordedCall {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]recordedCall{}, rs.calls...)
}

func TestAgentExecutesDispatchedTaskReportingRunningThenCompleted(t *testing.T) {
	rs := newRecordingServer(t)
	broker := eventbus.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	agent := New(Config{ID: "gpu", TopicName: "gpu-topic", BaseURL: rs.srv.URL, RunDuration: 10 * time.Millisecond}, broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = agent.Run(ctx)
		close(done)
	}()

	// Give Run time to register and subscribe before publishing the task.
	time.Sleep(20 * time.Millisecond)
	broker.Publish(eventbus.QueueTopic("gpu-topic"), domain.Task{ID: "t1"})

	require.Eventually(t, func() bool {
		for _, c := range rs.snapshot() {
			if c.path == "/agent/task-status" && c.body["status"] == string(domain.TaskCompleted) {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	var sawRegister, sawRunning, sawCompleted bool
	for _, c := range rs.snapshot() {
		switch c.path {
		case "/agent/register":
			sawRegister = true
		case "/agent/task-status":
			if c.body["status"] == string(domain.TaskRunning) {
				sawRunning = true
			}
			if c.body["status"] == string(domain.TaskCompleted) {
				sawCompleted = true
			}
		}
	}
	assert.True(t, sawRegister)
	assert.True(t, sawRunning)
	assert.True(t, sawCompleted)
}

func TestPostReturnsErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	agent := New(Config{ID: "gpu", TopicName: "gpu-topic", BaseURL: srv.URL}, eventbus.NewBroker())
	err := agent.register(context.Background())
	assert.Error(t, err)
}

func TestNewDefaultsRunDuration(t *testing.T) {
	agent := New(Config{}, eventbus.NewBroker())
	assert.Equal(t, 2*time.Second, agent.cfg.RunDuration)
}
