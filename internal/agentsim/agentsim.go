package agentsim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/eventbus"
	"github.com/cuemby/cos/internal/logx"
)

// Config describes the simulated queue capacity an Agent registers with
// internal/agentapi, and the HTTP base URL that API is reachable on.
type Config struct {
	ID           string
	Name         string
	TopicName    string
	MemoryBytes  int64
	CoreNumber   int
	StorageBytes int64
	NodeCount    int
	BaseURL      string

	// RunDuration is how long a simulated task "runs" before reporting
	// Completed; a fixed delay stands in for real Slurm/PBS job wall time.
	RunDuration time.Duration
}

// Agent is a simulated HPC execution agent.
type Agent struct {
	cfg    Config
	broker *eventbus.Broker
	client *http.Client
}

// New builds an Agent. broker must be the same Broker the schedule engine
// publishes dispatched tasks on.
func New(cfg Config, broker *eventbus.Broker) *Agent {
	if cfg.RunDuration <= 0 {
		cfg.RunDuration = 2 * time.Second
	}
	return &Agent{cfg: cfg, broker: broker, client: &http.Client{Timeout: 10 * time.Second}}
}

// Run registers the agent and then services its queue topic until ctx is
// cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("failed to register simulated agent: %w", err)
	}

	sub := a.broker.Subscribe(eventbus.QueueTopic(a.cfg.TopicName))
	defer a.broker.Unsubscribe(eventbus.QueueTopic(a.cfg.TopicName), sub)

	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()

	log := logx.WithComponent("agentsim").With().Str("queue_id", a.cfg.ID).Logger()
	log.Info().Msg("simulated agent started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := a.reportUsedResource(ctx); err != nil {
				log.Warn().Err(err).Msg("used-resource report failed")
			}
		case payload, ok := <-sub:
			if !ok {
				return nil
			}
			task, ok := payload.(domain.Task)
			if !ok {
				continue
			}
			go a.executeTask(ctx, task)
		}
	}
}

func (a *Agent) executeTask(ctx context.Context, task domain.Task) {
	log := logx.WithComponent("agentsim").With().Str("task_id", task.ID).Logger()

	if err := a.reportTaskStatus(ctx, task.ID, string(domain.TaskRunning), ""); err != nil {
		log.Warn().Err(err).Msg("failed to report task running")
		return
	}

	select {
	case <-time.After(a.cfg.RunDuration):
	case <-ctx.Done():
		return
	}

	if err := a.reportTaskStatus(ctx, task.ID, string(domain.TaskCompleted), ""); err != nil {
		log.Warn().Err(err).Msg("failed to report task completed")
	}
}

type registerPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TopicName    string `json:"topic_name"`
	MemoryBytes  int64  `json:"memory_bytes"`
	CoreNumber   int    `json:"core_number"`
	StorageBytes int64  `json:"storage_bytes"`
	NodeCount    int    `json:"node_count"`
}

func (a *Agent) register(ctx context.Context) error {
	return a.post(ctx, "/agent/register", registerPayload{
		ID:           a.cfg.ID,
		Name:         a.cfg.Name,
		TopicName:    a.cfg.TopicName,
		MemoryBytes:  a.cfg.MemoryBytes,
		CoreNumber:   a.cfg.CoreNumber,
		StorageBytes: a.cfg.StorageBytes,
		NodeCount:    a.cfg.NodeCount,
	})
}

type usedResourcePayload struct {
	QueueID      string `json:"queue_id"`
	UsedMemory   int64  `json:"used_memory"`
	UsedCore     int64  `json:"used_core"`
	UsedStorage  int64  `json:"used_storage"`
	UsedNode     int64  `json:"used_node"`
	QueuingCount int    `json:"queuing_count"`
	RunningCount int    `json:"running_count"`
}

func (a *Agent) reportUsedResource(ctx context.Context) error {
	return a.post(ctx, "/agent/used-resource", usedResourcePayload{QueueID: a.cfg.ID})
}

type taskStatusPayload struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (a *Agent) reportTaskStatus(ctx context.Context, taskID, status, message string) error {
	return a.post(ctx, "/agent/task-status", taskStatusPayload{TaskID: taskID, Status: status, Message: message})
}

func (a *Agent) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return nil
}
