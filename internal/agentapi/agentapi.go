package agentapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/queuemgr"
	"github.com/cuemby/cos/internal/repo"
	"github.com/cuemby/cos/internal/schedule"
)

// envelope is the {status, message, content} shape every response uses.
type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

// Server is the Agent-facing HTTP API.
type Server struct {
	engine *schedule.Engine
	queues *queuemgr.Manager
	repo   repo.QueueRepo
	http   *http.Server
}

// New builds a Server. listenAddr is where Start binds.
func New(engine *schedule.Engine, queues *queuemgr.Manager, queueRepo repo.QueueRepo, listenAddr string) *Server {
	s := &Server{engine: engine, queues: queues, repo: queueRepo}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/register", s.handleRegister)
	mux.HandleFunc("POST /agent/used-resource", s.handleUsedResource)
	mux.HandleFunc("POST /agent/task-status", s.handleTaskStatus)
	s.http = &http.Server{Addr: listenAddr, Handler: mux}
	return s
}

// Start serves until the process stops or Stop is called.
func (s *Server) Start() error {
	logx.WithComponent("agentapi").Info().Str("addr", s.http.Addr).Msg("agent API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	return s.http.Close()
}

// registerRequest is what a remote agent posts to announce its execution
// capacity as a Queue.
type registerRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TopicName    string `json:"topic_name"`
	MemoryBytes  int64  `json:"memory_bytes"`
	CoreNumber   int    `json:"core_number"`
	StorageBytes int64  `json:"storage_bytes"`
	NodeCount    int    `json:"node_count"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}

	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.TopicName == "" {
		writeEnvelope(w, http.StatusBadRequest, "id and topic_name are required", nil)
		return
	}

	q := &domain.Queue{
		ID:            req.ID,
		Name:          req.Name,
		TopicName:     req.TopicName,
		MemoryBytes:   req.MemoryBytes,
		CoreNumber:    req.CoreNumber,
		StorageBytes:  req.StorageBytes,
		NodeCount:     req.NodeCount,
		Enabled:       true,
		LastHeartbeat: time.Now(),
	}

	ctx := r.Context()
	if existing, err := s.repo.Get(ctx, q.ID); err == nil && existing != nil {
		existing.Name, existing.TopicName = q.Name, q.TopicName
		existing.MemoryBytes, existing.CoreNumber = q.MemoryBytes, q.CoreNumber
		existing.StorageBytes, existing.NodeCount = q.StorageBytes, q.NodeCount
		existing.Enabled = true
		existing.LastHeartbeat = q.LastHeartbeat
		existing.MissedHeartbeat = 0
		if err := s.repo.Update(ctx, existing); err != nil {
			writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
			return
		}
	} else if err := s.repo.Create(ctx, q); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeEnvelope(w, http.StatusOK, "ok", map[string]string{"id": q.ID})
}

// usedResourceRequest is a periodic actual-usage report that reconciliation
// consumes to correct the in-process QueueCacheInfo.
type usedResourceRequest struct {
	QueueID      string `json:"queue_id"`
	UsedMemory   int64  `json:"used_memory"`
	UsedCore     int64  `json:"used_core"`
	UsedStorage  int64  `json:"used_storage"`
	UsedNode     int64  `json:"used_node"`
	QueuingCount int    `json:"queuing_count"`
	RunningCount int    `json:"running_count"`
}

func (s *Server) handleUsedResource(w http.ResponseWriter, r *http.Request) {
	var req usedResourceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.QueueID == "" {
		writeEnvelope(w, http.StatusBadRequest, "queue_id is required", nil)
		return
	}

	s.queues.Reconcile(req.QueueID, domain.QueueCacheInfo{
		QueueID:      req.QueueID,
		UsedMemory:   req.UsedMemory,
		UsedCore:     int(req.UsedCore),
		UsedStorage:  req.UsedStorage,
		UsedNode:     int(req.UsedNode),
		QueuingCount: req.QueuingCount,
		RunningCount: req.RunningCount,
	})

	if q, err := s.repo.Get(r.Context(), req.QueueID); err == nil && q != nil {
		q.LastHeartbeat = time.Now()
		q.MissedHeartbeat = 0
		_ = s.repo.Update(r.Context(), q)
	}

	writeEnvelope(w, http.StatusOK, "ok", nil)
}

// taskStatusRequest reports a Task's new status back from the agent.
// usedResources is populated once the task has finished executing.
type taskStatusRequest struct {
	TaskID        string               `json:"task_id"`
	Status        string               `json:"status"`
	Message       string               `json:"message,omitempty"`
	UsedResources *domain.UsedResources `json:"used_resources,omitempty"`
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLeader(w) {
		return
	}

	var req taskStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TaskID == "" || req.Status == "" {
		writeEnvelope(w, http.StatusBadRequest, "task_id and status are required", nil)
		return
	}

	msg := domain.ChangeMsg{
		Kind:          domain.KindTask,
		ID:            req.TaskID,
		TargetTask:    domain.TaskStatus(req.Status),
		Message:       req.Message,
		UsedResources: req.UsedResources,
	}
	if err := s.engine.Apply(msg); err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeEnvelope(w, http.StatusOK, "ok", nil)
}

func (s *Server) ensureLeader(w http.ResponseWriter) bool {
	if s.engine.IsLeader() {
		return true
	}
	writeEnvelope(w, http.StatusServiceUnavailable, "not the leader", nil)
	return false
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

func writeEnvelope(w http.ResponseWriter, status int, message string, content any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: status, Message: message, Content: content})
}
