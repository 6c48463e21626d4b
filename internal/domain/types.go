package domain

import "time"

// FlowStatus is the lifecycle state of a WorkflowInstance. NodeInstance
// shares the same state set (see NodeStatus alias below).
type FlowStatus string

const (
	FlowCreated     FlowStatus = "created"
	FlowPending     FlowStatus = "pending"
	FlowRunning     FlowStatus = "running"
	FlowFinished    FlowStatus = "finished"
	FlowFailed      FlowStatus = "failed"
	FlowPausing     FlowStatus = "pausing"
	FlowPaused      FlowStatus = "paused"
	FlowResuming    FlowStatus = "resuming"
	FlowTerminating FlowStatus = "terminating"
	FlowTerminated  FlowStatus = "terminated"
	FlowSkipped     FlowStatus = "skipped"
)

// NodeStatus mirrors FlowStatus; Node and Flow share one status vocabulary.
type NodeStatus = FlowStatus

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStandby     TaskStatus = "standby"
	TaskQueuing     TaskStatus = "queuing"
	TaskRunning     TaskStatus = "running"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskTerminating TaskStatus = "terminating"
	TaskTerminated  TaskStatus = "terminated"
	TaskPausing     TaskStatus = "pausing"
	TaskPaused      TaskStatus = "paused"
	TaskRecovering  TaskStatus = "recovering"
)

// Terminal reports whether no further transition is expected for a task.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTerminated:
		return true
	default:
		return false
	}
}

// NodeKind selects which UsecaseHandler materialises a node's tasks.
type NodeKind string

const (
	NodeSoftwareUsecaseComputing NodeKind = "software_usecase_computing"
	NodeNoAction                 NodeKind = "no_action"
	NodeScript                   NodeKind = "script"
	NodeMilestone                NodeKind = "milestone"
)

// TaskType names the leaf work item kind.
type TaskType string

const (
	TaskSoftwareDeployment TaskType = "software_deployment"
	TaskFileDownload       TaskType = "file_download"
	TaskUsecaseExecution   TaskType = "usecase_execution"
	TaskFileUpload         TaskType = "file_upload"
	TaskOutputCollect      TaskType = "output_collect"
	TaskExecuteScript      TaskType = "execute_script"
	TaskNoAction           TaskType = "no_action"
	TaskMilestone          TaskType = "milestone"
)

// HashAlgorithm enumerates supported content hashes. Blake3 is the only
// algorithm the move pipeline emits; others are accepted on read for
// forward compatibility with externally-registered FileMeta rows.
type HashAlgorithm string

const (
	HashBlake3 HashAlgorithm = "blake3"
)

// WorkflowDraft is a user-owned, immutable-once-submitted template.
type WorkflowDraft struct {
	ID          string    `yaml:"id"`
	UserID      string    `yaml:"user_id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Spec        DraftSpec `yaml:"spec"`
	CreatedAt   time.Time `yaml:"-"`
}

// DraftSpec is the declarative graph a draft carries: nodes, edges between
// slots, and per-node batch strategies. It is parsed from the draft's YAML
// payload by the compiler — this is also the shape `cosctl draft apply -f`
// reads off disk, the same `apiVersion`-less single-document convention
// Warren's own `apply` command uses for its resource YAML.
type DraftSpec struct {
	Nodes []DraftNode `yaml:"nodes"`
	Edges []DraftEdge `yaml:"edges"`
}

// DraftNode declares one vertex of the draft graph prior to compilation.
type DraftNode struct {
	ID            string        `yaml:"id"`
	Kind          NodeKind      `yaml:"kind"`
	Name          string        `yaml:"name"`
	InputSlots    []SlotSpec    `yaml:"input_slots,omitempty"`
	OutputSlots   []SlotSpec    `yaml:"output_slots,omitempty"`
	Batch         *BatchStrategy `yaml:"batch,omitempty"`
	QueueSelector QueueSelector `yaml:"queue_selector"`
	// SoftwareUsecaseComputing specifics
	SoftwarePkgID string `yaml:"software_pkg_id,omitempty"`
	UsecasePkgID  string `yaml:"usecase_pkg_id,omitempty"`
	// Script specifics
	ScriptInfo ScriptInfo `yaml:"script,omitempty"`
	// Milestone specifics
	WebhookURL string `yaml:"webhook_url,omitempty"`
}

// SlotKind distinguishes text from file slots; edges must connect like kinds.
type SlotKind string

const (
	SlotText SlotKind = "text"
	SlotFile SlotKind = "file"
)

// SlotSpec declares one input or output slot on a draft node.
type SlotSpec struct {
	Name     string   `yaml:"name"`
	Kind     SlotKind `yaml:"kind"`
	Contents string   `yaml:"contents,omitempty"`  // inline contents; only valid when the slot has no upstream dependency
	FileMeta string   `yaml:"file_meta,omitempty"` // FileMeta id; only valid for file slots carrying inline contents
}

// DraftEdge connects an upstream output slot to a downstream input slot.
type DraftEdge struct {
	FromNode string `yaml:"from_node"`
	FromSlot string `yaml:"from_slot"`
	ToNode   string `yaml:"to_node"`
	ToSlot   string `yaml:"to_slot"`
}

// BatchKind selects how a node's batch cardinality is computed.
type BatchKind string

const (
	BatchOriginalBatch    BatchKind = "original_batch"
	BatchMatchRegex       BatchKind = "match_regex"
	BatchFromBatchOutputs BatchKind = "from_batch_outputs"
)

// BatchStrategy expands one declared node into N concrete NodeInstances.
type BatchStrategy struct {
	Kind  BatchKind `yaml:"kind"`
	Regex string    `yaml:"regex,omitempty"` // MatchRegex
	From  struct {
		Node string `yaml:"node"`
		Slot string `yaml:"slot"`
	} `yaml:"from,omitempty"` // FromBatchOutputs
	Filler *Filler `yaml:"filler,omitempty"`
}

// FillerKind selects how regex placeholders are rendered during expansion.
type FillerKind string

const (
	FillerAutoNumber  FillerKind = "auto_number"
	FillerEnumeration FillerKind = "enumeration"
)

// Filler renders N values for a batch expansion's placeholders.
type Filler struct {
	Kind  FillerKind `yaml:"kind"`
	Start int        `yaml:"start,omitempty"` // AutoNumber
	Step  int        `yaml:"step,omitempty"`  // AutoNumber
	Items []string   `yaml:"items,omitempty"` // Enumeration
}

// QueueSelectorKind chooses how the dispatcher narrows candidate queues.
type QueueSelectorKind string

const (
	QueueSelectManual    QueueSelectorKind = "manual"
	QueueSelectPreferred QueueSelectorKind = "preferred"
	QueueSelectAuto      QueueSelectorKind = "auto"
)

// QueueSelector names the target-queue policy for a node.
type QueueSelector struct {
	Kind    QueueSelectorKind `yaml:"kind"`
	QueueID []string          `yaml:"queue_id,omitempty"` // Manual or Preferred
}

// ScriptInfo is the payload for a Script node's sole ExecuteScript task.
type ScriptInfo struct {
	Interpreter string          `yaml:"interpreter,omitempty"`
	Body        string          `yaml:"body,omitempty"`
	Resources   ResourceRequest `yaml:"resources,omitempty"`
}

// ResourceRequest is what a task declares it needs from its assigned queue.
type ResourceRequest struct {
	MemoryBytes  int64 `yaml:"memory_bytes,omitempty"`
	CoreCount    int   `yaml:"core_count,omitempty"`
	StorageBytes int64 `yaml:"storage_bytes,omitempty"`
	NodeCount    int   `yaml:"node_count,omitempty"`
}

// WorkflowInstance is the root runtime aggregate compiled from a draft.
type WorkflowInstance struct {
	ID               string
	UserID           string
	DraftID          string
	Status           FlowStatus
	Spec             InstanceSpec
	LastModifiedTime int64 // monotonic optimistic-lock token
	CreatedAt        time.Time
}

// InstanceSpec is the expanded graph: concrete nodes (after batch
// expansion) plus the relations between them used to compute ready sets.
type InstanceSpec struct {
	Nodes     []NodeSpec
	Relations []NodeRelation
}

// NodeSpec describes one compiled node (a batch child or an unbatched node).
type NodeSpec struct {
	NodeID         string
	Kind           NodeKind
	Name           string
	BatchParentID  string
	QueueSelector  QueueSelector
	InputSlots     []ResolvedSlot
	OutputSlots    []ResolvedSlot
	SoftwarePkgID  string
	UsecasePkgID   string
	ScriptInfo     ScriptInfo
	WebhookURL     string
	ResourceNeeds  ResourceRequest
}

// ResolvedSlot is a compiled slot: either inline contents or a binding to a
// prepared_content_id allocated for an upstream node's output.
type ResolvedSlot struct {
	Name              string
	Kind              SlotKind
	Contents          string
	FileMetaID        string
	PreparedContentID string
}

// NodeRelation records that ToNode's readiness depends on FromNode having
// completed and having resolved the named output slot.
type NodeRelation struct {
	FromNode string
	FromSlot string
	ToNode   string
	ToSlot   string
}

// NodeInstance is a child of a WorkflowInstance.
type NodeInstance struct {
	ID              string
	FlowInstanceID  string
	Kind            NodeKind
	Status          NodeStatus
	QueueID         string
	BatchParentID   string
	InputSlots      []ResolvedSlot
	OutputSlots     []ResolvedSlot
	ActiveTaskIndex int // index into the node's ordered task chain
}

// Task is the leaf unit of work dispatched to a queue's remote agent.
type Task struct {
	ID             string
	NodeInstanceID string
	Type           TaskType
	Status         TaskStatus
	Body           TaskBody
	QueueID        string // keys queuemgr.Manager's cache; Queue.ID, not Queue.TopicName
	QueueTopic     string // keys the eventbus topic an agent subscribes to; Queue.TopicName
	ChainIndex     int // position within the node's ordered task chain
	Message        string
}

// TaskBody is the type-specific command payload carried by a Task.
type TaskBody struct {
	SoftwarePkgID      string
	UsecasePkgID       string
	InputFileMetaIDs   []string
	OutputPreparedIDs  []string
	ScriptInfo         ScriptInfo
	WebhookURL         string
	Resources          ResourceRequest
}

// UsedResources is the agent-reported resource consumption of a task.
type UsedResources struct {
	CPU       float64
	AvgMemory int64
	MaxMemory int64
	Storage   int64
	WallTime  time.Duration
	CPUTime   time.Duration
	Node      int
	StartTime time.Time
	EndTime   time.Time
}

// Queue represents a remote agent's execution capacity.
type Queue struct {
	ID              string
	Name            string
	TopicName       string
	MemoryBytes     int64
	CoreNumber      int
	StorageBytes    int64
	NodeCount       int
	Enabled         bool
	LastHeartbeat   time.Time
	MissedHeartbeat int
}

// QueueCacheInfo is the in-process, mutable usage tracker for a Queue.
type QueueCacheInfo struct {
	QueueID       string
	UsedMemory    int64
	UsedCore      int
	UsedStorage   int64
	UsedNode      int
	QueuingCount  int
	RunningCount  int
}

// Available returns the remaining capacity on each axis given a Queue's
// declared capacity.
func (c QueueCacheInfo) Available(q Queue) (memory int64, cores int, storage int64, nodes int) {
	memory = q.MemoryBytes - c.UsedMemory
	cores = q.CoreNumber - c.UsedCore
	storage = q.StorageBytes - c.UsedStorage
	nodes = q.NodeCount - c.UsedNode
	return
}

// FileMeta is the content-addressed identity of a file.
type FileMeta struct {
	ID            string
	Name          string
	Hash          string
	HashAlgorithm HashAlgorithm
	Size          int64
}

// FileStorage binds a FileMeta to a physical storage server. Immutable once
// written; a meta may have many storages (replicas).
type FileStorage struct {
	StorageServerID string
	MetaID          string
	ServerURL       string
}

// StorageServer is an upload destination the move pipeline knows about.
type StorageServer struct {
	ID   string
	Name string
	URL  string
}

// NetDiskEntry binds a FileMeta to a user-visible path (parent id + name)
// for the "record_net_disk" move destination.
type NetDiskEntry struct {
	ID           string
	UserID       string
	ParentID     string
	Name         string
	MetaID       string
	Hash         string
	LastModified time.Time
}

// Multipart is a lease-backed upload-in-progress.
type Multipart struct {
	MetaID        string
	Hash          string
	HashAlgorithm HashAlgorithm
	PartCount     int
	Shards        map[int]bool
}

// MissingParts returns the indices, in ascending order, still awaited.
func (m Multipart) MissingParts() []int {
	var missing []int
	for i := 0; i < m.PartCount; i++ {
		if !m.Shards[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// MoveDestinationKind selects where a MoveRegistration ultimately lands.
type MoveDestinationKind string

const (
	DestinationSnapshot      MoveDestinationKind = "snapshot"
	DestinationStorageServer MoveDestinationKind = "storage_server"
)

// MoveDestination is the tagged union of where a move ends up.
type MoveDestination struct {
	Kind MoveDestinationKind

	// Snapshot fields
	NodeID    string
	Timestamp time.Time
	FileID    string

	// StorageServer fields
	RecordNetDisk   bool
	NetDiskParentID string
	NetDiskName     string
}

// MoveRegistration is a pending file relocation.
type MoveRegistration struct {
	ID             string
	UserID         string
	MetaID         string
	FileName       string
	Hash           string
	HashAlgorithm  HashAlgorithm
	Size           int64
	Destination    MoveDestination
	IsUploadFailed bool
	FailedReason   string
	Status         TaskStatus // Standby until flash/execute completes it
}

// Snapshot is a point-in-time file capture.
type Snapshot struct {
	ID            string
	MetaID        string
	NodeID        string
	FileID        string
	Timestamp     time.Time
	FileName      string
	Size          int64
	Hash          string
	HashAlgorithm HashAlgorithm
}

// TextStorage is a deduplicated (key, value) pair. internal/filemove.TextStore
// sets key to the hex Blake3 digest of value, not to a random UUID.
type TextStorage struct {
	Key   string
	Value string
}

// WsReqInfo correlates a realtime request id to a client's session id.
type WsReqInfo struct {
	RequestID string
	SessionID string
}

// ChangeMsgKind names which state machine a ChangeMsg targets.
type ChangeMsgKind string

const (
	KindFlow ChangeMsgKind = "flow"
	KindNode ChangeMsgKind = "node"
	KindTask ChangeMsgKind = "task"
)

// ChangeMsg is the event that drives the three schedule state machines.
type ChangeMsg struct {
	Kind          ChangeMsgKind
	ID            string
	TargetStatus  FlowStatus // target for KindFlow and KindNode; KindTask targets go in TargetTask
	TargetTask    TaskStatus
	Message       string
	UsedResources *UsedResources
	DoNotEmit     bool // set on cascades the engine publishes to itself while applying an already-replicated message
}
