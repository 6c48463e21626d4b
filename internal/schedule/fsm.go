package schedule

import (
	"encoding/json"
	"io"

	"github.com/hashicorp/raft"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/logx"
)

// Command is the raft log envelope, mirroring Warren's FSM Command{Op,
// Data} shape. COS logs exactly one Op: a ChangeMsg to apply.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// FSM adapts Engine to raft's FSM interface.
type FSM struct {
	engine *Engine
}

func newFSM(e *Engine) *FSM { return &FSM{engine: e} }

// Apply decodes a committed Command and hands the enclosed ChangeMsg to the
// engine's direct-application path. Returning an error here marks the raft
// log entry's Response; Engine.Apply surfaces it back to the publisher.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		logx.WithComponent("schedule").Error().Err(err).Msg("failed to decode raft log entry")
		return err
	}
	if cmd.Op != "apply_change" {
		return nil
	}

	var msg domain.ChangeMsg
	if err := json.Unmarshal(cmd.Data, &msg); err != nil {
		logx.WithComponent("schedule").Error().Err(err).Msg("failed to decode change message")
		return err
	}

	if err := f.engine.applyDirect(msg); err != nil {
		logx.WithComponent("schedule").Error().Err(err).
			Str("kind", string(msg.Kind)).Str("id", msg.ID).
			Msg("change message application failed")
		return err
	}
	return nil
}

// Snapshot/Restore are intentionally thin. Unlike Warren's FSM, which
// holds the cluster's entire node/service/container state in memory and
// must snapshot it for raft to truncate its log, COS's authoritative
// entity state lives in the external relational store behind internal/repo
// (see repo.go). The FSM itself is stateless beyond "what ChangeMsg have I
// applied", which raft's own log position already captures, so a snapshot
// only needs to exist to let raft compact.
type emptySnapshot struct{}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) { return emptySnapshot{}, nil }

func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	_, err := io.Copy(io.Discard, rc)
	return err
}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptySnapshot) Release()                             {}
