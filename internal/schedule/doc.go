// Package schedule implements the Schedule Engine: the three cooperating
// state machines — FlowSchedule, NodeSchedule, TaskSchedule — that consume
// domain.ChangeMsg events off the eventbus.ChangeBus and drive
// WorkflowInstance/NodeInstance/Task through their lifecycles, with
// optimistic-concurrency retry against repo.WorkflowInstanceRepo.
//
// Command application is replicated through hashicorp/raft exactly as
// Warren's FSM replicates node/service/container CRUD: FSM.Apply decodes a
// Command{Op, Data} envelope and applies it to the in-process Engine.
// Unlike Warren, COS's authoritative entity state lives in the external
// relational store behind internal/repo, not in the FSM's own memory —
// raft here only orders and durably logs ChangeMsg application across
// schedule-engine replicas, so FSM.Snapshot/Restore are intentionally thin
// (see fsm.go).
package schedule
