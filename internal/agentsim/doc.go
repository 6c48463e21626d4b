// Package agentsim is a simulated HPC execution agent used for integration
// tests and local development: it registers a Queue with internal/agentapi,
// subscribes to that queue's topic on internal/eventbus.Broker the way a
// real Slurm/PBS-bound agent would, and reports task status transitions
// back over HTTP. The heartbeat/poll/report loop mirrors Warren's worker
// heartbeat and container-executor loops reporting state transitions; the
// container-execution machinery itself has no analogue here since task
// execution is entirely external to COS's core.
package agentsim
