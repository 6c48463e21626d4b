// Package agentapi is the Agent-facing surface (component L): a remote
// execution agent registers as a Queue, periodically reports its actual
// resource usage, and reports task status transitions as they happen. This
// surface is described in HTTP/JSON terms rather than as a generated grpc
// service, so it is built here as plain net/http handlers returning a
// {status, message, content} envelope. The leader-only gating before a
// write (ensureLeader) mirrors Warren's grpc server doing the same check
// before mutating replicated state.
package agentapi
