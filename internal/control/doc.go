// Package control implements the Workflow Control Service: a thin,
// idempotent façade translating user commands (submit/start/pause/resume/
// terminate) into ChangeMsg emissions on the event bus, after checking the
// instance's current status against the allowed source states for each
// operation. Mirrors the shape of Warren's Manager wrapper methods
// (CreateNode/UpdateNode/...) that marshal a command and hand it to the
// schedule engine rather than mutating state directly.
package control
