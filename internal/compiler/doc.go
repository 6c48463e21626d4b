// Package compiler implements the Draft Compiler: it validates a
// WorkflowDraft's declarative graph and expands it into a WorkflowInstance
// whose NodeSpecs are concrete — batch strategies fanned out into batch
// children, regex placeholders filled, and output prepared_content_ids
// allocated so downstream nodes can address artifacts that don't exist yet.
// Structured the way Warren's scheduler breaks a multi-stage decision into
// small validated steps (its schedule/scheduleService/selectNode chain),
// generalized here to validate → expand → allocate.
package compiler
