// Package domain holds the entity types shared across the Computing
// Orchestration Service: drafts, workflow instances, nodes, tasks, queues,
// and the file-addressing types used by the move pipeline.
//
// Entities carry identifiers only; traversal between them (Flow -> Node ->
// Task, Node -> Queue) goes through the repositories in package repo, never
// through embedded pointers.
package domain
