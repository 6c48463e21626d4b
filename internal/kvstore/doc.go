// Package kvstore is the leased key/value persistence layer for
// Multipart, MoveRegistration, Snapshot, WsReqInfo, and TextStorage.
// Unlike internal/repo's relational entities, these are short-lived or
// lookup-heavy records better served by a single embedded store keyed by a
// composite string that encodes every field worth scanning by. Mirrors
// Warren's BoltStore: one bucket per entity, JSON values, bbolt
// transactions — generalized here with an optional TTL (a background
// sweeper evicts expired leases) and a prefix-scan Find that lets callers
// narrow by any subset of the composite key's fields.
package kvstore
