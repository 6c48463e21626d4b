// Package realtime implements the Realtime Streamer: it correlates a
// transient request_id with the websocket session_id that asked for a log
// tail, publishes the tail request onto the target node's queue topic so
// the remote agent begins streaming, and relays each fragment the agent
// sends back to the right session over the internal websocket topic. The
// request_id/session_id correlation is a leased row, adapted from the same
// bbolt TTL bucket internal/kvstore already backs MoveRegistration leases
// with.
package realtime
