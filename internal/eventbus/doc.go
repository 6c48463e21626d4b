// Package eventbus implements the typed pub/sub the schedule engine and
// its neighbors (file move pipeline, realtime streamer, agent API) use to
// communicate. Broker is a generic named-topic fan-out broadcaster, mirroring
// Warren's cluster event broker. ChangeBus sits on top of it and adds the
// per-(kind,id) FIFO ordering ChangeMsg delivery requires: events for the
// same (kind, id) pair are processed one at a time, in publish order;
// events for different ids run concurrently.
package eventbus
