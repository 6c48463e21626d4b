// Package filemove implements the File Move Pipeline: a two-step
// Register→Execute protocol for landing uploaded content at its final
// destination (a storage server, optionally recorded on a user's net disk,
// or a point-in-time snapshot), short-circuiting via flash upload whenever
// the content's (hash, hash_algorithm) pair already has a FileMeta.
// Registrations and their lease are kept in internal/kvstore, the same way
// Warren's local volume driver keys a directory per volume id; here the
// "directory" is a storage-server key plus a content-addressed identity
// instead of a bind-mounted path.
package filemove
