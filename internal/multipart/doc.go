// Package multipart implements multipart upload tracking and the local disk
// cache backing it: create reserves a lease for a FileMeta's upload and the
// expected part count; complete_part appends one shard, and once every
// shard has landed, concatenates them in order and verifies the result
// against the declared hash. The cache directory layout (one subdirectory
// per upload, one file per part) mirrors Warren's local volume driver,
// which keys a bind-mount directory by volume id the same way this package
// keys a part directory by meta id.
package multipart
