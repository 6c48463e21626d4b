// Package queuemgr implements the Queue Resource Manager: a single-process
// mutable map from queue id to domain.QueueCacheInfo, guarded by a single
// mutex shared by every queue (there is no per-queue lock), tracking memory/CPU/storage/node usage against each Queue's
// declared capacity. Admission picks uniformly at random among queues that
// pass every axis; reserve/release are driven by Task status transitions;
// reconciliation overwrites the cache with an agent's self-reported usage.
// Modeled on Warren's reconciler periodic tick loop and its node-liveness
// bookkeeping, adapted from container scheduling to HPC queue admission.
package queuemgr
