// Package orchestrator runs pipeline work as durable, idempotent tasks.
//
// Every task is created through Enqueue under an idempotence key, so
// submitting the same logical work twice yields one task. Task records live
// in a storage.TaskStore; only task ids travel over the queue.Queue. Workers
// claim a task with a compare-and-set on its status before running its
// class's Handler, which makes redelivered and duplicate messages harmless.
//
// Failed attempts are retried with capped exponential backoff according to
// the class's retry.Policy. Errors marked with core.Permanent stop retries at
// once. Handlers chain work by enqueuing follow-up tasks with deterministic
// keys, for example an ingest task enqueuing "embed:<fingerprint>".
package orchestrator
