// Package dedup is the deduplication gate of the ingestion pipeline.
//
// The Document Store is the source of truth: a document is admitted by an
// atomic insert-if-absent keyed by its fingerprint. A SeenCache in front of
// the store lets pollers skip known fingerprints cheaply. It is only marked
// after the insert commits, so a crash between check and persist causes at
// worst a repeated ingest attempt that the next Admit turns into a no-op.
package dedup
