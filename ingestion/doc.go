// Package ingestion turns raw source records into pipeline tasks.
//
// Pipeline.Ingest normalizes a batch of raw records, drops malformed ones,
// skips fingerprints that were already seen and enqueues one ingest task per
// new document. Pipeline.Poll fetches configured sources concurrently on a
// worker pool and ingests what they return.
//
// IngestHandler admits a document through the deduplication gate and chains
// an embed task; EmbedHandler produces the document's embedding. Both are
// registered with the orchestrator, which retries them on transient errors.
package ingestion
