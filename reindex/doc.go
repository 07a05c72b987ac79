// Package reindex re-embeds every stored document, typically after the
// embedding model changes.
//
// Documents are streamed from the document store in batches, embedded on a
// worker pool with retry and exponential backoff, and upserted into the
// embedding index. Progress is written to an io.Writer.
package reindex
