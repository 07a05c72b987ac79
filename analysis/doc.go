// Package analysis turns retrieved documents into structured trend reports.
//
// An Engine drives each AnalysisRequest through the states
//
//	CREATED -> RETRIEVING -> PROMPTING -> PARSING -> COMPLETED | FAILED
//
// Retrieval queries the embedding index for the request's scope and time
// window and retries transient index failures. Prompting assembles a
// bounded prompt and calls the configured completion providers in priority
// order: a failed provider is marked tried and the next one is used, and a
// provider that failed is never called again within the same request. When
// every provider has failed the request ends FAILED with
// core.ErrAllProvidersExhausted.
//
// Parsing never fails a request. A completion that matches neither the JSON
// nor the section format produces a degraded report that keeps the raw text.
package analysis
