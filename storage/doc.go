// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the storage abstraction layer for trendwire.
//
// This package defines repository interfaces that decouple persistence from
// the pipeline stages. Two backends implement them: storage/badger (embedded,
// also hosts the embedding index and task records) and storage/sqlstore
// (gorm over SQLite or PostgreSQL for documents, subscriptions and reports).
//
// # Architecture
//
//   - DocumentStore: immutable documents keyed by fingerprint, insert-if-absent
//   - EmbeddingIndex: one vector per fingerprint with filtered similarity query
//   - SubscriptionStore: subscriptions plus per-period delivery receipts
//   - ReportStore: analysis reports keyed by request id
//   - TaskStore: orchestrator task records keyed by id and idempotence key
//
// Records stored as bytes use the MUS codec in serialization.go. Every record
// starts with a version number so old data can be detected.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	docs := badger.NewDocumentStore(backend)
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//
// # Idempotence
//
// Every write is either insert-if-absent or upsert-by-key, so a task that
// runs twice leaves the same state as one that runs once.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
