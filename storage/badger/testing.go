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


package badger

// Repositories bundles every badger-backed store over one backend.
type Repositories struct {
	Backend       *Backend
	Documents     *DocumentStore
	Subscriptions *SubscriptionStore
	Reports       *ReportStore
	Tasks         *TaskStore
	Index         *EmbeddingIndex
}

// NewRepositories creates every store over an open backend.
func NewRepositories(backend *Backend) *Repositories {
	return &Repositories{
		Backend:       backend,
		Documents:     NewDocumentStore(backend),
		Subscriptions: NewSubscriptionStore(backend),
		Reports:       NewReportStore(backend),
		Tasks:         NewTaskStore(backend),
		Index:         NewEmbeddingIndex(backend),
	}
}

// NewMemoryBackend opens an in-memory backend for testing.
func NewMemoryBackend() (*Backend, error) {
	return OpenBackend("", true)
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must close the returned Backend when done.
func NewMemoryRepositories() (*Repositories, error) {
	backend, err := NewMemoryBackend()
	if err != nil {
		return nil, err
	}
	return NewRepositories(backend), nil
}

// Close closes the shared backend.
func (r *Repositories) Close() error {
	return r.Backend.Close()
}
