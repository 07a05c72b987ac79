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


package core

import "errors"

// Pipeline outcome taxonomy
var (
	// ErrMalformedSource indicates a raw record had no usable content. Such records are dropped.
	ErrMalformedSource = errors.New("malformed source record")

	// ErrTransientIndex indicates the embedding index or document store failed in a way worth retrying.
	ErrTransientIndex = errors.New("transient index error")

	// ErrTransientProvider indicates an embedding or completion provider failed in a way worth retrying.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrAllProvidersExhausted indicates every configured completion provider failed for one request.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrParseDegraded indicates a completion could not be parsed and the report carries raw text only.
	ErrParseDegraded = errors.New("report parse degraded")

	// ErrDuplicateSuppressed indicates work was skipped because its effect already exists.
	ErrDuplicateSuppressed = errors.New("duplicate suppressed")

	// ErrPipelineStageFailed indicates a stage gave up after its retry budget.
	ErrPipelineStageFailed = errors.New("pipeline stage failed")

	// ErrNoDocuments indicates retrieval found nothing for the requested scope and window.
	ErrNoDocuments = errors.New("no documents in scope")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidSubscription indicates a Subscription failed validation.
	ErrInvalidSubscription = errors.New("invalid subscription")

	// ErrInvalidRequest indicates an AnalysisRequest failed validation.
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrEmptyContent indicates normalized text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidFingerprint indicates a fingerprint is not a 128-bit hex digest.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrInvalidSourceType indicates an unknown SourceType value.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrInvalidCadence indicates an unknown Cadence value.
	ErrInvalidCadence = errors.New("invalid cadence")

	// ErrEmptyScope indicates an analysis request names neither a category nor a query.
	ErrEmptyScope = errors.New("analysis scope cannot be empty")
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. errors.Is and errors.As still see the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *permanentError
	if errors.As(err, &p) {
		return err
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether retrying err cannot change the outcome.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	return errors.Is(err, ErrMalformedSource) ||
		errors.Is(err, ErrAllProvidersExhausted) ||
		errors.Is(err, ErrNoDocuments) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSubscription)
}
