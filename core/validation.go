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

import (
	"fmt"
	"slices"
	"strings"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - NormalizedText must not be empty
//   - SourceType must be valid
//   - Fingerprint must match FingerprintOf over the identifying fields
//
// NOT validated:
//   - PublishedAt (sources frequently omit it)
//   - Category (the normalizer always assigns one, but stores accept any)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if strings.TrimSpace(doc.NormalizedText) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContent)
	}

	if err := ValidateSourceType(doc.SourceType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !doc.Fingerprint.Valid() || doc.Fingerprint != FingerprintOf(doc.SourceType, doc.SourceRef, doc.NormalizedText) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidFingerprint)
	}

	return nil
}

// ValidateSourceType validates that a SourceType has a valid value.
func ValidateSourceType(st SourceType) error {
	if _, ok := sourceTypeNames[st]; !ok {
		return fmt.Errorf("%w: value %d", ErrInvalidSourceType, st)
	}
	return nil
}

// ValidateSubscription validates a Subscription.
func ValidateSubscription(sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription is nil", ErrInvalidSubscription)
	}
	if strings.TrimSpace(sub.SubscriberID) == "" {
		return fmt.Errorf("%w: subscriber id is required", ErrInvalidSubscription)
	}
	if sub.Cadence != CadenceDaily && sub.Cadence != CadenceWeekly {
		return fmt.Errorf("%w: %w: value %d", ErrInvalidSubscription, ErrInvalidCadence, sub.Cadence)
	}
	return nil
}

// NormalizeCategories lower-cases, trims, deduplicates and sorts a category set.
func NormalizeCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ValidateRequest validates an AnalysisRequest.
func ValidateRequest(req *AnalysisRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if req.RequestID == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Scope.Category) == "" && strings.TrimSpace(req.Scope.Query) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyScope)
	}
	if !req.Window.Start.IsZero() && !req.Window.End.IsZero() && !req.Window.End.After(req.Window.Start) {
		return fmt.Errorf("%w: window end must be after start", ErrInvalidRequest)
	}
	return nil
}
