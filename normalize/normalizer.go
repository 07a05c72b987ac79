package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/trendwire/core"
)

// DefaultMaxLength is the maximum analyzable length of a document in runes.
const DefaultMaxLength = 8000

// RawRecord is a source record as fetched, before normalization.
type RawRecord struct {
	SourceRef    string
	ItemRef      string
	Title        string
	Body         string // may contain HTML
	PublishedAt  time.Time
	CategoryHint string
}

// Normalizer converts RawRecords into Documents. It holds no mutable state
// and is safe for concurrent use.
type Normalizer struct {
	maxLength int
	rules     []CategoryRule
	now       func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxLength sets the maximum normalized text length in runes.
func WithMaxLength(n int) Option {
	return func(nz *Normalizer) {
		if n > 0 {
			nz.maxLength = n
		}
	}
}

// WithRules sets the keyword rules used for category inference.
func WithRules(rules []CategoryRule) Option {
	return func(nz *Normalizer) {
		nz.rules = rules
	}
}

// WithClock sets the time source used for records without a publish date.
func WithClock(now func() time.Time) Option {
	return func(nz *Normalizer) {
		nz.now = now
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	nz := &Normalizer{
		maxLength: DefaultMaxLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Rules returns the configured category rules.
func (nz *Normalizer) Rules() []CategoryRule {
	return nz.rules
}

// Normalize converts raw into a Document. Records without usable text
// fail with core.ErrMalformedSource.
func (nz *Normalizer) Normalize(sourceType core.SourceType, raw RawRecord) (*core.Document, error) {
	if err := core.ValidateSourceType(sourceType); err != nil {
		return nil, core.Permanent(err)
	}
	if strings.TrimSpace(raw.SourceRef) == "" {
		return nil, fmt.Errorf("%w: missing source reference", core.ErrMalformedSource)
	}

	title, err := StripMarkup(raw.Title)
	if err != nil {
		return nil, fmt.Errorf("%w: title: %w", core.ErrMalformedSource, err)
	}
	title = strings.Join(strings.Fields(title), " ")

	body, err := StripMarkup(raw.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %w", core.ErrMalformedSource, err)
	}
	body = cleanText(body)

	text := body
	if title != "" && !strings.HasPrefix(strings.Join(strings.Fields(body), " "), title) {
		text = strings.TrimSpace(title + "\n" + body)
	}
	text = truncateRunes(text, nz.maxLength)
	if text == "" {
		return nil, fmt.Errorf("%w: no text content in %q", core.ErrMalformedSource, raw.ItemRef)
	}

	published := raw.PublishedAt
	if published.IsZero() {
		published = nz.now()
	}

	match := InferCategory(text, raw.CategoryHint, nz.rules)

	sourceRef := strings.TrimSpace(raw.SourceRef)
	return &core.Document{
		Fingerprint:    core.FingerprintOf(sourceType, sourceRef, text),
		SourceType:     sourceType,
		SourceRef:      sourceRef,
		ItemRef:        strings.TrimSpace(raw.ItemRef),
		Title:          title,
		RawText:        raw.Body,
		NormalizedText: text,
		PublishedAt:    published.UTC(),
		Category:       match.Category,
	}, nil
}
