// Package csv reads CSV exports of records and CSV lists of sources.
//
// Record files need a header row. Recognized columns are url, title, text
// (or content, description), date (or published) and category; only text is
// required. Source lists have the columns url, type and category.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/normalize"
	"github.com/poiesic/trendwire/source"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
}

// Feed implements source.Feed for CSV files on disk. The ref is a file path.
type Feed struct{}

var _ source.Feed = Feed{}

// Poll reads every row of the file at path.
func (Feed) Poll(ctx context.Context, path string) ([]normalize.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.Permanent(fmt.Errorf("%w: %w", core.ErrMalformedSource, err))
		}
		return nil, err
	}
	defer f.Close()
	return ReadRecords(f, path)
}

// ReadRecords parses a record export. Rows whose date cannot be parsed keep
// a zero PublishedAt; rows without text are returned and rejected later by
// the normalizer.
func ReadRecords(r io.Reader, sourceRef string) ([]normalize.RawRecord, error) {
	rows, header, err := readAll(r)
	if err != nil {
		return nil, err
	}
	textCol := header.first("text", "content", "description", "body")
	if textCol < 0 {
		return nil, core.Permanent(fmt.Errorf("%w: %s has no text column", core.ErrMalformedSource, sourceRef))
	}
	urlCol := header.first("url", "link")
	titleCol := header.first("title")
	dateCol := header.first("date", "published", "published_at")
	categoryCol := header.first("category")

	records := make([]normalize.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := normalize.RawRecord{
			SourceRef:    sourceRef,
			ItemRef:      field(row, urlCol),
			Title:        field(row, titleCol),
			Body:         field(row, textCol),
			CategoryHint: strings.ToLower(field(row, categoryCol)),
		}
		if t, ok := ParseDate(field(row, dateCol)); ok {
			rec.PublishedAt = t
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadSources parses a source list. Rows with an unknown type or no url are
// skipped and reported in the returned error; valid rows are still returned.
func ReadSources(r io.Reader) ([]source.Source, error) {
	rows, header, err := readAll(r)
	if err != nil {
		return nil, err
	}
	urlCol, typeCol, categoryCol := header.first("url"), header.first("type"), header.first("category")
	if urlCol < 0 || typeCol < 0 {
		return nil, core.Permanent(fmt.Errorf("%w: source list needs url and type columns", core.ErrMalformedSource))
	}

	var (
		sources []source.Source
		errs    []error
		seen    = make(map[string]bool)
	)
	for i, row := range rows {
		ref := field(row, urlCol)
		st, err := core.ParseSourceType(field(row, typeCol))
		if err != nil || ref == "" {
			errs = append(errs, fmt.Errorf("row %d: %w", i+2, core.ErrMalformedSource))
			continue
		}
		key := st.String() + "|" + ref
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, source.Source{
			Ref:      ref,
			Type:     st,
			Category: strings.ToLower(field(row, categoryCol)),
		})
	}
	return sources, errors.Join(errs...)
}

// ParseDate accepts the date formats common in spreadsheet exports.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type header map[string]int

func (h header) first(names ...string) int {
	for _, n := range names {
		if i, ok := h[n]; ok {
			return i
		}
	}
	return -1
}

func readAll(r io.Reader) ([][]string, header, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, core.Permanent(fmt.Errorf("%w: %w", core.ErrMalformedSource, err))
	}
	if len(rows) == 0 {
		return nil, nil, core.Permanent(fmt.Errorf("%w: empty csv", core.ErrMalformedSource))
	}

	h := make(header, len(rows[0]))
	for i, name := range rows[0] {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return rows[1:], h, nil
}

func field(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
