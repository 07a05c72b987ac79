package digest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/poiesic/trendwire/core"
)

// Section is the report for one category of a digest.
type Section struct {
	Category string
	Report   *core.AnalysisReport
}

// Message is one batched digest ready for delivery.
type Message struct {
	SubscriberID   string
	Categories     []string
	Text           string
	IdempotenceKey string
}

// Compose renders the sections of a digest into one message. Degraded
// reports contribute their raw model text.
func Compose(subscriberID string, cadence core.Cadence, periodStart time.Time, sections []Section) Message {
	var b strings.Builder
	b.WriteString(header(cadence, periodStart))

	categories := make([]string, 0, len(sections))
	for _, s := range sections {
		categories = append(categories, s.Category)
		b.WriteString("\n")
		writeSection(&b, s)
	}

	return Message{
		SubscriberID: subscriberID,
		Categories:   categories,
		Text:         strings.TrimRight(b.String(), "\n"),
	}
}

// Pack renders sections into messages of at most limit runes each, breaking
// only between sections, so every message covers whole categories. A section
// too long for one message on its own is truncated. A limit of zero or less
// puts every section into one message.
func Pack(subscriberID string, cadence core.Cadence, periodStart time.Time, sections []Section, limit int) []Message {
	if len(sections) == 0 {
		return nil
	}
	if limit <= 0 {
		return []Message{Compose(subscriberID, cadence, periodStart, sections)}
	}

	head := header(cadence, periodStart)
	room := limit - utf8.RuneCountInString(head) - 1

	var (
		messages []Message
		current  *Message
		size     int
	)
	for _, s := range sections {
		var b strings.Builder
		writeSection(&b, s)
		body := truncate(strings.TrimRight(b.String(), "\n"), room)
		n := utf8.RuneCountInString(body) + 2

		if current == nil || size+n > limit {
			messages = append(messages, Message{SubscriberID: subscriberID, Text: strings.TrimRight(head, "\n")})
			current = &messages[len(messages)-1]
			size = utf8.RuneCountInString(current.Text)
		}
		current.Text += "\n\n" + body
		current.Categories = append(current.Categories, s.Category)
		size += n
	}
	return messages
}

func header(cadence core.Cadence, periodStart time.Time) string {
	return fmt.Sprintf("Trend digest (%s) for %s\n", cadence, periodStart.UTC().Format("2 Jan 2006"))
}

// truncate shortens text to at most limit runes, marking the cut with an ellipsis.
func truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	r := []rune(text)
	return strings.TrimRight(string(r[:limit-1]), " \n") + "…"
}

func writeSection(b *strings.Builder, s Section) {
	fmt.Fprintf(b, "== %s ==\n", strings.ToUpper(s.Category))
	r := s.Report
	if r.Degraded {
		b.WriteString(strings.TrimSpace(r.RawText))
		b.WriteString("\n")
		return
	}
	if r.Headline != "" {
		b.WriteString(r.Headline)
		b.WriteString("\n")
	}
	for _, t := range r.Trends {
		b.WriteString("- ")
		b.WriteString(t.Title)
		if t.Importance != "" {
			fmt.Fprintf(b, " [%s]", t.Importance)
		}
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	if r.SummaryText != "" {
		b.WriteString(r.SummaryText)
		b.WriteString("\n")
	}
}
