package analysis

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/trendwire/core"
)

// ParseResult is the structured content extracted from a completion.
type ParseResult struct {
	Headline string
	Trends   []core.Trend
	Summary  string
	// OK is false when the text matched no known format. The other fields are then empty.
	OK bool
}

// References returns every referenced material number in first-mention order.
func (r ParseResult) References() []int {
	var refs []int
	for _, t := range r.Trends {
		for _, n := range t.References {
			if !slices.Contains(refs, n) {
				refs = append(refs, n)
			}
		}
	}
	return refs
}

// ParseReport extracts a report from completion text. It accepts a JSON
// object, optionally inside a code fence, or the plain section format:
//
//	HEADLINE: ...
//	TRENDS:
//	- Title: description [1][3]
//	SUMMARY:
//	...
//
// It never returns an error; unrecognized text yields OK == false.
func ParseReport(text string) ParseResult {
	if r, ok := parseJSONReport(text); ok {
		return r
	}
	if r, ok := parseSectionReport(text); ok {
		return r
	}
	return ParseResult{}
}

type jsonTrend struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Importance  string  `json:"importance"`
	References  refList `json:"references"`
}

type jsonReport struct {
	Headline string      `json:"headline"`
	Trends   []jsonTrend `json:"trends"`
	Summary  string      `json:"summary"`
}

// refList accepts [1, 2], ["1", "[2]"] or a single "[1][2]" string.
type refList []int

func (r *refList) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err == nil {
		*r = ints
		return nil
	}
	var strs []string
	if err := json.Unmarshal(data, &strs); err == nil {
		*r = extractRefs(strings.Join(strs, " "))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = extractRefs(s)
		return nil
	}
	// Unusable references do not invalidate the trend.
	*r = nil
	return nil
}

var digits = regexp.MustCompile(`\d+`)

func extractRefs(s string) []int {
	var refs []int
	for _, m := range digits.FindAllString(s, -1) {
		if n, err := strconv.Atoi(m); err == nil && n > 0 && !slices.Contains(refs, n) {
			refs = append(refs, n)
		}
	}
	return refs
}

func parseJSONReport(text string) (ParseResult, bool) {
	body := stripCodeFences(text)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return ParseResult{}, false
	}
	body = repairJSON(body[start : end+1])

	var raw jsonReport
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return ParseResult{}, false
	}

	result := ParseResult{
		Headline: strings.TrimSpace(raw.Headline),
		Summary:  strings.TrimSpace(raw.Summary),
	}
	for _, t := range raw.Trends {
		title := strings.TrimSpace(t.Title)
		if title == "" {
			continue
		}
		result.Trends = append(result.Trends, core.Trend{
			Title:       title,
			Description: strings.TrimSpace(t.Description),
			Importance:  strings.ToLower(strings.TrimSpace(t.Importance)),
			References:  []int(t.References),
		})
	}
	if len(result.Trends) == 0 {
		return ParseResult{}, false
	}
	result.OK = true
	return result, true
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		// Drop the language tag on the opening fence.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return s
}

// repairJSON fixes the damage models most often do to JSON: keys missing
// their opening quote and trailing commas before a closing bracket.
func repairJSON(s string) string {
	result := []rune(s)
	fixed := make([]rune, 0, len(result)+16)
	inString := false

	for i := 0; i < len(result); i++ {
		ch := result[i]

		if inString {
			fixed = append(fixed, ch)
			if ch == '\\' && i+1 < len(result) {
				i++
				fixed = append(fixed, result[i])
			} else if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			fixed = append(fixed, ch)
		case ',':
			// Skip a comma followed only by whitespace and a closing bracket.
			j := i + 1
			for j < len(result) && isSpace(result[j]) {
				j++
			}
			if j < len(result) && (result[j] == '}' || result[j] == ']') {
				continue
			}
			fixed = append(fixed, ch)
			fixed, inString = appendUnquotedKey(fixed, result, &i)
		case '{':
			fixed = append(fixed, ch)
			fixed, inString = appendUnquotedKey(fixed, result, &i)
		default:
			fixed = append(fixed, ch)
		}
	}
	return string(fixed)
}

// appendUnquotedKey copies whitespace after position *i and, when a key
// follows with only its closing quote (`key":`), adds the opening quote and
// reports that a string is now open.
func appendUnquotedKey(fixed, src []rune, i *int) ([]rune, bool) {
	j := *i + 1
	for j < len(src) && isSpace(src[j]) {
		fixed = append(fixed, src[j])
		j++
	}
	k := j
	for k < len(src) && (isLetter(src[k]) || src[k] == '_') {
		k++
	}
	*i = j - 1
	if k > j && k+1 < len(src) && src[k] == '"' && src[k+1] == ':' {
		return append(fixed, '"'), true
	}
	return fixed, false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

var (
	sectionHeader = regexp.MustCompile(`(?i)^[#*\s]*(headline|trends|summary)[*\s]*:[*\s]*(.*)$`)
	listItem      = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.*)$`)
	refMarker     = regexp.MustCompile(`\[(\d+)\]`)
	importanceTag = regexp.MustCompile(`(?i)\(\s*importance\s*:\s*(\w+)\s*\)`)
)

func parseSectionReport(text string) (ParseResult, bool) {
	var (
		result  ParseResult
		section string
		summary []string
		found   bool
	)

	for _, line := range strings.Split(text, "\n") {
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			section = strings.ToLower(m[1])
			found = true
			rest := strings.TrimSpace(m[2])
			switch section {
			case "headline":
				result.Headline = rest
			case "summary":
				if rest != "" {
					summary = append(summary, rest)
				}
			}
			continue
		}

		switch section {
		case "trends":
			if m := listItem.FindStringSubmatch(line); m != nil {
				if trend, ok := parseTrendLine(m[1]); ok {
					result.Trends = append(result.Trends, trend)
				}
			} else if n := len(result.Trends); n > 0 && strings.TrimSpace(line) != "" {
				// Continuation of the previous item.
				cont, refs := takeRefs(strings.TrimSpace(line))
				last := &result.Trends[n-1]
				last.Description = strings.TrimSpace(last.Description + " " + cont)
				last.References = mergeRefs(last.References, refs)
			}
		case "summary":
			if s := strings.TrimSpace(line); s != "" {
				summary = append(summary, s)
			}
		case "headline":
			if result.Headline == "" {
				result.Headline = strings.TrimSpace(line)
			}
		}
	}

	if !found || len(result.Trends) == 0 {
		return ParseResult{}, false
	}
	result.Summary = strings.Join(summary, "\n")
	result.OK = true
	return result, true
}

func parseTrendLine(item string) (core.Trend, bool) {
	var trend core.Trend
	item, trend.References = takeRefs(item)
	if m := importanceTag.FindStringSubmatch(item); m != nil {
		trend.Importance = strings.ToLower(m[1])
		item = importanceTag.ReplaceAllString(item, "")
	}
	item = strings.TrimSpace(strings.Trim(strings.TrimSpace(item), "*"))

	title, desc := item, ""
	for _, sep := range []string{": ", " - ", " — ", " – "} {
		if i := strings.Index(item, sep); i > 0 {
			title, desc = item[:i], item[i+len(sep):]
			break
		}
	}
	trend.Title = strings.TrimSpace(strings.Trim(title, "* "))
	trend.Description = strings.TrimSpace(desc)
	return trend, trend.Title != ""
}

func takeRefs(s string) (string, []int) {
	var refs []int
	for _, m := range refMarker.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && !slices.Contains(refs, n) {
			refs = append(refs, n)
		}
	}
	cleaned := refMarker.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(cleaned), " "), refs
}

func mergeRefs(a, b []int) []int {
	for _, n := range b {
		if !slices.Contains(a, n) {
			a = append(a, n)
		}
	}
	return a
}
