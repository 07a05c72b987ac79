package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	bareURL = regexp.MustCompile(`^(?:https?://|www\.)\S+$`)

	boilerplatePrefixes = []string{
		"subscribe",
		"read more",
		"continue reading",
		"the post ",
		"follow us",
		"share this",
		"подписывайтесь",
		"подписаться",
		"читать далее",
		"читать полностью",
	}
)

const blockSelector = "p, div, li, br, h1, h2, h3, h4, h5, h6, blockquote, pre, tr"

// StripMarkup returns the visible text of an HTML fragment with block
// elements rendered as line breaks. Input that contains no markup is
// returned unchanged.
func StripMarkup(s string) (string, error) {
	if !strings.ContainsAny(s, "<&") {
		return s, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe").Remove()
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		sel.AfterHtml("\n")
	})
	return doc.Text(), nil
}

func isBoilerplate(line string) bool {
	if bareURL.MatchString(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range boilerplatePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// cleanText collapses whitespace inside lines, drops empty and boilerplate
// lines, and joins what remains with single newlines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// truncateRunes shortens s to at most max runes, preferring to cut at the
// last whitespace in the final tenth of the allowance.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max
	for i := max; i > max-max/10 && i > 0; i-- {
		if runes[i] == ' ' || runes[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut]))
}
