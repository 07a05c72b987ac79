package normalize

import (
	"strings"

	"github.com/poiesic/trendwire/core"
)

// CategoryRule assigns Category to text containing any of Keywords.
// Keywords may be single words or multi-word phrases and are matched
// case-insensitively on word boundaries.
type CategoryRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// CategoryMatch is the result of category inference.
type CategoryMatch struct {
	Category string
	// Matched is false when neither a hint nor a rule applied and Category is core.Uncategorized.
	Matched bool
}

// InferCategory picks a category for text. A non-empty hint wins. Otherwise
// the rule with the most distinct keyword hits is chosen, with earlier rules
// winning ties.
func InferCategory(text, hint string, rules []CategoryRule) CategoryMatch {
	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" {
		return CategoryMatch{Category: hint, Matched: true}
	}

	tokens := tokenize(text)
	if len(tokens) == 0 || len(rules) == 0 {
		return CategoryMatch{Category: core.Uncategorized}
	}
	// Padded so phrase matches respect word boundaries.
	joined := " " + strings.Join(tokens, " ") + " "

	best, bestScore := -1, 0
	for i, rule := range rules {
		score := 0
		for _, kw := range rule.Keywords {
			phrase := strings.Join(tokenize(kw), " ")
			if phrase != "" && strings.Contains(joined, " "+phrase+" ") {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return CategoryMatch{Category: core.Uncategorized}
	}
	return CategoryMatch{Category: strings.ToLower(strings.TrimSpace(rules[best].Category)), Matched: true}
}
