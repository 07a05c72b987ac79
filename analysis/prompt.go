package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/embedding"
)

// directBudgetRatio is the share of the prompt budget the material may use
// before it is split into chunks.
const directBudgetRatio = 0.8

const reportSchema = `{
  "headline": "one sentence naming the most important development",
  "trends": [
    {
      "title": "short name of the trend",
      "description": "two or three sentences: what happened and why it matters",
      "importance": "high | medium | low",
      "references": [1, 4]
    }
  ],
  "summary": "a short paragraph with overall conclusions and an outlook"
}`

const reportPromptTemplate = `You are an industry analyst. Analyze the materials below, published %s, for the scope "%s".

Identify the most important news and trends, favoring items that:
1. Have the largest impact on the industry
2. Caused the strongest reaction in the community
3. Are likely to shape future trends

Output ONLY valid JSON matching this schema. Do not include any preamble or explanation.
"references" lists the numbers of the materials that support each trend.

%s

Materials:
%s`

const chunkPromptTemplate = `You are an industry analyst. The materials below are part %d of %d of the material published %s for the scope "%s".

List the most important news items in this part. For each item give a title, a short description,
its likely impact and the numbers of the supporting materials in square brackets, for example [3][7].
Return only the list.

Materials:
%s`

const mergePromptTemplate = `You are an industry analyst. Below are analyses of separate parts of the material published %s for the scope "%s".
Bracketed numbers refer to the original materials.

Combine them into a single report. Output ONLY valid JSON matching this schema. Do not include any preamble or explanation.

%s

Partial analyses:
%s`

// material is one retrieved document as presented to the model.
type material struct {
	ref int // 1-based position in the retrieval order
	doc *core.Document
}

func (m material) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] (%s, %s", m.ref, m.doc.SourceType, m.doc.PublishedAt.Format("2006-01-02"))
	if m.doc.ItemRef != "" {
		fmt.Fprintf(&b, ", %s", m.doc.ItemRef)
	}
	b.WriteString(")\n")
	b.WriteString(m.doc.NormalizedText)
	b.WriteString("\n")
	return b.String()
}

func (m material) tokens() int {
	return embedding.EstimateTokens(m.render())
}

func newMaterials(docs []*core.Document) []material {
	out := make([]material, len(docs))
	for i, doc := range docs {
		out[i] = material{ref: i + 1, doc: doc}
	}
	return out
}

func renderMaterials(ms []material) string {
	var b strings.Builder
	for _, m := range ms {
		b.WriteString(m.render())
		b.WriteString("\n")
	}
	return b.String()
}

func describeWindow(w core.TimeWindow) string {
	const layout = "2006-01-02 15:04 MST"
	switch {
	case w.Start.IsZero() && w.End.IsZero():
		return "at any time"
	case w.Start.IsZero():
		return "before " + w.End.Format(layout)
	case w.End.IsZero():
		return "since " + w.Start.Format(layout)
	default:
		return fmt.Sprintf("between %s and %s", w.Start.Format(layout), w.End.Format(layout))
	}
}

// plan decides how materials are sent to the model. It returns a single
// prompt when they fit the direct budget, otherwise one prompt per chunk.
type plan struct {
	direct string
	chunks []string
}

func buildPlan(req *core.AnalysisRequest, ms []material, maxPromptTokens int) plan {
	window := describeWindow(req.Window)
	scope := req.Scope.String()

	total := 0
	for _, m := range ms {
		total += m.tokens()
	}
	budget := int(float64(maxPromptTokens) * directBudgetRatio)
	if total <= budget {
		return plan{direct: fmt.Sprintf(reportPromptTemplate, window, scope, reportSchema, renderMaterials(ms))}
	}

	groups := chunkMaterials(ms, budget)
	prompts := make([]string, len(groups))
	for i, g := range groups {
		prompts[i] = fmt.Sprintf(chunkPromptTemplate, i+1, len(groups), window, scope, renderMaterials(g))
	}
	return plan{chunks: prompts}
}

// chunkMaterials splits ms into consecutive groups whose token estimate
// stays within budget. A material larger than the budget is truncated to fit
// in a group of its own.
func chunkMaterials(ms []material, budget int) [][]material {
	var (
		chunks  [][]material
		current []material
		size    int
	)
	for _, m := range ms {
		n := m.tokens()
		if n > budget {
			m = truncateMaterial(m, budget)
			n = m.tokens()
		}
		if len(current) > 0 && size+n > budget {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, m)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// truncateMaterial cuts the text to 90% of budget, leaving room for the header.
func truncateMaterial(m material, budget int) material {
	limit := budget * 4 * 9 / 10
	text := m.doc.NormalizedText
	if len(text) <= limit {
		return m
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	clone := *m.doc
	clone.NormalizedText = text[:limit]
	return material{ref: m.ref, doc: &clone}
}

func mergePrompt(req *core.AnalysisRequest, partials []string) string {
	var b strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&b, "--- Part %d ---\n%s\n\n", i+1, strings.TrimSpace(p))
	}
	return fmt.Sprintf(mergePromptTemplate, describeWindow(req.Window), req.Scope.String(), reportSchema, b.String())
}
