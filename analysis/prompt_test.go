package analysis

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/poiesic/trendwire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMaterials(texts ...string) []material {
	docs := make([]*core.Document, len(texts))
	for i, text := range texts {
		docs[i] = &core.Document{
			SourceType:     core.SourceTypeTelegram,
			NormalizedText: text,
			PublishedAt:    time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return newMaterials(docs)
}

func TestBuildPlan_DirectWhenWithinBudget(t *testing.T) {
	req := &core.AnalysisRequest{Scope: core.AnalysisScope{Category: "ai"}}
	p := buildPlan(req, testMaterials("short one", "short two"), 1000)
	require.NotEmpty(t, p.direct)
	assert.Empty(t, p.chunks)
	assert.Contains(t, p.direct, "[2] (telegram, 2025-06-01)\nshort two")
	assert.Contains(t, p.direct, "at any time")
}

func TestBuildPlan_ChunksPreserveGlobalReferences(t *testing.T) {
	req := &core.AnalysisRequest{Scope: core.AnalysisScope{Query: "chips"}}
	long := strings.Repeat("x", 300)
	p := buildPlan(req, testMaterials(long, long, long), 200)
	assert.Empty(t, p.direct)
	require.Len(t, p.chunks, 3)
	assert.Contains(t, p.chunks[2], "[3] (telegram")
	assert.Contains(t, p.chunks[2], "part 3 of 3")
}

func TestChunkMaterials_TruncatesOversized(t *testing.T) {
	ms := testMaterials(strings.Repeat("я", 2000), "small")
	chunks := chunkMaterials(ms, 100)
	require.Len(t, chunks, 2)
	first := chunks[0][0]
	assert.LessOrEqual(t, first.tokens(), 100)
	assert.True(t, utf8.ValidString(first.doc.NormalizedText))
	assert.Equal(t, 2000, utf8.RuneCountInString(ms[0].doc.NormalizedText), "original is not modified")
}

func TestMergePrompt(t *testing.T) {
	req := &core.AnalysisRequest{
		Scope:  core.AnalysisScope{Category: "games"},
		Window: core.TimeWindow{Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)},
	}
	prompt := mergePrompt(req, []string{" first ", "second"})
	assert.Contains(t, prompt, "--- Part 1 ---\nfirst")
	assert.Contains(t, prompt, "--- Part 2 ---\nsecond")
	assert.Contains(t, prompt, "between 2025-06-01 00:00 UTC and 2025-06-08 00:00 UTC")
	assert.Contains(t, prompt, `"headline"`)
}
