package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seagoat/pkg/types"
)

// fakeLines is an in-memory LineTextSource for tests.
type fakeLines map[string]map[int]string

func (f fakeLines) Line(path string, line int) (string, bool) {
	byLine, ok := f[path]
	if !ok {
		return "", false
	}
	text, ok := byLine[line]
	return text, ok
}

func newFakeLines(path string, from, to int) fakeLines {
	byLine := make(map[int]string)
	for i := from; i <= to; i++ {
		byLine[i] = "line content"
	}
	return fakeLines{path: byLine}
}

func TestMerge_EmptyQueryTextFails(t *testing.T) {
	m := New(DefaultConfig(), fakeLines{})
	_, err := m.Merge("   ", nil, nil, nil)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.KindEmptyQuery, kind)
}

func TestMerge_NoHitsReturnsEmptyResultNotError(t *testing.T) {
	m := New(DefaultConfig(), fakeLines{})
	result, err := m.Merge("anything", nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Blocks)
}

// TestMerge_FrecencyMonotonicity matches §8's worked example: file A
// committed today (frecency 1.0) must outrank file B from 365 days ago
// (frecency ~0.06) when both are hit at equal similarity 0.5.
func TestMerge_FrecencyMonotonicity(t *testing.T) {
	lines := fakeLines{
		"a.go": {5: "content a"},
		"b.go": {5: "content b"},
	}
	m := New(Config{
		ContextAbove: 0, ContextBelow: 0, ContextDecay: 0.8, BridgeGap: 2, BridgePenalty: 0.5,
		SimilarityWeight: 0.7, FrecencyWeight: 0.3,
	}, lines)

	vectorHits := []types.Hit{
		{Path: "a.go", Line: 5, Score: 0.5, Source: types.SourceVector},
		{Path: "b.go", Line: 5, Score: 0.5, Source: types.SourceVector},
	}
	frecency := map[string]float64{"a.go": 1.0, "b.go": 0.06}

	result, err := m.Merge("query", vectorHits, nil, frecency)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 2)

	assert.Equal(t, "a.go", result.Blocks[0].Path)
	assert.InDelta(t, 0.65, result.Blocks[0].Score, 1e-6)
	assert.Equal(t, "b.go", result.Blocks[1].Path)
	assert.InDelta(t, 0.368, result.Blocks[1].Score, 1e-3)
}

// TestMerge_Bridging matches §8's bridging example: hits at lines 10 and
// 12 with BRIDGE_GAP=2 and CONTEXT_LINES=0 produce one block covering
// 10-12, with line 11 tagged bridge at min(score10,score12)*0.5.
func TestMerge_Bridging(t *testing.T) {
	lines := newFakeLines("a.go", 1, 20)
	cfg := Config{ContextAbove: 0, ContextBelow: 0, ContextDecay: 0.8, BridgeGap: 2, BridgePenalty: 0.5, SimilarityWeight: 0.7, FrecencyWeight: 0.3}
	m := New(cfg, lines)

	vectorHits := []types.Hit{
		{Path: "a.go", Line: 10, Score: 0.5, Source: types.SourceVector},
		{Path: "a.go", Line: 12, Score: 0.9, Source: types.SourceVector},
	}

	result, err := m.Merge("query", vectorHits, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)

	block := result.Blocks[0]
	assert.Equal(t, 10, block.FirstLine)
	assert.Equal(t, 12, block.LastLine)
	require.Len(t, block.Lines, 3)

	score10 := block.Lines[0].Score
	score12 := block.Lines[2].Score
	minScore := score10
	if score12 < minScore {
		minScore = score12
	}
	assert.InDelta(t, minScore*0.5, block.Lines[1].Score, 1e-9)
	assert.True(t, block.Lines[1].HasResultType(types.ResultTypeBridge))
}

func TestMerge_BothSourcesHitSameLineKeepsHigherSimilarity(t *testing.T) {
	lines := newFakeLines("a.go", 1, 5)
	m := New(DefaultConfig(), lines)

	vectorHits := []types.Hit{{Path: "a.go", Line: 3, Score: 0.4, Source: types.SourceVector}}
	regexHits := []types.Hit{{Path: "a.go", Line: 3, Score: 1.0, Source: types.SourceRegex}}

	result, err := m.Merge("query", vectorHits, regexHits, nil)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)

	// Context expansion fills lines 1-5, so the hit line 3 sits at index 2.
	line := result.Blocks[0].Lines[2]
	require.Equal(t, 3, line.Line)
	assert.True(t, line.HasSource(types.SourceVector))
	assert.True(t, line.HasSource(types.SourceRegex))
	assert.InDelta(t, 0.7*1.0, line.Score, 1e-6)
}

func TestMerge_ContextLinesDecayWithDistance(t *testing.T) {
	lines := newFakeLines("a.go", 1, 10)
	cfg := DefaultConfig()
	m := New(cfg, lines)

	vectorHits := []types.Hit{{Path: "a.go", Line: 5, Score: 1.0, Source: types.SourceVector}}
	result, err := m.Merge("query", vectorHits, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)

	byLine := map[int]types.ResultLine{}
	for _, l := range result.Blocks[0].Lines {
		byLine[l.Line] = l
	}
	assert.InDelta(t, 0.7, byLine[5].Score, 1e-6)
	assert.InDelta(t, 0.7*0.8, byLine[4].Score, 1e-6)
	assert.InDelta(t, 0.7*0.8, byLine[6].Score, 1e-6)
	line4 := byLine[4]
	assert.True(t, line4.HasResultType(types.ResultTypeContext))
}

func TestMerge_ResultOrderingIsStable(t *testing.T) {
	lines := fakeLines{
		"a.go": {1: "x"},
		"b.go": {1: "x"},
		"c.go": {1: "x"},
	}
	m := New(Config{ContextAbove: 0, ContextBelow: 0, BridgeGap: 2, BridgePenalty: 0.5, SimilarityWeight: 0.7, FrecencyWeight: 0.3, ContextDecay: 0.8}, lines)

	vectorHits := []types.Hit{
		{Path: "a.go", Line: 1, Score: 0.5, Source: types.SourceVector},
		{Path: "b.go", Line: 1, Score: 0.5, Source: types.SourceVector},
		{Path: "c.go", Line: 1, Score: 0.9, Source: types.SourceVector},
	}

	result, err := m.Merge("query", vectorHits, nil, nil)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 3)
	assert.Equal(t, "c.go", result.Blocks[0].Path)
	assert.Equal(t, "a.go", result.Blocks[1].Path)
	assert.Equal(t, "b.go", result.Blocks[2].Path)
}

func TestMerge_IsIdempotentOnRepeatedMerge(t *testing.T) {
	lines := newFakeLines("a.go", 1, 20)
	m := New(DefaultConfig(), lines)
	vectorHits := []types.Hit{
		{Path: "a.go", Line: 10, Score: 0.5, Source: types.SourceVector},
		{Path: "a.go", Line: 12, Score: 0.9, Source: types.SourceVector},
	}

	first, err := m.Merge("query", vectorHits, nil, nil)
	require.NoError(t, err)
	second, err := m.Merge("query", vectorHits, nil, nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Blocks), len(second.Blocks))
	for i := range first.Blocks {
		assert.Equal(t, first.Blocks[i].Score, second.Blocks[i].Score)
		assert.Equal(t, first.Blocks[i].FirstLine, second.Blocks[i].FirstLine)
		assert.Equal(t, first.Blocks[i].LastLine, second.Blocks[i].LastLine)
	}
}

func TestTruncateToLineLimit_DropsTailLines(t *testing.T) {
	result := &types.Result{
		Blocks: []types.ResultBlock{
			{Path: "a.go", FirstLine: 1, LastLine: 3, Lines: []types.ResultLine{
				{Path: "a.go", Line: 1}, {Path: "a.go", Line: 2}, {Path: "a.go", Line: 3},
			}},
			{Path: "b.go", FirstLine: 1, LastLine: 2, Lines: []types.ResultLine{
				{Path: "b.go", Line: 1}, {Path: "b.go", Line: 2},
			}},
		},
	}
	TruncateToLineLimit(result, 4)
	assert.Equal(t, 4, result.TotalLines())
	require.Len(t, result.Blocks, 2)
	assert.Len(t, result.Blocks[1].Lines, 1)
}
