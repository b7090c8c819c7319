package merger

import (
	"errors"
	"math"
	"sort"
	"strings"

	"seagoat/pkg/types"
)

// Config holds the Result Merger's tunables; the zero value is never used
// directly, DefaultConfig's values are.
type Config struct {
	ContextAbove     int
	ContextBelow     int
	ContextDecay     float64
	BridgeGap        int
	BridgePenalty    float64
	SimilarityWeight float64
	FrecencyWeight   float64
}

// DefaultConfig matches the recommended defaults from §4.6.
func DefaultConfig() Config {
	return Config{
		ContextAbove:     3,
		ContextBelow:     3,
		ContextDecay:     0.8,
		BridgeGap:        2,
		BridgePenalty:    0.5,
		SimilarityWeight: 0.7,
		FrecencyWeight:   0.3,
	}
}

// LineTextSource resolves a line's text, letting the Merger build context
// and bridge lines without re-reading files itself.
type LineTextSource interface {
	Line(path string, line int) (text string, ok bool)
}

// Merger combines hits from both sources into ranked ResultBlocks.
type Merger struct {
	cfg   Config
	lines LineTextSource
}

// New builds a Merger against the given line-text lookup.
func New(cfg Config, lines LineTextSource) *Merger {
	return &Merger{cfg: cfg, lines: lines}
}

type hitPoint struct {
	path       string
	line       int
	similarity float64
	sources    []types.Source
}

func addSource(sources []types.Source, s types.Source) []types.Source {
	for _, existing := range sources {
		if existing == s {
			return sources
		}
	}
	return append(sources, s)
}

// Merge combines vectorHits and regexHits under frecency into a ranked
// Result. queryText is checked for emptiness per §4.6's EmptyQuery rule.
func (m *Merger) Merge(queryText string, vectorHits, regexHits []types.Hit, frecency map[string]float64) (*types.Result, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, types.NewError(types.KindEmptyQuery, "merger.Merge", errors.New("query text is empty"))
	}

	points := m.collectHitPoints(vectorHits, regexHits)
	if len(points) == 0 {
		return &types.Result{}, nil
	}

	lineSet := m.buildResultLines(points, frecency)
	m.expandContext(points, frecency, lineSet)

	blocksByPath := m.groupIntoBlocks(lineSet)
	var allBlocks []types.ResultBlock
	for _, blocks := range blocksByPath {
		allBlocks = append(allBlocks, blocks...)
	}

	sort.Slice(allBlocks, func(i, j int) bool {
		if allBlocks[i].Score != allBlocks[j].Score {
			return allBlocks[i].Score > allBlocks[j].Score
		}
		if allBlocks[i].Path != allBlocks[j].Path {
			return allBlocks[i].Path < allBlocks[j].Path
		}
		return allBlocks[i].FirstLine < allBlocks[j].FirstLine
	})

	return &types.Result{Blocks: allBlocks}, nil
}

// collectHitPoints merges vector and regex hits landing on the same
// (path, line), keeping the higher similarity and the union of sources.
func (m *Merger) collectHitPoints(vectorHits, regexHits []types.Hit) map[[2]any]*hitPoint {
	points := make(map[[2]any]*hitPoint)
	add := func(h types.Hit) {
		key := [2]any{h.Path, h.Line}
		p, ok := points[key]
		if !ok {
			points[key] = &hitPoint{path: h.Path, line: h.Line, similarity: h.Score, sources: []types.Source{h.Source}}
			return
		}
		if h.Score > p.similarity {
			p.similarity = h.Score
		}
		p.sources = addSource(p.sources, h.Source)
	}
	for _, h := range vectorHits {
		add(h)
	}
	for _, h := range regexHits {
		add(h)
	}
	return points
}

func (m *Merger) composite(similarity float64, frecency map[string]float64, path string) float64 {
	return m.cfg.SimilarityWeight*similarity + m.cfg.FrecencyWeight*frecency[path]
}

type lineKey struct {
	path string
	line int
}

// buildResultLines creates the direct-hit ResultLines, carrying the
// composite score and "result" tag.
func (m *Merger) buildResultLines(points map[[2]any]*hitPoint, frecency map[string]float64) map[lineKey]*types.ResultLine {
	lines := make(map[lineKey]*types.ResultLine)
	for _, p := range points {
		text, ok := m.lines.Line(p.path, p.line)
		if !ok {
			continue
		}
		score := m.composite(p.similarity, frecency, p.path)
		key := lineKey{p.path, p.line}
		rl := &types.ResultLine{Path: p.path, Line: p.line, LineText: text, Score: score}
		rl.AddResultType(types.ResultTypeResult)
		for _, s := range p.sources {
			rl.AddSource(s)
		}
		lines[key] = rl
	}
	return lines
}

// expandContext adds decayed-score ResultLines around each hit point,
// ContextAbove lines above it and ContextBelow lines below it, merging into
// any line already present.
func (m *Merger) expandContext(points map[[2]any]*hitPoint, frecency map[string]float64, lines map[lineKey]*types.ResultLine) {
	maxRadius := m.cfg.ContextAbove
	if m.cfg.ContextBelow > maxRadius {
		maxRadius = m.cfg.ContextBelow
	}

	for _, p := range points {
		base := m.composite(p.similarity, frecency, p.path)
		for d := 1; d <= maxRadius; d++ {
			decayed := base * math.Pow(m.cfg.ContextDecay, float64(d))
			var candidates []int
			if d <= m.cfg.ContextAbove {
				candidates = append(candidates, p.line-d)
			}
			if d <= m.cfg.ContextBelow {
				candidates = append(candidates, p.line+d)
			}
			for _, line := range candidates {
				text, ok := m.lines.Line(p.path, line)
				if !ok {
					continue
				}
				key := lineKey{p.path, line}
				rl, exists := lines[key]
				if !exists {
					rl = &types.ResultLine{Path: p.path, Line: line, LineText: text}
					lines[key] = rl
				}
				if decayed > rl.Score {
					rl.Score = decayed
				}
				rl.AddResultType(types.ResultTypeContext)
				for _, s := range p.sources {
					rl.AddSource(s)
				}
			}
		}
	}
}

// groupIntoBlocks groups each path's ResultLines into maximal contiguous
// runs, then applies the bridging rule until no adjacent pair qualifies.
func (m *Merger) groupIntoBlocks(lines map[lineKey]*types.ResultLine) map[string][]types.ResultBlock {
	byPath := make(map[string][]*types.ResultLine)
	for _, rl := range lines {
		byPath[rl.Path] = append(byPath[rl.Path], rl)
	}

	result := make(map[string][]types.ResultBlock)
	for path, pathLines := range byPath {
		sort.Slice(pathLines, func(i, j int) bool { return pathLines[i].Line < pathLines[j].Line })

		var runs [][]*types.ResultLine
		for _, rl := range pathLines {
			if len(runs) == 0 || rl.Line != runs[len(runs)-1][len(runs[len(runs)-1])-1].Line+1 {
				runs = append(runs, []*types.ResultLine{rl})
				continue
			}
			last := len(runs) - 1
			runs[last] = append(runs[last], rl)
		}

		runs = m.bridgeRuns(path, runs)

		blocks := make([]types.ResultBlock, 0, len(runs))
		for _, run := range runs {
			block := types.ResultBlock{
				Path:      path,
				FirstLine: run[0].Line,
				LastLine:  run[len(run)-1].Line,
			}
			maxScore := 0.0
			for _, rl := range run {
				block.Lines = append(block.Lines, *rl)
				if rl.Score > maxScore {
					maxScore = rl.Score
				}
			}
			block.Score = maxScore
			blocks = append(blocks, block)
		}
		result[path] = blocks
	}
	return result
}

// bridgeRuns repeatedly merges adjacent runs separated by at most
// BridgeGap lines, filling the gap with bridge lines at the minimum of the
// two boundary scores times BridgePenalty. It stops when no pair qualifies,
// which makes the process idempotent on a second pass.
func (m *Merger) bridgeRuns(path string, runs [][]*types.ResultLine) [][]*types.ResultLine {
	for {
		merged := false
		var next [][]*types.ResultLine
		i := 0
		for i < len(runs) {
			if i+1 >= len(runs) {
				next = append(next, runs[i])
				i++
				continue
			}
			a, b := runs[i], runs[i+1]
			gapStart := a[len(a)-1].Line + 1
			gapEnd := b[0].Line - 1
			gap := gapEnd - gapStart + 1
			if gap <= 0 || gap > m.cfg.BridgeGap {
				next = append(next, runs[i])
				i++
				continue
			}

			bridgeLines, ok := m.fillBridge(path, gapStart, gapEnd, a[len(a)-1].Score, b[0].Score)
			if !ok {
				next = append(next, runs[i])
				i++
				continue
			}

			combined := append(append(append([]*types.ResultLine{}, a...), bridgeLines...), b...)
			next = append(next, combined)
			merged = true
			i += 2
		}
		runs = next
		if !merged {
			break
		}
	}
	return runs
}

func (m *Merger) fillBridge(path string, from, to int, scoreA, scoreB float64) ([]*types.ResultLine, bool) {
	minScore := scoreA
	if scoreB < minScore {
		minScore = scoreB
	}
	bridgeScore := minScore * m.cfg.BridgePenalty

	var lines []*types.ResultLine
	for line := from; line <= to; line++ {
		text, ok := m.lines.Line(path, line)
		if !ok {
			return nil, false
		}
		rl := &types.ResultLine{Path: path, Line: line, LineText: text, Score: bridgeScore}
		rl.AddResultType(types.ResultTypeBridge)
		lines = append(lines, rl)
	}
	return lines, true
}

// TruncateToLineLimit keeps at most limit lines across all blocks: blocks
// are kept in order until the budget runs out, the block that crosses it is
// cut short at the limit, and every block after it is dropped. Per the
// Open Question decision in §9, bridge lines count against the budget.
func TruncateToLineLimit(result *types.Result, limit int) {
	if limit <= 0 || result.TotalLines() <= limit {
		return
	}
	var kept []types.ResultBlock
	remaining := limit
	for _, b := range result.Blocks {
		if remaining <= 0 {
			break
		}
		if len(b.Lines) <= remaining {
			kept = append(kept, b)
			remaining -= len(b.Lines)
			continue
		}
		b.Lines = b.Lines[:remaining]
		b.LastLine = b.Lines[len(b.Lines)-1].Line
		kept = append(kept, b)
		remaining = 0
	}
	result.Blocks = kept
}
