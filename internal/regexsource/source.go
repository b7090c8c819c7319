package regexsource

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"seagoat/internal/retry"
	"seagoat/pkg/types"
)

// wordQueryPattern matches a plain, whitespace-separated word query; these
// are rewritten to a word-boundary alternation before compilation so a
// query like "foo bar" finds either word rather than the literal phrase.
var wordQueryPattern = regexp.MustCompile(`^[\w ]+$`)

type lineKey struct {
	path string
	line int
}

type lineEntry struct {
	text    string
	chunkID string
}

// Source is the Regex Source: an in-memory (path, line) corpus searched by
// an external matcher process on each query.
type Source struct {
	mu         sync.RWMutex
	corpus     map[string]map[int]lineEntry // path -> line -> entry
	chunkLines map[string][]lineKey         // chunk id -> lines it owns

	runner   Runner
	matcher  MatcherConfig
	retryCfg retry.Config
}

// Config configures a Source.
type Config struct {
	Runner      Runner
	Matcher     MatcherConfig
	RetryConfig retry.Config
}

// New builds a Source, defaulting to a real subprocess runner and grep.
func New(cfg Config) *Source {
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	matcher := cfg.Matcher
	if matcher.Binary == "" {
		matcher = DefaultMatcher()
	}
	retryCfg := cfg.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Default()
	}
	return &Source{
		corpus:     make(map[string]map[int]lineEntry),
		chunkLines: make(map[string][]lineKey),
		runner:     runner,
		matcher:    matcher,
		retryCfg:   retryCfg,
	}
}

// Upsert indexes each chunk's lines into the corpus, keyed by chunk id so a
// later Delete can remove exactly the lines this chunk contributed.
func (s *Source) Upsert(_ context.Context, chunks []*types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		lines := strings.Split(c.Content, "\n")
		keys := make([]lineKey, 0, len(lines))
		for i, text := range lines {
			line := c.StartLine + i
			if s.corpus[c.Path] == nil {
				s.corpus[c.Path] = make(map[int]lineEntry)
			}
			s.corpus[c.Path][line] = lineEntry{text: text, chunkID: c.ID}
			keys = append(keys, lineKey{path: c.Path, line: line})
		}
		s.chunkLines[c.ID] = keys
	}
	return nil
}

// Delete removes the lines owned by each chunk id, but only where the
// corpus entry is still owned by that id, so a concurrent Upsert for a
// newer version of the same line is never clobbered.
func (s *Source) Delete(_ context.Context, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range chunkIDs {
		keys, ok := s.chunkLines[id]
		if !ok {
			continue
		}
		for _, k := range keys {
			if entry, exists := s.corpus[k.path][k.line]; exists && entry.chunkID == id {
				delete(s.corpus[k.path], k.line)
			}
		}
		delete(s.chunkLines, id)
	}
	return nil
}

// Line returns the indexed text of (path, line), letting the Result Merger
// reuse this corpus as its line-text lookup instead of re-reading files.
func (s *Source) Line(path string, line int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.corpus[path][line]
	if !ok {
		return "", false
	}
	return entry.text, true
}

// ForgetPath drops every corpus entry for a path removed from the repository.
func (s *Source) ForgetPath(path string) {
	s.mu.Lock()
	delete(s.corpus, path)
	s.mu.Unlock()
}

// Query validates pattern, flattens the corpus to the matcher's stdin
// format, and parses matching lines back into Hits.
func (s *Source) Query(ctx context.Context, pattern string, limit int) ([]types.Hit, error) {
	compiled := rewriteWordQuery(pattern)
	if _, err := regexp.Compile(compiled); err != nil {
		return nil, types.NewError(types.KindInvalidRegex, "regexsource.Query", err)
	}

	stdin := s.flattenCorpus()
	if len(stdin) == 0 {
		return nil, nil
	}

	args := append(append([]string{}, s.matcher.Args...), compiled)

	var output []byte
	_, err := retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
		out, runErr := s.runner.Run(ctx, s.matcher.Binary, args, stdin)
		output = out
		return struct{}{}, runErr
	})
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "regexsource.Query", err)
	}

	hits := parseMatchLines(output)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// rewriteWordQuery turns a plain word query into a word-boundary
// alternation; any other pattern passes through unchanged.
func rewriteWordQuery(pattern string) string {
	if !wordQueryPattern.MatchString(pattern) {
		return pattern
	}
	tokens := strings.Fields(pattern)
	if len(tokens) == 0 {
		return pattern
	}
	escaped := make([]string, len(tokens))
	for i, t := range tokens {
		escaped[i] = regexp.QuoteMeta(t)
	}
	return `\b(` + strings.Join(escaped, "|") + `)\b`
}

// flattenCorpus produces deterministic "path:line:text" stdin for the
// matcher, sorted by path then line so repeated queries are reproducible.
func (s *Source) flattenCorpus() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type flat struct {
		path string
		line int
		text string
	}
	var all []flat
	for path, lines := range s.corpus {
		for line, entry := range lines {
			all = append(all, flat{path: path, line: line, text: entry.text})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].path != all[j].path {
			return all[i].path < all[j].path
		}
		return all[i].line < all[j].line
	})

	var buf bytes.Buffer
	for _, f := range all {
		fmt.Fprintf(&buf, "%s:%d:%s\n", f.path, f.line, f.text)
	}
	return buf.Bytes()
}

// parseMatchLines parses "path:line:text" lines back into Hits.
func parseMatchLines(output []byte) []types.Hit {
	var hits []types.Hit
	for _, raw := range strings.Split(strings.TrimRight(string(output), "\n"), "\n") {
		if raw == "" {
			continue
		}
		first := strings.Index(raw, ":")
		if first < 0 {
			continue
		}
		rest := raw[first+1:]
		second := strings.Index(rest, ":")
		if second < 0 {
			continue
		}
		path := raw[:first]
		lineStr := rest[:second]
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			continue
		}
		hits = append(hits, types.Hit{Path: path, Line: line, Score: 1.0, Source: types.SourceRegex})
	}
	return hits
}
