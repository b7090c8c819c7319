package regexsource

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seagoat/pkg/types"
)

// fakeRunner runs the real regexp package against the piped corpus instead
// of shelling out, so tests don't depend on grep being installed.
type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, _ string, args []string, stdin []byte) ([]byte, error) {
	pattern := args[len(args)-1]
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	for _, line := range bytes.Split(stdin, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if re.Match(line) {
			out.Write(line)
			out.WriteByte('\n')
		}
	}
	return out.Bytes(), nil
}

func newTestSource() *Source {
	return New(Config{Runner: fakeRunner{}})
}

func TestUpsertQuery_FindsLiteralMatch(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	c := types.NewChunk("a.go", 10, "func Add(a, b int) int {\n\treturn a + b\n}", "blob-a")
	require.NoError(t, s.Upsert(ctx, []*types.Chunk{c}))

	hits, err := s.Query(ctx, "func Add", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a.go", hits[0].Path)
	assert.Equal(t, 10, hits[0].Line)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, types.SourceRegex, hits[0].Source)
}

func TestQuery_WordQueryMatchesEitherToken(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []*types.Chunk{
		types.NewChunk("a.go", 1, "alpha only", "blob-a"),
		types.NewChunk("b.go", 1, "beta only", "blob-b"),
		types.NewChunk("c.go", 1, "neither here", "blob-c"),
	}))

	hits, err := s.Query(ctx, "alpha beta", 10)
	require.NoError(t, err)

	paths := map[string]bool{}
	for _, h := range hits {
		paths[h.Path] = true
	}
	assert.True(t, paths["a.go"])
	assert.True(t, paths["b.go"])
	assert.False(t, paths["c.go"])
}

func TestQuery_InvalidRegexReturnsInvalidRegexKind(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []*types.Chunk{types.NewChunk("a.go", 1, "x", "blob-a")}))

	_, err := s.Query(ctx, "(unterminated[", 10)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.KindInvalidRegex, kind)
}

func TestDelete_RemovesOwnedLinesOnly(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	old := types.NewChunk("a.go", 1, "old line", "blob-old")
	require.NoError(t, s.Upsert(ctx, []*types.Chunk{old}))

	updated := types.NewChunk("a.go", 1, "new line", "blob-new")
	require.NoError(t, s.Upsert(ctx, []*types.Chunk{updated}))

	// Deleting the old chunk must not remove the newer line that replaced it.
	require.NoError(t, s.Delete(ctx, []string{old.ID}))

	hits, err := s.Query(ctx, "new line", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestForgetPath_RemovesAllLinesForPath(t *testing.T) {
	s := newTestSource()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []*types.Chunk{types.NewChunk("a.go", 1, "gone soon", "blob-a")}))
	s.ForgetPath("a.go")

	hits, err := s.Query(ctx, "gone soon", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQuery_EmptyCorpusReturnsNoHits(t *testing.T) {
	s := newTestSource()
	hits, err := s.Query(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRewriteWordQuery_PlainWordsBecomeAlternation(t *testing.T) {
	got := rewriteWordQuery("foo bar")
	assert.Equal(t, `\b(foo|bar)\b`, got)
}

func TestRewriteWordQuery_RegexMetacharsPassThrough(t *testing.T) {
	got := rewriteWordQuery("foo.*bar")
	assert.Equal(t, "foo.*bar", got)
}
