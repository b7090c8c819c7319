package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seagoat/internal/gitscan"
	"seagoat/pkg/types"
)

// fakeGitRunner replays canned Git output keyed by the full command line,
// mirroring gitscan's own test fake so the Engine can be exercised without
// a real repository.
type fakeGitRunner struct {
	responses map[string]string
	blobs     map[string]string
}

func newFakeGitRunner() *fakeGitRunner {
	return &fakeGitRunner{responses: map[string]string{}, blobs: map[string]string{}}
}

func (f *fakeGitRunner) key(name string, args ...string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeGitRunner) set(output string, name string, args ...string) {
	f.responses[f.key(name, args...)] = output
}

func (f *fakeGitRunner) setBlob(blobID, content string) {
	f.blobs[blobID] = content
}

func (f *fakeGitRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	if name == "git" && len(args) >= 3 && args[0] == "cat-file" {
		if content, ok := f.blobs[args[2]]; ok {
			return []byte(content), nil
		}
	}
	k := f.key(name, args...)
	out, ok := f.responses[k]
	if !ok {
		return nil, fmt.Errorf("fakeGitRunner: no response configured for %q", k)
	}
	return []byte(out), nil
}

func lsTreeLine(blobID, path string) string {
	return fmt.Sprintf("100644 blob %s\t%s", blobID, path)
}

func (f *fakeGitRunner) setEmptyLog() {
	f.set("", "git", "log", "--name-only", "--pretty=format:###%H:::%at", "--no-merges", "--max-count="+strconv.Itoa(gitscan.DefaultReadMaxCommits))
}

// fakeMatchRunner runs the real regexp package against piped stdin, so
// tests don't depend on grep being installed.
type fakeMatchRunner struct{}

func (fakeMatchRunner) Run(_ context.Context, _ string, args []string, stdin []byte) ([]byte, error) {
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

func newTestEngine(t *testing.T, runner *fakeGitRunner) *Engine {
	t.Helper()
	cacheRoot := t.TempDir()
	e, err := New(context.Background(), Config{
		RepoPath:    "/repo",
		CacheRoot:   cacheRoot,
		GitRunner:   runner,
		MatchRunner: fakeMatchRunner{},
		Logger:      log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestAnalyze_IndexesTrackedFiles(t *testing.T) {
	runner := newFakeGitRunner()
	runner.set(lsTreeLine("blobA", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()
	runner.setBlob("blobA", "func Add(a, b int) int {\n\treturn a + b\n}\n")

	e := newTestEngine(t, runner)
	require.NoError(t, e.Analyze(context.Background()))

	stats := e.GetStats()
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Greater(t, stats.ChunksAnalyzed, 0)
	assert.NotZero(t, stats.LastAnalyzedAtUnix)
}

func TestAnalyze_TwiceWithNoChangeIsIdempotent(t *testing.T) {
	runner := newFakeGitRunner()
	runner.set(lsTreeLine("blobA", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()
	runner.setBlob("blobA", "line one\nline two\n")

	e := newTestEngine(t, runner)
	require.NoError(t, e.Analyze(context.Background()))
	first := e.GetStats()
	require.NoError(t, e.Analyze(context.Background()))
	second := e.GetStats()

	assert.Equal(t, first.ChunksAnalyzed, second.ChunksAnalyzed)
	assert.Equal(t, first.LastAnalyzedAtUnix, second.LastAnalyzedAtUnix, "unchanged state hash short-circuits before lastAnalyzedAt is touched again")
}

func TestAnalyze_BlobChangeReplacesChunks(t *testing.T) {
	runner := newFakeGitRunner()
	runner.set(lsTreeLine("blobA", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()
	runner.setBlob("blobA", "alpha marker text\n")

	e := newTestEngine(t, runner)
	require.NoError(t, e.Analyze(context.Background()))

	result, err := e.Query(context.Background(), "alpha", 0, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Blocks)
	assert.True(t, result.Blocks[0].Lines[0].HasSource(types.SourceRegex))

	runner.set(lsTreeLine("blobB", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setBlob("blobB", "beta marker text\n")
	require.NoError(t, e.Analyze(context.Background()))

	result, err = e.Query(context.Background(), "alpha", 0, 0, 0)
	require.NoError(t, err)
	for _, b := range result.Blocks {
		for _, l := range b.Lines {
			assert.False(t, l.HasSource(types.SourceRegex), "the word 'alpha' no longer exists in the corpus after its blob changed")
		}
	}

	result, err = e.Query(context.Background(), "beta", 0, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Blocks)
	assert.True(t, result.Blocks[0].Lines[0].HasSource(types.SourceRegex))
}

func TestAnalyze_RemovedFileIsPurged(t *testing.T) {
	runner := newFakeGitRunner()
	runner.set(lsTreeLine("blobA", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()
	runner.setBlob("blobA", "vanishing content\n")

	e := newTestEngine(t, runner)
	require.NoError(t, e.Analyze(context.Background()))

	runner.set("", "git", "ls-tree", "-r", "HEAD")
	require.NoError(t, e.Analyze(context.Background()))

	stats := e.GetStats()
	assert.Equal(t, 0, stats.TotalFiles)
	assert.Equal(t, 0, stats.ChunksAnalyzed)
}

func TestRunAnalyzeStep_ResumesAcrossCallsAndMatchesFullAnalyze(t *testing.T) {
	runner := newFakeGitRunner()
	var lsTree []string
	for i := 0; i < AnalyzeChunkBatchFiles+3; i++ {
		blobID := fmt.Sprintf("blob%02d", i)
		path := fmt.Sprintf("file%02d.go", i)
		lsTree = append(lsTree, lsTreeLine(blobID, path))
		runner.setBlob(blobID, fmt.Sprintf("content %d\n", i))
	}
	runner.set(strings.Join(lsTree, "\n"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()

	e := newTestEngine(t, runner)

	pass, err := e.BeginAnalyzePass(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pass)

	steps := 0
	for {
		steps++
		done, err := e.RunAnalyzeStep(context.Background(), pass, AnalyzeChunkBatchFiles)
		require.NoError(t, err)
		if done {
			break
		}
		require.False(t, pass.Done())
	}
	assert.Equal(t, 2, steps, "a repo with batchFiles+3 files needs exactly two steps")

	stats := e.GetStats()
	assert.Equal(t, AnalyzeChunkBatchFiles+3, stats.TotalFiles)
}

func TestQuery_EmptyTextReturnsEmptyQueryKind(t *testing.T) {
	e := newTestEngine(t, newFakeGitRunner())
	_, err := e.Query(context.Background(), "   ", 0, 0, 0)
	require.Error(t, err)
	kind, ok := types.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, types.KindEmptyQuery, kind)
}

func TestQuery_InvalidRegexIsPartialNotFatal(t *testing.T) {
	runner := newFakeGitRunner()
	runner.set(lsTreeLine("blobA", "a.go"), "git", "ls-tree", "-r", "HEAD")
	runner.setEmptyLog()
	runner.setBlob("blobA", "some searchable content\n")

	e := newTestEngine(t, runner)
	require.NoError(t, e.Analyze(context.Background()))

	result, err := e.Query(context.Background(), "some searchable content", 0, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Blocks)

	result, err = e.Query(context.Background(), "foo[", 0, 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Equal(t, "InvalidRegex", result.RegexError)
}
