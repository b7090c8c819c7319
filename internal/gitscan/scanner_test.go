package gitscan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner replays canned output keyed by the full command line, so
// tests exercise the scanner's parsing without a real git binary.
type fakeRunner struct {
	responses map[string]string
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) key(name string, args ...string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeRunner) set(output string, name string, args ...string) {
	f.responses[f.key(name, args...)] = output
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) ([]byte, error) {
	k := f.key(name, args...)
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	out, ok := f.responses[k]
	if !ok {
		return nil, fmt.Errorf("fakeRunner: no response configured for %q", k)
	}
	return []byte(out), nil
}

func lsTreeLine(blobID, path string) string {
	return fmt.Sprintf("100644 blob %s\t%s", blobID, path)
}

func TestScan_FrecencyMonotonicity(t *testing.T) {
	runner := newFakeRunner()
	runner.set(
		lsTreeLine("blobA", "a.go")+"\n"+lsTreeLine("blobB", "b.go")+"\n",
		"git", "ls-tree", "-r", "HEAD",
	)

	now := time.Now()
	recentEpoch := now.Unix()
	oldEpoch := now.AddDate(0, 0, -365).Unix()

	log := "###hashA:::" + strconv.FormatInt(recentEpoch, 10) + "\n" +
		"a.go\n" +
		"\n" +
		"###hashB:::" + strconv.FormatInt(oldEpoch, 10) + "\n" +
		"b.go\n"
	runner.set(log, "git", "log", "--name-only", "--pretty=format:###%H:::%at", "--no-merges", "--max-count="+strconv.Itoa(DefaultReadMaxCommits))

	s := New(Config{RepoPath: "/repo"}, runner)
	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Files, 2)

	var frecA, frecB float64
	for _, f := range result.Files {
		switch f.Path {
		case "a.go":
			frecA = f.Frecency
		case "b.go":
			frecB = f.Frecency
		}
	}

	assert.InDelta(t, 1.0, frecA, 1e-9, "most-recently-committed file normalizes to 1")
	assert.Less(t, frecB, frecA)
	assert.InDelta(t, 0.06, frecB, 0.02, "365 days at half-life 90 decays close to the spec's example")
}

func TestScan_IgnoresPatternsAndExtensions(t *testing.T) {
	runner := newFakeRunner()
	runner.set(
		lsTreeLine("blob1", "main.go")+"\n"+
			lsTreeLine("blob2", "vendor/dep.go")+"\n"+
			lsTreeLine("blob3", "image.png")+"\n",
		"git", "ls-tree", "-r", "HEAD",
	)
	runner.set("", "git", "log", "--name-only", "--pretty=format:###%H:::%at", "--no-merges", "--max-count="+strconv.Itoa(DefaultReadMaxCommits))

	s := New(Config{RepoPath: "/repo", IgnorePatterns: []string{"vendor/**"}}, runner)
	result, err := s.Scan(context.Background())
	require.NoError(t, err)

	var paths []string
	for _, f := range result.Files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"main.go"}, paths)
}

func TestScan_StateHashStableAcrossIdenticalScans(t *testing.T) {
	runner := newFakeRunner()
	runner.set(lsTreeLine("blob1", "main.go")+"\n", "git", "ls-tree", "-r", "HEAD")
	runner.set("", "git", "log", "--name-only", "--pretty=format:###%H:::%at", "--no-merges", "--max-count="+strconv.Itoa(DefaultReadMaxCommits))

	s := New(Config{RepoPath: "/repo"}, runner)
	r1, err := s.Scan(context.Background())
	require.NoError(t, err)
	r2, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, r1.StateHash, r2.StateHash)
	assert.Equal(t, r1.StateHash, StateHash(r1.Files))
}

func TestScan_NoCommitsDefaultsToZeroFrecency(t *testing.T) {
	runner := newFakeRunner()
	runner.set(lsTreeLine("blob1", "main.go")+"\n", "git", "ls-tree", "-r", "HEAD")
	runner.set("", "git", "log", "--name-only", "--pretty=format:###%H:::%at", "--no-merges", "--max-count="+strconv.Itoa(DefaultReadMaxCommits))

	s := New(Config{RepoPath: "/repo"}, runner)
	result, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, 0.0, result.Files[0].Frecency)
}

func TestGetBlobData(t *testing.T) {
	runner := newFakeRunner()
	runner.set("package main\n", "git", "cat-file", "-p", "blob1")

	s := New(Config{RepoPath: "/repo"}, runner)
	data, err := s.GetBlobData(context.Background(), "blob1")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}
