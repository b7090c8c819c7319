package gitscan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"seagoat/pkg/types"
)

// DefaultReadMaxCommits bounds how deep the history walker looks, matching
// server.readMaxCommits' documented default.
const DefaultReadMaxCommits = 10000

// halfLifeDays is chosen so a 90-day-old commit contributes half of
// today's weight to a file's frecency.
const halfLifeDays = 90.0

var frecencyLambda = math.Ln2 / halfLifeDays

// DefaultAllowedExtensions is the allow-list of source-like extensions
// indexed when a Config does not override it.
var DefaultAllowedExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".cc": true, ".h": true, ".hpp": true,
	".cs": true, ".rb": true, ".php": true, ".rs": true, ".swift": true, ".kt": true,
	".scala": true, ".sh": true, ".md": true, ".yaml": true, ".yml": true, ".json": true,
	".sql": true, ".proto": true,
}

// Config parameterizes a Scanner.
type Config struct {
	RepoPath          string
	IgnorePatterns     []string
	ReadMaxCommits     int
	AllowedExtensions  map[string]bool
}

// Scanner enumerates a Git repository's tracked files and their frecency.
type Scanner struct {
	cfg    Config
	runner CommandRunner
}

// New returns a Scanner backed by runner (use NewExecRunner for real Git).
func New(cfg Config, runner CommandRunner) *Scanner {
	if cfg.ReadMaxCommits <= 0 {
		cfg.ReadMaxCommits = DefaultReadMaxCommits
	}
	if cfg.AllowedExtensions == nil {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	return &Scanner{cfg: cfg, runner: runner}
}

// ScanResult is one snapshot of the repository's indexable state.
type ScanResult struct {
	Files     []types.File
	StateHash string
}

// Scan enumerates tracked files at head, computes frecency from commit
// history, and derives the repo state hash used to short-circuit analyze.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	blobIDs, err := s.listTrackedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}

	kept := make(map[string]string, len(blobIDs))
	for path, blobID := range blobIDs {
		if s.isIgnored(path) || !s.isAllowedExtension(path) {
			continue
		}
		kept[path] = blobID
	}

	frecency, err := s.frecencies(ctx, kept)
	if err != nil {
		return nil, fmt.Errorf("compute frecency: %w", err)
	}

	files := make([]types.File, 0, len(kept))
	for path, blobID := range kept {
		files = append(files, types.File{
			Path:      path,
			BlobID:    blobID,
			Frecency:  frecency[path],
			Extension: strings.ToLower(filepath.Ext(path)),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return &ScanResult{Files: files, StateHash: stateHash(kept)}, nil
}

// QuickStateHash recomputes the repo state hash from a fresh ls-tree without
// walking commit history, letting callers poll for staleness far more
// cheaply than a full Scan.
func (s *Scanner) QuickStateHash(ctx context.Context) (string, error) {
	blobIDs, err := s.listTrackedFiles(ctx)
	if err != nil {
		return "", fmt.Errorf("list tracked files: %w", err)
	}
	kept := make(map[string]string, len(blobIDs))
	for path, blobID := range blobIDs {
		if s.isIgnored(path) || !s.isAllowedExtension(path) {
			continue
		}
		kept[path] = blobID
	}
	return stateHash(kept), nil
}

// StateHash computes the repo state hash for an already-scanned file set,
// exposed so the engine can compare a fresh listTrackedFiles call against a
// cached hash without recomputing frecency.
func StateHash(files []types.File) string {
	m := make(map[string]string, len(files))
	for _, f := range files {
		m[f.Path] = f.BlobID
	}
	return stateHash(m)
}

func stateHash(pathToBlobID map[string]string) string {
	paths := make([]string, 0, len(pathToBlobID))
	for p := range pathToBlobID {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte("\x00"))
		h.Write([]byte(pathToBlobID[p]))
		h.Write([]byte("\x00"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// listTrackedFiles runs `git ls-tree -r HEAD` in one call, returning
// path -> blob id for everything tracked at HEAD.
func (s *Scanner) listTrackedFiles(ctx context.Context) (map[string]string, error) {
	out, err := s.runner.Run(ctx, s.cfg.RepoPath, "git", "ls-tree", "-r", "HEAD")
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "gitscan.listTrackedFiles", err)
	}

	result := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		path := line[tab+1:]
		fields := strings.Fields(line[:tab])
		if len(fields) < 3 {
			continue
		}
		result[path] = fields[2]
	}
	return result, nil
}

// GetBlobID returns the current blob id for one path, used by the engine
// to detect whether a single file's content changed since the cache was
// last written.
func (s *Scanner) GetBlobID(ctx context.Context, path string) (string, error) {
	out, err := s.runner.Run(ctx, s.cfg.RepoPath, "git", "ls-tree", "HEAD", "--", path)
	if err != nil {
		return "", types.NewError(types.KindBackendUnavailable, "gitscan.GetBlobID", err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return "", errors.New("path not found at HEAD: " + path)
	}
	tab := strings.IndexByte(line, '\t')
	if tab < 0 {
		return "", errors.New("malformed ls-tree output for " + path)
	}
	fields := strings.Fields(line[:tab])
	if len(fields) < 3 {
		return "", errors.New("malformed ls-tree output for " + path)
	}
	return fields[2], nil
}

// GetBlobData returns the decoded content of a blob by its object id.
func (s *Scanner) GetBlobData(ctx context.Context, blobID string) ([]byte, error) {
	out, err := s.runner.Run(ctx, s.cfg.RepoPath, "git", "cat-file", "-p", blobID)
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "gitscan.GetBlobData", err)
	}
	return out, nil
}

// frecencies walks the commit log (bounded by ReadMaxCommits) and computes
// a recency/frequency score per tracked path, normalized so the maximum
// across files is 1.
func (s *Scanner) frecencies(ctx context.Context, tracked map[string]string) (map[string]float64, error) {
	if len(tracked) == 0 {
		return map[string]float64{}, nil
	}

	out, err := s.runner.Run(ctx, s.cfg.RepoPath, "git", "log",
		"--name-only",
		"--pretty=format:###%H:::%at",
		"--no-merges",
		"--max-count="+strconv.Itoa(s.cfg.ReadMaxCommits),
	)
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "gitscan.frecencies", err)
	}

	now := time.Now()
	raw := make(map[string]float64)

	var commitAgeDays float64
	inCommit := false
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "###"):
			parts := strings.SplitN(strings.TrimPrefix(line, "###"), ":::", 2)
			if len(parts) != 2 {
				inCommit = false
				continue
			}
			epoch, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				inCommit = false
				continue
			}
			commitTime := time.Unix(epoch, 0)
			commitAgeDays = now.Sub(commitTime).Hours() / 24
			inCommit = true
		case line == "":
			continue
		default:
			if !inCommit {
				continue
			}
			if _, ok := tracked[line]; !ok {
				continue
			}
			raw[line] += math.Exp(-frecencyLambda * commitAgeDays)
		}
	}

	return normalize(raw), nil
}

// normalize rescales scores so the maximum is 1, leaving untouched files
// implicitly at zero.
func normalize(raw map[string]float64) map[string]float64 {
	max := 0.0
	for _, v := range raw {
		if v > max {
			max = v
		}
	}
	result := make(map[string]float64, len(raw))
	if max == 0 {
		return result
	}
	for k, v := range raw {
		result[k] = v / max
	}
	return result
}

func (s *Scanner) isIgnored(path string) bool {
	for _, pattern := range s.cfg.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) isAllowedExtension(path string) bool {
	if len(s.cfg.AllowedExtensions) == 0 {
		return true
	}
	return s.cfg.AllowedExtensions[strings.ToLower(filepath.Ext(path))]
}
