package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"seagoat/internal/cache"
	"seagoat/internal/chunker"
	"seagoat/internal/gitscan"
	"seagoat/internal/merger"
	"seagoat/internal/regexsource"
	"seagoat/internal/retry"
	"seagoat/internal/vectorsource"
	"seagoat/pkg/types"
)

// Defaults matching §4.7 and §6.1.
const (
	DefaultPerSourceLimit = 500
	DefaultLineLimit      = 500
	DefaultContextRadius  = 3
)

// Config parameterizes a single repository's Engine.
type Config struct {
	RepoPath          string
	CacheRoot         string
	IgnorePatterns    []string
	ReadMaxCommits    int
	AllowedExtensions map[string]bool

	ChunkLines   int
	ChunkOverlap int

	EmbeddingFunctionName string
	VectorBatchSize       int
	VectorCacheSize       int

	PerSourceLimit int

	RetryConfig retry.Config

	// GitRunner lets callers substitute a fake command runner in tests.
	// Nil means the real exec.Command-backed runner.
	GitRunner gitscan.CommandRunner
	// MatchRunner lets callers substitute a fake external matcher in tests.
	MatchRunner regexsource.Runner

	Logger *log.Logger

	// Progress, if set, is called after each file analyzeFile processes
	// during Analyze, letting a caller drive a progress bar.
	Progress func(processed, total int, path string)
}

// Stats mirrors §6.2's get_stats output (queue_depth is layered on by the
// Query Facade, which is the only caller that knows about the queue).
type Stats struct {
	ChunksAnalyzed     int
	TotalFiles         int
	LastAnalyzedAtUnix int64
}

// Engine holds one repository's live state: the Scanner, both Sources, the
// Cache, and the bookkeeping analyze needs to diff successive scans.
type Engine struct {
	cfg Config

	scanner *gitscan.Scanner
	chunker *chunker.Chunker
	cch     *cache.Cache
	vector  *vectorsource.Source
	regex   *regexsource.Source

	mergerCfg merger.Config
	logger    *log.Logger

	mu             sync.Mutex
	analyzedSet    map[string]struct{}
	frecency       map[string]float64
	stateHash      string
	totalFiles     int
	lastAnalyzedAt int64
}

// New constructs an Engine for one repository, opening its Cache and Vector
// Source and loading whatever state was last persisted.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.PerSourceLimit <= 0 {
		cfg.PerSourceLimit = DefaultPerSourceLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "engine: ", log.LstdFlags)
	}

	gitRunner := cfg.GitRunner
	if gitRunner == nil {
		gitRunner = gitscan.NewExecRunner()
	}
	scanner := gitscan.New(gitscan.Config{
		RepoPath:          cfg.RepoPath,
		IgnorePatterns:    cfg.IgnorePatterns,
		ReadMaxCommits:    cfg.ReadMaxCommits,
		AllowedExtensions: cfg.AllowedExtensions,
	}, gitRunner)

	var chnk *chunker.Chunker
	if cfg.ChunkLines > 0 {
		chnk = chunker.NewWithConfig(cfg.ChunkLines, cfg.ChunkOverlap)
	} else {
		chnk = chunker.New()
	}

	cch, err := cache.Open(cfg.CacheRoot, cfg.RepoPath)
	if err != nil {
		return nil, err
	}

	vec, err := vectorsource.Open(ctx, vectorsource.Config{
		Path:                  filepath.Join(cch.Dir(), "vectors.db"),
		EmbeddingFunctionName: cfg.EmbeddingFunctionName,
		BatchSize:             cfg.VectorBatchSize,
		CacheSize:             cfg.VectorCacheSize,
		RetryConfig:           cfg.RetryConfig,
	})
	if err != nil {
		_ = cch.Close()
		return nil, err
	}

	rgx := regexsource.New(regexsource.Config{
		Runner:      cfg.MatchRunner,
		RetryConfig: cfg.RetryConfig,
	})

	e := &Engine{
		cfg:       cfg,
		scanner:   scanner,
		chunker:   chnk,
		cch:       cch,
		vector:    vec,
		regex:     rgx,
		mergerCfg: merger.DefaultConfig(),
		logger:    logger,
	}

	if err := e.loadCache(); err != nil {
		_ = vec.Close()
		_ = cch.Close()
		return nil, err
	}

	return e, nil
}

func (e *Engine) loadCache() error {
	state, err := e.cch.Load()
	if err != nil {
		kind, ok := types.KindOf(err)
		if !ok || kind != types.KindCacheCorrupt {
			return err
		}
		e.logger.Printf("cache corrupt, discarding: %v", err)
		if resetErr := e.cch.Reset(); resetErr != nil {
			return resetErr
		}
		state = cache.Empty()
	}

	e.analyzedSet = state.AnalyzedSet
	e.frecency = state.Frecency
	e.stateHash = state.StateHash
	e.totalFiles = len(state.Frecency)
	return nil
}

// Close releases the Engine's underlying adapters.
func (e *Engine) Close() error {
	verr := e.vector.Close()
	cerr := e.cch.Close()
	if verr != nil {
		return verr
	}
	return cerr
}

// AnalyzeChunkBatchFiles bounds how many files one analyze_chunk step
// processes before returning control to its caller, the named yield point
// §5 describes ("between files") that lets a priority-0 query submitted
// mid-pass be dispatched ahead of the next analyze_chunk task rather than
// waiting for the whole remaining pass to finish.
const AnalyzeChunkBatchFiles = 10

// AnalyzePass is the resumable state of one Analyze invocation, split into
// bounded steps by RunAnalyzeStep so a caller (the Task Queue, through the
// Facade) can interleave other work between steps instead of running the
// whole pass as one task.
type AnalyzePass struct {
	files        []types.File
	removals     []string
	stateHash    string
	fileIndex    int
	removalIndex int
}

// Done reports whether every removal and file in the pass has been
// processed.
func (p *AnalyzePass) Done() bool {
	return p.removalIndex >= len(p.removals) && p.fileIndex >= len(p.files)
}

// BeginAnalyzePass scans the repository and returns the work a full Analyze
// needs to do, or nil if the state hash is unchanged since the last pass.
func (e *Engine) BeginAnalyzePass(ctx context.Context) (*AnalyzePass, error) {
	scan, err := e.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	unchanged := e.stateHash != "" && scan.StateHash == e.stateHash
	previousPaths := make(map[string]struct{}, len(e.frecency))
	for p := range e.frecency {
		previousPaths[p] = struct{}{}
	}
	e.mu.Unlock()

	if unchanged {
		return nil, nil
	}

	currentPaths := make(map[string]struct{}, len(scan.Files))
	for _, f := range scan.Files {
		currentPaths[f.Path] = struct{}{}
	}

	var removals []string
	for path := range previousPaths {
		if _, ok := currentPaths[path]; !ok {
			removals = append(removals, path)
		}
	}

	return &AnalyzePass{files: scan.Files, removals: removals, stateHash: scan.StateHash}, nil
}

// RunAnalyzeStep processes up to batchFiles removals-then-files of pass,
// checking ctx.Err() between each one (§5's cancellation yield points), and
// reports whether the pass is now complete. Once complete it persists the
// new frecency map, state hash, and cache snapshot; a caller resumes an
// unfinished pass by calling RunAnalyzeStep again with the same pass.
func (e *Engine) RunAnalyzeStep(ctx context.Context, pass *AnalyzePass, batchFiles int) (bool, error) {
	if batchFiles <= 0 {
		batchFiles = AnalyzeChunkBatchFiles
	}

	processed := 0
	for processed < batchFiles && pass.removalIndex < len(pass.removals) {
		if err := ctx.Err(); err != nil {
			return false, types.NewError(types.KindCancelled, "engine.RunAnalyzeStep", err)
		}
		path := pass.removals[pass.removalIndex]
		if err := e.removeFile(ctx, path); err != nil {
			return false, err
		}
		pass.removalIndex++
		processed++
	}

	for processed < batchFiles && pass.fileIndex < len(pass.files) {
		if err := ctx.Err(); err != nil {
			return false, types.NewError(types.KindCancelled, "engine.RunAnalyzeStep", err)
		}
		f := pass.files[pass.fileIndex]
		if err := e.analyzeFile(ctx, f); err != nil {
			if kind, ok := types.KindOf(err); !ok || (kind != types.KindCancelled && kind != types.KindInternal) {
				e.logger.Printf("skipping %s: %v", f.Path, err)
			} else {
				return false, err
			}
		}
		if e.cfg.Progress != nil {
			e.cfg.Progress(pass.fileIndex+1, len(pass.files), f.Path)
		}
		pass.fileIndex++
		processed++
	}

	if !pass.Done() {
		return false, nil
	}

	frecency := make(map[string]float64, len(pass.files))
	for _, f := range pass.files {
		frecency[f.Path] = f.Frecency
	}

	e.mu.Lock()
	e.frecency = frecency
	e.stateHash = pass.stateHash
	e.totalFiles = len(pass.files)
	e.lastAnalyzedAt = time.Now().Unix()
	snapshot := e.snapshotState()
	e.mu.Unlock()

	if err := e.cch.Save(snapshot); err != nil {
		return false, err
	}
	return true, nil
}

// Analyze runs a full pass to completion in one call, for callers (direct
// tests, non-queued uses) that don't need the Task Queue's step-by-step
// interleaving.
func (e *Engine) Analyze(ctx context.Context) error {
	pass, err := e.BeginAnalyzePass(ctx)
	if err != nil {
		return err
	}
	if pass == nil {
		return nil
	}
	for {
		done, err := e.RunAnalyzeStep(ctx, pass, AnalyzeChunkBatchFiles)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// snapshotState must be called with e.mu held.
func (e *Engine) snapshotState() *cache.State {
	analyzed := make(map[string]struct{}, len(e.analyzedSet))
	for id := range e.analyzedSet {
		analyzed[id] = struct{}{}
	}
	frecency := make(map[string]float64, len(e.frecency))
	for p, v := range e.frecency {
		frecency[p] = v
	}
	return &cache.State{AnalyzedSet: analyzed, Frecency: frecency, StateHash: e.stateHash}
}

// analyzeFile re-chunks and re-indexes one file if its blob id changed
// since the last successful analyze, leaving it untouched otherwise.
func (e *Engine) analyzeFile(ctx context.Context, f types.File) error {
	stored, exists, err := e.vector.StoredBlobID(ctx, f.Path)
	if err != nil {
		return err
	}
	if exists && stored == f.BlobID {
		return nil
	}

	blob, err := e.scanner.GetBlobData(ctx, f.BlobID)
	if err != nil {
		return err
	}

	chunks, err := e.chunker.Chunk(f.Path, blob, f.BlobID)
	if err != nil {
		return err
	}

	if err := e.replaceChunks(ctx, f.Path, chunks); err != nil {
		return err
	}
	return nil
}

// replaceChunks deletes every chunk currently on file for path from both
// Sources, then upserts the freshly cut set, keeping analyzedSet in sync.
func (e *Engine) replaceChunks(ctx context.Context, path string, chunks []*types.Chunk) error {
	oldIDs, err := e.vector.ChunkIDsForPath(ctx, path)
	if err != nil {
		return err
	}
	if len(oldIDs) > 0 {
		if err := e.vector.Delete(ctx, oldIDs); err != nil {
			return err
		}
		if err := e.regex.Delete(ctx, oldIDs); err != nil {
			return err
		}
		e.mu.Lock()
		for _, id := range oldIDs {
			delete(e.analyzedSet, id)
		}
		e.mu.Unlock()
	}

	if len(chunks) == 0 {
		return nil
	}

	if err := e.vector.Upsert(ctx, chunks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return types.NewError(types.KindCancelled, "engine.replaceChunks", err)
	}
	if err := e.regex.Upsert(ctx, chunks); err != nil {
		return err
	}

	e.mu.Lock()
	if e.analyzedSet == nil {
		e.analyzedSet = make(map[string]struct{})
	}
	for _, c := range chunks {
		e.analyzedSet[c.ID] = struct{}{}
	}
	e.mu.Unlock()
	return nil
}

// removeFile purges a path that disappeared from the repo's current head.
func (e *Engine) removeFile(ctx context.Context, path string) error {
	if err := e.replaceChunks(ctx, path, nil); err != nil {
		return err
	}
	e.vector.ForgetPath(path)
	e.regex.ForgetPath(path)
	return nil
}

// Query issues concurrent calls to both Sources and merges their hits.
// Either source's failure degrades to a partial result; both failing
// surfaces an error.
func (e *Engine) Query(ctx context.Context, text string, lineLimit, contextAbove, contextBelow int) (*types.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.KindEmptyQuery, "engine.Query", errors.New("query text is empty"))
	}
	if lineLimit <= 0 {
		lineLimit = DefaultLineLimit
	}
	if contextAbove < 0 {
		contextAbove = DefaultContextRadius
	}
	if contextBelow < 0 {
		contextBelow = DefaultContextRadius
	}

	var wg sync.WaitGroup
	var vectorHits, regexHits []types.Hit
	var vectorErr, regexErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = e.vector.Query(ctx, text, e.cfg.PerSourceLimit)
	}()
	go func() {
		defer wg.Done()
		regexHits, regexErr = e.regex.Query(ctx, text, e.cfg.PerSourceLimit)
	}()
	wg.Wait()

	if vectorErr != nil && regexErr != nil {
		return nil, vectorErr
	}

	partial := false
	var regexErrorKind string
	if vectorErr != nil {
		e.logger.Printf("vector source query failed: %v", vectorErr)
		partial = true
		vectorHits = nil
	}
	if regexErr != nil {
		partial = true
		if kind, ok := types.KindOf(regexErr); ok {
			regexErrorKind = string(kind)
		} else {
			regexErrorKind = string(types.KindInternal)
		}
		regexHits = nil
	}

	e.mu.Lock()
	frecency := make(map[string]float64, len(e.frecency))
	for p, v := range e.frecency {
		frecency[p] = v
	}
	e.mu.Unlock()

	cfg := e.mergerCfg
	cfg.ContextAbove = contextAbove
	cfg.ContextBelow = contextBelow
	m := merger.New(cfg, e.regex)

	result, err := m.Merge(text, vectorHits, regexHits, frecency)
	if err != nil {
		return nil, err
	}

	result.Partial = partial
	result.RegexError = regexErrorKind
	merger.TruncateToLineLimit(result, lineLimit)
	return result, nil
}

// GetStats returns the snapshot §6.2 describes.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		ChunksAnalyzed:     len(e.analyzedSet),
		TotalFiles:         e.totalFiles,
		LastAnalyzedAtUnix: e.lastAnalyzedAt,
	}
}

// StateHash exposes the last-recorded repo state hash, letting maintenance
// tasks check for a no-op analyze without paying a full Scan.
func (e *Engine) StateHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateHash
}

// IsStale reports whether the repository's current head diverges from the
// state last persisted by Analyze, without paying for a full history walk.
// §1's non-goal rules out filesystem-change invalidation; this is the
// cheap poll callers are expected to use instead.
func (e *Engine) IsStale(ctx context.Context) (bool, error) {
	current, err := e.scanner.QuickStateHash(ctx)
	if err != nil {
		return false, err
	}
	return current != e.StateHash(), nil
}
