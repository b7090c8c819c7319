package facade

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"seagoat/internal/engine"
	"seagoat/internal/taskqueue"
	"seagoat/pkg/types"
)

// Filters narrows a query per §4.9, all fields optional.
type Filters struct {
	// IncludeGlobs keeps only blocks whose path matches at least one
	// pattern; empty means every path is eligible.
	IncludeGlobs []string
	// ExcludeGlobs drops blocks whose path matches any pattern.
	ExcludeGlobs []string
	// MaxResults caps the number of blocks returned, applied after
	// ranking. Zero means no cap.
	MaxResults int
	// ContextAbove and ContextBelow override the Engine's default
	// context radius. Negative means "use the default".
	ContextAbove int
	ContextBelow int
}

// Status mirrors §6.2's stats output, plus the queue depth and staleness
// poll the Query Facade layers on top of what Engine.GetStats knows.
type Status struct {
	ChunksAnalyzed     int
	TotalFiles         int
	QueueDepth         int
	LastAnalyzedAtUnix int64
	Stale              bool
}

// EngineFactory builds a fresh Engine from a Config, used by reload_config
// to reconstruct the Engine without the Facade knowing how one is wired.
type EngineFactory func(ctx context.Context) (*engine.Engine, error)

// Facade is the transport-independent surface every MCP tool and CLI
// subcommand calls through. It owns the Task Queue and the live Engine,
// swapping the latter out wholesale on reload_config.
type Facade struct {
	mu      sync.RWMutex
	eng     *engine.Engine
	queue   *taskqueue.Queue
	factory EngineFactory
	logger  *log.Logger
}

// Config configures a Facade.
type Config struct {
	Queue   taskqueue.Config
	Factory EngineFactory
	Logger  *log.Logger
}

// New builds a Facade, using factory to construct the initial Engine and
// wiring its maintenance task to a staleness-triggered re-analyze.
func New(ctx context.Context, cfg Config) (*Facade, error) {
	if cfg.Factory == nil {
		return nil, errors.New("facade: Factory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	eng, err := cfg.Factory(ctx)
	if err != nil {
		return nil, err
	}

	f := &Facade{eng: eng, factory: cfg.Factory, logger: logger}

	qcfg := cfg.Queue
	qcfg.Maintenance = f.maintenance
	f.queue = taskqueue.New(qcfg)
	return f, nil
}

// maintenance is the task synthesized when the queue has been idle; it
// re-analyzes only when the repository has actually drifted from head. The
// re-analyze itself is dispatched as a chain of bounded analyze_chunk
// steps rather than run inline, so maintenance never blocks the worker for
// the whole pass — see submitAnalyzeChain.
func (f *Facade) maintenance(ctx context.Context) (any, error) {
	eng := f.currentEngine()
	stale, err := eng.IsStale(ctx)
	if err != nil {
		return nil, err
	}
	if !stale {
		return nil, nil
	}
	return nil, f.submitAnalyzeChain(eng, nil, func(any, error) {})
}

func (f *Facade) currentEngine() *engine.Engine {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.eng
}

// SubmitQuery enqueues a query against the live Engine at query priority,
// applying filters to the merged result before the handle resolves.
func (f *Facade) SubmitQuery(text string, limitLines int, filters Filters) (*taskqueue.Handle, error) {
	eng := f.currentEngine()

	return f.queue.Submit(taskqueue.PriorityQuery, time.Time{}, func(ctx context.Context) (any, error) {
		result, err := eng.Query(ctx, text, limitLines, filters.ContextAbove, filters.ContextBelow)
		if err != nil {
			return nil, err
		}
		applyFilters(result, filters)
		return result, nil
	})
}

// SubmitAnalyze enqueues a full re-analyze as a chain of bounded
// analyze_chunk steps, per §4.8: the worker never runs the whole pass as
// one task, so a priority-0 query submitted mid-pass is dispatched between
// two steps rather than waiting for the entire remaining pass. The
// returned Handle resolves only once every step completes.
func (f *Facade) SubmitAnalyze() (*taskqueue.Handle, error) {
	eng := f.currentEngine()
	handle, resolve := taskqueue.NewChainedHandle()
	if err := f.submitAnalyzeChain(eng, nil, resolve); err != nil {
		return nil, err
	}
	return handle, nil
}

// submitAnalyzeChain enqueues one bounded analyze_chunk step at
// PriorityAnalyzeChunk. If the step leaves the pass unfinished, it enqueues
// the next step before returning, so the queue's worker re-checks the heap
// — and can dispatch a waiting priority-0 query — between every step
// instead of running the whole pass inside a single task.
func (f *Facade) submitAnalyzeChain(eng *engine.Engine, pass *engine.AnalyzePass, resolve func(any, error)) error {
	_, err := f.queue.Submit(taskqueue.PriorityAnalyzeChunk, time.Time{}, func(ctx context.Context) (any, error) {
		if pass == nil {
			begun, err := eng.BeginAnalyzePass(ctx)
			if err != nil {
				resolve(nil, err)
				return nil, nil
			}
			if begun == nil {
				resolve(nil, nil)
				return nil, nil
			}
			pass = begun
		}

		done, err := eng.RunAnalyzeStep(ctx, pass, engine.AnalyzeChunkBatchFiles)
		if err != nil {
			resolve(nil, err)
			return nil, nil
		}
		if done {
			resolve(nil, nil)
			return nil, nil
		}
		if chainErr := f.submitAnalyzeChain(eng, pass, resolve); chainErr != nil {
			resolve(nil, chainErr)
		}
		return nil, nil
	})
	return err
}

// GetStatus enqueues a status snapshot at get_status priority.
func (f *Facade) GetStatus() (*taskqueue.Handle, error) {
	eng := f.currentEngine()
	depth := f.queue.Depth()
	return f.queue.Submit(taskqueue.PriorityGetStats, time.Time{}, func(ctx context.Context) (any, error) {
		stats := eng.GetStats()
		stale, err := eng.IsStale(ctx)
		if err != nil {
			return nil, err
		}
		return Status{
			ChunksAnalyzed:     stats.ChunksAnalyzed,
			TotalFiles:         stats.TotalFiles,
			QueueDepth:         depth,
			LastAnalyzedAtUnix: stats.LastAnalyzedAtUnix,
			Stale:              stale,
		}, nil
	})
}

// ReloadConfig rebuilds the Engine from factory at maintenance priority,
// draining whatever is already queued ahead of it but never cancelling an
// in-flight query, then swaps it in and closes the old one.
func (f *Facade) ReloadConfig(ctx context.Context) (*taskqueue.Handle, error) {
	return f.queue.Submit(taskqueue.PriorityMaintenance, time.Time{}, func(taskCtx context.Context) (any, error) {
		newEng, err := f.factory(taskCtx)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		old := f.eng
		f.eng = newEng
		f.mu.Unlock()

		if err := old.Close(); err != nil {
			f.logger.Printf("reload_config: closing previous engine: %v", err)
		}
		return nil, nil
	})
}

// Close drains the Task Queue and releases the live Engine.
func (f *Facade) Close() error {
	f.queue.Close()
	return f.currentEngine().Close()
}

// applyFilters prunes result's blocks in place per the path globs and
// truncates to MaxResults, leaving ranking order untouched.
func applyFilters(result *types.Result, filters Filters) {
	if len(filters.IncludeGlobs) == 0 && len(filters.ExcludeGlobs) == 0 && filters.MaxResults <= 0 {
		return
	}

	kept := make([]types.ResultBlock, 0, len(result.Blocks))
	for _, b := range result.Blocks {
		if !pathMatchesFilters(b.Path, filters) {
			continue
		}
		kept = append(kept, b)
	}
	if filters.MaxResults > 0 && len(kept) > filters.MaxResults {
		kept = kept[:filters.MaxResults]
	}
	result.Blocks = kept
}

func pathMatchesFilters(path string, filters Filters) bool {
	for _, pattern := range filters.ExcludeGlobs {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return false
		}
	}
	if len(filters.IncludeGlobs) == 0 {
		return true
	}
	for _, pattern := range filters.IncludeGlobs {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
