package repository

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

// RunRepository stores backtest runs in memory. History is append-only:
// runs are inserted once and updated in place by the engine, never
// deleted. The engine is the single writer; readers receive clones.
type RunRepository struct {
	mu     sync.RWMutex
	runs   map[string]*model.BacktestRun
	order  []string
	logger *zap.Logger
}

// NewRunRepository creates a new in-memory run repository
func NewRunRepository(logger *zap.Logger) *RunRepository {
	return &RunRepository{
		runs:   make(map[string]*model.BacktestRun),
		logger: logger,
	}
}

// Insert adds a newly created run to the history
func (r *RunRepository) Insert(ctx context.Context, run *model.BacktestRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.Config.ID] = run
	r.order = append(r.order, run.Config.ID)

	r.logger.Debug("Backtest run stored",
		zap.String("runID", run.Config.ID),
		zap.String("strategy", run.Config.Strategy))
}

// Get returns a snapshot of the run with the given ID
func (r *RunRepository) Get(ctx context.Context, id string) (*model.BacktestRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, model.ErrRunNotFound
	}
	return run.Clone(), nil
}

// List returns snapshots of all runs in insertion order, newest first
func (r *RunRepository) List(ctx context.Context) []*model.BacktestRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.BacktestRun, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.runs[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies a mutation to the stored run under the write lock.
// Only the engine calls this; the mutation sees the live run, readers
// never do. An error from the mutation is returned unchanged and means
// the run was left as it was.
func (r *RunRepository) Update(ctx context.Context, id string, mutate func(*model.BacktestRun) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return model.ErrRunNotFound
	}
	return mutate(run)
}

// Count returns the number of stored runs
func (r *RunRepository) Count(ctx context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
