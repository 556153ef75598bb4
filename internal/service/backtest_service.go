package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/analytics"
	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/repository"
	"github.com/yourorg/derivatives-dashboard/internal/simulator"
	"github.com/yourorg/derivatives-dashboard/internal/validator"
)

// EventPublisher receives backtest lifecycle events. A nil publisher
// disables event publication.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, value interface{}) error
}

// RunEvent is the payload published on every run state transition
type RunEvent struct {
	RunID    string          `json:"run_id"`
	Strategy string          `json:"strategy"`
	Status   model.RunStatus `json:"status"`
	Progress float64         `json:"progress"`
	At       time.Time       `json:"at"`
}

// TradeGenerator produces the simulated trade log for a completed run.
// Injected so tests can pin the log to a fixed series.
type TradeGenerator func(cfg model.BacktestConfig) []model.Trade

// BacktestService orchestrates backtest run state transitions and
// drives progress. It is the single writer of run state; all mutation
// goes through the repository's write lock, so a stop is effective
// synchronously and a tick that lost the race observes the terminal
// status and becomes a no-op.
type BacktestService struct {
	repo         *repository.RunRepository
	publisher    EventPublisher
	logger       *zap.Logger
	tickInterval time.Duration
	topic        string

	progressSource func() simulator.Source
	tradeGen       TradeGenerator

	mu    sync.Mutex
	stops map[string]chan struct{}
}

// Option customizes a BacktestService
type Option func(*BacktestService)

// WithTickInterval overrides the progress tick cadence
func WithTickInterval(d time.Duration) Option {
	return func(s *BacktestService) { s.tickInterval = d }
}

// WithProgressSource overrides the per-run progress increment source
func WithProgressSource(factory func() simulator.Source) Option {
	return func(s *BacktestService) { s.progressSource = factory }
}

// WithTradeGenerator overrides the simulated trade log generator
func WithTradeGenerator(gen TradeGenerator) Option {
	return func(s *BacktestService) { s.tradeGen = gen }
}

// WithPublisher attaches a lifecycle event publisher
func WithPublisher(p EventPublisher, topic string) Option {
	return func(s *BacktestService) {
		s.publisher = p
		s.topic = topic
	}
}

// NewBacktestService creates a new backtest engine
func NewBacktestService(repo *repository.RunRepository, logger *zap.Logger, opts ...Option) *BacktestService {
	s := &BacktestService{
		repo:         repo,
		logger:       logger,
		tickInterval: time.Second,
		topic:        "backtest-events",
		stops:        make(map[string]chan struct{}),
	}
	s.progressSource = func() simulator.Source {
		return simulator.NewRamp(100, 18, time.Now().UnixNano())
	}
	s.tradeGen = func(cfg model.BacktestConfig) []model.Trade {
		return SimulateTrades(cfg, time.Now().UnixNano())
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates a configuration and stores a new run in DRAFT with
// progress 0. On any violation it returns a *model.ValidationError and
// stores nothing.
func (s *BacktestService) Create(ctx context.Context, req *model.CreateBacktestRequest) (*model.BacktestRun, error) {
	cfg := model.BacktestConfig{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Strategy:       req.Strategy,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
		Parameters:     req.Parameters,
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Strategy + " backtest"
	}

	if err := validator.ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	run := &model.BacktestRun{
		Config:    cfg,
		Status:    model.RunStatusDraft,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}
	s.repo.Insert(ctx, run)

	s.logger.Info("Backtest run created",
		zap.String("runID", cfg.ID),
		zap.String("strategy", cfg.Strategy))

	s.publish(ctx, run.Clone())
	return run.Clone(), nil
}

// Start transitions a DRAFT run to RUNNING and begins progress
// advancement. Starting a run in any other status fails with
// IllegalTransitionError and leaves the run unchanged.
func (s *BacktestService) Start(ctx context.Context, id string) error {
	var snapshot *model.BacktestRun
	err := s.repo.Update(ctx, id, func(run *model.BacktestRun) error {
		if run.Status != model.RunStatusDraft {
			return &model.IllegalTransitionError{Action: "start", From: run.Status}
		}
		now := time.Now().UTC()
		run.Status = model.RunStatusRunning
		run.StartedAt = &now
		snapshot = run.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.stops[id] = stop
	s.mu.Unlock()

	go s.advance(id, stop)

	s.logger.Info("Backtest run started", zap.String("runID", id))
	s.publish(ctx, snapshot)
	return nil
}

// Stop transitions a RUNNING run to FAILED. The flip is synchronous:
// once Stop returns, any in-flight tick is a no-op. No result is
// produced for a stopped run.
func (s *BacktestService) Stop(ctx context.Context, id string) error {
	var snapshot *model.BacktestRun
	err := s.repo.Update(ctx, id, func(run *model.BacktestRun) error {
		if run.Status != model.RunStatusRunning {
			return &model.IllegalTransitionError{Action: "stop", From: run.Status}
		}
		now := time.Now().UTC()
		run.Status = model.RunStatusFailed
		run.Error = "stopped by user"
		run.CompletedAt = &now
		snapshot = run.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	s.halt(id)

	s.logger.Info("Backtest run stopped", zap.String("runID", id))
	s.publish(ctx, snapshot)
	return nil
}

// Get returns a snapshot of one run
func (s *BacktestService) Get(ctx context.Context, id string) (*model.BacktestRun, error) {
	return s.repo.Get(ctx, id)
}

// List returns snapshots of all runs, newest first
func (s *BacktestService) List(ctx context.Context) []*model.BacktestRun {
	return s.repo.List(ctx)
}

// advance drives one run's progress on its own ticker until the run
// reaches a terminal state
func (s *BacktestService) advance(id string, stop chan struct{}) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	src := s.progressSource()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if done := s.tick(id, src); done {
				s.halt(id)
				return
			}
		}
	}
}

// tick advances progress by one bounded increment. It reports true when
// the run has reached a terminal state and the ticker should stop.
func (s *BacktestService) tick(id string, src simulator.Source) bool {
	ctx := context.Background()
	done := false
	var snapshot *model.BacktestRun

	err := s.repo.Update(ctx, id, func(run *model.BacktestRun) error {
		if run.Status != model.RunStatusRunning {
			done = true
			return nil
		}

		next := src.Next(run.Progress)
		if next < run.Progress {
			next = run.Progress
		}
		if next > 100 {
			next = 100
		}
		run.Progress = next

		if next < 100 {
			return nil
		}

		// Progress hit 100: aggregate synchronously, then complete.
		trades := s.tradeGen(run.Config)
		run.Result = analytics.Aggregate(trades, run.Config.InitialCapital)
		now := time.Now().UTC()
		run.Status = model.RunStatusCompleted
		run.CompletedAt = &now
		done = true
		snapshot = run.Clone()
		return nil
	})
	if err != nil {
		s.logger.Error("Progress tick failed", zap.Error(err), zap.String("runID", id))
		return true
	}

	if snapshot != nil {
		s.logger.Info("Backtest run completed",
			zap.String("runID", id),
			zap.Int("totalTrades", snapshot.Result.TotalTrades),
			zap.Float64("totalReturn", snapshot.Result.TotalReturn))
		s.publish(ctx, snapshot)
	}
	return done
}

// halt releases the stop channel for a run, if one is still registered
func (s *BacktestService) halt(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stops[id]; ok {
		close(stop)
		delete(s.stops, id)
	}
}

// publish emits a lifecycle event when a publisher is configured
func (s *BacktestService) publish(ctx context.Context, run *model.BacktestRun) {
	if s.publisher == nil || run == nil {
		return
	}
	event := RunEvent{
		RunID:    run.Config.ID,
		Strategy: run.Config.Strategy,
		Status:   run.Status,
		Progress: run.Progress,
		At:       time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.topic, run.Config.ID, event); err != nil {
		s.logger.Warn("Failed to publish run event",
			zap.Error(err),
			zap.String("runID", run.Config.ID))
	}
}
