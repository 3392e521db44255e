package git

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const DefaultAutoCommitInterval = 60 * time.Second

// AutoCommitConfig configures an AutoCommitter.
type AutoCommitConfig struct {
	Interval time.Duration
	Message  string

	// OnConflict, when set, is called after a tick that observed conflicted
	// paths.
	OnConflict func(paths []string)

	Logger *slog.Logger
}

// AutoCommitter periodically commits the whole working tree.
type AutoCommitter struct {
	repo       *Repository
	interval   time.Duration
	message    string
	onConflict func([]string)
	logger     *slog.Logger
}

func NewAutoCommitter(repo *Repository, cfg AutoCommitConfig) *AutoCommitter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAutoCommitInterval
	}
	if cfg.Message == "" {
		cfg.Message = DefaultCommitMessage
	}
	if cfg.Logger == nil {
		cfg.Logger = repo.logger
	}
	return &AutoCommitter{
		repo:       repo,
		interval:   cfg.Interval,
		message:    cfg.Message,
		onConflict: cfg.OnConflict,
		logger:     cfg.Logger,
	}
}

// Run ticks until ctx is done.
func (a *AutoCommitter) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("auto-commit started", "interval", a.interval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Debug("auto-commit stopped")
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick performs one auto-commit round and returns the commit outcome. A
// missing repository is skipped quietly; other failures are logged.
func (a *AutoCommitter) Tick(ctx context.Context) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	result, err := a.repo.CommitAll(a.message)
	switch {
	case errors.Is(err, ErrNotGitRepo):
		a.logger.Debug("auto-commit skipped, no repository", "root", a.repo.Root())
		return result, err
	case err != nil:
		a.logger.Warn("auto-commit failed", "error", err)
	case result.Outcome == OutcomeCommitted:
		a.logger.Info("auto-commit", "id", result.Commit.ID)
	}

	a.reportConflicts()
	return result, err
}

func (a *AutoCommitter) reportConflicts() {
	if a.onConflict == nil {
		return
	}
	paths, err := a.repo.CheckConflicts()
	if err != nil {
		a.logger.Debug("conflict check failed", "error", err)
		return
	}
	if len(paths) > 0 {
		a.onConflict(paths)
	}
}
