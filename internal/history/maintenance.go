package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/syncbridge/core/internal/storage"
)

// FrecencySweeper periodically drains history_stale_frecencies in the
// background, so a long session of browsing doesn't leave frecency
// scores stale until the next sync happens to flush them. Singleton
// mode skips a tick if the previous sweep is still running.
type FrecencySweeper struct {
	cron   gocron.Scheduler
	db     *sql.DB
	logger *zap.Logger
}

// NewFrecencySweeper builds a sweeper against db; call Start to begin
// firing on interval.
func NewFrecencySweeper(db *sql.DB, logger *zap.Logger) (*FrecencySweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("history: create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrecencySweeper{cron: s, db: db, logger: logger.Named("history.frecency")}, nil
}

// Start schedules the sweep at the given interval and starts the
// underlying gocron scheduler.
func (f *FrecencySweeper) Start(interval time.Duration) error {
	_, err := f.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			scope := storage.NewInterruptScope(context.Background())
			if err := RecomputeStaleFrecencies(scope.Context(), f.db, scope, storage.NowMillis()); err != nil {
				f.logger.Warn("stale frecency sweep failed", zap.Error(err))
			}
		}),
		gocron.WithTags("history-frecency-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("history: schedule frecency sweep: %w", err)
	}
	f.cron.Start()
	return nil
}

// Stop shuts the sweeper down, waiting for any in-flight sweep to finish.
func (f *FrecencySweeper) Stop() error {
	return f.cron.Shutdown()
}
