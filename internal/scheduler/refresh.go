package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"smartvalue/internal/domain"
	"smartvalue/internal/engine"
	"smartvalue/internal/util"
)

// RefreshJob re-analyzes every stored watchlist.
type RefreshJob struct {
	engine    *engine.Engine
	log       *slog.Logger
	calendars []*util.TradingCalendar
	now       func() time.Time
}

// NewRefreshJob creates a job refreshing all users through eng. When
// marketHoursOnly is set, runs are skipped while every market is closed.
func NewRefreshJob(eng *engine.Engine, marketHoursOnly bool, log *slog.Logger) *RefreshJob {
	j := &RefreshJob{engine: eng, log: log, now: time.Now}
	if marketHoursOnly {
		for _, m := range domain.Markets {
			j.calendars = append(j.calendars, util.NewTradingCalendar(m))
		}
	}
	return j
}

// Name returns "refresh-all".
func (j *RefreshJob) Name() string { return "refresh-all" }

// Run refreshes each user in turn. A user whose bulk refresh is already
// running is skipped.
func (j *RefreshJob) Run(ctx context.Context) error {
	if !j.anyMarketOpen() {
		j.log.Debug("all markets closed, skipping refresh")
		return nil
	}

	users, err := j.engine.Watchlist().Users(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	var errs []error
	for _, user := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		outcomes, err := j.engine.RefreshAll(ctx, user)
		switch {
		case errors.Is(err, engine.ErrRefreshInProgress):
			j.log.Info("refresh already running, skipping", "user", user)
		case err != nil:
			errs = append(errs, fmt.Errorf("refreshing %s: %w", user, err))
		default:
			j.log.Info("scheduled refresh done", "user", user, "instruments", len(outcomes))
		}
	}
	return errors.Join(errs...)
}

func (j *RefreshJob) anyMarketOpen() bool {
	if len(j.calendars) == 0 {
		return true
	}
	now := j.now()
	for _, c := range j.calendars {
		if c.IsMarketOpen(now) {
			return true
		}
	}
	return false
}
