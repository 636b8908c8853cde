// Package engine coordinates analysis refreshes across the watchlist store,
// the analyzer and the optional broker mirror.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"smartvalue/internal/analysis"
	"smartvalue/internal/domain"
	"smartvalue/internal/watchlist"
)

// Error labels shown next to an instrument after a failed refresh.
const (
	LabelRateLimited     = "API rate limited (429): please retry later"
	LabelFailed          = "analysis failed"
	LabelBulkRateLimited = "API rate limited"
	LabelBulkFailed      = "failed"
)

// OutcomeCancelled is the Outcome error of an instrument whose refresh was
// abandoned because the caller's context ended. It is never stored on the
// instrument.
const OutcomeCancelled = "cancelled"

// ErrRefreshInProgress is returned when a bulk refresh for the same user is
// already running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Mirror receives add/remove notifications for instruments, e.g. to keep a
// broker-side watchlist in sync.
type Mirror interface {
	Name() string
	Add(ctx context.Context, inst domain.Instrument) error
	Remove(ctx context.Context, inst domain.Instrument) error
}

// Outcome is the result of refreshing one instrument during a bulk refresh.
type Outcome struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Engine orchestrates refreshes by delegating to the analyzer for data and
// to the watchlist store for state.
type Engine struct {
	watchlist  *watchlist.Store
	analyzer   analysis.Analyzer
	guard      *RefreshGuard
	mirror     Mirror
	maxWorkers int
	log        *slog.Logger

	bg sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithMirror installs a Mirror notified on add/remove.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithMaxWorkers bounds the concurrency of bulk refreshes. Zero or less
// means one goroutine per instrument.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) { e.maxWorkers = n }
}

// NewEngine creates a new Engine wired with the given dependencies.
func NewEngine(wl *watchlist.Store, analyzer analysis.Analyzer, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		watchlist: wl,
		analyzer:  analyzer,
		guard:     NewRefreshGuard(),
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Watchlist returns the underlying store.
func (e *Engine) Watchlist() *watchlist.Store { return e.watchlist }

// Refreshing reports whether a bulk refresh is running for user.
func (e *Engine) Refreshing(user string) bool { return e.guard.Running(userKey(user)) }

// RefreshOne re-analyzes a single instrument. Analysis failures are recorded
// on the instrument (keeping its previous analysis) rather than returned;
// the error is non-nil only when the instrument cannot be found or loaded.
// If ctx ends first the instrument is put back as it was.
func (e *Engine) RefreshOne(ctx context.Context, user, id string) (domain.Instrument, error) {
	prev, err := e.watchlist.Get(ctx, user, id)
	if err != nil {
		return domain.Instrument{}, err
	}
	marked, err := e.watchlist.MarkAnalyzing(ctx, user, id)
	if err != nil {
		return domain.Instrument{}, err
	}
	if len(marked) == 0 {
		return domain.Instrument{}, watchlist.ErrNotFound
	}
	return e.refresh(ctx, user, marked[0], prev.Error), nil
}

// refresh runs the analysis for an already-marked instrument and records
// the outcome with single-refresh labels. prevErr is the label to restore
// when the caller gives up.
func (e *Engine) refresh(ctx context.Context, user string, inst domain.Instrument, prevErr string) domain.Instrument {
	a, err := e.analyzer.AnalyzeInstrument(ctx, inst)

	var updated domain.Instrument
	var applyErr error
	switch {
	case err != nil && ctx.Err() != nil:
		e.log.Info("refresh abandoned", "user", userKey(user), "symbol", inst.Symbol, "error", err)
		updated, applyErr = e.restore(ctx, user, inst.ID, prevErr)
	case err != nil:
		label := LabelFailed
		if analysis.IsRateLimited(err) {
			label = LabelRateLimited
		}
		e.log.Warn("refresh failed", "user", userKey(user), "symbol", inst.Symbol, "error", err)
		updated, applyErr = e.watchlist.ApplyError(context.WithoutCancel(ctx), user, inst.ID, label, false)
	default:
		updated, applyErr = e.watchlist.ApplyAnalysis(context.WithoutCancel(ctx), user, inst.ID, a)
	}
	if applyErr != nil {
		// Removed while the request was in flight.
		e.log.Debug("refresh result discarded", "user", userKey(user), "id", inst.ID, "error", applyErr)
		return inst
	}
	return updated
}

// RefreshAll re-analyzes every instrument of user concurrently. Each outcome
// is applied independently; failures drop the stale analysis and carry the
// bulk labels. An empty list is a no-op. Instruments still in flight when
// ctx ends keep their previous analysis and error.
func (e *Engine) RefreshAll(ctx context.Context, user string) ([]Outcome, error) {
	key := userKey(user)
	if !e.guard.TryAcquire(key) {
		return nil, ErrRefreshInProgress
	}
	defer e.guard.Release(key)

	list, err := e.watchlist.List(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Outcome{}, nil
	}

	marked, err := e.watchlist.MarkAnalyzing(ctx, user)
	if err != nil {
		return nil, err
	}

	prevErr := make(map[string]string, len(list))
	for _, inst := range list {
		prevErr[inst.ID] = inst.Error
	}

	e.log.Info("refresh all started", "user", key, "instruments", len(marked))

	outcomes := make([]Outcome, len(marked))
	var g errgroup.Group
	if e.maxWorkers > 0 {
		g.SetLimit(e.maxWorkers)
	}
	for i, inst := range marked {
		g.Go(func() error {
			outcomes[i] = e.refreshBulk(ctx, user, inst, prevErr[inst.ID])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.OK {
			failed++
		}
	}
	e.log.Info("refresh all complete", "user", key, "instruments", len(outcomes), "failed", failed)
	return outcomes, nil
}

func (e *Engine) refreshBulk(ctx context.Context, user string, inst domain.Instrument, prevErr string) Outcome {
	out := Outcome{ID: inst.ID, Symbol: inst.Symbol}
	a, err := e.analyzer.AnalyzeInstrument(ctx, inst)

	var applyErr error
	switch {
	case err != nil && ctx.Err() != nil:
		out.Error = OutcomeCancelled
		_, applyErr = e.restore(ctx, user, inst.ID, prevErr)
	case err != nil:
		out.Error = LabelBulkFailed
		if analysis.IsRateLimited(err) {
			out.Error = LabelBulkRateLimited
		}
		e.log.Warn("bulk refresh item failed", "user", userKey(user), "symbol", inst.Symbol, "error", err)
		_, applyErr = e.watchlist.ApplyError(context.WithoutCancel(ctx), user, inst.ID, out.Error, true)
	default:
		out.OK = true
		_, applyErr = e.watchlist.ApplyAnalysis(context.WithoutCancel(ctx), user, inst.ID, a)
	}
	if applyErr != nil {
		e.log.Debug("bulk refresh result discarded", "user", userKey(user), "id", inst.ID, "error", applyErr)
	}
	return out
}

// restore clears the analyzing flag and puts back the previous error label,
// leaving the stored analysis untouched.
func (e *Engine) restore(ctx context.Context, user, id, prevErr string) (domain.Instrument, error) {
	return e.watchlist.ApplyError(context.WithoutCancel(ctx), user, id, prevErr, false)
}

// AddAndAnalyze adds an instrument and starts its first analysis in the
// background. The returned instrument is already marked as analyzing.
func (e *Engine) AddAndAnalyze(ctx context.Context, user string, in watchlist.NewInstrument) (domain.Instrument, error) {
	inst, err := e.watchlist.Add(ctx, user, in)
	if err != nil {
		return domain.Instrument{}, err
	}
	e.notifyMirror(ctx, inst, true)

	marked, err := e.watchlist.MarkAnalyzing(ctx, user, inst.ID)
	if err != nil || len(marked) == 0 {
		return inst, err
	}

	bgCtx := context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.refresh(bgCtx, user, marked[0], "")
	}()
	return marked[0], nil
}

// Remove deletes an instrument and notifies the mirror.
func (e *Engine) Remove(ctx context.Context, user, id string) (domain.Instrument, error) {
	inst, err := e.watchlist.Remove(ctx, user, id)
	if err != nil {
		return domain.Instrument{}, err
	}
	e.notifyMirror(ctx, inst, false)
	return inst, nil
}

// History returns the price trend for one of user's instruments.
func (e *Engine) History(ctx context.Context, user, id string, r domain.TimeRange) ([]domain.PricePoint, error) {
	inst, err := e.watchlist.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return e.analyzer.FetchHistory(ctx, inst, r)
}

// MarketOverview returns the cross-market sentiment summary.
func (e *Engine) MarketOverview(ctx context.Context, r domain.TimeRange) ([]domain.MarketSentiment, error) {
	return e.analyzer.MarketOverview(ctx, r)
}

// Wait blocks until background refreshes started by AddAndAnalyze finish.
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) notifyMirror(ctx context.Context, inst domain.Instrument, added bool) {
	if e.mirror == nil {
		return
	}
	var err error
	if added {
		err = e.mirror.Add(ctx, inst)
	} else {
		err = e.mirror.Remove(ctx, inst)
	}
	if err != nil {
		e.log.Warn("mirror update failed", "mirror", e.mirror.Name(), "symbol", inst.Symbol, "added", added, "error", err)
	}
}

func userKey(user string) string {
	if user == "" {
		return domain.GuestUser
	}
	return user
}
