// Package docshot captures full-page screenshots of a fixed list of URLs,
// compares each capture with the previous one of the same URL, and writes a
// visual diff whenever pixels differ.
//
// A Runner executes cycles. A Scheduler triggers them on a cron expression;
// the HTTP API and MCP tools trigger them on demand. All triggers share the
// Runner's single-slot guard, so cycles never overlap.
package docshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hazyhaar/docshot/docshot/internal/browser"
	"github.com/hazyhaar/docshot/docshot/internal/ledger"
	"github.com/hazyhaar/docshot/docshot/internal/pixeldiff"
	"github.com/hazyhaar/docshot/docshot/internal/report"
	"github.com/hazyhaar/docshot/docshot/internal/sink"
	"github.com/hazyhaar/docshot/docshot/internal/snapshot"
	"github.com/hazyhaar/docshot/docshot/outcome"
)

// Capturer renders a URL at the given viewport and returns a full-page PNG.
// Errors should wrap ErrCaptureFailure.
type Capturer interface {
	Capture(ctx context.Context, url string, vp Viewport) ([]byte, error)
}

// Target is a configured URL and its derived identifier.
type Target struct {
	URL        string `json:"url"`
	Identifier string `json:"identifier"`
}

// Runner processes the configured targets one at a time.
type Runner struct {
	cfg      *Config
	targets  []Target
	byURL    map[string]Target
	capturer Capturer
	store    *snapshot.Store
	reporter *report.Reporter
	sinks    *sink.Router
	ledger   *ledger.Ledger
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	closers  []io.Closer

	running atomic.Bool
	last    atomic.Pointer[outcome.Cycle]
	wg      sync.WaitGroup
}

// Option configures a Runner during creation.
type Option func(*runnerOptions)

type runnerOptions struct {
	capturer Capturer
	sinks    []Sink
	ledgerDB *sql.DB
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	compare  Comparator
}

// WithCapturer replaces the default go-rod browser.
func WithCapturer(c Capturer) Option {
	return func(o *runnerOptions) { o.capturer = c }
}

// WithSinks replaces the sinks built from Config.Sinks.
func WithSinks(s ...Sink) Option {
	return func(o *runnerOptions) { o.sinks = s }
}

// WithLedgerDB records cycles in an already-opened SQLite database instead
// of Config.Ledger.Path. The caller keeps ownership of db.
func WithLedgerDB(db *sql.DB) Option {
	return func(o *runnerOptions) { o.ledgerDB = db }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *runnerOptions) { o.logger = l }
}

// WithClock overrides time.Now for snapshot stamps and result times.
func WithClock(now func() time.Time) Option {
	return func(o *runnerOptions) { o.now = now }
}

// WithIDGenerator overrides the UUIDv7 generator for cycle and result IDs.
func WithIDGenerator(gen func() string) Option {
	return func(o *runnerOptions) { o.newID = gen }
}

// Comparator counts the pixels of b that differ from a at threshold and
// renders a diff image. diff must be non-nil whenever diffPixels > 0.
type Comparator func(a, b image.Image, threshold float64) (diffPixels int, diff image.Image, err error)

// WithComparator replaces the pixelmatch comparison. Images of different
// sizes never reach c; they fail with ErrDimensionMismatch first.
func WithComparator(c Comparator) Option {
	return func(o *runnerOptions) { o.compare = c }
}

func (c Comparator) compareFunc() report.CompareFunc {
	if c == nil {
		return nil
	}
	return func(a, b image.Image, opts pixeldiff.Options) (pixeldiff.Result, error) {
		ab, bb := a.Bounds(), b.Bounds()
		if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
			return pixeldiff.Result{}, fmt.Errorf("%w: %dx%d vs %dx%d",
				ErrDimensionMismatch, ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
		}
		n, diff, err := c(a, b, opts.Threshold)
		if err != nil {
			return pixeldiff.Result{}, err
		}
		return pixeldiff.Result{DiffPixels: n, TotalPixels: ab.Dx() * ab.Dy(), Diff: diff}, nil
	}
}

// NewRunner validates cfg, derives target identifiers and creates the
// snapshot directories. cfg must not be modified afterwards.
func NewRunner(cfg *Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := runnerOptions{
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runner{
		cfg:    cfg,
		byURL:  make(map[string]Target, len(cfg.Targets)),
		logger: o.logger,
		now:    o.now,
		newID:  o.newID,
	}

	owner := make(map[string]string, len(cfg.Targets))
	for _, u := range cfg.Targets {
		id, err := Identifier(u)
		if err != nil {
			return nil, err
		}
		if prev, dup := owner[id]; dup {
			return nil, fmt.Errorf("%w: %s and %s share identifier %s", ErrInvalidInput, prev, u, id)
		}
		owner[id] = u
		t := Target{URL: u, Identifier: id}
		r.targets = append(r.targets, t)
		r.byURL[u] = t
	}

	store, err := snapshot.New(snapshot.Config{
		Dir:         cfg.Snapshot.Dir,
		DiffDir:     cfg.Snapshot.DiffDir,
		Granularity: snapshot.Granularity(cfg.Snapshot.Granularity),
		Keep:        cfg.Snapshot.Keep,
		Now:         o.now,
	})
	if err != nil {
		return nil, err
	}
	r.store = store
	r.reporter = report.New(report.Config{
		Store:     store,
		Threshold: cfg.Compare.Threshold,
		Compare:   o.compare.compareFunc(),
		Logger:    o.logger,
	})

	r.capturer = o.capturer
	if r.capturer == nil {
		mgr := browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Mode:             browser.ParseMode(cfg.Browser.Stealth),
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			NavTimeout:       cfg.Capture.NavTimeout,
			IdleWindow:       cfg.Capture.IdleWindow,
			Settle:           cfg.Capture.Settle,
			Logger:           o.logger,
		})
		r.capturer = &browserCapturer{mgr: mgr, opts: browser.CaptureOptions{HideSelectors: cfg.Capture.HideSelectors}}
		r.closers = append(r.closers, mgr)
	}

	sinks := o.sinks
	if sinks == nil {
		if sinks, err = buildSinks(cfg.Sinks, o.logger); err != nil {
			return nil, err
		}
	}
	r.sinks = sink.NewRouter(o.logger, sinks...)

	switch {
	case o.ledgerDB != nil:
		if r.ledger, err = ledger.New(o.ledgerDB); err != nil {
			return nil, err
		}
	case cfg.Ledger.Path != "":
		if r.ledger, err = ledger.Open(cfg.Ledger.Path); err != nil {
			return nil, err
		}
	}
	if r.ledger != nil {
		r.sinks.Add(r.ledger)
	}
	return r, nil
}

// browserCapturer adapts browser.Manager to Capturer.
type browserCapturer struct {
	mgr  *browser.Manager
	opts browser.CaptureOptions
}

func (b *browserCapturer) Capture(ctx context.Context, url string, vp Viewport) ([]byte, error) {
	return b.mgr.Capture(ctx, url, vp, b.opts)
}

// Targets returns the configured targets in order.
func (r *Runner) Targets() []Target {
	return append([]Target(nil), r.targets...)
}

// Running reports whether a cycle is active.
func (r *Runner) Running() bool { return r.running.Load() }

// LastCycle returns the most recently finished cycle, or nil.
func (r *Runner) LastCycle() *outcome.Cycle { return r.last.Load() }

// Run processes every configured target.
func (r *Runner) Run(ctx context.Context) (*outcome.Cycle, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)
	return r.cycle(ctx, r.newID(), r.targets)
}

// RunTargets processes a subset of the configured targets, in configuration
// order. Every URL must be configured.
func (r *Runner) RunTargets(ctx context.Context, urls []string) (*outcome.Cycle, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no targets given", ErrInvalidInput)
	}
	targets, err := r.selectTargets(urls)
	if err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)
	return r.cycle(ctx, r.newID(), targets)
}

// Start launches a cycle in the background and returns its ID. An empty
// urls runs every target. ctx bounds the cycle, not the call.
func (r *Runner) Start(ctx context.Context, urls []string) (string, error) {
	targets := r.targets
	if len(urls) > 0 {
		var err error
		if targets, err = r.selectTargets(urls); err != nil {
			return "", err
		}
	}
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}
	id := r.newID()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		if _, err := r.cycle(ctx, id, targets); err != nil {
			r.logger.Warn("docshot: background cycle ended early", "cycle_id", id, "error", err)
		}
	}()
	return id, nil
}

// Wait blocks until background cycles started with Start have finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Close waits for background cycles, then releases the browser and sinks.
func (r *Runner) Close() error {
	r.wg.Wait()
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.sinks.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Runner) selectTargets(urls []string) ([]Target, error) {
	want := lo.SliceToMap(urls, func(u string) (string, bool) { return u, true })
	for u := range want {
		if _, ok := r.byURL[u]; !ok {
			return nil, fmt.Errorf("%w: %q is not a configured target", ErrInvalidInput, u)
		}
	}
	return lo.Filter(r.targets, func(t Target, _ int) bool { return want[t.URL] }), nil
}

// cycle runs targets sequentially. The caller holds the guard.
func (r *Runner) cycle(ctx context.Context, id string, targets []Target) (*outcome.Cycle, error) {
	c := &outcome.Cycle{ID: id, StartedAt: r.now().UTC()}
	// Results are recorded even when ctx is cancelled mid-cycle.
	emitCtx := context.WithoutCancel(ctx)
	r.logger.Info("docshot: starting visual diff check", "cycle_id", id, "targets", len(targets))

	for i, t := range targets {
		if ctx.Err() != nil {
			r.skipRest(emitCtx, c, targets[i:], outcome.KindCancelled, "cancelled")
			break
		}

		res := r.process(ctx, id, t)
		c.Results = append(c.Results, res)
		r.emit(emitCtx, res)

		if res.Status == outcome.StatusFailed && r.cfg.FailFast {
			c.Aborted = true
			r.logger.Error("docshot: aborting cycle after failure", "cycle_id", id, "url", t.URL)
			r.skipRest(emitCtx, c, targets[i+1:], outcome.KindNone, "aborted after "+t.URL+" failed")
			break
		}
	}

	c.FinishedAt = r.now().UTC()
	if err := r.sinks.SendCycle(emitCtx, *c); err != nil {
		r.logger.Warn("docshot: cycle delivery failed", "cycle_id", id, "error", err)
	}
	if r.ledger != nil {
		if err := r.ledger.Cleanup(emitCtx, r.cfg.Ledger.RetentionDays); err != nil {
			r.logger.Warn("docshot: ledger cleanup failed", "error", err)
		}
	}
	r.last.Store(c)

	s := c.Summarize()
	r.logger.Info("docshot: visual diff check finished",
		"cycle_id", id,
		"targets", s.Targets,
		"baseline", s.Baseline,
		"unchanged", s.Unchanged,
		"changed", s.Changed,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"aborted", c.Aborted,
		"duration", c.FinishedAt.Sub(c.StartedAt),
	)
	if err := ctx.Err(); err != nil {
		return c, err
	}
	return c, nil
}

func (r *Runner) skipRest(ctx context.Context, c *outcome.Cycle, rest []Target, kind outcome.ErrorKind, reason string) {
	for _, t := range rest {
		res := outcome.TargetResult{
			ID:         r.newID(),
			CycleID:    c.ID,
			URL:        t.URL,
			Identifier: t.Identifier,
			Status:     outcome.StatusSkipped,
			ErrorKind:  kind,
			Error:      reason,
			CheckedAt:  r.now().UTC(),
		}
		c.Results = append(c.Results, res)
		r.emit(ctx, res)
	}
}

func (r *Runner) emit(ctx context.Context, res outcome.TargetResult) {
	if err := r.sinks.SendResult(ctx, res); err != nil {
		r.logger.Warn("docshot: result delivery failed", "url", res.URL, "error", err)
	}
}

// process runs capture, resolve, compare and report for one target.
// Failures end up in the result, never in a returned error.
func (r *Runner) process(ctx context.Context, cycleID string, t Target) outcome.TargetResult {
	start := time.Now()
	res := outcome.TargetResult{
		ID:         r.newID(),
		CycleID:    cycleID,
		URL:        t.URL,
		Identifier: t.Identifier,
	}
	done := func(status outcome.Status) outcome.TargetResult {
		res.Status = status
		res.Duration = time.Since(start)
		res.CheckedAt = r.now().UTC()
		return res
	}
	fail := func(err error) outcome.TargetResult {
		res.ErrorKind = ErrorKindOf(err)
		res.Error = err.Error()
		if ctx.Err() != nil {
			res.ErrorKind = outcome.KindCancelled
			r.logger.Warn("docshot: target interrupted", "url", t.URL, "error", err)
			return done(outcome.StatusSkipped)
		}
		r.logger.Error("docshot: target failed", "url", t.URL, "kind", res.ErrorKind, "error", err)
		return done(outcome.StatusFailed)
	}

	r.logger.Info("docshot: processing", "url", t.URL, "identifier", t.Identifier)

	vp := Viewport{Width: r.cfg.Viewport.Width, Height: r.cfg.Viewport.Height}
	png, err := r.capturer.Capture(ctx, t.URL, vp)
	if err != nil {
		return fail(err)
	}
	path, err := r.store.Write(t.Identifier, png)
	if err != nil {
		return fail(err)
	}
	res.SnapshotPath = path
	r.logger.Info("docshot: screenshot captured", "url", t.URL, "path", path)

	newest, previous, ok, err := r.store.Pair(t.Identifier)
	if err != nil {
		return fail(err)
	}
	if !ok {
		r.logger.Info("docshot: baseline recorded, nothing to compare yet", "url", t.URL)
		r.prune(t)
		return done(outcome.StatusBaseline)
	}

	diff, err := r.reporter.Compare(ctx, t.URL, t.Identifier, previous, newest)
	if err != nil {
		return fail(err)
	}
	r.prune(t)
	if diff == nil {
		r.logger.Info("docshot: no visual differences detected", "url", t.URL)
		return done(outcome.StatusUnchanged)
	}
	res.Diff = diff
	r.logger.Info("docshot: visual differences detected",
		"url", t.URL,
		"diff_pixels", diff.DiffPixels,
		"ratio", diff.Ratio(),
		"diff_path", diff.DiffPath,
	)
	return done(outcome.StatusChanged)
}

func (r *Runner) prune(t Target) {
	removed, err := r.store.Prune(t.Identifier)
	if err != nil {
		r.logger.Warn("docshot: prune failed", "identifier", t.Identifier, "error", err)
		return
	}
	if len(removed) > 0 {
		r.logger.Debug("docshot: pruned snapshots", "identifier", t.Identifier, "removed", len(removed))
	}
}
