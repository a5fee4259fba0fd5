package docshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/docshot/docshot/internal/pixeldiff"
	"github.com/hazyhaar/docshot/docshot/outcome"

	_ "modernc.org/sqlite"
)

const (
	urlA = "https://docs.example.com/api/a"
	urlB = "https://docs.example.com/api/b"
	urlC = "https://docs.example.com/api/c"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// page returns a w×h white image with the first n pixels painted black.
func page(w, h, n int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		c := color.NRGBA{255, 255, 255, 255}
		if i < n {
			c = color.NRGBA{0, 0, 0, 255}
		}
		img.SetNRGBA(i%w, i/w, c)
	}
	return img
}

type fakeCapturer struct {
	mu    sync.Mutex
	pages map[string]image.Image
	fail  map[string]error
	calls []string
	// hook runs before each capture.
	hook func(ctx context.Context, url string)
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		pages: map[string]image.Image{},
		fail:  map[string]error{},
	}
}

func (f *fakeCapturer) set(url string, img image.Image) {
	f.mu.Lock()
	f.pages[url] = img
	f.mu.Unlock()
}

func (f *fakeCapturer) Capture(ctx context.Context, url string, vp Viewport) ([]byte, error) {
	if f.hook != nil {
		f.hook(ctx, url)
	}
	f.mu.Lock()
	f.calls = append(f.calls, url)
	img, ok := f.pages[url]
	err := f.fail[url]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailure, err)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		img = page(vp.Width/16, vp.Height/16, 0)
	}
	return pixeldiff.EncodePNG(img)
}

type recorder struct {
	mu      sync.Mutex
	results []outcome.TargetResult
	cycles  []outcome.Cycle
}

func (r *recorder) sink() Sink {
	return NewCallbackSink(
		func(_ context.Context, res outcome.TargetResult) error {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
			return nil
		},
		func(_ context.Context, c outcome.Cycle) error {
			r.mu.Lock()
			r.cycles = append(r.cycles, c)
			r.mu.Unlock()
			return nil
		},
	)
}

type testEnv struct {
	runner *Runner
	cap    *fakeCapturer
	clock  *testClock
	rec    *recorder
	cfg    *Config
}

func newTestEnv(t *testing.T, targets []string, mutate func(*Config), opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &Config{Targets: targets}
	cfg.Snapshot.Dir = filepath.Join(dir, "screenshots")
	cfg.Snapshot.DiffDir = filepath.Join(dir, "diffs")
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()

	env := &testEnv{cap: newFakeCapturer(), clock: newTestClock(), rec: &recorder{}, cfg: cfg}
	base := []Option{
		WithCapturer(env.cap),
		WithClock(env.clock.Now),
		WithSinks(env.rec.sink()),
	}
	r, err := NewRunner(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	env.runner = r
	return env
}

func statuses(c *outcome.Cycle) []outcome.Status {
	out := make([]outcome.Status, len(c.Results))
	for i, r := range c.Results {
		out[i] = r.Status
	}
	return out
}

func wantStatuses(t *testing.T, c *outcome.Cycle, want ...outcome.Status) {
	t.Helper()
	got := statuses(c)
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

func TestRun_TwoDayScenario(t *testing.T) {
	// WHAT: Day 1 records baselines; day 2 finds A unchanged and B changed by 500 px.
	// WHY: This is the core promise of the service.
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	env := newTestEnv(t, []string{urlA, urlB}, nil, WithLedgerDB(db))
	env.cap.set(urlA, page(100, 50, 0))
	env.cap.set(urlB, page(100, 50, 0))
	ctx := context.Background()

	day1, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatalf("day 1: %v", err)
	}
	wantStatuses(t, day1, outcome.StatusBaseline, outcome.StatusBaseline)

	env.clock.Advance(24 * time.Hour)
	env.cap.set(urlB, page(100, 50, 500))

	day2, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatalf("day 2: %v", err)
	}
	wantStatuses(t, day2, outcome.StatusUnchanged, outcome.StatusChanged)

	d := day2.Results[1].Diff
	if d == nil || d.DiffPixels != 500 || d.TotalPixels != 5000 {
		t.Fatalf("diff = %+v", d)
	}
	idB, _ := Identifier(urlB)
	wantDiff := filepath.Join(env.cfg.Snapshot.DiffDir, idB+"_diff_2024-01-02.png")
	if d.DiffPath != wantDiff {
		t.Errorf("diff path = %s, want %s", d.DiffPath, wantDiff)
	}
	if _, err := os.Stat(wantDiff); err != nil {
		t.Errorf("diff artifact missing: %v", err)
	}
	if d.PreviousPath != filepath.Join(env.cfg.Snapshot.Dir, idB+"_2024-01-01.png") {
		t.Errorf("previous = %s", d.PreviousPath)
	}

	entries, _ := os.ReadDir(env.cfg.Snapshot.DiffDir)
	if len(entries) != 1 {
		t.Errorf("diff dir has %d files, want 1 (none for unchanged A)", len(entries))
	}

	if got := len(env.rec.results); got != 4 {
		t.Errorf("sink results = %d, want 4", got)
	}
	if got := len(env.rec.cycles); got != 2 {
		t.Errorf("sink cycles = %d, want 2", got)
	}

	cycles, err := env.runner.Cycles(ctx, 10)
	if err != nil {
		t.Fatalf("ledger cycles: %v", err)
	}
	if len(cycles) != 2 || cycles[0].ID != day2.ID || cycles[0].Summary.Changed != 1 {
		t.Errorf("ledger cycles = %+v", cycles)
	}
	if env.runner.LastCycle().ID != day2.ID {
		t.Error("LastCycle should be day 2")
	}
}

func TestRun_SingleSnapshotIsBaseline(t *testing.T) {
	env := newTestEnv(t, []string{urlA}, nil)
	c, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	wantStatuses(t, c, outcome.StatusBaseline)
	if c.Results[0].Diff != nil {
		t.Error("baseline should carry no diff")
	}
	if _, err := os.Stat(c.Results[0].SnapshotPath); err != nil {
		t.Errorf("snapshot not written: %v", err)
	}
}

func TestRun_SameDayRerunReplacesSnapshot(t *testing.T) {
	// WHAT: Two runs on one day under day granularity leave one snapshot.
	// WHY: The stamp is the date, so the second write replaces the first.
	env := newTestEnv(t, []string{urlA}, nil)
	ctx := context.Background()
	env.runner.Run(ctx)
	env.clock.Advance(time.Hour)
	c, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantStatuses(t, c, outcome.StatusBaseline)
	snaps, err := env.runner.Snapshots(env.runner.Targets()[0].Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
}

func TestRun_IsolationContinuesAfterFailure(t *testing.T) {
	// WHAT: One target failing does not stop the others.
	// WHY: A single broken page must not hide changes on the rest.
	env := newTestEnv(t, []string{urlA, urlB, urlC}, nil)
	env.cap.fail[urlB] = fmt.Errorf("%w: net::ERR_NAME_NOT_RESOLVED", ErrCaptureFailure)

	c, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wantStatuses(t, c, outcome.StatusBaseline, outcome.StatusFailed, outcome.StatusBaseline)
	if c.Results[1].ErrorKind != outcome.KindCaptureFailure {
		t.Errorf("kind = %q", c.Results[1].ErrorKind)
	}
	if c.Aborted {
		t.Error("cycle should not be aborted")
	}
	if !c.Failed() {
		t.Error("cycle should report a failure")
	}
}

func TestRun_FailFastSkipsRemaining(t *testing.T) {
	env := newTestEnv(t, []string{urlA, urlB, urlC}, func(c *Config) { c.FailFast = true })
	env.cap.fail[urlB] = fmt.Errorf("%w: timeout", ErrCaptureFailure)

	c, err := env.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wantStatuses(t, c, outcome.StatusBaseline, outcome.StatusFailed, outcome.StatusSkipped)
	if !c.Aborted {
		t.Error("cycle should be aborted")
	}
	if len(env.cap.calls) != 2 {
		t.Errorf("captures = %v, want A and B only", env.cap.calls)
	}
	if len(env.rec.results) != 3 {
		t.Errorf("skipped targets should still reach sinks: got %d results", len(env.rec.results))
	}
}

func TestRun_DimensionMismatchFailsTarget(t *testing.T) {
	env := newTestEnv(t, []string{urlA}, nil)
	ctx := context.Background()
	env.cap.set(urlA, page(100, 50, 0))
	env.runner.Run(ctx)

	env.clock.Advance(24 * time.Hour)
	env.cap.set(urlA, page(100, 60, 0))
	c, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantStatuses(t, c, outcome.StatusFailed)
	if c.Results[0].ErrorKind != outcome.KindDimensionMismatch {
		t.Errorf("kind = %q", c.Results[0].ErrorKind)
	}
}

func TestRun_RejectsOverlap(t *testing.T) {
	// WHAT: A trigger during an active cycle gets ErrRunInProgress.
	// WHY: Overlapping cycles would race on the same snapshot files.
	env := newTestEnv(t, []string{urlA}, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	env.cap.hook = func(context.Context, string) {
		close(entered)
		<-release
	}

	id, err := env.runner.Start(context.Background(), nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered

	if !env.runner.Running() {
		t.Error("Running() = false during cycle")
	}
	if _, err := env.runner.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Run err = %v, want ErrRunInProgress", err)
	}
	if _, err := env.runner.Start(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Start err = %v, want ErrRunInProgress", err)
	}

	close(release)
	env.runner.Wait()
	if env.runner.Running() {
		t.Error("Running() = true after cycle")
	}
	if last := env.runner.LastCycle(); last == nil || last.ID != id {
		t.Errorf("last cycle = %+v, want %s", last, id)
	}
}

func TestRun_CancelledSkipsRemaining(t *testing.T) {
	env := newTestEnv(t, []string{urlA, urlB, urlC}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	env.cap.hook = func(_ context.Context, url string) {
		if url == urlB {
			cancel()
		}
	}

	c, err := env.runner.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c == nil {
		t.Fatal("partial cycle should be returned")
	}
	wantStatuses(t, c, outcome.StatusBaseline, outcome.StatusSkipped, outcome.StatusSkipped)
	for _, r := range c.Results[1:] {
		if r.ErrorKind != outcome.KindCancelled {
			t.Errorf("%s kind = %q, want cancelled", r.URL, r.ErrorKind)
		}
	}
	if len(env.rec.cycles) != 1 {
		t.Error("cancelled cycle should still reach sinks")
	}
}

func TestRunTargets(t *testing.T) {
	env := newTestEnv(t, []string{urlA, urlB, urlC}, nil)
	ctx := context.Background()

	c, err := env.runner.RunTargets(ctx, []string{urlC, urlA})
	if err != nil {
		t.Fatalf("run targets: %v", err)
	}
	if len(c.Results) != 2 || c.Results[0].URL != urlA || c.Results[1].URL != urlC {
		t.Errorf("results = %+v", c.Results)
	}

	if _, err := env.runner.RunTargets(ctx, []string{"https://elsewhere.example/"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown target err = %v", err)
	}
	if _, err := env.runner.RunTargets(ctx, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty err = %v", err)
	}
}

func TestRun_RetentionKeepsNewest(t *testing.T) {
	// WHAT: With keep=2 only the two newest snapshots survive, along with the
	// diffs made for them.
	// WHY: Daily captures would otherwise grow both directories forever.
	env := newTestEnv(t, []string{urlA}, func(c *Config) {
		c.Snapshot.Keep = 2
		c.Snapshot.Granularity = "second"
	})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		env.cap.set(urlA, page(20, 10, i*10))
		if _, err := env.runner.Run(ctx); err != nil {
			t.Fatal(err)
		}
		env.clock.Advance(time.Minute)
	}
	snaps, err := env.runner.Snapshots(env.runner.Targets()[0].Identifier)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snaps))
	}
	if snaps[0].Stamp != "2024-01-01T00-03-05Z" {
		t.Errorf("newest = %s", snaps[0].Stamp)
	}
	diffs, err := os.ReadDir(env.cfg.Snapshot.DiffDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(diffs) != 2 {
		t.Errorf("diff artifacts = %d, want 2", len(diffs))
	}
}

func TestNewRunner_Rejects(t *testing.T) {
	if _, err := NewRunner(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil config err = %v", err)
	}

	cfg := &Config{Targets: []string{"http://a.example/x", "https://a.example/x"}}
	cfg.Snapshot.Dir = t.TempDir()
	cfg.Snapshot.DiffDir = t.TempDir()
	cfg.ApplyDefaults()
	if _, err := NewRunner(cfg, WithCapturer(newFakeCapturer())); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("shared identifier err = %v, want ErrInvalidInput", err)
	}
}

func TestRunner_LedgerDisabled(t *testing.T) {
	env := newTestEnv(t, []string{urlA}, nil)
	if _, err := env.runner.Cycles(context.Background(), 10); !errors.Is(err, ErrLedgerDisabled) {
		t.Errorf("err = %v, want ErrLedgerDisabled", err)
	}
}

func TestRun_WithComparator(t *testing.T) {
	// WHAT: A custom comparator decides the pixel count; the runner writes its
	// diff image and reports it with the configured threshold.
	// WHY: Callers can trade pixelmatch for their own metric without
	// touching capture or storage.
	var gotThreshold float64
	cmpFn := func(a, b image.Image, threshold float64) (int, image.Image, error) {
		gotThreshold = threshold
		return 42, image.NewNRGBA(a.Bounds()), nil
	}
	env := newTestEnv(t, []string{urlA}, func(c *Config) { c.Compare.Threshold = 0.25 }, WithComparator(cmpFn))
	env.cap.set(urlA, page(20, 10, 0))
	ctx := context.Background()

	if _, err := env.runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(24 * time.Hour)
	c, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantStatuses(t, c, outcome.StatusChanged)
	d := c.Results[0].Diff
	if d == nil || d.DiffPixels != 42 || d.TotalPixels != 200 {
		t.Fatalf("diff = %+v", d)
	}
	if gotThreshold != 0.25 {
		t.Errorf("threshold = %v, want 0.25", gotThreshold)
	}
	if _, err := os.Stat(d.DiffPath); err != nil {
		t.Errorf("diff artifact missing: %v", err)
	}
}

func TestRun_WithComparatorSkipsMismatchedSizes(t *testing.T) {
	called := false
	cmpFn := func(a, b image.Image, threshold float64) (int, image.Image, error) {
		called = true
		return 0, nil, nil
	}
	env := newTestEnv(t, []string{urlA}, nil, WithComparator(cmpFn))
	env.cap.set(urlA, page(20, 10, 0))
	ctx := context.Background()

	if _, err := env.runner.Run(ctx); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(24 * time.Hour)
	env.cap.set(urlA, page(20, 12, 0))
	c, err := env.runner.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantStatuses(t, c, outcome.StatusFailed)
	if c.Results[0].ErrorKind != outcome.KindDimensionMismatch {
		t.Errorf("kind = %q", c.Results[0].ErrorKind)
	}
	if called {
		t.Error("comparator called for mismatched sizes")
	}
}
