package docshot

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

func countingRun(n *atomic.Int32, err error) runFunc {
	return func(ctx context.Context) (*outcome.Cycle, error) {
		n.Add(1)
		if err != nil {
			return nil, err
		}
		return &outcome.Cycle{ID: "c"}, nil
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	// WHAT: With run_on_start the first cycle runs before any cron tick.
	// WHY: Operators expect a capture as soon as the daemon boots.
	var n atomic.Int32
	s, err := newScheduler(countingRun(&n, nil), "0 0 1 1 *", true, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for n.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("run_on_start cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
	if got := n.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestScheduler_NoRunOnStart(t *testing.T) {
	var n atomic.Int32
	s, err := newScheduler(countingRun(&n, nil), "0 0 1 1 *", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	if got := n.Load(); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	var n atomic.Int32
	s, err := newScheduler(countingRun(&n, nil), "@every 1s", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	if got := n.Load(); got < 1 {
		t.Errorf("runs = %d, want at least 1", got)
	}
}

func TestScheduler_BusyTriggerIsSkipped(t *testing.T) {
	// WHAT: A tick that hits ErrRunInProgress is logged, not retried or queued.
	// WHY: Cycles never overlap and never pile up.
	var n atomic.Int32
	s, err := newScheduler(countingRun(&n, ErrRunInProgress), DefaultSchedule, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.tick(context.Background())
	if got := n.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestScheduler_InvalidSpec(t *testing.T) {
	_, err := newScheduler(countingRun(new(atomic.Int32), nil), "not a cron", true, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestScheduler_NextIsMidnightUTC(t *testing.T) {
	s, err := newScheduler(countingRun(new(atomic.Int32), nil), "", true, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	want := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	if got := s.Next(now); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}
