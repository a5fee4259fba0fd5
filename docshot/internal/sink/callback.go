package sink

import (
	"context"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

// ResultFunc is called for each target result.
type ResultFunc func(ctx context.Context, res outcome.TargetResult) error

// CycleFunc is called for each completed cycle.
type CycleFunc func(ctx context.Context, c outcome.Cycle) error

// Callback delivers results via Go function calls, for embedding docshot in
// a larger binary.
type Callback struct {
	onResult ResultFunc
	onCycle  CycleFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onResult ResultFunc, onCycle CycleFunc) *Callback {
	return &Callback{onResult: onResult, onCycle: onCycle}
}

func (c *Callback) SendResult(ctx context.Context, res outcome.TargetResult) error {
	if c.onResult != nil {
		return c.onResult(ctx, res)
	}
	return nil
}

func (c *Callback) SendCycle(ctx context.Context, cy outcome.Cycle) error {
	if c.onCycle != nil {
		return c.onCycle(ctx, cy)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
