// Package sink defines output backends for docshot results.
package sink

import (
	"context"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

// Sink receives every target result as it completes and the cycle summary
// at the end of each run. Implementations deliver to different backends
// (stdout, webhook, in-process callback, run ledger).
type Sink interface {
	SendResult(ctx context.Context, res outcome.TargetResult) error
	SendCycle(ctx context.Context, c outcome.Cycle) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
