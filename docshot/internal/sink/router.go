package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first encountered is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. Not safe for use while results are being sent.
func (r *Router) Add(s Sink) {
	r.sinks = append(r.sinks, s)
}

func (r *Router) SendResult(ctx context.Context, res outcome.TargetResult) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendResult(ctx, res); err != nil {
			r.logger.Warn("sink: send result failed", "url", res.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendCycle(ctx context.Context, c outcome.Cycle) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendCycle(ctx, c); err != nil {
			r.logger.Warn("sink: send cycle failed", "cycle_id", c.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
