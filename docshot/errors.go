package docshot

import (
	"context"
	"errors"

	"github.com/hazyhaar/docshot/docshot/internal/browser"
	"github.com/hazyhaar/docshot/docshot/internal/config"
	"github.com/hazyhaar/docshot/docshot/internal/pixeldiff"
	"github.com/hazyhaar/docshot/docshot/internal/snapshot"
	"github.com/hazyhaar/docshot/docshot/outcome"
)

// ErrInvalidInput is returned for malformed URLs and unknown targets.
var ErrInvalidInput = errors.New("docshot: invalid input")

// ErrRunInProgress is returned when a cycle is requested while one is active.
var ErrRunInProgress = errors.New("docshot: run in progress")

// ErrLedgerDisabled is returned by history queries when no ledger is configured.
var ErrLedgerDisabled = errors.New("docshot: ledger disabled")

// Errors owned by internal packages.
var (
	ErrCaptureFailure    = browser.ErrCaptureFailure
	ErrDimensionMismatch = pixeldiff.ErrDimensionMismatch
	ErrIOFailure         = snapshot.ErrIOFailure
	ErrInvalidConfig     = config.ErrInvalidConfig
)

// ErrorKindOf classifies err for a TargetResult.
func ErrorKindOf(err error) outcome.ErrorKind {
	switch {
	case err == nil:
		return outcome.KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcome.KindCancelled
	case errors.Is(err, ErrInvalidInput):
		return outcome.KindInvalidInput
	case errors.Is(err, ErrCaptureFailure):
		return outcome.KindCaptureFailure
	case errors.Is(err, ErrDimensionMismatch):
		return outcome.KindDimensionMismatch
	case errors.Is(err, ErrIOFailure):
		return outcome.KindIOFailure
	default:
		return outcome.KindUnknown
	}
}
