// Package report decides whether two snapshots differ materially and
// persists the diff artifact when they do.
package report

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/hazyhaar/docshot/docshot/internal/pixeldiff"
	"github.com/hazyhaar/docshot/docshot/internal/snapshot"
	"github.com/hazyhaar/docshot/docshot/outcome"
)

// CompareFunc is the pixel comparison collaborator.
type CompareFunc func(a, b image.Image, opts pixeldiff.Options) (pixeldiff.Result, error)

// Config configures a Reporter.
type Config struct {
	Store     *snapshot.Store
	Threshold float64
	Compare   CompareFunc // default: pixeldiff.Compare
	Logger    *slog.Logger
}

// Reporter compares snapshot pairs and writes diff artifacts.
type Reporter struct {
	store     *snapshot.Store
	threshold float64
	compare   CompareFunc
	logger    *slog.Logger
}

// New creates a Reporter.
func New(cfg Config) *Reporter {
	if cfg.Compare == nil {
		cfg.Compare = pixeldiff.Compare
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		store:     cfg.Store,
		threshold: cfg.Threshold,
		compare:   cfg.Compare,
		logger:    cfg.Logger,
	}
}

// Compare compares previous against newest. It returns nil when no pixel
// differs; otherwise the diff artifact is written and described.
func (r *Reporter) Compare(ctx context.Context, url, id, previous, newest string) (*outcome.Diff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prevImg, err := r.load(previous)
	if err != nil {
		return nil, err
	}
	newImg, err := r.load(newest)
	if err != nil {
		return nil, err
	}

	res, err := r.compare(prevImg, newImg, pixeldiff.Options{Threshold: r.threshold})
	if err != nil {
		return nil, fmt.Errorf("report: compare %s: %w", id, err)
	}
	if res.DiffPixels == 0 {
		return nil, nil
	}
	if res.Diff == nil {
		return nil, fmt.Errorf("report: compare %s: %d pixels differ but no diff image", id, res.DiffPixels)
	}

	diffPath, err := r.store.DiffPath(id, newest)
	if err != nil {
		return nil, err
	}
	data, err := pixeldiff.EncodePNG(res.Diff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", snapshot.ErrIOFailure, err)
	}
	if err := r.store.WriteDiff(diffPath, data); err != nil {
		return nil, err
	}

	r.logger.Debug("report: diff written",
		"identifier", id, "diff_pixels", res.DiffPixels, "path", diffPath)

	return &outcome.Diff{
		Identifier:   id,
		URL:          url,
		DiffPath:     diffPath,
		DiffPixels:   res.DiffPixels,
		TotalPixels:  res.TotalPixels,
		PreviousPath: previous,
		NewPath:      newest,
	}, nil
}

// load reads and decodes a snapshot. A file that cannot be decoded counts as
// an I/O failure: the store only ever writes complete PNGs.
func (r *Reporter) load(path string) (image.Image, error) {
	data, err := r.store.Read(path)
	if err != nil {
		return nil, err
	}
	img, err := pixeldiff.DecodePNG(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", snapshot.ErrIOFailure, path, err)
	}
	return img, nil
}
