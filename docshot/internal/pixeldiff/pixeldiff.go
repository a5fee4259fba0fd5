// Package pixeldiff compares two raster images of identical dimensions and
// renders a diff image. Counting is delegated to the Go port of pixelmatch,
// so thresholds carry over unchanged (0 = exact, 1 = anything) and
// anti-aliased pixels are left out of the count.
package pixeldiff

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/orisano/pixelmatch"
)

// ErrDimensionMismatch is returned when the two images differ in size.
var ErrDimensionMismatch = errors.New("pixeldiff: image dimensions do not match")

// DefaultThreshold matches the sensitivity used for documentation pages.
const DefaultThreshold = 0.1

// ExactThreshold makes every colour difference count.
const ExactThreshold = 1e-9

// Options controls the comparison.
type Options struct {
	// Threshold in [0,1]. Zero is treated as DefaultThreshold; use
	// ExactThreshold for strict equality.
	Threshold float64
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Threshold > 1 {
		o.Threshold = 1
	}
}

// Result is the outcome of a comparison.
type Result struct {
	DiffPixels  int
	TotalPixels int
	// Diff is a faded grayscale copy of a with differing pixels in red and
	// anti-aliased ones in yellow.
	Diff image.Image
}

// Compare counts pixels of b that differ from a by more than the threshold.
func Compare(a, b image.Image, opts Options) (Result, error) {
	opts.defaults()

	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return Result{}, fmt.Errorf("%w: %dx%d vs %dx%d",
			ErrDimensionMismatch, ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	var out image.Image
	n, err := pixelmatch.MatchPixel(toNRGBA(a), toNRGBA(b),
		pixelmatch.Threshold(opts.Threshold),
		pixelmatch.WriteTo(&out),
	)
	if err != nil {
		return Result{}, fmt.Errorf("pixeldiff: match: %w", err)
	}
	return Result{DiffPixels: n, TotalPixels: ab.Dx() * ab.Dy(), Diff: out}, nil
}

// toNRGBA returns img as an NRGBA anchored at the origin, copying only when
// needed. Decoders may hand back sub-images with offset bounds.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Rect, img, b.Min, draw.Src)
	return n
}
