package pixeldiff

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

var white = color.NRGBA{255, 255, 255, 255}

func at(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

// edge draws a black left half and a white right half joined by one gray
// column, the way a rasterizer smooths a vertical edge.
func edge(w, h int, gray uint8) *image.NRGBA {
	img := solid(w, h, white)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
		}
		img.SetNRGBA(w/2, y, color.NRGBA{gray, gray, gray, 255})
	}
	return img
}

func TestCompareIdenticalImages(t *testing.T) {
	// WHAT: An image compared with a copy of itself has no differing pixels.
	// WHY: No-diff idempotence; reruns on unchanged pages must stay silent.
	a := solid(20, 10, white)
	b := solid(20, 10, white)

	res, err := Compare(a, b, Options{Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Errorf("DiffPixels: got %d, want 0", res.DiffPixels)
	}
	if res.TotalPixels != 200 {
		t.Errorf("TotalPixels: got %d, want 200", res.TotalPixels)
	}
}

func TestCompareOnePixel(t *testing.T) {
	// WHAT: A single black pixel on white is counted exactly once.
	// WHY: Smallest material change must be detected.
	a := solid(8, 8, white)
	b := solid(8, 8, white)
	b.SetNRGBA(3, 4, color.NRGBA{0, 0, 0, 255})

	res, err := Compare(a, b, Options{Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 1 {
		t.Fatalf("DiffPixels: got %d, want 1", res.DiffPixels)
	}
	if got := at(res.Diff, 3, 4); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("diff pixel colour: got %v, want red", got)
	}
	// Unchanged white pixels render as white after fading.
	if got := at(res.Diff, 0, 0); got != white {
		t.Errorf("unchanged pixel: got %v, want white", got)
	}
}

func TestCompareBelowThreshold(t *testing.T) {
	// WHAT: A near-identical shade is ignored at the default threshold but
	// counted with an exact threshold.
	// WHY: Threshold semantics follow the YIQ delta, not raw RGB equality.
	a := solid(4, 4, white)
	b := solid(4, 4, white)
	b.SetNRGBA(0, 0, color.NRGBA{250, 250, 250, 255})

	res, err := Compare(a, b, Options{Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Errorf("default threshold: got %d, want 0", res.DiffPixels)
	}

	res, err = Compare(a, b, Options{Threshold: ExactThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 1 {
		t.Errorf("exact threshold: got %d, want 1", res.DiffPixels)
	}
}

func TestCompareIgnoresAntiAliasedEdge(t *testing.T) {
	// WHAT: Only the shade of a smoothed edge column changes; no pixel counts.
	// WHY: Font smoothing flickers between captures of the same page and must
	// not be reported as a change.
	a := edge(40, 20, 128)
	b := edge(40, 20, 96)

	res, err := Compare(a, b, Options{Threshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Errorf("DiffPixels: got %d, want 0", res.DiffPixels)
	}
	if res.Diff == nil || res.Diff.Bounds().Dx() != 40 || res.Diff.Bounds().Dy() != 20 {
		t.Errorf("diff image bounds: %v", res.Diff)
	}
}

func TestCompareDimensionMismatch(t *testing.T) {
	// WHAT: Different sizes fail with ErrDimensionMismatch.
	// WHY: Full-page captures change height when layout changes; a silent
	// partial comparison would be wrong.
	a := solid(10, 10, white)
	b := solid(10, 12, white)

	_, err := Compare(a, b, Options{})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestCompareOffsetBounds(t *testing.T) {
	// WHAT: Images whose bounds do not start at the origin compare by position.
	// WHY: Sub-images from decoders must not be rejected or misaligned.
	base := solid(10, 10, white)
	base.SetNRGBA(6, 6, color.NRGBA{0, 0, 0, 255})
	sub := base.SubImage(image.Rect(5, 5, 10, 10))
	plain := solid(5, 5, white)

	res, err := Compare(plain, sub, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 1 {
		t.Errorf("DiffPixels: got %d, want 1", res.DiffPixels)
	}
}

func TestPNGRoundTripPreservesPixels(t *testing.T) {
	img := solid(3, 3, white)
	img.SetNRGBA(1, 1, color.NRGBA{10, 20, 30, 255})

	data, err := EncodePNG(img)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePNG(data)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Compare(img, got, Options{Threshold: ExactThreshold})
	if err != nil {
		t.Fatal(err)
	}
	if res.DiffPixels != 0 {
		t.Errorf("round trip changed %d pixels", res.DiffPixels)
	}
}

func TestDecodePNGRejectsGarbage(t *testing.T) {
	if _, err := DecodePNG([]byte("not a png")); err == nil {
		t.Fatal("expected decode error")
	}
}
