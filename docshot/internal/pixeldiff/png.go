package pixeldiff

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// DecodePNG decodes PNG bytes.
func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pixeldiff: decode png: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG. Diff images are mostly flat colour, so best
// speed compresses well enough.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("pixeldiff: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
