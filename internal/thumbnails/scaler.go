package thumbnails

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// LanczosScaler is the default Scaler: aspect-ratio-preserving Lanczos-3
// downscale followed by JPEG encoding.
type LanczosScaler struct{}

// Scale implements Scaler.
func (LanczosScaler) Scale(img image.Image, maxWidth, maxHeight uint, quality int) ([]byte, error) {
	scaled := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// jpegDimensions reads the dimensions back out of an encoded JPEG. Cheap:
// only the header is parsed.
func jpegDimensions(data []byte) (int, int) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
