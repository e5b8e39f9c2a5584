package mp4

import (
	"context"
	"fmt"

	"mp4probe/internal/models"
	"mp4probe/internal/stream"
)

// DetectFormat classifies the container from the leading bytes. MP3 is
// recognized so callers can bail out early; it has no metadata path here.
func DetectFormat(ctx context.Context, src stream.Source) (models.Format, error) {
	var header [32]byte
	n, err := stream.ReadAt(ctx, src, 0, header[:])
	if err != nil {
		return models.FormatUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	if n < 12 {
		return models.FormatUnknown, fmt.Errorf("%w: file header too short (%d bytes)", ErrMalformedBox, n)
	}

	// ID3v2 tag or MPEG audio frame sync.
	if string(header[0:3]) == "ID3" || (header[0] == 0xff && header[1]&0xe0 == 0xe0) {
		return models.FormatMP3, nil
	}

	if string(header[4:8]) != "ftyp" {
		return models.FormatUnknown, fmt.Errorf("%w: no ftyp box at start of file", ErrBoxNotFound)
	}

	return formatFromBrand(string(header[8:12])), nil
}

// formatFromBrand maps an ftyp major brand to a container format.
func formatFromBrand(brand string) models.Format {
	switch brand {
	case "isom", "mp41", "mp42", "iso2", "iso4", "iso5", "iso6":
		return models.FormatMP4
	case "M4V ", "M4VH", "M4VP":
		return models.FormatM4V
	case "3gp4", "3gp5", "3gp6", "3gp7", "3ge6", "3ge7", "3gg6":
		return models.Format3GP
	case "3g2a", "3g2b", "3g2c":
		return models.Format3G2
	case "qt  ":
		return models.FormatMOV
	}
	return models.FormatUnknown
}
