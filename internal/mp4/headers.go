package mp4

import (
	"encoding/binary"
	"fmt"
)

// MediaHeader is the decoded mdhd payload.
type MediaHeader struct {
	Timescale uint32
	Duration  uint64
	// Language is the unpacked ISO 639-2/T code, "und" when absent.
	Language string
}

// MovieHeader is the decoded mvhd payload.
type MovieHeader struct {
	Timescale uint32
	Duration  uint64
}

// TrackHeader is the decoded tkhd payload. Width and Height come from the
// trailing 16.16 fixed-point fields with the fraction dropped.
type TrackHeader struct {
	ID     uint32
	Width  uint32
	Height uint32
}

// DecodeMDHD decodes a media header, handling both version 0 (32-bit
// times) and version 1 (64-bit times) layouts.
func DecodeMDHD(b []byte) (MediaHeader, error) {
	if len(b) < 4 {
		return MediaHeader{}, fmt.Errorf("%w: mdhd needs 4 bytes, got %d", ErrTruncated, len(b))
	}
	switch version := b[0]; version {
	case 0:
		if len(b) < 22 {
			return MediaHeader{}, fmt.Errorf("%w: mdhd v0 needs 22 bytes, got %d", ErrTruncated, len(b))
		}
		return MediaHeader{
			Timescale: binary.BigEndian.Uint32(b[12:16]),
			Duration:  uint64(binary.BigEndian.Uint32(b[16:20])),
			Language:  unpackLanguage(binary.BigEndian.Uint16(b[20:22])),
		}, nil
	case 1:
		if len(b) < 34 {
			return MediaHeader{}, fmt.Errorf("%w: mdhd v1 needs 34 bytes, got %d", ErrTruncated, len(b))
		}
		return MediaHeader{
			Timescale: binary.BigEndian.Uint32(b[20:24]),
			Duration:  binary.BigEndian.Uint64(b[24:32]),
			Language:  unpackLanguage(binary.BigEndian.Uint16(b[32:34])),
		}, nil
	default:
		return MediaHeader{}, fmt.Errorf("%w: mdhd version %d", ErrMalformedBox, version)
	}
}

// DecodeMVHD decodes a movie header.
func DecodeMVHD(b []byte) (MovieHeader, error) {
	if len(b) < 4 {
		return MovieHeader{}, fmt.Errorf("%w: mvhd needs 4 bytes, got %d", ErrTruncated, len(b))
	}
	switch version := b[0]; version {
	case 0:
		if len(b) < 20 {
			return MovieHeader{}, fmt.Errorf("%w: mvhd v0 needs 20 bytes, got %d", ErrTruncated, len(b))
		}
		return MovieHeader{
			Timescale: binary.BigEndian.Uint32(b[12:16]),
			Duration:  uint64(binary.BigEndian.Uint32(b[16:20])),
		}, nil
	case 1:
		if len(b) < 32 {
			return MovieHeader{}, fmt.Errorf("%w: mvhd v1 needs 32 bytes, got %d", ErrTruncated, len(b))
		}
		return MovieHeader{
			Timescale: binary.BigEndian.Uint32(b[20:24]),
			Duration:  binary.BigEndian.Uint64(b[24:32]),
		}, nil
	default:
		return MovieHeader{}, fmt.Errorf("%w: mvhd version %d", ErrMalformedBox, version)
	}
}

// DecodeTKHD decodes a track header. Width and height are optional: a
// payload long enough for the ID but not the presentation size yields
// zeros there.
func DecodeTKHD(b []byte) (TrackHeader, error) {
	if len(b) < 4 {
		return TrackHeader{}, fmt.Errorf("%w: tkhd needs 4 bytes, got %d", ErrTruncated, len(b))
	}
	var hdr TrackHeader
	switch version := b[0]; version {
	case 0:
		if len(b) < 16 {
			return TrackHeader{}, fmt.Errorf("%w: tkhd v0 needs 16 bytes, got %d", ErrTruncated, len(b))
		}
		hdr.ID = binary.BigEndian.Uint32(b[12:16])
		if len(b) >= 84 {
			hdr.Width = binary.BigEndian.Uint32(b[76:80]) >> 16
			hdr.Height = binary.BigEndian.Uint32(b[80:84]) >> 16
		}
	case 1:
		if len(b) < 24 {
			return TrackHeader{}, fmt.Errorf("%w: tkhd v1 needs 24 bytes, got %d", ErrTruncated, len(b))
		}
		hdr.ID = binary.BigEndian.Uint32(b[20:24])
		if len(b) >= 96 {
			hdr.Width = binary.BigEndian.Uint32(b[88:92]) >> 16
			hdr.Height = binary.BigEndian.Uint32(b[92:96]) >> 16
		}
	default:
		return TrackHeader{}, fmt.Errorf("%w: tkhd version %d", ErrMalformedBox, b[0])
	}
	return hdr, nil
}

// DecodeHDLR returns the 4-byte handler type from an hdlr payload.
func DecodeHDLR(b []byte) (string, error) {
	if len(b) < 12 {
		return "", fmt.Errorf("%w: hdlr needs 12 bytes, got %d", ErrTruncated, len(b))
	}
	return string(b[8:12]), nil
}

// unpackLanguage expands the packed 3x5-bit ISO 639-2/T code. Each
// character is stored minus 0x60.
func unpackLanguage(code uint16) string {
	if code == 0 {
		return "und"
	}
	c1 := byte(code>>10&0x1f) + 0x60
	c2 := byte(code>>5&0x1f) + 0x60
	c3 := byte(code&0x1f) + 0x60
	for _, c := range []byte{c1, c2, c3} {
		if c < 'a' || c > 'z' {
			return "und"
		}
	}
	return string([]byte{c1, c2, c3})
}
