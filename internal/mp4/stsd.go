package mp4

import (
	"encoding/binary"
	"fmt"
)

// visualEntryFixedSize is the fixed part of a visual sample entry body
// (reserved + data reference + video fields) before nested boxes begin.
const visualEntryFixedSize = 78

// SampleDescription is one stsd entry: a codec tag plus the opaque entry
// body after the size and tag fields.
type SampleDescription struct {
	Codec string
	Body  []byte
}

// DecodeSTSD decodes the sample description box payload into its entries.
func DecodeSTSD(b []byte, pol Policy) ([]SampleDescription, error) {
	count, err := entryCount(b, "stsd", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	entries := make([]SampleDescription, 0, count)
	pos := 8
	for i := 0; i < count; i++ {
		if pos+8 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stsd entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		size := int(binary.BigEndian.Uint32(b[pos : pos+4]))
		if size < 8 || pos+size > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stsd entry %d declares size %d", ErrMalformedBox, i, size)
			}
			break
		}
		entries = append(entries, SampleDescription{
			Codec: string(b[pos+4 : pos+8]),
			Body:  b[pos+8 : pos+size],
		})
		pos += size
	}
	return entries, nil
}

// IsVideo reports whether the codec tag belongs to a video sample entry
// whose body carries dimensions at the standard offsets.
func (d SampleDescription) IsVideo() bool {
	switch d.Codec {
	case "avc1", "avc3", "hvc1", "hev1", "mp4v":
		return true
	}
	return false
}

// IsAVC reports whether the entry describes an H.264 stream.
func (d SampleDescription) IsAVC() bool {
	return d.Codec == "avc1" || d.Codec == "avc3"
}

// VideoDimensions returns the coded width and height from a visual sample
// entry body.
func (d SampleDescription) VideoDimensions() (width, height uint32, ok bool) {
	if len(d.Body) < 28 {
		return 0, 0, false
	}
	return uint32(binary.BigEndian.Uint16(d.Body[24:26])),
		uint32(binary.BigEndian.Uint16(d.Body[26:28])), true
}

// ChannelCount returns the channel count from an audio sample entry body.
func (d SampleDescription) ChannelCount() (uint16, bool) {
	if len(d.Body) < 18 {
		return 0, false
	}
	return binary.BigEndian.Uint16(d.Body[16:18]), true
}

// ChildBox returns the payload of a box nested after the fixed part of a
// visual sample entry, e.g. the avcC configuration inside an avc1 entry.
func (d SampleDescription) ChildBox(name string) ([]byte, error) {
	if len(d.Body) < visualEntryFixedSize {
		return nil, fmt.Errorf("%w: %q (entry body too short)", ErrBoxNotFound, name)
	}
	return FindBox(d.Body[visualEntryFixedSize:], name)
}
