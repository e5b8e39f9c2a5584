package mp4

import (
	"encoding/binary"
	"fmt"
)

// Policy selects how a sample-table decoder treats a malformed tail.
// Strict propagates the error; Lenient keeps whatever decoded cleanly,
// which survives the truncated tables some muxers produce.
type Policy int

const (
	Strict Policy = iota
	Lenient
)

// TimeToSample is one stts run: Count consecutive samples each lasting
// Delta ticks.
type TimeToSample struct {
	Count uint32
	Delta uint32
}

// SampleToChunk is one stsc entry. FirstChunk is 1-indexed and the entry
// applies until the FirstChunk of the next entry.
type SampleToChunk struct {
	FirstChunk       uint32
	SamplesPerChunk  uint32
	DescriptionIndex uint32
}

// DecodeSTTS decodes the decoding-time-to-sample box payload.
func DecodeSTTS(b []byte, pol Policy) ([]TimeToSample, error) {
	count, err := entryCount(b, "stts", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	entries := make([]TimeToSample, 0, count)
	for i := 0; i < count; i++ {
		pos := 8 + i*8
		if pos+8 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stts entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		entries = append(entries, TimeToSample{
			Count: binary.BigEndian.Uint32(b[pos : pos+4]),
			Delta: binary.BigEndian.Uint32(b[pos+4 : pos+8]),
		})
	}
	return entries, nil
}

// DecodeSTSZ decodes the sample-size box payload into one size per sample.
// A non-zero default size expands to sampleCount copies.
func DecodeSTSZ(b []byte, pol Policy) ([]uint32, error) {
	if len(b) < 12 {
		if pol == Strict {
			return nil, fmt.Errorf("%w: stsz needs 12 bytes, got %d", ErrTruncated, len(b))
		}
		return nil, nil
	}
	defaultSize := binary.BigEndian.Uint32(b[4:8])
	count := binary.BigEndian.Uint32(b[8:12])
	if count > maxTableEntries {
		return nil, fmt.Errorf("%w: stsz declares %d samples", ErrTooManyEntries, count)
	}

	if defaultSize != 0 {
		sizes := make([]uint32, count)
		for i := range sizes {
			sizes[i] = defaultSize
		}
		return sizes, nil
	}

	sizes := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		pos := 12 + i*4
		if pos+4 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stsz entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		sizes = append(sizes, binary.BigEndian.Uint32(b[pos:pos+4]))
	}
	return sizes, nil
}

// DecodeSTSC decodes the sample-to-chunk box payload. Entries must be
// strictly increasing in FirstChunk; under Lenient the table is truncated
// at the first violation instead of rejected.
func DecodeSTSC(b []byte, pol Policy) ([]SampleToChunk, error) {
	count, err := entryCount(b, "stsc", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	entries := make([]SampleToChunk, 0, count)
	var prevFirst uint32
	for i := 0; i < count; i++ {
		pos := 8 + i*12
		if pos+12 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stsc entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		entry := SampleToChunk{
			FirstChunk:       binary.BigEndian.Uint32(b[pos : pos+4]),
			SamplesPerChunk:  binary.BigEndian.Uint32(b[pos+4 : pos+8]),
			DescriptionIndex: binary.BigEndian.Uint32(b[pos+8 : pos+12]),
		}
		if entry.FirstChunk <= prevFirst {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stsc first_chunk %d not increasing at entry %d", ErrMalformedBox, entry.FirstChunk, i)
			}
			break
		}
		prevFirst = entry.FirstChunk
		entries = append(entries, entry)
	}
	return entries, nil
}

// DecodeSTCO decodes 32-bit chunk offsets, widened to 64 bits.
func DecodeSTCO(b []byte, pol Policy) ([]uint64, error) {
	count, err := entryCount(b, "stco", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	offsets := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		pos := 8 + i*4
		if pos+4 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stco entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		offsets = append(offsets, uint64(binary.BigEndian.Uint32(b[pos:pos+4])))
	}
	return offsets, nil
}

// DecodeCO64 decodes 64-bit chunk offsets.
func DecodeCO64(b []byte, pol Policy) ([]uint64, error) {
	count, err := entryCount(b, "co64", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	offsets := make([]uint64, 0, count)
	for i := 0; i < count; i++ {
		pos := 8 + i*8
		if pos+8 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: co64 entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		offsets = append(offsets, binary.BigEndian.Uint64(b[pos:pos+8]))
	}
	return offsets, nil
}

// DecodeSTSS decodes the sync-sample box payload: 1-indexed sample numbers
// of keyframes.
func DecodeSTSS(b []byte, pol Policy) ([]uint32, error) {
	count, err := entryCount(b, "stss", pol)
	if err != nil || count == 0 {
		return nil, err
	}
	samples := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		pos := 8 + i*4
		if pos+4 > len(b) {
			if pol == Strict {
				return nil, fmt.Errorf("%w: stss entry %d of %d", ErrTruncated, i, count)
			}
			break
		}
		samples = append(samples, binary.BigEndian.Uint32(b[pos:pos+4]))
	}
	return samples, nil
}

// entryCount reads the full-box version/flags prefix and the 32-bit entry
// count shared by all table boxes. It enforces the global entry limit under
// both policies since an absurd count is an attack, not a muxer bug.
func entryCount(b []byte, name string, pol Policy) (int, error) {
	if len(b) < 8 {
		if pol == Strict {
			return 0, fmt.Errorf("%w: %s needs 8 bytes, got %d", ErrTruncated, name, len(b))
		}
		return 0, nil
	}
	count := binary.BigEndian.Uint32(b[4:8])
	if count > maxTableEntries {
		return 0, fmt.Errorf("%w: %s declares %d entries", ErrTooManyEntries, name, count)
	}
	return int(count), nil
}
