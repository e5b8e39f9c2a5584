// Package mp4 implements ISO Base Media box navigation and the sample-table
// decoding needed to map media samples to absolute byte ranges.
package mp4

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"mp4probe/internal/stream"
)

// Sentinel errors for the format taxonomy.
var (
	ErrMoovNotFound     = errors.New("moov box not found")
	ErrMoovTooLarge     = errors.New("moov box too large")
	ErrBoxNotFound      = errors.New("box not found")
	ErrMalformedBox     = errors.New("malformed box")
	ErrTruncated        = errors.New("truncated box payload")
	ErrRangeOutOfBounds = errors.New("sample range outside file bounds")
	ErrTooManyEntries   = errors.New("entry count exceeds limit")
)

// maxSiblings bounds iteration over one container payload so a crafted file
// cannot spin the walker forever.
const maxSiblings = 100000

// maxTableEntries caps decoded sample-table entry counts. A 32-bit count
// field in a hostile file must not translate into a multi-gigabyte
// allocation.
const maxTableEntries = 10_000_000

// Header describes one box. TotalSize includes the header itself;
// TotalSize == 0 in a raw header means "runs to the end of the parent".
type Header struct {
	Type       string
	HeaderSize uint32
	TotalSize  uint64
}

// PrintableType reports whether the box tag is four printable ASCII bytes.
// Non-printable tags are tolerated but worth flagging upstream.
func (h Header) PrintableType() bool {
	if len(h.Type) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if h.Type[i] < 0x20 || h.Type[i] > 0x7e {
			return false
		}
	}
	return true
}

// Box is one parsed box: its header plus a payload slice aliasing the
// parent buffer.
type Box struct {
	Header
	// Start is the offset of the box header within the parent payload.
	Start int
	// Payload is the box content after the header, bounded by the parent.
	Payload []byte
}

// Iterator walks sibling boxes laid out end-to-end in one payload slice.
type Iterator struct {
	data []byte
	pos  int
	n    int
}

// NewIterator returns an iterator over the top-level boxes of data.
func NewIterator(data []byte) *Iterator {
	return &Iterator{data: data}
}

// Next returns the next sibling box. The second return value is false when
// the payload is exhausted.
func (it *Iterator) Next() (Box, bool, error) {
	if it.pos+8 > len(it.data) {
		return Box{}, false, nil
	}
	if it.n >= maxSiblings {
		return Box{}, false, fmt.Errorf("%w: more than %d sibling boxes", ErrMalformedBox, maxSiblings)
	}
	it.n++

	start := it.pos
	hdr, err := parseHeader(it.data, start)
	if err != nil {
		return Box{}, false, err
	}
	if hdr.TotalSize == 0 {
		// Runs to the end of the parent payload.
		hdr.TotalSize = uint64(len(it.data) - start)
	}
	if hdr.TotalSize < uint64(hdr.HeaderSize) {
		return Box{}, false, fmt.Errorf("%w: box %q size %d smaller than header", ErrMalformedBox, hdr.Type, hdr.TotalSize)
	}
	end := uint64(start) + hdr.TotalSize
	if end > uint64(len(it.data)) {
		return Box{}, false, fmt.Errorf("%w: box %q extends past its parent", ErrMalformedBox, hdr.Type)
	}

	it.pos = int(end)
	return Box{
		Header:  hdr,
		Start:   start,
		Payload: it.data[uint64(start)+uint64(hdr.HeaderSize) : end],
	}, true, nil
}

// parseHeader decodes a box header at pos within data. The returned
// TotalSize is 0 when the raw 32-bit size field was 0.
func parseHeader(data []byte, pos int) (Header, error) {
	if pos+8 > len(data) {
		return Header{}, fmt.Errorf("%w: short box header", ErrMalformedBox)
	}
	size32 := binary.BigEndian.Uint32(data[pos : pos+4])
	hdr := Header{
		Type:       string(data[pos+4 : pos+8]),
		HeaderSize: 8,
		TotalSize:  uint64(size32),
	}
	if size32 == 1 {
		if pos+16 > len(data) {
			return Header{}, fmt.Errorf("%w: short extended box header", ErrMalformedBox)
		}
		hdr.HeaderSize = 16
		hdr.TotalSize = binary.BigEndian.Uint64(data[pos+8 : pos+16])
	}
	if hdr.TotalSize != 0 && hdr.TotalSize < 8 {
		return Header{}, fmt.Errorf("%w: box %q declares size %d", ErrMalformedBox, hdr.Type, hdr.TotalSize)
	}
	return hdr, nil
}

// FindBox returns the payload of the first sibling box named name, or
// ErrBoxNotFound.
func FindBox(data []byte, name string) ([]byte, error) {
	it := NewIterator(data)
	for {
		box, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBoxNotFound, name)
		}
		if box.Type == name {
			return box.Payload, nil
		}
	}
}

// Find resolves a dotted path such as "trak.mdia.minf.stbl.stsd", following
// the first match at every level, and returns the innermost payload.
func Find(data []byte, path string) ([]byte, error) {
	cur := data
	for _, name := range strings.Split(path, ".") {
		payload, err := FindBox(cur, name)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", path, err)
		}
		cur = payload
	}
	return cur, nil
}

// ReadHeaderAt reads a single box header from a byte source at offset
// without consuming the payload. Used when walking a file whose layout is
// unknown.
func ReadHeaderAt(ctx context.Context, src stream.Source, offset int64) (Header, error) {
	var buf [16]byte
	n, err := stream.ReadAt(ctx, src, offset, buf[:8])
	if err != nil {
		return Header{}, err
	}
	if n < 8 {
		return Header{}, io.EOF
	}
	size32 := binary.BigEndian.Uint32(buf[:4])
	hdr := Header{
		Type:       string(buf[4:8]),
		HeaderSize: 8,
		TotalSize:  uint64(size32),
	}
	if size32 == 1 {
		n, err := stream.ReadFull(ctx, src, buf[8:16])
		if err != nil {
			return Header{}, err
		}
		if n < 8 {
			return Header{}, io.EOF
		}
		hdr.HeaderSize = 16
		hdr.TotalSize = binary.BigEndian.Uint64(buf[8:16])
	}
	if hdr.TotalSize != 0 && hdr.TotalSize < 8 {
		return Header{}, fmt.Errorf("%w: box %q declares size %d", ErrMalformedBox, hdr.Type, hdr.TotalSize)
	}
	return hdr, nil
}
