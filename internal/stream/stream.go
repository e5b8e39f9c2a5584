// Package stream provides the random-access byte sources every other layer
// reads media files through: a local file adapter and a range-requesting
// HTTP adapter with a small read cache.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrSizeUnknown is returned by Size when the backing transport cannot
// report a content length.
var ErrSizeUnknown = errors.New("content length unknown")

// Stats counts network traffic caused by a source. Local sources report
// zeros.
type Stats struct {
	Requests     uint64
	BytesFetched uint64
}

// Source is a seekable byte stream. A Source is single-consumer: one
// extraction owns it for its whole duration and no methods may be called
// concurrently.
type Source interface {
	// Read reads up to len(p) bytes at the current position, advancing it
	// by the number of bytes returned.
	Read(ctx context.Context, p []byte) (int, error)

	// Seek repositions the cursor like io.Seeker. End-relative seeks may
	// need to learn the total size first.
	Seek(ctx context.Context, offset int64, whence int) (int64, error)

	// Size returns the total length in bytes, or ErrSizeUnknown.
	Size(ctx context.Context) (int64, error)

	// Stats reports transfer counters accumulated so far.
	Stats() Stats

	Close() error
}

// ReadFull reads len(p) bytes unless EOF intervenes, looping over short
// reads. It returns the number of bytes placed in p.
func ReadFull(ctx context.Context, s Source, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.Read(ctx, p[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// ReadAt seeks to off and fills p via ReadFull.
func ReadAt(ctx context.Context, s Source, off int64, p []byte) (int, error) {
	if _, err := s.Seek(ctx, off, io.SeekStart); err != nil {
		return 0, err
	}
	return ReadFull(ctx, s, p)
}

// LocalSource is a thin adapter over a file on disk. The OS page cache makes
// any extra caching here pointless.
type LocalSource struct {
	f *os.File
}

// OpenLocal opens path for reading.
func OpenLocal(path string) (*LocalSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return &LocalSource{f: f}, nil
}

// Read implements Source.
func (s *LocalSource) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.f.Read(p)
}

// Seek implements Source.
func (s *LocalSource) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.f.Seek(offset, whence)
}

// Size implements Source using file metadata.
func (s *LocalSource) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}

// Stats implements Source. Local reads cause no network traffic.
func (s *LocalSource) Stats() Stats { return Stats{} }

// Close implements Source.
func (s *LocalSource) Close() error { return s.f.Close() }

// MemorySource serves reads from an in-memory byte slice. It exists for
// tests and for callers that already hold the whole file.
type MemorySource struct {
	data []byte
	pos  int64
}

// NewMemorySource wraps data in a Source.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

// Read implements Source.
func (s *MemorySource) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

// Seek implements Source.
func (s *MemorySource) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = s.pos + offset
	case io.SeekEnd:
		next = int64(len(s.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	s.pos = next
	return next, nil
}

// Size implements Source.
func (s *MemorySource) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.data)), nil
}

// Stats implements Source.
func (s *MemorySource) Stats() Stats { return Stats{} }

// Close implements Source.
func (s *MemorySource) Close() error { return nil }
