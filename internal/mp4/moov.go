package mp4

import (
	"context"
	"encoding/binary"
	"fmt"

	"mp4probe/internal/logger"
	"mp4probe/internal/stream"
)

const (
	// initialWindow is the first front/tail probe size.
	initialWindow = 8 * 1024
	// expandedWindow is the second, wider probe size.
	expandedWindow = 512 * 1024
	// maxMoovSize guards against buffering a pathological movie box.
	maxMoovSize = 50 * 1024 * 1024
)

// MoovInfo locates the movie box within the file.
type MoovInfo struct {
	Offset     int64
	HeaderSize uint32
	// Size is the total box size including the header.
	Size uint64
}

// LocateMoov finds the moov box without scanning the whole file. Streaming
// muxers commonly write moov last, so the search alternates between the
// head and the tail of the file before falling back to a linear walk.
func LocateMoov(ctx context.Context, src stream.Source, log logger.Logger) (MoovInfo, error) {
	if log == nil {
		log = logger.Nop{}
	}

	// Phase 1: walk top-level boxes inside the first 8 KB.
	if info, ok, err := scanFront(ctx, src, initialWindow); err != nil {
		return MoovInfo{}, err
	} else if ok {
		log.Debugf("moov located in first %d bytes at offset %d", initialWindow, info.Offset)
		return info, nil
	}

	size, sizeErr := src.Size(ctx)
	if sizeErr != nil {
		log.Warnf("file size unknown, skipping tail probes: %v", sizeErr)
	}

	// Phase 2: signature-scan the last 8 KB.
	if sizeErr == nil && size > 2*initialWindow {
		if info, ok, err := scanTail(ctx, src, size, initialWindow); err != nil {
			return MoovInfo{}, err
		} else if ok {
			log.Debugf("moov located in trailing %d bytes at offset %d", initialWindow, info.Offset)
			return info, nil
		}
	}

	// Phase 3: widen the front probe.
	if info, ok, err := scanFront(ctx, src, expandedWindow); err != nil {
		return MoovInfo{}, err
	} else if ok {
		log.Debugf("moov located in first %d bytes at offset %d", expandedWindow, info.Offset)
		return info, nil
	}

	// Phase 4: widen the tail probe.
	if sizeErr == nil && size > 2*initialWindow {
		if info, ok, err := scanTail(ctx, src, size, expandedWindow); err != nil {
			return MoovInfo{}, err
		} else if ok {
			log.Debugf("moov located in trailing %d bytes at offset %d", expandedWindow, info.Offset)
			return info, nil
		}
	}

	// Last resort: hop header to header from the start of the file. Slower
	// but finds moov wherever it is, which beats reporting failure on an
	// unusual layout.
	log.Debugf("falling back to linear top-level scan")
	return linearScan(ctx, src, size, sizeErr == nil)
}

// scanFront reads the first window bytes and hops across top-level boxes
// looking for moov. Box headers near the end of the window are still
// visible even when their payload is not.
func scanFront(ctx context.Context, src stream.Source, window int) (MoovInfo, bool, error) {
	buf := make([]byte, window)
	n, err := stream.ReadAt(ctx, src, 0, buf)
	if err != nil {
		return MoovInfo{}, false, fmt.Errorf("failed to read leading window: %w", err)
	}
	buf = buf[:n]

	pos := 0
	for i := 0; i < maxSiblings && pos+8 <= len(buf); i++ {
		hdr, err := parseHeader(buf, pos)
		if err != nil {
			return MoovInfo{}, false, nil
		}
		if hdr.Type == "moov" && hdr.TotalSize >= uint64(hdr.HeaderSize) {
			return MoovInfo{Offset: int64(pos), HeaderSize: hdr.HeaderSize, Size: hdr.TotalSize}, true, nil
		}
		if hdr.TotalSize == 0 {
			break
		}
		next := uint64(pos) + hdr.TotalSize
		if next > uint64(len(buf)) {
			break
		}
		pos = int(next)
	}
	return MoovInfo{}, false, nil
}

// scanTail reads the trailing window and scans every byte offset for a moov
// signature, since box alignment within the tail is unknown. Only a
// candidate whose declared size stays inside the file is accepted.
func scanTail(ctx context.Context, src stream.Source, fileSize int64, window int) (MoovInfo, bool, error) {
	start := fileSize - int64(window)
	if start < 0 {
		start = 0
	}
	buf := make([]byte, fileSize-start)
	n, err := stream.ReadAt(ctx, src, start, buf)
	if err != nil {
		return MoovInfo{}, false, fmt.Errorf("failed to read trailing window: %w", err)
	}
	buf = buf[:n]

	for i := 0; i+8 <= len(buf); i++ {
		if string(buf[i+4:i+8]) != "moov" {
			continue
		}
		size32 := binary.BigEndian.Uint32(buf[i : i+4])
		headerSize := uint32(8)
		total := uint64(size32)
		if size32 == 1 {
			if i+16 > len(buf) {
				continue
			}
			headerSize = 16
			total = binary.BigEndian.Uint64(buf[i+8 : i+16])
		}
		if total < uint64(headerSize) {
			continue
		}
		if uint64(start)+uint64(i)+total > uint64(fileSize) {
			continue
		}
		return MoovInfo{Offset: start + int64(i), HeaderSize: headerSize, Size: total}, true, nil
	}
	return MoovInfo{}, false, nil
}

// linearScan reads one header at a time from offset 0 and jumps by the
// declared size.
func linearScan(ctx context.Context, src stream.Source, fileSize int64, sizeKnown bool) (MoovInfo, error) {
	var offset int64
	for i := 0; i < maxSiblings; i++ {
		if sizeKnown && offset >= fileSize {
			break
		}
		hdr, err := ReadHeaderAt(ctx, src, offset)
		if err != nil {
			break
		}
		if hdr.Type == "moov" {
			total := hdr.TotalSize
			if total == 0 && sizeKnown {
				total = uint64(fileSize - offset)
			}
			if total < uint64(hdr.HeaderSize) {
				return MoovInfo{}, fmt.Errorf("%w: moov size %d", ErrMalformedBox, total)
			}
			return MoovInfo{Offset: offset, HeaderSize: hdr.HeaderSize, Size: total}, nil
		}
		if hdr.TotalSize == 0 {
			break
		}
		offset += int64(hdr.TotalSize)
	}
	return MoovInfo{}, ErrMoovNotFound
}

// LoadMoov locates and buffers the moov payload in one step.
func LoadMoov(ctx context.Context, src stream.Source, log logger.Logger) ([]byte, error) {
	info, err := LocateMoov(ctx, src, log)
	if err != nil {
		return nil, err
	}
	return FetchMoov(ctx, src, info)
}

// FetchMoov buffers the moov payload (without its header). The buffer is
// the root for all box-walker operations of one extraction.
func FetchMoov(ctx context.Context, src stream.Source, info MoovInfo) ([]byte, error) {
	if info.Size > maxMoovSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMoovTooLarge, info.Size, maxMoovSize)
	}
	if info.Size < uint64(info.HeaderSize) {
		return nil, fmt.Errorf("%w: moov size %d", ErrMalformedBox, info.Size)
	}
	buf := make([]byte, info.Size)
	n, err := stream.ReadAt(ctx, src, info.Offset, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read moov box: %w", err)
	}
	if uint64(n) < info.Size {
		return nil, fmt.Errorf("%w: moov box short read (%d of %d bytes)", ErrTruncated, n, info.Size)
	}
	return buf[info.HeaderSize:], nil
}
