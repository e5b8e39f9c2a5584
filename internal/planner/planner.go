// Package planner turns sets of desired samples into a minimal list of
// byte-range fetches. Range requests have fixed overhead, so nearby samples
// are coalesced into one fetch at the cost of a little over-download.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mp4probe/internal/logger"
	"mp4probe/internal/mp4"
	"mp4probe/internal/stream"
)

// DefaultGapThreshold is the largest hole, in bytes, merged into one range.
const DefaultGapThreshold = 4096

// defaultAttempts bounds retries of a failed range fetch. Only transport
// errors are retried; cancellation is not.
const defaultAttempts = 3

const retryDelay = 100 * time.Millisecond

// Range is one half-open byte window [Start, Start+Length).
type Range struct {
	Start  uint64
	Length uint64
}

// End returns the exclusive end offset.
func (r Range) End() uint64 { return r.Start + r.Length }

// Placement locates one sample inside a planned range.
type Placement struct {
	Range  int
	Offset uint64
}

// Plan is an ordered fetch list plus the sample-index placement map.
type Plan struct {
	Ranges []Range
	// Samples maps a 1-based sample index to its placement.
	Samples map[uint32]Placement
}

// Build sorts the samples by offset and merges neighbors whose gap is below
// the threshold. gap == 0 selects DefaultGapThreshold.
func Build(samples []mp4.Sample, gap uint64) Plan {
	if gap == 0 {
		gap = DefaultGapThreshold
	}
	plan := Plan{Samples: make(map[uint32]Placement, len(samples))}
	if len(samples) == 0 {
		return plan
	}

	sorted := make([]mp4.Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	window := Range{Start: sorted[0].Offset, Length: uint64(sorted[0].Size)}
	members := []mp4.Sample{sorted[0]}

	flush := func() {
		id := len(plan.Ranges)
		plan.Ranges = append(plan.Ranges, window)
		for _, s := range members {
			plan.Samples[s.Index] = Placement{Range: id, Offset: s.Offset - window.Start}
		}
		members = members[:0]
	}

	for _, s := range sorted[1:] {
		end := s.Offset + uint64(s.Size)
		switch {
		case s.Offset < window.End()+gap:
			if end > window.End() {
				window.Length = end - window.Start
			}
			members = append(members, s)
		default:
			flush()
			window = Range{Start: s.Offset, Length: uint64(s.Size)}
			members = append(members, s)
		}
	}
	flush()
	return plan
}

// SampleBytes slices one sample's payload out of the fetched range buffers.
func (p Plan) SampleBytes(buffers [][]byte, index uint32, size uint32) ([]byte, error) {
	placement, ok := p.Samples[index]
	if !ok {
		return nil, fmt.Errorf("sample %d not in plan", index)
	}
	if placement.Range >= len(buffers) {
		return nil, fmt.Errorf("sample %d mapped to missing range %d", index, placement.Range)
	}
	buf := buffers[placement.Range]
	end := placement.Offset + uint64(size)
	if end > uint64(len(buf)) {
		return nil, fmt.Errorf("sample %d ends at %d in a %d-byte range", index, end, len(buf))
	}
	return buf[placement.Offset:end], nil
}

// Fetcher downloads planned ranges from a byte source in ascending offset
// order, retrying transient transport failures.
type Fetcher struct {
	src      stream.Source
	log      logger.Logger
	attempts int
}

// NewFetcher creates a Fetcher. A nil logger is replaced with a no-op one.
func NewFetcher(src stream.Source, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Nop{}
	}
	return &Fetcher{src: src, log: log, attempts: defaultAttempts}
}

// Fetch reads every planned range and returns one buffer per range, in
// plan order.
func (f *Fetcher) Fetch(ctx context.Context, plan Plan) ([][]byte, error) {
	buffers := make([][]byte, len(plan.Ranges))
	for i, r := range plan.Ranges {
		buf, err := f.fetchOne(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("range %d [%d,%d): %w", i, r.Start, r.End(), err)
		}
		buffers[i] = buf
	}
	return buffers, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, r Range) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, r.Length)
		n, err := stream.ReadAt(ctx, f.src, int64(r.Start), buf)
		if err == nil && uint64(n) == r.Length {
			return buf, nil
		}
		if err == nil {
			err = fmt.Errorf("short read: %d of %d bytes", n, r.Length)
		}
		lastErr = err
		if attempt < f.attempts {
			f.log.Warnf("fetch attempt %d/%d for [%d,%d) failed: %v", attempt, f.attempts, r.Start, r.End(), err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, lastErr
}
