// Package subtitles extracts timed text tracks from MP4-family files,
// fetching only the byte ranges the subtitle samples occupy.
package subtitles

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"mp4probe/internal/cache"
	"mp4probe/internal/logger"
	"mp4probe/internal/models"
	"mp4probe/internal/mp4"
	"mp4probe/internal/planner"
	"mp4probe/internal/stream"
)

// ErrNoSubtitleTrack is returned when the movie has no timed-text track.
var ErrNoSubtitleTrack = errors.New("no subtitle track found")

// PayloadDecoder turns one subtitle sample into zero or more cues. It is
// the collaborator boundary: the orchestrator knows byte ranges and
// timing, the decoder knows codecs.
type PayloadDecoder interface {
	Decode(data []byte, codec string, start float64) ([]models.Cue, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDecoder replaces the default payload decoder.
func WithDecoder(d PayloadDecoder) Option {
	return func(e *Extractor) { e.decoder = d }
}

// WithGapThreshold overrides the range-coalescing gap in bytes.
func WithGapThreshold(gap uint64) Option {
	return func(e *Extractor) { e.gap = gap }
}

// WithCache reuses a buffered moov payload across extractions keyed by
// source identity.
func WithCache(c *cache.MoovCache, key string) Option {
	return func(e *Extractor) {
		e.cache = c
		e.cacheKey = key
	}
}

// Extractor runs subtitle extractions. It is stateless between calls;
// each Extract owns its source for the duration of the call.
type Extractor struct {
	log      logger.Logger
	decoder  PayloadDecoder
	gap      uint64
	cache    *cache.MoovCache
	cacheKey string
}

// NewExtractor creates an Extractor logging through log.
func NewExtractor(log logger.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = logger.Nop{}
	}
	e := &Extractor{
		log:     log,
		decoder: TextDecoder{},
		gap:     planner.DefaultGapThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns all cues from every subtitle track in the file, ordered
// by start time. Sample tables are decoded leniently so common muxer bugs
// degrade to missing cues instead of failures.
func (e *Extractor) Extract(ctx context.Context, src stream.Source) ([]models.Cue, error) {
	format, err := mp4.DetectFormat(ctx, src)
	switch {
	case err != nil:
		e.log.Warnf("format detection failed, attempting extraction anyway: %v", err)
	case format == models.FormatMP3:
		e.log.Infof("MP3 input, no subtitle tracks to extract")
		return nil, nil
	case !format.IsMP4Family():
		e.log.Infof("unsupported format %s, no subtitle tracks to extract", format)
		return nil, nil
	}

	moov, err := e.loadMoov(ctx, src)
	if err != nil {
		return nil, err
	}

	tracks, err := mp4.Tracks(moov, mp4.Lenient)
	if err != nil {
		return nil, err
	}

	fileSize, err := src.Size(ctx)
	if err != nil {
		e.log.Debugf("file size unknown, skipping bounds checks: %v", err)
		fileSize = -1
	}

	var cues []models.Cue
	var lastErr error
	found := false

	for _, track := range tracks {
		if track.Kind() != "subtitle" {
			continue
		}
		found = true
		trackCues, trackErr := e.extractTrack(ctx, src, track, fileSize)
		cues = append(cues, trackCues...)
		if trackErr != nil {
			lastErr = trackErr
		}
	}

	if !found {
		return nil, ErrNoSubtitleTrack
	}
	if len(cues) == 0 && lastErr != nil {
		return nil, lastErr
	}

	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	e.log.Infof("extracted %d subtitle cues", len(cues))
	return cues, nil
}

// extractTrack plans, fetches, and decodes every sample of one track. A
// sample that falls outside the file or fails to decode is dropped; the
// rest of the track still comes through.
func (e *Extractor) extractTrack(ctx context.Context, src stream.Source, track *mp4.Track, fileSize int64) ([]models.Cue, error) {
	samples, err := track.Table.Samples(nil)
	if err != nil {
		return nil, err
	}

	codec := "text"
	if len(track.Table.Descriptions) > 0 {
		codec = track.Table.Descriptions[0].Codec
	}

	wanted := samples[:0:0]
	for _, s := range samples {
		if s.Size == 0 {
			continue
		}
		if fileSize >= 0 && s.Offset+uint64(s.Size) > uint64(fileSize) {
			e.log.Warnf("dropping sample %d: ends at %d, file is %d bytes", s.Index, s.Offset+uint64(s.Size), fileSize)
			continue
		}
		wanted = append(wanted, s)
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	plan := planner.Build(wanted, e.gap)
	e.log.Debugf("subtitle track %d: %d samples in %d ranges", track.Header.ID, len(wanted), len(plan.Ranges))

	buffers, err := planner.NewFetcher(src, e.log).Fetch(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subtitle samples: %w", err)
	}

	var cues []models.Cue
	var lastErr error
	for _, s := range wanted {
		data, err := plan.SampleBytes(buffers, s.Index, s.Size)
		if err != nil {
			lastErr = err
			continue
		}
		entries, err := e.decoder.Decode(data, codec, track.Seconds(s.TimeTicks))
		if err != nil {
			e.log.Debugf("sample %d: %v", s.Index, err)
			lastErr = err
			continue
		}
		cues = append(cues, entries...)
	}

	if len(cues) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return cues, nil
}

func (e *Extractor) loadMoov(ctx context.Context, src stream.Source) ([]byte, error) {
	if e.cache != nil {
		if moov, ok := e.cache.Get(e.cacheKey); ok {
			return moov, nil
		}
	}
	moov, err := mp4.LoadMoov(ctx, src, e.log)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(e.cacheKey, moov)
	}
	return moov, nil
}
