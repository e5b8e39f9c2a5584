// Package thumbnails selects evenly spaced keyframes from an H.264 video
// track, fetches exactly their byte ranges, and turns them into scaled
// JPEG images through pluggable decode and scale collaborators.
package thumbnails

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"mp4probe/internal/avc"
	"mp4probe/internal/cache"
	"mp4probe/internal/logger"
	"mp4probe/internal/models"
	"mp4probe/internal/mp4"
	"mp4probe/internal/planner"
	"mp4probe/internal/stream"
)

// Errors reported by the orchestrator.
var (
	ErrNoVideoTrack   = errors.New("no H.264 video track found")
	ErrNoFrameDecoder = errors.New("no frame decoder configured")
	ErrNoThumbnails   = errors.New("no thumbnails could be generated")
	ErrNoParameterSet = errors.New("no SPS/PPS available for track")
)

// Defaults for extraction parameters.
const (
	DefaultCount     = 5
	DefaultMaxWidth  = 320
	DefaultMaxHeight = 240
	DefaultQuality   = 85
	DefaultDeadline  = 60 * time.Second
)

// FrameDecoder decodes one length-prefixed H.264 sample into a raw image.
// Implementations are responsible for converting the length-prefixed NAL
// units to Annex-B internally; avc.SampleToAnnexB does exactly that.
type FrameDecoder interface {
	Decode(cfg avc.Config, sample []byte) (image.Image, error)
}

// Scaler converts a raw image into resized JPEG bytes.
type Scaler interface {
	Scale(img image.Image, maxWidth, maxHeight uint, quality int) ([]byte, error)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithFrameDecoder sets the H.264 decode collaborator. Extraction fails
// without one.
func WithFrameDecoder(d FrameDecoder) Option {
	return func(e *Extractor) { e.decoder = d }
}

// WithScaler replaces the default Lanczos scaler.
func WithScaler(s Scaler) Option {
	return func(e *Extractor) { e.scaler = s }
}

// WithCount sets how many thumbnails to aim for.
func WithCount(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.count = n
		}
	}
}

// WithMaxSize bounds the output dimensions, aspect-ratio preserving.
func WithMaxSize(w, h uint) Option {
	return func(e *Extractor) {
		if w > 0 {
			e.maxWidth = w
		}
		if h > 0 {
			e.maxHeight = h
		}
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(e *Extractor) {
		if q > 0 && q <= 100 {
			e.quality = q
		}
	}
}

// WithDeadline overrides the per-extraction wall-clock timeout.
func WithDeadline(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.deadline = d
		}
	}
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

// Extractor runs thumbnail extractions.
type Extractor struct {
	log       logger.Logger
	decoder   FrameDecoder
	scaler    Scaler
	count     int
	maxWidth  uint
	maxHeight uint
	quality   int
	deadline  time.Duration
	gap       uint64
	cache     *cache.MoovCache
	cacheKey  string
}

// NewExtractor creates an Extractor logging through log.
func NewExtractor(log logger.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = logger.Nop{}
	}
	e := &Extractor{
		log:       log,
		scaler:    LanczosScaler{},
		count:     DefaultCount,
		maxWidth:  DefaultMaxWidth,
		maxHeight: DefaultMaxHeight,
		quality:   DefaultQuality,
		deadline:  DefaultDeadline,
		gap:       planner.DefaultGapThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract decodes evenly spaced keyframes into JPEG thumbnails. Sample
// tables of the chosen track are decoded strictly: a thumbnail built on an
// untrusted table is a corrupt image, not a degraded one.
func (e *Extractor) Extract(ctx context.Context, src stream.Source) ([]models.Thumbnail, error) {
	if e.decoder == nil {
		return nil, ErrNoFrameDecoder
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	keys, cfg, err := e.extractSamples(ctx, src)
	if err != nil {
		return nil, err
	}

	var thumbs []models.Thumbnail
	var lastErr error
	for _, key := range keys {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Samples already decoded are kept; the deadline only stops
			// further work.
			if len(thumbs) > 0 {
				e.log.Warnf("deadline reached after %d thumbnails: %v", len(thumbs), ctxErr)
				return thumbs, nil
			}
			return nil, fmt.Errorf("thumbnail extraction: %w", ctxErr)
		}

		img, err := e.decoder.Decode(cfg, key.sample)
		if err != nil {
			e.log.Warnf("failed to decode sample %d: %v", key.Index, err)
			lastErr = err
			continue
		}
		jpegBytes, err := e.scaler.Scale(img, e.maxWidth, e.maxHeight, e.quality)
		if err != nil {
			e.log.Warnf("failed to scale sample %d: %v", key.Index, err)
			lastErr = err
			continue
		}
		w, h := jpegDimensions(jpegBytes)
		thumbs = append(thumbs, models.Thumbnail{
			JPEG:      jpegBytes,
			Timestamp: key.Timestamp,
			Width:     w,
			Height:    h,
		})
	}

	if len(thumbs) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoThumbnails, lastErr)
		}
		return nil, ErrNoThumbnails
	}
	e.log.Infof("generated %d thumbnails", len(thumbs))
	return thumbs, nil
}

// keySample carries the raw length-prefixed sample next to the exported
// record.
type keySample struct {
	models.KeySample
	sample []byte
}

// ExtractSamples runs everything up to the collaborator boundary: it
// returns the selected keyframes as Annex-B elementary streams plus the
// decoder configuration. Extract builds on this; callers without a frame
// decoder can use it directly.
func (e *Extractor) ExtractSamples(ctx context.Context, src stream.Source) ([]models.KeySample, avc.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	keys, cfg, err := e.extractSamples(ctx, src)
	if err != nil {
		return nil, avc.Config{}, err
	}
	out := make([]models.KeySample, len(keys))
	for i, k := range keys {
		out[i] = k.KeySample
	}
	return out, cfg, nil
}

func (e *Extractor) extractSamples(ctx context.Context, src stream.Source) ([]keySample, avc.Config, error) {
	format, err := mp4.DetectFormat(ctx, src)
	switch {
	case err != nil:
		e.log.Warnf("format detection failed, attempting extraction anyway: %v", err)
	case !format.IsMP4Family():
		return nil, avc.Config{}, fmt.Errorf("%w: input format is %s", ErrNoVideoTrack, format)
	}

	moov, err := e.loadMoov(ctx, src)
	if err != nil {
		return nil, avc.Config{}, err
	}

	track, err := findAVCTrack(moov)
	if err != nil {
		return nil, avc.Config{}, err
	}
	if err := track.Table.CheckConsistency(); err != nil {
		return nil, avc.Config{}, err
	}

	targets := selectTargets(&track.Table, e.count)
	if len(targets) == 0 {
		return nil, avc.Config{}, ErrNoThumbnails
	}
	e.log.Debugf("target samples: %v", targets)

	samples, err := track.Table.Samples(targets)
	if err != nil {
		return nil, avc.Config{}, err
	}

	fileSize, err := src.Size(ctx)
	if err != nil {
		e.log.Debugf("file size unknown, skipping bounds checks: %v", err)
		fileSize = -1
	}
	// A sample outside the file means the table cannot be trusted at all.
	if err := mp4.CheckBounds(samples, fileSize); err != nil {
		return nil, avc.Config{}, err
	}

	plan := planner.Build(samples, e.gap)
	e.log.Debugf("%d keyframes in %d ranges", len(samples), len(plan.Ranges))

	buffers, err := planner.NewFetcher(src, e.log).Fetch(ctx, plan)
	if err != nil {
		return nil, avc.Config{}, fmt.Errorf("failed to fetch keyframe samples: %w", err)
	}

	raw := make([][]byte, 0, len(samples))
	for _, s := range samples {
		data, err := plan.SampleBytes(buffers, s.Index, s.Size)
		if err != nil {
			return nil, avc.Config{}, err
		}
		raw = append(raw, data)
	}

	cfg, err := e.decoderConfig(track, raw)
	if err != nil {
		return nil, avc.Config{}, err
	}

	keys := make([]keySample, 0, len(samples))
	for i, s := range samples {
		annexB, err := avc.SampleToAnnexB(cfg, raw[i])
		if err != nil {
			e.log.Warnf("sample %d is not valid AVCC data: %v", s.Index, err)
			continue
		}
		keys = append(keys, keySample{
			KeySample: models.KeySample{
				Index:     s.Index,
				Timestamp: track.Seconds(s.TimeTicks),
				AnnexB:    annexB,
			},
			sample: raw[i],
		})
	}
	return keys, cfg, nil
}

// decoderConfig prefers the avcC record from stsd and falls back to
// scanning the fetched samples for in-band parameter sets.
func (e *Extractor) decoderConfig(track *mp4.Track, samples [][]byte) (avc.Config, error) {
	for _, desc := range track.Table.Descriptions {
		if !desc.IsAVC() {
			continue
		}
		payload, err := desc.ChildBox("avcC")
		if err != nil {
			continue
		}
		cfg, err := avc.ParseConfig(payload)
		if err != nil {
			e.log.Warnf("unusable avcC record: %v", err)
			continue
		}
		if cfg.Valid() {
			return cfg, nil
		}
	}

	e.log.Infof("no avcC record, scanning samples for parameter sets")
	sps, pps := avc.FindParameterSets(samples, 4)
	if sps == nil || pps == nil {
		return avc.Config{}, ErrNoParameterSet
	}
	return avc.Config{
		NALULengthSize: 4,
		SPS:            [][]byte{sps},
		PPS:            [][]byte{pps},
	}, nil
}

// findAVCTrack returns the first video track carrying an H.264 sample
// description, parsed strictly. Tracks with other codecs are skipped
// silently.
func findAVCTrack(moov []byte) (*mp4.Track, error) {
	it := mp4.NewIterator(moov)
	seen := 0
	for seen < 50 {
		box, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if box.Type != "trak" {
			continue
		}
		seen++

		// Peek cheaply before committing to a strict parse.
		hdlr, err := mp4.Find(box.Payload, "mdia.hdlr")
		if err != nil {
			continue
		}
		handler, err := mp4.DecodeHDLR(hdlr)
		if err != nil || handler != "vide" {
			continue
		}
		stsd, err := mp4.Find(box.Payload, "mdia.minf.stbl.stsd")
		if err != nil {
			continue
		}
		descs, err := mp4.DecodeSTSD(stsd, mp4.Lenient)
		if err != nil || !hasAVC(descs) {
			continue
		}

		return mp4.ParseTrack(box.Payload, mp4.Strict)
	}
	return nil, ErrNoVideoTrack
}

func hasAVC(descs []mp4.SampleDescription) bool {
	for _, d := range descs {
		if d.IsAVC() {
			return true
		}
	}
	return false
}

// selectTargets picks count 1-based sample indices evenly spaced across the
// sync-sample list, or across all samples when stss is absent (every sample
// is then a sync sample).
func selectTargets(table *mp4.SampleTable, count int) []uint32 {
	total := int(table.SampleCount())
	if total == 0 || count <= 0 {
		return nil
	}

	if sync := table.SyncSamples; sync != nil {
		if len(sync) <= count {
			out := make([]uint32, len(sync))
			copy(out, sync)
			return out
		}
		step := len(sync) / count
		out := make([]uint32, 0, count)
		for i := 0; i < count; i++ {
			out = append(out, sync[i*step])
		}
		return out
	}

	if total <= count {
		out := make([]uint32, total)
		for i := range out {
			out[i] = uint32(i + 1)
		}
		return out
	}
	step := total / count
	out := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, uint32(i*step+1))
	}
	return out
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
