// Package metadata assembles structural metadata for a media file: global
// duration, per-track descriptors, and iTunes-style text tags, all read
// from the buffered moov payload.
package metadata

import (
	"context"

	"mp4probe/internal/cache"
	"mp4probe/internal/logger"
	"mp4probe/internal/models"
	"mp4probe/internal/mp4"
	"mp4probe/internal/stream"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithCache reuses a buffered moov payload across extractions keyed by
// source identity.
func WithCache(c *cache.MoovCache, key string) Option {
	return func(e *Extractor) {
		e.cache = c
		e.cacheKey = key
	}
}

// Extractor runs metadata extractions.
type Extractor struct {
	log      logger.Logger
	cache    *cache.MoovCache
	cacheKey string
}

// NewExtractor creates an Extractor logging through log.
func NewExtractor(log logger.Logger, opts ...Option) *Extractor {
	if log == nil {
		log = logger.Nop{}
	}
	e := &Extractor{log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract builds the aggregate metadata view. Track tables are decoded
// leniently: a report with one degraded track beats no report.
func (e *Extractor) Extract(ctx context.Context, src stream.Source) (*models.Info, error) {
	info := &models.Info{Format: models.FormatUnknown}

	if size, err := src.Size(ctx); err == nil {
		info.Size = size
	} else {
		e.log.Debugf("file size unknown: %v", err)
	}

	format, err := mp4.DetectFormat(ctx, src)
	if err != nil {
		e.log.Warnf("format detection failed, attempting extraction anyway: %v", err)
	} else {
		info.Format = format
	}
	if format == models.FormatMP3 {
		// MP3 gets identified, nothing more.
		return info, nil
	}

	moov, err := e.loadMoov(ctx, src)
	if err != nil {
		return nil, err
	}

	if mvhd, err := mp4.FindBox(moov, "mvhd"); err == nil {
		if hdr, err := mp4.DecodeMVHD(mvhd); err == nil && hdr.Timescale > 0 {
			info.Duration = float64(hdr.Duration) / float64(hdr.Timescale)
		}
	}

	if udta, err := mp4.FindBox(moov, "udta"); err == nil {
		info.Tags = mp4.ExtractTags(udta)
	}

	tracks, err := mp4.Tracks(moov, mp4.Lenient)
	if err != nil {
		return nil, err
	}
	for i, track := range tracks {
		info.Tracks = append(info.Tracks, describeTrack(i, track))
	}

	return info, nil
}

func describeTrack(index int, track *mp4.Track) models.TrackInfo {
	kind := track.Kind()
	desc := models.TrackInfo{
		Index:    index,
		ID:       track.Header.ID,
		Kind:     kind,
		Codec:    "unknown",
		Language: track.Media.Language,
	}
	if track.Media.Timescale > 0 {
		desc.Duration = float64(track.Media.Duration) / float64(track.Media.Timescale)
	}

	if len(track.Table.Descriptions) == 0 {
		return desc
	}
	entry := track.Table.Descriptions[0]
	desc.Codec = codecName(entry.Codec, kind)

	switch kind {
	case "video":
		if w, h, ok := entry.VideoDimensions(); ok && w > 0 && h > 0 {
			desc.Width, desc.Height = w, h
		} else {
			// tkhd carries the presentation size as a fallback.
			desc.Width, desc.Height = track.Header.Width, track.Header.Height
		}
	case "audio":
		if ch, ok := entry.ChannelCount(); ok {
			desc.Channels = ch
		}
	}
	return desc
}

// codecName maps a sample-entry tag to a human-readable codec identifier.
func codecName(tag, kind string) string {
	switch kind {
	case "video":
		switch tag {
		case "avc1", "avc3":
			return "H.264/AVC"
		case "hev1", "hvc1":
			return "H.265/HEVC"
		case "mp4v":
			return "MPEG-4 Visual"
		case "av01":
			return "AV1"
		}
	case "audio":
		switch tag {
		case "mp4a":
			return "AAC"
		case "ac-3":
			return "AC-3"
		case "ec-3":
			return "E-AC-3"
		case "Opus":
			return "Opus"
		}
	case "subtitle":
		switch tag {
		case "tx3g":
			return "3GPP Timed Text"
		case "wvtt":
			return "WebVTT"
		case "stpp":
			return "XML Subtitle"
		}
	}
	return tag
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
