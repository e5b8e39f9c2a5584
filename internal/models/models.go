package models

import "fmt"

// Format is the container format detected from the leading bytes of a file.
type Format string

// Known container formats.
const (
	FormatMP4     Format = "MP4"
	FormatM4V     Format = "M4V"
	Format3GP     Format = "3GP"
	Format3G2     Format = "3G2"
	FormatMOV     Format = "MOV"
	FormatMP3     Format = "MP3"
	FormatUnknown Format = "unknown"
)

// IsMP4Family reports whether the format is an ISO Base Media file that the
// box walker understands.
func (f Format) IsMP4Family() bool {
	switch f {
	case FormatMP4, FormatM4V, Format3GP, Format3G2, FormatMOV:
		return true
	}
	return false
}

// Cue is a single timed subtitle entry. Start and End are in seconds from
// the beginning of the presentation.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SRTStart returns the cue start formatted as an SRT timestamp.
func (c Cue) SRTStart() string { return FormatSRTTimestamp(c.Start) }

// SRTEnd returns the cue end formatted as an SRT timestamp.
func (c Cue) SRTEnd() string { return FormatSRTTimestamp(c.End) }

// FormatSRTTimestamp renders seconds as "HH:MM:SS,mmm". Negative and
// non-finite values clamp to zero.
func FormatSRTTimestamp(seconds float64) string {
	if seconds != seconds || seconds < 0 || seconds > 1e12 {
		return "00:00:00,000"
	}
	totalMillis := uint64(seconds * 1000)
	millis := totalMillis % 1000
	totalSeconds := totalMillis / 1000
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// Thumbnail is one decoded and re-encoded keyframe.
type Thumbnail struct {
	JPEG      []byte  `json:"-"`
	Timestamp float64 `json:"timestamp"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// KeySample is a sync sample selected for thumbnailing, converted to an
// Annex-B elementary stream, before any pixel decoding has happened.
type KeySample struct {
	Index     uint32  `json:"sample"`
	Timestamp float64 `json:"timestamp"`
	AnnexB    []byte  `json:"-"`
}

// Tags holds iTunes-style text metadata read from udta.meta.ilst.
type Tags struct {
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Copyright string `json:"copyright,omitempty"`
}

// TrackInfo describes one track for metadata reporting.
type TrackInfo struct {
	Index    int     `json:"index"`
	ID       uint32  `json:"id"`
	Kind     string  `json:"type"`
	Codec    string  `json:"codec_id"`
	Width    uint32  `json:"width,omitempty"`
	Height   uint32  `json:"height,omitempty"`
	Channels uint16  `json:"channels,omitempty"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Info is the aggregate result of a metadata extraction.
type Info struct {
	Format   Format      `json:"format"`
	Size     int64       `json:"size,omitempty"`
	Duration float64     `json:"duration"`
	Tags     Tags        `json:"tags"`
	Tracks   []TrackInfo `json:"streams"`
}
