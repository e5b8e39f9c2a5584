package mp4

import (
	"errors"
	"fmt"
)

// maxTracks bounds how many tracks Tracks returns for one movie; trak boxes
// after that many parsed tracks are not read.
const maxTracks = 50

// SampleTable is the decoded stbl view for one track.
type SampleTable struct {
	TimeToSample  []TimeToSample
	Sizes         []uint32
	SampleToChunk []SampleToChunk
	ChunkOffsets  []uint64
	// SyncSamples is nil when stss is absent, meaning every sample is a
	// sync sample.
	SyncSamples  []uint32
	Descriptions []SampleDescription
}

// Track couples the sample table with the track and media headers.
type Track struct {
	Header  TrackHeader
	Handler string
	Media   MediaHeader
	Table   SampleTable
}

// Sample is one resolved sample record. Index and Chunk are 1-based.
type Sample struct {
	Index         uint32
	Chunk         uint32
	Offset        uint64
	Size          uint32
	TimeTicks     uint64
	DurationTicks uint32
}

// Kind maps the handler tag to a coarse track kind.
func (t *Track) Kind() string {
	switch t.Handler {
	case "vide":
		return "video"
	case "soun":
		return "audio"
	case "sbtl", "subt", "text":
		return "subtitle"
	}
	return "unknown"
}

// Seconds converts ticks of this track's timescale to seconds.
func (t *Track) Seconds(ticks uint64) float64 {
	if t.Media.Timescale == 0 {
		return 0
	}
	return float64(ticks) / float64(t.Media.Timescale)
}

// SampleCount returns the number of samples in the track.
func (t *SampleTable) SampleCount() uint32 { return uint32(len(t.Sizes)) }

// Tracks parses every trak box in a moov payload. Under Lenient, tracks
// that fail to parse are dropped instead of failing the movie.
func Tracks(moov []byte, pol Policy) ([]*Track, error) {
	var tracks []*Track
	it := NewIterator(moov)
	for len(tracks) < maxTracks {
		box, ok, err := it.Next()
		if err != nil {
			if pol == Strict {
				return nil, err
			}
			break
		}
		if !ok {
			break
		}
		if box.Type != "trak" {
			continue
		}
		track, err := ParseTrack(box.Payload, pol)
		if err != nil {
			if pol == Strict {
				return nil, fmt.Errorf("trak %d: %w", len(tracks), err)
			}
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// ParseTrack decodes one trak payload into a Track.
func ParseTrack(trak []byte, pol Policy) (*Track, error) {
	track := &Track{Media: MediaHeader{Timescale: 1000, Language: "und"}}

	if tkhd, err := FindBox(trak, "tkhd"); err == nil {
		hdr, err := DecodeTKHD(tkhd)
		if err != nil && pol == Strict {
			return nil, err
		}
		track.Header = hdr
	} else if pol == Strict {
		return nil, err
	}

	mdia, err := FindBox(trak, "mdia")
	if err != nil {
		return nil, err
	}

	if hdlr, err := FindBox(mdia, "hdlr"); err == nil {
		if handler, err := DecodeHDLR(hdlr); err == nil {
			track.Handler = handler
		} else if pol == Strict {
			return nil, err
		}
	} else if pol == Strict {
		return nil, err
	}

	if mdhd, err := FindBox(mdia, "mdhd"); err == nil {
		hdr, err := DecodeMDHD(mdhd)
		if err == nil {
			track.Media = hdr
		} else if pol == Strict {
			return nil, err
		}
	} else if pol == Strict {
		return nil, err
	}

	stbl, err := Find(mdia, "minf.stbl")
	if err != nil {
		return nil, err
	}

	table, err := decodeSampleTable(stbl, pol)
	if err != nil {
		return nil, err
	}
	track.Table = table
	return track, nil
}

func decodeSampleTable(stbl []byte, pol Policy) (SampleTable, error) {
	var table SampleTable
	var err error

	get := func(name string) []byte {
		payload, findErr := FindBox(stbl, name)
		if findErr != nil {
			return nil
		}
		return payload
	}

	if b := get("stts"); b != nil {
		if table.TimeToSample, err = DecodeSTTS(b, pol); err != nil {
			return SampleTable{}, err
		}
	} else if pol == Strict {
		return SampleTable{}, fmt.Errorf("%w: %q", ErrBoxNotFound, "stts")
	}

	if b := get("stsz"); b != nil {
		if table.Sizes, err = DecodeSTSZ(b, pol); err != nil {
			return SampleTable{}, err
		}
	} else if pol == Strict {
		return SampleTable{}, fmt.Errorf("%w: %q", ErrBoxNotFound, "stsz")
	}

	if b := get("stsc"); b != nil {
		if table.SampleToChunk, err = DecodeSTSC(b, pol); err != nil {
			return SampleTable{}, err
		}
	} else if pol == Strict {
		return SampleTable{}, fmt.Errorf("%w: %q", ErrBoxNotFound, "stsc")
	}

	// One chunk-offset encoding per track: stco or co64.
	if b := get("stco"); b != nil {
		if table.ChunkOffsets, err = DecodeSTCO(b, pol); err != nil {
			return SampleTable{}, err
		}
	} else if b := get("co64"); b != nil {
		if table.ChunkOffsets, err = DecodeCO64(b, pol); err != nil {
			return SampleTable{}, err
		}
	} else if pol == Strict {
		return SampleTable{}, fmt.Errorf("%w: %q", ErrBoxNotFound, "stco/co64")
	}

	if b := get("stss"); b != nil {
		if table.SyncSamples, err = DecodeSTSS(b, pol); err != nil {
			return SampleTable{}, err
		}
	}

	if b := get("stsd"); b != nil {
		if table.Descriptions, err = DecodeSTSD(b, pol); err != nil {
			return SampleTable{}, err
		}
	}

	return table, nil
}

// Samples resolves sample indices into absolute byte positions and
// timestamps in a single O(total samples) pass. want is a sorted list of
// 1-based sample indices; nil resolves every sample. The walk
// short-circuits once all wanted indices are resolved.
func (t *SampleTable) Samples(want []uint32) ([]Sample, error) {
	total := t.SampleCount()
	if total == 0 {
		return nil, nil
	}
	if len(t.SampleToChunk) == 0 || len(t.ChunkOffsets) == 0 {
		return nil, fmt.Errorf("%w: track has samples but no chunk mapping", ErrMalformedBox)
	}

	capacity := len(want)
	if want == nil {
		capacity = int(total)
	}
	out := make([]Sample, 0, capacity)

	// Cursor over stts runs.
	ttsIdx := 0
	ttsLeft := uint32(0)
	if len(t.TimeToSample) > 0 {
		ttsLeft = t.TimeToSample[0].Count
	}
	nextDelta := func() uint32 {
		for ttsIdx < len(t.TimeToSample) && ttsLeft == 0 {
			ttsIdx++
			if ttsIdx < len(t.TimeToSample) {
				ttsLeft = t.TimeToSample[ttsIdx].Count
			}
		}
		if ttsIdx >= len(t.TimeToSample) || ttsLeft == 0 {
			return 0
		}
		ttsLeft--
		return t.TimeToSample[ttsIdx].Delta
	}

	sci := 0
	wi := 0
	sample := uint32(1)
	var timeTicks uint64

	for chunk := uint32(1); chunk <= uint32(len(t.ChunkOffsets)) && sample <= total; chunk++ {
		for sci+1 < len(t.SampleToChunk) && chunk >= t.SampleToChunk[sci+1].FirstChunk {
			sci++
		}
		if chunk < t.SampleToChunk[sci].FirstChunk {
			continue
		}
		perChunk := t.SampleToChunk[sci].SamplesPerChunk

		chunkOffset := t.ChunkOffsets[chunk-1]
		var within uint64
		for k := uint32(0); k < perChunk && sample <= total; k++ {
			size := t.Sizes[sample-1]
			delta := nextDelta()

			emit := want == nil
			if !emit && wi < len(want) && want[wi] == sample {
				emit = true
				wi++
			}
			if emit {
				out = append(out, Sample{
					Index:         sample,
					Chunk:         chunk,
					Offset:        chunkOffset + within,
					Size:          size,
					TimeTicks:     timeTicks,
					DurationTicks: delta,
				})
			}

			within += uint64(size)
			timeTicks += uint64(delta)
			sample++

			if want != nil && wi == len(want) {
				return out, nil
			}
		}
	}
	return out, nil
}

// CheckConsistency verifies the cross-table invariants the strict decoders
// cannot see in isolation.
func (t *SampleTable) CheckConsistency() error {
	var sttsTotal uint64
	for _, run := range t.TimeToSample {
		sttsTotal += uint64(run.Count)
	}
	if len(t.TimeToSample) > 0 && sttsTotal != uint64(len(t.Sizes)) {
		return fmt.Errorf("%w: stts covers %d samples, stsz has %d", ErrMalformedBox, sttsTotal, len(t.Sizes))
	}

	count := t.SampleCount()
	var prev uint32
	for _, s := range t.SyncSamples {
		if s <= prev || s < 1 || s > count {
			return fmt.Errorf("%w: stss entry %d invalid for %d samples", ErrMalformedBox, s, count)
		}
		prev = s
	}
	return nil
}

// CheckBounds validates that every resolved sample lies within the file.
// fileSize < 0 means the size is unknown and nothing can be checked.
func CheckBounds(samples []Sample, fileSize int64) error {
	if fileSize < 0 {
		return nil
	}
	for _, s := range samples {
		end := s.Offset + uint64(s.Size)
		if end > uint64(fileSize) {
			return fmt.Errorf("%w: sample %d ends at %d, file is %d bytes", ErrRangeOutOfBounds, s.Index, end, fileSize)
		}
	}
	return nil
}

// IsNotFound reports whether err is a missing-box condition rather than a
// malformed one.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBoxNotFound) || errors.Is(err, ErrMoovNotFound)
}
