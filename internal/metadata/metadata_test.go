package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp4probe/internal/logger"
	"mp4probe/internal/models"
	"mp4probe/internal/mp4/mp4test"
	"mp4probe/internal/stream"
)

func buildMovie(t *testing.T) []byte {
	t.Helper()

	video := mp4test.Trak(
		mp4test.TKHD(1, 1280, 720),
		mp4test.HDLR("vide"),
		mp4test.MDHD(90000, 900000, "und"),
		mp4test.STSD(mp4test.VideoEntry("avc1", 1280, 720)),
		mp4test.STTS(),
		mp4test.STSZDefault(0, 0),
		mp4test.STSC(),
		mp4test.STCO(),
	)
	audio := mp4test.Trak(
		mp4test.TKHD(2, 0, 0),
		mp4test.HDLR("soun"),
		mp4test.MDHD(44100, 441000, "eng"),
		mp4test.STSD(mp4test.AudioEntry("mp4a", 2)),
		mp4test.STTS(),
		mp4test.STSZDefault(0, 0),
		mp4test.STSC(),
		mp4test.STCO(),
	)
	item := func(name, text string) []byte {
		return mp4test.Box(name, mp4test.Box("data", mp4test.U32(1), mp4test.U32(0), []byte(text)))
	}
	udta := mp4test.Box("udta",
		mp4test.FullBox("meta", 0,
			mp4test.Box("ilst", item("\xa9nam", "Big Buck Bunny"), item("\xa9ART", "Blender")),
		),
	)

	file, _ := mp4test.Movie([][]byte{mp4test.MVHD(1000, 125000), video, audio, udta}, nil)
	return file
}

func TestExtractMetadata(t *testing.T) {
	file := buildMovie(t)
	ex := NewExtractor(logger.Nop{})

	info, err := ex.Extract(context.Background(), stream.NewMemorySource(file))
	require.NoError(t, err)

	assert.Equal(t, models.FormatMP4, info.Format)
	assert.Equal(t, int64(len(file)), info.Size)
	assert.InDelta(t, 125.0, info.Duration, 1e-9)
	assert.Equal(t, "Big Buck Bunny", info.Tags.Title)
	assert.Equal(t, "Blender", info.Tags.Artist)

	require.Len(t, info.Tracks, 2)

	v := info.Tracks[0]
	assert.Equal(t, "video", v.Kind)
	assert.Equal(t, uint32(1), v.ID)
	assert.Equal(t, "H.264/AVC", v.Codec)
	assert.Equal(t, uint32(1280), v.Width)
	assert.Equal(t, uint32(720), v.Height)
	assert.InDelta(t, 10.0, v.Duration, 1e-9)

	a := info.Tracks[1]
	assert.Equal(t, "audio", a.Kind)
	assert.Equal(t, "AAC", a.Codec)
	assert.Equal(t, uint16(2), a.Channels)
	assert.Equal(t, "eng", a.Language)
}

func TestExtractMetadataMP3(t *testing.T) {
	data := append([]byte("ID3"), make([]byte, 64)...)
	ex := NewExtractor(logger.Nop{})

	info, err := ex.Extract(context.Background(), stream.NewMemorySource(data))
	require.NoError(t, err)
	assert.Equal(t, models.FormatMP3, info.Format)
	assert.Empty(t, info.Tracks)
}

func TestExtractMetadataNoMoov(t *testing.T) {
	file := mp4test.Concat(mp4test.Ftyp("isom"), mp4test.Box("mdat", make([]byte, 64)))
	ex := NewExtractor(logger.Nop{})

	_, err := ex.Extract(context.Background(), stream.NewMemorySource(file))
	assert.Error(t, err)
}

func TestCodecNames(t *testing.T) {
	assert.Equal(t, "H.265/HEVC", codecName("hvc1", "video"))
	assert.Equal(t, "3GPP Timed Text", codecName("tx3g", "subtitle"))
	assert.Equal(t, "Opus", codecName("Opus", "audio"))
	assert.Equal(t, "webx", codecName("webx", "video"))
}
