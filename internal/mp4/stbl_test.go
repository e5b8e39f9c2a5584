package mp4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp4probe/internal/mp4/mp4test"
)

// payload strips the 8-byte box header a builder added.
func payload(box []byte) []byte { return box[8:] }

func TestDecodeSTTS(t *testing.T) {
	entries, err := DecodeSTTS(payload(mp4test.STTS([2]uint32{10, 1000}, [2]uint32{5, 500})), Strict)
	require.NoError(t, err)
	assert.Equal(t, []TimeToSample{{10, 1000}, {5, 500}}, entries)
}

func TestDecodeSTTSTruncated(t *testing.T) {
	full := payload(mp4test.STTS([2]uint32{10, 1000}, [2]uint32{5, 500}))
	truncated := full[:len(full)-4] // second entry cut mid-way

	_, err := DecodeSTTS(truncated, Strict)
	assert.ErrorIs(t, err, ErrTruncated)

	entries, err := DecodeSTTS(truncated, Lenient)
	require.NoError(t, err)
	assert.Equal(t, []TimeToSample{{10, 1000}}, entries)
}

func TestDecodeSTSZExplicit(t *testing.T) {
	sizes, err := DecodeSTSZ(payload(mp4test.STSZ(50, 60, 70)), Strict)
	require.NoError(t, err)
	assert.Equal(t, []uint32{50, 60, 70}, sizes)
}

func TestDecodeSTSZDefaultSize(t *testing.T) {
	sizes, err := DecodeSTSZ(payload(mp4test.STSZDefault(1024, 4)), Strict)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1024, 1024, 1024, 1024}, sizes)
}

func TestDecodeSTSZEmpty(t *testing.T) {
	sizes, err := DecodeSTSZ(payload(mp4test.STSZDefault(0, 0)), Strict)
	require.NoError(t, err)
	assert.Empty(t, sizes)
}

func TestDecodeSTSZTruncatedMidEntry(t *testing.T) {
	full := payload(mp4test.STSZ(50, 60, 70))
	truncated := full[:len(full)-2]

	_, err := DecodeSTSZ(truncated, Strict)
	assert.ErrorIs(t, err, ErrTruncated)

	sizes, err := DecodeSTSZ(truncated, Lenient)
	require.NoError(t, err)
	assert.Equal(t, []uint32{50, 60}, sizes)
}

func TestDecodeSTSC(t *testing.T) {
	entries, err := DecodeSTSC(payload(mp4test.STSC([3]uint32{1, 4, 1}, [3]uint32{3, 2, 1})), Strict)
	require.NoError(t, err)
	assert.Equal(t, []SampleToChunk{{1, 4, 1}, {3, 2, 1}}, entries)
}

func TestDecodeSTSCNonIncreasing(t *testing.T) {
	bad := payload(mp4test.STSC([3]uint32{1, 4, 1}, [3]uint32{1, 2, 1}))

	_, err := DecodeSTSC(bad, Strict)
	assert.ErrorIs(t, err, ErrMalformedBox)

	entries, err := DecodeSTSC(bad, Lenient)
	require.NoError(t, err)
	assert.Equal(t, []SampleToChunk{{1, 4, 1}}, entries)
}

func TestDecodeChunkOffsets(t *testing.T) {
	offsets, err := DecodeSTCO(payload(mp4test.STCO(100, 2000, 30000)), Strict)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 2000, 30000}, offsets)

	// co64 must carry offsets beyond 4 GiB untruncated.
	big := uint64(5) << 32
	offsets, err = DecodeCO64(payload(mp4test.CO64(big, big+100)), Strict)
	require.NoError(t, err)
	assert.Equal(t, []uint64{big, big + 100}, offsets)
}

func TestDecodeSTSS(t *testing.T) {
	samples, err := DecodeSTSS(payload(mp4test.STSS(1, 30, 60, 90, 120)), Strict)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 30, 60, 90, 120}, samples)
}

func TestDecodeRejectsInsaneEntryCount(t *testing.T) {
	b := mp4test.Concat([]byte{0, 0, 0, 0}, mp4test.U32(0xffffffff))
	_, err := DecodeSTTS(b, Strict)
	assert.ErrorIs(t, err, ErrTooManyEntries)
	_, err = DecodeSTTS(b, Lenient)
	assert.ErrorIs(t, err, ErrTooManyEntries)
}

func TestDecodeMDHD(t *testing.T) {
	hdr, err := DecodeMDHD(payload(mp4test.MDHD(90000, 900000, "eng")))
	require.NoError(t, err)
	assert.Equal(t, uint32(90000), hdr.Timescale)
	assert.Equal(t, uint64(900000), hdr.Duration)
	assert.Equal(t, "eng", hdr.Language)
}

func TestDecodeMDHDVersion1(t *testing.T) {
	b := mp4test.Concat(
		[]byte{1, 0, 0, 0},
		mp4test.U64(0), mp4test.U64(0), // creation, modification
		mp4test.U32(600),
		mp4test.U64(1<<33),
		mp4test.U16(0x55c4), // "und"
	)
	hdr, err := DecodeMDHD(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(600), hdr.Timescale)
	assert.Equal(t, uint64(1)<<33, hdr.Duration)
	assert.Equal(t, "und", hdr.Language)
}

func TestDecodeMDHDLanguageZero(t *testing.T) {
	hdr, err := DecodeMDHD(payload(mp4test.MDHD(1000, 1000, "")))
	require.NoError(t, err)
	assert.Equal(t, "und", hdr.Language)
}

func TestDecodeMVHD(t *testing.T) {
	hdr, err := DecodeMVHD(payload(mp4test.MVHD(1000, 125000)))
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), hdr.Timescale)
	assert.Equal(t, uint64(125000), hdr.Duration)
}

func TestDecodeTKHD(t *testing.T) {
	hdr, err := DecodeTKHD(payload(mp4test.TKHD(7, 1920, 1080)))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), hdr.ID)
	assert.Equal(t, uint32(1920), hdr.Width)
	assert.Equal(t, uint32(1080), hdr.Height)
}

func TestDecodeSTSD(t *testing.T) {
	sps := []byte{0x67, 0x64, 0x00, 0x28}
	pps := []byte{0x68, 0xee}
	entry := mp4test.VideoEntry("avc1", 1280, 720, mp4test.AVCC(sps, pps))
	descs, err := DecodeSTSD(payload(mp4test.STSD(entry)), Strict)
	require.NoError(t, err)
	require.Len(t, descs, 1)

	d := descs[0]
	assert.Equal(t, "avc1", d.Codec)
	assert.True(t, d.IsVideo())
	assert.True(t, d.IsAVC())

	w, h, ok := d.VideoDimensions()
	require.True(t, ok)
	assert.Equal(t, uint32(1280), w)
	assert.Equal(t, uint32(720), h)

	avcc, err := d.ChildBox("avcC")
	require.NoError(t, err)
	assert.Equal(t, byte(1), avcc[0])
}

func TestDecodeSTSDAudio(t *testing.T) {
	descs, err := DecodeSTSD(payload(mp4test.STSD(mp4test.AudioEntry("mp4a", 2))), Strict)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	ch, ok := descs[0].ChannelCount()
	require.True(t, ok)
	assert.Equal(t, uint16(2), ch)
}
