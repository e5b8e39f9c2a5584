package mp4

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp4probe/internal/mp4/mp4test"
	"mp4probe/internal/stream"
)

func TestIteratorWalksSiblings(t *testing.T) {
	data := mp4test.Concat(
		mp4test.Box("ftyp", []byte("isomtest")),
		mp4test.Box("free"),
		mp4test.Box("moov", mp4test.Box("mvhd", []byte("x"))),
	)

	it := NewIterator(data)
	var types []string
	for {
		box, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		types = append(types, box.Type)
		// The payload slice length must equal total size minus header.
		assert.Equal(t, box.TotalSize-uint64(box.HeaderSize), uint64(len(box.Payload)))
	}
	assert.Equal(t, []string{"ftyp", "free", "moov"}, types)
}

func TestIteratorExtendedSize(t *testing.T) {
	payload := []byte("0123456789")
	data := mp4test.Concat(
		mp4test.U32(1), []byte("mdat"),
		mp4test.U64(uint64(16+len(payload))),
		payload,
	)

	it := NewIterator(data)
	box, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mdat", box.Type)
	assert.Equal(t, uint32(16), box.HeaderSize)
	assert.Equal(t, payload, box.Payload)
}

func TestIteratorSizeZeroRunsToEnd(t *testing.T) {
	data := mp4test.Concat(
		mp4test.Box("ftyp"),
		mp4test.U32(0), []byte("mdat"), []byte("tail data"),
	)

	it := NewIterator(data)
	_, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)

	box, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mdat", box.Type)
	assert.Equal(t, []byte("tail data"), box.Payload)

	_, ok, err = it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIteratorRejectsOversizedChild(t *testing.T) {
	data := mp4test.Concat(mp4test.U32(1000), []byte("mdat"), []byte("short"))
	it := NewIterator(data)
	_, _, err := it.Next()
	assert.ErrorIs(t, err, ErrMalformedBox)
}

func TestIteratorRejectsTinySize(t *testing.T) {
	data := mp4test.Concat(mp4test.U32(4), []byte("mdat"), make([]byte, 16))
	it := NewIterator(data)
	_, _, err := it.Next()
	assert.ErrorIs(t, err, ErrMalformedBox)
}

func TestFindPath(t *testing.T) {
	stsd := mp4test.STSD(mp4test.SubtitleEntry("tx3g"))
	data := mp4test.Box("trak",
		mp4test.Box("mdia",
			mp4test.Box("minf",
				mp4test.Box("stbl", stsd),
			),
		),
	)

	trak, err := FindBox(data, "trak")
	require.NoError(t, err)

	payload, err := Find(trak, "mdia.minf.stbl.stsd")
	require.NoError(t, err)
	assert.Equal(t, stsd[8:], payload)

	_, err = Find(trak, "mdia.minf.stbl.stco")
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

func TestReadHeaderAt(t *testing.T) {
	data := mp4test.Concat(
		mp4test.Box("ftyp", make([]byte, 16)),
		mp4test.Box("moov", make([]byte, 100)),
	)
	src := stream.NewMemorySource(data)
	ctx := context.Background()

	hdr, err := ReadHeaderAt(ctx, src, 0)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", hdr.Type)
	assert.Equal(t, uint64(24), hdr.TotalSize)

	hdr, err = ReadHeaderAt(ctx, src, 24)
	require.NoError(t, err)
	assert.Equal(t, "moov", hdr.Type)
	assert.Equal(t, uint64(108), hdr.TotalSize)
}

func TestHeaderPrintableType(t *testing.T) {
	assert.True(t, Header{Type: "moov"}.PrintableType())
	assert.False(t, Header{Type: "mo\x01v"}.PrintableType())
}
