package mp4

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp4probe/internal/mp4/mp4test"
	"mp4probe/internal/stream"
)

func moovChildren() [][]byte {
	return [][]byte{mp4test.MVHD(1000, 60000)}
}

func TestLocateMoovAtFront(t *testing.T) {
	file, _ := mp4test.Movie(moovChildren(), make([]byte, 64*1024))
	src := stream.NewMemorySource(file)

	info, err := LocateMoov(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(24), info.Offset) // right after ftyp

	moov, err := FetchMoov(context.Background(), src, info)
	require.NoError(t, err)
	_, err = FindBox(moov, "mvhd")
	require.NoError(t, err)
}

func TestLocateMoovAtEnd(t *testing.T) {
	// moov last, mdat large enough that the front window cannot see it.
	file, _ := mp4test.MovieMoovLast(moovChildren(), make([]byte, 64*1024))
	src := stream.NewMemorySource(file)

	info, err := LocateMoov(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Greater(t, info.Offset, int64(64*1024))

	moov, err := FetchMoov(context.Background(), src, info)
	require.NoError(t, err)
	_, err = FindBox(moov, "mvhd")
	require.NoError(t, err)
}

func TestLocateMoovStraddlingFirstWindow(t *testing.T) {
	// free box sized so the moov header begins 4 bytes before the 8 KB
	// boundary and extends past it: the widened front probe must still
	// find it.
	padding := initialWindow - 24 - 8 - 4
	file := mp4test.Concat(
		mp4test.Ftyp("isom"),
		mp4test.Box("free", make([]byte, padding)),
		mp4test.Box("moov", mp4test.Concat(moovChildren()...), make([]byte, 32*1024)),
	)
	src := stream.NewMemorySource(file)

	info, err := LocateMoov(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(24+8+padding), info.Offset)
}

func TestLocateMoovBeyondTailWindows(t *testing.T) {
	// moov buried in the middle of a large file, invisible to all four
	// windowed probes: only the linear scan finds it.
	mid := mp4test.Box("moov", mp4test.Concat(moovChildren()...))
	file := mp4test.Concat(
		mp4test.Ftyp("isom"),
		mp4test.Box("mdat", make([]byte, 600*1024)),
		mid,
		mp4test.Box("free", make([]byte, 600*1024)),
	)
	src := stream.NewMemorySource(file)

	info, err := LocateMoov(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(24+8+600*1024), info.Offset)
}

func TestLocateMoovMissing(t *testing.T) {
	file := mp4test.Concat(mp4test.Ftyp("isom"), mp4test.Box("mdat", make([]byte, 1024)))
	src := stream.NewMemorySource(file)

	_, err := LocateMoov(context.Background(), src, nil)
	assert.ErrorIs(t, err, ErrMoovNotFound)
}

func TestFetchMoovRejectsHuge(t *testing.T) {
	src := stream.NewMemorySource(nil)
	_, err := FetchMoov(context.Background(), src, MoovInfo{Offset: 0, HeaderSize: 8, Size: maxMoovSize + 1})
	assert.ErrorIs(t, err, ErrMoovTooLarge)
}

func TestLoadMoov(t *testing.T) {
	file, _ := mp4test.Movie(moovChildren(), make([]byte, 1024))
	src := stream.NewMemorySource(file)

	moov, err := LoadMoov(context.Background(), src, nil)
	require.NoError(t, err)
	_, err = FindBox(moov, "mvhd")
	require.NoError(t, err)
}
