package mp4

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mp4probe/internal/models"
	"mp4probe/internal/mp4/mp4test"
	"mp4probe/internal/stream"
)

func detect(t *testing.T, data []byte) (models.Format, error) {
	t.Helper()
	return DetectFormat(context.Background(), stream.NewMemorySource(data))
}

func TestDetectFormatBrands(t *testing.T) {
	cases := map[string]models.Format{
		"isom": models.FormatMP4,
		"mp42": models.FormatMP4,
		"M4V ": models.FormatM4V,
		"3gp5": models.Format3GP,
		"3g2a": models.Format3G2,
		"qt  ": models.FormatMOV,
	}
	for brand, want := range cases {
		format, err := detect(t, mp4test.Concat(mp4test.Ftyp(brand), make([]byte, 32)))
		require.NoError(t, err, brand)
		assert.Equal(t, want, format, brand)
		assert.True(t, format.IsMP4Family())
	}
}

func TestDetectFormatMP3(t *testing.T) {
	id3 := append([]byte("ID3"), make([]byte, 32)...)
	format, err := detect(t, id3)
	require.NoError(t, err)
	assert.Equal(t, models.FormatMP3, format)
	assert.False(t, format.IsMP4Family())

	frameSync := append([]byte{0xff, 0xfb}, make([]byte, 32)...)
	format, err = detect(t, frameSync)
	require.NoError(t, err)
	assert.Equal(t, models.FormatMP3, format)
}

func TestDetectFormatUnknownBrand(t *testing.T) {
	format, err := detect(t, mp4test.Concat(mp4test.Ftyp("wxyz"), make([]byte, 32)))
	require.NoError(t, err)
	assert.Equal(t, models.FormatUnknown, format)
}

func TestDetectFormatNoFtyp(t *testing.T) {
	_, err := detect(t, make([]byte, 64))
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

func TestExtractTagsIlst(t *testing.T) {
	item := func(name, text string) []byte {
		return mp4test.Box(name, mp4test.Box("data", mp4test.U32(1), mp4test.U32(0), []byte(text)))
	}
	udta := mp4test.Box("udta",
		mp4test.FullBox("meta", 0,
			mp4test.Box("ilst",
				item("\xa9nam", "A Title"),
				item("\xa9ART", "An Artist"),
				item("\xa9alb", "An Album"),
				item("cprt", "(c) nobody"),
			),
		),
	)

	tags := ExtractTags(udta[8:])
	assert.Equal(t, "A Title", tags.Title)
	assert.Equal(t, "An Artist", tags.Artist)
	assert.Equal(t, "An Album", tags.Album)
	assert.Equal(t, "(c) nobody", tags.Copyright)
}

func TestExtractTagsQuickTimeFallback(t *testing.T) {
	text := "QT Title"
	udta := mp4test.Box("udta",
		mp4test.Box("\xa9nam", mp4test.U16(uint16(len(text))), mp4test.U16(0), []byte(text)),
	)
	tags := ExtractTags(udta[8:])
	assert.Equal(t, "QT Title", tags.Title)
}

func TestExtractTagsEmpty(t *testing.T) {
	udta := mp4test.Box("udta", mp4test.Box("free"))
	assert.Equal(t, models.Tags{}, ExtractTags(udta[8:]))
}
