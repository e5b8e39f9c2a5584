package mp4

import (
	"encoding/binary"
	"strings"

	"mp4probe/internal/models"
)

// iTunes-style tag atoms inside udta.meta.ilst. The leading 0xa9 is the
// copyright sign these atoms are traditionally named with.
var ilstTags = map[string]func(*models.Tags, string){
	"\xa9nam": func(t *models.Tags, s string) { t.Title = s },
	"\xa9ART": func(t *models.Tags, s string) { t.Artist = s },
	"\xa9alb": func(t *models.Tags, s string) { t.Album = s },
	"cprt":    func(t *models.Tags, s string) { t.Copyright = s },
}

// ExtractTags reads iTunes-style text tags from a udta payload. Missing or
// undecodable atoms simply leave fields empty; tag data is best-effort.
func ExtractTags(udta []byte) models.Tags {
	var tags models.Tags

	if meta, err := FindBox(udta, "meta"); err == nil && len(meta) > 4 {
		// meta is a full box: skip version+flags before walking children.
		if ilst, err := FindBox(meta[4:], "ilst"); err == nil {
			extractIlstTags(ilst, &tags)
		}
	}

	// QuickTime files put a bare ©nam directly in udta.
	if tags.Title == "" {
		if item, err := FindBox(udta, "\xa9nam"); err == nil {
			tags.Title = decodeQuickTimeText(item)
		}
	}

	return tags
}

func extractIlstTags(ilst []byte, tags *models.Tags) {
	it := NewIterator(ilst)
	for {
		box, ok, err := it.Next()
		if err != nil || !ok {
			return
		}
		assign, known := ilstTags[box.Type]
		if !known {
			continue
		}
		if text := decodeDataAtom(box.Payload); text != "" {
			assign(tags, text)
		}
	}
}

// decodeDataAtom extracts the UTF-8 text from the data atom nested in an
// ilst item: 4 bytes type indicator + 4 bytes locale, then the text.
func decodeDataAtom(item []byte) string {
	data, err := FindBox(item, "data")
	if err != nil || len(data) <= 8 {
		return ""
	}
	return cleanText(data[8:])
}

// decodeQuickTimeText decodes the bare udta text atom layout: a 16-bit
// length and a 16-bit language code followed by the text.
func decodeQuickTimeText(b []byte) string {
	if len(b) <= 4 {
		return ""
	}
	size := int(binary.BigEndian.Uint16(b[0:2]))
	if size > 0 && 4+size <= len(b) {
		return cleanText(b[4 : 4+size])
	}
	return cleanText(b[4:])
}

func cleanText(b []byte) string {
	return strings.TrimSpace(strings.Trim(string(b), "\x00"))
}
