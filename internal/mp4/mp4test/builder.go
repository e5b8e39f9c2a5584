// Package mp4test builds synthetic MP4 structures for tests across the
// module. Everything is big-endian, everything is plain byte slices.
package mp4test

import "encoding/binary"

// U16 encodes a big-endian uint16.
func U16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

// U32 encodes a big-endian uint32.
func U32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// U64 encodes a big-endian uint64.
func U64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Concat joins byte slices.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Box wraps payload parts in a box header.
func Box(name string, parts ...[]byte) []byte {
	payload := Concat(parts...)
	return Concat(U32(uint32(len(payload)+8)), []byte(name), payload)
}

// FullBox wraps payload parts in a box with a version+flags prefix.
func FullBox(name string, version byte, parts ...[]byte) []byte {
	return Box(name, Concat([]byte{version, 0, 0, 0}, Concat(parts...)))
}

// STTS builds an stts payload from (count, delta) pairs.
func STTS(runs ...[2]uint32) []byte {
	parts := [][]byte{U32(uint32(len(runs)))}
	for _, r := range runs {
		parts = append(parts, U32(r[0]), U32(r[1]))
	}
	return FullBox("stts", 0, Concat(parts...))
}

// STSZ builds an stsz payload with explicit per-sample sizes.
func STSZ(sizes ...uint32) []byte {
	parts := [][]byte{U32(0), U32(uint32(len(sizes)))}
	for _, s := range sizes {
		parts = append(parts, U32(s))
	}
	return FullBox("stsz", 0, Concat(parts...))
}

// STSZDefault builds an stsz payload in the constant-size form.
func STSZDefault(size, count uint32) []byte {
	return FullBox("stsz", 0, U32(size), U32(count))
}

// STSC builds an stsc payload from (firstChunk, samplesPerChunk, descIndex)
// triples.
func STSC(entries ...[3]uint32) []byte {
	parts := [][]byte{U32(uint32(len(entries)))}
	for _, e := range entries {
		parts = append(parts, U32(e[0]), U32(e[1]), U32(e[2]))
	}
	return FullBox("stsc", 0, Concat(parts...))
}

// STCO builds a 32-bit chunk offset payload.
func STCO(offsets ...uint32) []byte {
	parts := [][]byte{U32(uint32(len(offsets)))}
	for _, o := range offsets {
		parts = append(parts, U32(o))
	}
	return FullBox("stco", 0, Concat(parts...))
}

// CO64 builds a 64-bit chunk offset payload.
func CO64(offsets ...uint64) []byte {
	parts := [][]byte{U32(uint32(len(offsets)))}
	for _, o := range offsets {
		parts = append(parts, U64(o))
	}
	return FullBox("co64", 0, Concat(parts...))
}

// STSS builds a sync-sample payload.
func STSS(samples ...uint32) []byte {
	parts := [][]byte{U32(uint32(len(samples)))}
	for _, s := range samples {
		parts = append(parts, U32(s))
	}
	return FullBox("stss", 0, Concat(parts...))
}

// MDHD builds a version-0 media header.
func MDHD(timescale uint32, duration uint32, lang string) []byte {
	var packed uint16
	if len(lang) == 3 {
		packed = uint16(lang[0]-0x60)<<10 | uint16(lang[1]-0x60)<<5 | uint16(lang[2]-0x60)
	}
	return FullBox("mdhd", 0,
		U32(0), U32(0), // creation, modification
		U32(timescale), U32(duration),
		U16(packed), U16(0),
	)
}

// MVHD builds a version-0 movie header.
func MVHD(timescale, duration uint32) []byte {
	return FullBox("mvhd", 0, U32(0), U32(0), U32(timescale), U32(duration))
}

// TKHD builds a version-0 track header with presentation dimensions.
func TKHD(id uint32, width, height uint16) []byte {
	return FullBox("tkhd", 0, Concat(
		U32(0), U32(0), // creation, modification
		U32(id),
		U32(0),              // reserved
		U32(0),              // duration
		make([]byte, 8),     // reserved
		make([]byte, 2+2+2), // layer, alternate group, volume
		make([]byte, 2),     // reserved
		make([]byte, 36),    // matrix
		U32(uint32(width)<<16), U32(uint32(height)<<16),
	))
}

// HDLR builds a handler box for the given 4-character handler type.
func HDLR(handler string) []byte {
	return FullBox("hdlr", 0, Concat(
		U32(0), []byte(handler), make([]byte, 12), []byte{0},
	))
}

// VideoEntry builds a visual sample entry with the given codec tag,
// dimensions, and nested boxes.
func VideoEntry(codec string, width, height uint16, children ...[]byte) []byte {
	body := Concat(
		make([]byte, 6), U16(1), // reserved + data reference index
		make([]byte, 16), // pre_defined/reserved block
		U16(width), U16(height),
		U32(0x00480000), U32(0x00480000), // 72 dpi
		U32(0),
		U16(1),           // frame count
		make([]byte, 32), // compressor name
		U16(24),          // depth
		U16(0xffff),      // pre_defined
		Concat(children...),
	)
	return Concat(U32(uint32(len(body)+8)), []byte(codec), body)
}

// AudioEntry builds an audio sample entry with the given channel count.
func AudioEntry(codec string, channels uint16) []byte {
	body := Concat(
		make([]byte, 6), U16(1), // reserved + data reference index
		make([]byte, 8), // version, revision, vendor
		U16(channels),
		U16(16),         // sample size
		make([]byte, 4), // pre_defined, reserved
		U32(44100<<16),  // sample rate 16.16
	)
	return Concat(U32(uint32(len(body)+8)), []byte(codec), body)
}

// SubtitleEntry builds a minimal subtitle sample entry.
func SubtitleEntry(codec string) []byte {
	body := Concat(make([]byte, 6), U16(1))
	return Concat(U32(uint32(len(body)+8)), []byte(codec), body)
}

// STSD wraps sample entries in an stsd payload.
func STSD(entries ...[]byte) []byte {
	return FullBox("stsd", 0, U32(uint32(len(entries))), Concat(entries...))
}

// AVCC builds an avcC box with one SPS and one PPS and 4-byte lengths.
func AVCC(sps, pps []byte) []byte {
	return Box("avcC", Concat(
		[]byte{1},           // configurationVersion
		[]byte{0x64, 0, 40}, // profile, compatibility, level
		[]byte{0xff},        // reserved + lengthSizeMinusOne=3
		[]byte{0xe1},        // reserved + numSPS=1
		U16(uint16(len(sps))), sps,
		[]byte{1}, // numPPS
		U16(uint16(len(pps))), pps,
	))
}

// Trak assembles a full trak box.
func Trak(tkhd, hdlr, mdhd []byte, stblChildren ...[]byte) []byte {
	stbl := Box("stbl", Concat(stblChildren...))
	minf := Box("minf", stbl)
	mdia := Box("mdia", mdhd, hdlr, minf)
	return Box("trak", tkhd, mdia)
}

// Ftyp builds an ftyp box for the given major brand.
func Ftyp(brand string) []byte {
	return Box("ftyp", []byte(brand), U32(0), []byte("isom"), []byte(brand))
}

// Movie assembles ftyp + moov(+children) + mdat(payload) into a file image
// and returns the absolute offset of the mdat payload. Chunk offsets must
// point into that region; since encodings are fixed-width, callers build
// once with placeholder offsets to learn the layout, then rebuild with the
// real ones.
func Movie(moovChildren [][]byte, mdat []byte) ([]byte, uint32) {
	ftyp := Ftyp("isom")
	moov := Box("moov", Concat(moovChildren...))
	offset := uint32(len(ftyp) + len(moov) + 8)
	return Concat(ftyp, moov, Box("mdat", mdat)), offset
}

// MovieMoovLast is Movie with the moov box written after mdat, the layout
// streaming muxers produce.
func MovieMoovLast(moovChildren [][]byte, mdat []byte) ([]byte, uint32) {
	ftyp := Ftyp("isom")
	moov := Box("moov", Concat(moovChildren...))
	offset := uint32(len(ftyp) + 8)
	return Concat(ftyp, Box("mdat", mdat), moov), offset
}
