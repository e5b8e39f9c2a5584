// Package avc parses AVC decoder configuration records and converts
// length-prefixed H.264 samples into the Annex-B framing raw decoders
// expect.
package avc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// Errors returned by this package.
var (
	ErrShortRecord   = errors.New("avcC record truncated")
	ErrInvalidLength = errors.New("invalid NAL unit length")
)

// NAL unit types this library cares about.
const (
	NALUTypeIDR = 5
	NALUTypeSPS = 7
	NALUTypePPS = 8
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Config is a parsed AVCDecoderConfigurationRecord (the avcC box payload).
type Config struct {
	Version       uint8
	Profile       uint8
	Compatibility uint8
	Level         uint8
	// NALULengthSize is the byte width of the length prefix before every
	// NAL unit in samples (usually 4).
	NALULengthSize int
	SPS            [][]byte
	PPS            [][]byte
}

// ParseConfig decodes an avcC box payload as defined in ISO/IEC 14496-15.
// The record mixes byte fields with 2- and 5-bit counters, so it is read
// through a bit reader.
func ParseConfig(b []byte) (Config, error) {
	r := bitio.NewReader(bytes.NewReader(b))

	cfg := Config{
		Version:       r.TryReadByte(),
		Profile:       r.TryReadByte(),
		Compatibility: r.TryReadByte(),
		Level:         r.TryReadByte(),
	}
	r.TryReadBits(6) // reserved
	cfg.NALULengthSize = int(r.TryReadBits(2)) + 1
	r.TryReadBits(3) // reserved
	numSPS := int(r.TryReadBits(5))

	readSet := func(n int) ([][]byte, error) {
		set := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			length := int(r.TryReadBits(16))
			if r.TryError != nil {
				return nil, r.TryError
			}
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			set = append(set, data)
		}
		return set, nil
	}

	var err error
	if cfg.SPS, err = readSet(numSPS); err != nil {
		return Config{}, fmt.Errorf("%w: reading SPS: %v", ErrShortRecord, err)
	}

	numPPS := int(r.TryReadByte())
	if cfg.PPS, err = readSet(numPPS); err != nil {
		return Config{}, fmt.Errorf("%w: reading PPS: %v", ErrShortRecord, err)
	}

	if r.TryError != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrShortRecord, r.TryError)
	}
	return cfg, nil
}

// Valid reports whether the record carries at least one SPS and PPS.
func (c Config) Valid() bool {
	return len(c.SPS) > 0 && len(c.PPS) > 0
}

// NALUType returns the type field of a NAL unit.
func NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1f
}

// SplitNALUs decodes the length-prefixed NAL units of one sample. The
// returned slices alias the input.
func SplitNALUs(sample []byte, lengthSize int) ([][]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, fmt.Errorf("%w: length prefix of %d bytes", ErrInvalidLength, lengthSize)
	}
	var nalus [][]byte
	pos := 0
	for pos < len(sample) {
		if pos+lengthSize > len(sample) {
			return nil, fmt.Errorf("%w: %d bytes left for a %d-byte prefix", ErrInvalidLength, len(sample)-pos, lengthSize)
		}
		var length int
		for i := 0; i < lengthSize; i++ {
			length = length<<8 | int(sample[pos+i])
		}
		pos += lengthSize
		if length == 0 {
			continue
		}
		if pos+length > len(sample) {
			return nil, fmt.Errorf("%w: NAL unit of %d bytes exceeds sample", ErrInvalidLength, length)
		}
		nalus = append(nalus, sample[pos:pos+length])
		pos += length
	}
	return nalus, nil
}

// AnnexB joins NAL units with 4-byte start codes.
func AnnexB(nalus [][]byte) []byte {
	size := 0
	for _, nalu := range nalus {
		size += len(startCode) + len(nalu)
	}
	buf := make([]byte, 0, size)
	for _, nalu := range nalus {
		buf = append(buf, startCode...)
		buf = append(buf, nalu...)
	}
	return buf
}

// SampleToAnnexB converts one length-prefixed sample, prepending the
// parameter sets from cfg so the result is independently decodable.
func SampleToAnnexB(cfg Config, sample []byte) ([]byte, error) {
	nalus, err := SplitNALUs(sample, cfg.NALULengthSize)
	if err != nil {
		return nil, err
	}
	all := make([][]byte, 0, len(cfg.SPS)+len(cfg.PPS)+len(nalus))
	all = append(all, cfg.SPS...)
	all = append(all, cfg.PPS...)
	all = append(all, nalus...)
	return AnnexB(all), nil
}

// FindParameterSets scans length-prefixed samples for in-band SPS and PPS
// NAL units. Used when stsd carries no usable avcC record.
func FindParameterSets(samples [][]byte, lengthSize int) (sps, pps []byte) {
	for _, sample := range samples {
		nalus, err := SplitNALUs(sample, lengthSize)
		if err != nil {
			continue
		}
		for _, nalu := range nalus {
			switch NALUType(nalu) {
			case NALUTypeSPS:
				if sps == nil {
					sps = nalu
				}
			case NALUTypePPS:
				if pps == nil {
					pps = nalu
				}
			}
		}
		if sps != nil && pps != nil {
			return sps, pps
		}
	}
	return sps, pps
}

// lengthPrefix re-encodes a NAL unit length, used by tests building
// synthetic samples.
func lengthPrefix(n, size int) []byte {
	buf := make([]byte, size)
	switch size {
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(n))
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(n))
	default:
		for i := size - 1; i >= 0; i-- {
			buf[i] = byte(n)
			n >>= 8
		}
	}
	return buf
}

// MarshalSample builds a length-prefixed sample from NAL units.
func MarshalSample(nalus [][]byte, lengthSize int) []byte {
	var buf []byte
	for _, nalu := range nalus {
		buf = append(buf, lengthPrefix(len(nalu), lengthSize)...)
		buf = append(buf, nalu...)
	}
	return buf
}
