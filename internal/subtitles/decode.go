package subtitles

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"mp4probe/internal/models"
)

// ErrDecode is wrapped by payload decoding failures.
var ErrDecode = errors.New("subtitle payload decode failed")

// DefaultCueDuration is used when the codec carries no duration. Most tx3g
// files do not, and the fixed default is the established behavior.
const DefaultCueDuration = 2.0

// TextDecoder is the default PayloadDecoder. It understands tx3g, wvtt and
// stpp payloads and falls back to plain text for anything else.
type TextDecoder struct{}

// Decode implements PayloadDecoder.
func (TextDecoder) Decode(data []byte, codec string, start float64) ([]models.Cue, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch codec {
	case "tx3g":
		return decodeTX3G(data, start)
	case "wvtt":
		return decodeWebVTT(data, start)
	case "stpp":
		return decodeTTML(data, start)
	default:
		return decodeGeneric(data, start)
	}
}

// decodeTX3G handles 3GPP timed text: a 16-bit big-endian text length
// followed by UTF-8.
func decodeTX3G(data []byte, start float64) ([]models.Cue, error) {
	if len(data) < 2 {
		return nil, nil
	}
	textLen := int(binary.BigEndian.Uint16(data[0:2]))
	if textLen == 0 || len(data) < 2+textLen {
		return nil, nil
	}
	text := strings.TrimSpace(string(data[2 : 2+textLen]))
	if text == "" || !utf8.ValidString(text) {
		return nil, nil
	}
	return []models.Cue{cue(start, text)}, nil
}

// decodeWebVTT handles wvtt sample payloads as plain cue text, skipping
// stray file headers.
func decodeWebVTT(data []byte, start float64) ([]models.Cue, error) {
	text := strings.TrimSpace(string(data))
	if text == "" || strings.HasPrefix(text, "WEBVTT") || !utf8.ValidString(text) {
		return nil, nil
	}
	return []models.Cue{cue(start, text)}, nil
}

// decodeTTML strips XML markup from an stpp payload and keeps the
// character data.
func decodeTTML(data []byte, start float64) ([]models.Cue, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: stpp payload is not UTF-8", ErrDecode)
	}
	var sb strings.Builder
	inTag := false
	for _, r := range string(data) {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, nil
	}
	return []models.Cue{cue(start, text)}, nil
}

// decodeGeneric tries UTF-8 first and falls back to big-endian UTF-16,
// honoring a BOM when present.
func decodeGeneric(data []byte, start float64) ([]models.Cue, error) {
	if utf8.Valid(data) {
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, nil
		}
		return []models.Cue{cue(start, text)}, nil
	}

	if len(data) >= 2 && len(data)%2 == 0 {
		decoder := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		decoded, err := decoder.Bytes(data)
		if err == nil {
			text := strings.TrimSpace(string(decoded))
			if text != "" && utf8.ValidString(text) {
				return []models.Cue{cue(start, text)}, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: payload is neither UTF-8 nor UTF-16", ErrDecode)
}

func cue(start float64, text string) models.Cue {
	return models.Cue{Start: start, End: start + DefaultCueDuration, Text: text}
}
