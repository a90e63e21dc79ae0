// Package subtitle implements the three wire formats YouTube's timed-text
// endpoint serves: JSON3, SRV3 and WebVTT. It exposes a small capability set
// (parse bytes into cues, render cues back to bytes) with one implementation
// per format and a format-sniffing dispatcher.
package subtitle

import (
	"encoding/json"
	"fmt"
)

// Format identifies one of the three wire formats this package understands.
type Format string

const (
	FormatJSON3 Format = "json3"
	FormatSRV3  Format = "srv3"
	FormatVTT   Format = "vtt"
)

// ParseFormat validates a format string from a request or config value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON3, FormatSRV3, FormatVTT:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown subtitle format %q", s)
	}
}

// Cue is the unit of the internal pipeline: one timed, non-empty line.
type Cue struct {
	StartMs int64
	EndMs   int64
	Text    string
}

func (c Cue) DurationMs() int64 {
	return c.EndMs - c.StartMs
}

// Track is an ordered sequence of cues plus its origin format and language.
type Track struct {
	Cues     []Cue
	Format   Format
	Language string
}

// Codec parses and renders one wire format.
type Codec interface {
	Format() Format
	Parse(data []byte) ([]Cue, error)
	Render(cues []Cue) ([]byte, error)
}

// Sniff inspects the leading bytes of a document and reports which format it
// is, per spec.md §4.5: JSON3 if it starts with '{', WebVTT if it starts
// with "WEBVTT", otherwise SRV3.
func Sniff(data []byte) Format {
	trimmed := trimLeadingSpace(data)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		return FormatJSON3
	case hasPrefixFold(trimmed, "WEBVTT"):
		return FormatVTT
	default:
		return FormatSRV3
	}
}

func trimLeadingSpace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return data[i:]
		}
	}
	return data[i:]
}

func hasPrefixFold(data []byte, prefix string) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if upperByte(data[i]) != upperByte(prefix[i]) {
			return false
		}
	}
	return true
}

func upperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// EncodeCues serializes cues to the storage-neutral JSON form persisted on
// a job row, so the bilingual result can later be re-rendered to whichever
// wire format a client requests (spec.md §4.8 step 2, "re-render to the
// requested fmt").
func EncodeCues(cues []Cue) (string, error) {
	data, err := json.Marshal(cues)
	if err != nil {
		return "", fmt.Errorf("encode cues: %w", err)
	}
	return string(data), nil
}

// DecodeCues is the inverse of EncodeCues.
func DecodeCues(data string) ([]Cue, error) {
	var cues []Cue
	if err := json.Unmarshal([]byte(data), &cues); err != nil {
		return nil, fmt.Errorf("decode cues: %w", err)
	}
	return cues, nil
}

// CodecFor returns the Codec implementation for format f.
func CodecFor(f Format) (Codec, error) {
	switch f {
	case FormatJSON3:
		return json3Codec{}, nil
	case FormatSRV3:
		return srv3Codec{overlapGapMs: 100}, nil
	case FormatVTT:
		return vttCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown subtitle format %q", f)
	}
}
