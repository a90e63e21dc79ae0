package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// vttCodec parses and renders standard WebVTT.
type vttCodec struct{}

func (vttCodec) Format() Format { return FormatVTT }

var vttTimestampRe = regexp.MustCompile(
	`(\d{2}:)?(\d{2}):(\d{2})[.,](\d{3})\s*-->\s*(\d{2}:)?(\d{2}):(\d{2})[.,](\d{3})`)

func (vttCodec) Parse(data []byte) ([]Cue, error) {
	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")
	blocks := strings.Split(normalized, "\n\n")

	cues := make([]Cue, 0, len(blocks))
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if strings.HasPrefix(block, "WEBVTT") || strings.HasPrefix(block, "NOTE") {
			continue
		}

		lines := strings.Split(block, "\n")
		timingIdx := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timingIdx = i
				break
			}
		}
		if timingIdx < 0 {
			continue
		}

		start, end, ok := parseVTTTiming(lines[timingIdx])
		if !ok {
			continue
		}

		text := strings.TrimSpace(strings.Join(lines[timingIdx+1:], "\n"))
		if text == "" {
			continue
		}

		cues = append(cues, Cue{StartMs: start, EndMs: end, Text: text})
	}
	return cues, nil
}

// parseVTTTiming parses a timing line in HH:MM:SS.mmm or MM:SS.mmm form,
// stripping any cue-setting suffix after whitespace (spec.md §4.1).
func parseVTTTiming(line string) (startMs, endMs int64, ok bool) {
	m := vttTimestampRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}

	start, ok1 := vttPartsToMs(m[1], m[2], m[3], m[4])
	end, ok2 := vttPartsToMs(m[5], m[6], m[7], m[8])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return start, end, true
}

func vttPartsToMs(hoursPart, minutes, seconds, millis string) (int64, bool) {
	var hours int64
	if hoursPart != "" {
		h, err := strconv.ParseInt(strings.TrimSuffix(hoursPart, ":"), 10, 64)
		if err != nil {
			return 0, false
		}
		hours = h
	}
	m, err := strconv.ParseInt(minutes, 10, 64)
	if err != nil {
		return 0, false
	}
	s, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return 0, false
	}
	return hours*3600_000 + m*60_000 + s*1_000 + ms, true
}

func (vttCodec) Render(cues []Cue) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i, cue := range cues {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", formatVTTTimestamp(cue.StartMs), formatVTTTimestamp(cue.EndMs))
		sb.WriteString(cue.Text)
		sb.WriteString("\n\n")
	}
	return []byte(sb.String()), nil
}

func formatVTTTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3600_000
	ms %= 3600_000
	minutes := ms / 60_000
	ms %= 60_000
	seconds := ms / 1_000
	millis := ms % 1_000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
