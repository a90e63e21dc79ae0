package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// srv3Codec parses and renders YouTube's SRV3 format: XML with <p t="…"
// d="…">…</p> timing blocks containing <s> spans. overlapGapMs is the
// minimum gap the renderer enforces between the end of one cue and the
// start of the next (spec.md §4.1, §8 "SRV3 non-overlap").
type srv3Codec struct {
	overlapGapMs int64
}

func (srv3Codec) Format() Format { return FormatSRV3 }

var srv3ParagraphRe = regexp.MustCompile(`(?s)<p\s+([^>]*)>(.*?)</p>`)
var srv3AttrRe = regexp.MustCompile(`(\w+)="([^"]*)"`)
var srv3TagRe = regexp.MustCompile(`(?i)<br\s*/?>`)
var srv3StripTagsRe = regexp.MustCompile(`<[^>]*>`)

func (c srv3Codec) Parse(data []byte) ([]Cue, error) {
	cues := make([]Cue, 0)
	for _, m := range srv3ParagraphRe.FindAllSubmatch(data, -1) {
		attrs := parseSRV3Attrs(string(m[1]))
		t, tOK := parseFiniteInt(attrs["t"])
		d, dOK := parseFiniteInt(attrs["d"])
		if !tOK || !dOK {
			continue
		}

		body := srv3TagRe.ReplaceAllString(string(m[2]), "\n")
		body = srv3StripTagsRe.ReplaceAllString(body, "")
		text := strings.TrimSpace(decodeXMLEntities(body))
		if text == "" {
			continue
		}

		cues = append(cues, Cue{StartMs: t, EndMs: t + d, Text: text})
	}
	return cues, nil
}

func parseSRV3Attrs(raw string) map[string]string {
	ret := make(map[string]string)
	for _, m := range srv3AttrRe.FindAllStringSubmatch(raw, -1) {
		ret[m[1]] = m[2]
	}
	return ret
}

// parseFiniteInt parses a decimal integer attribute, rejecting anything
// that isn't a plain finite integer (spec.md §4.1 "non-finite t or d are
// skipped").
func parseFiniteInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (c srv3Codec) Render(cues []Cue) ([]byte, error) {
	overlapGapMs := c.overlapGapMs
	if overlapGapMs <= 0 {
		overlapGapMs = 100
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	sb.WriteString(`<timedtext format="3">` + "\n<body>\n")

	for i, cue := range cues {
		d := cue.EndMs - cue.StartMs
		if i+1 < len(cues) {
			next := cues[i+1]
			maxEnd := next.StartMs - overlapGapMs
			if cue.StartMs+d > maxEnd {
				d = maxEnd - cue.StartMs
			}
		}
		if d < 0 {
			d = 0
		}

		original, translation := splitBilingual(cue.Text)
		fmt.Fprintf(&sb, `<p t="%d" d="%d"><s>%s</s>`, cue.StartMs, d, encodeXMLText(original))
		if translation != "" {
			sb.WriteString("&#x0A;")
			fmt.Fprintf(&sb, `<s>%s</s>`, encodeXMLText(translation))
		}
		sb.WriteString("</p>\n")
	}

	sb.WriteString("</body>\n</timedtext>\n")
	return []byte(sb.String()), nil
}

// splitBilingual splits a bilingual cue's text ("original\ntranslation")
// into its two lines; a monolingual cue returns an empty translation.
func splitBilingual(text string) (original, translation string) {
	idx := strings.IndexByte(text, '\n')
	if idx < 0 {
		return text, ""
	}
	return text[:idx], text[idx+1:]
}

var xmlNamedEntities = map[string]string{
	"amp":  "&",
	"lt":   "<",
	"gt":   ">",
	"quot": `"`,
	"apos": "'",
}

var xmlEntityRe = regexp.MustCompile(`&(#x?[0-9A-Fa-f]+|[A-Za-z]+);`)

func decodeXMLEntities(s string) string {
	return xmlEntityRe.ReplaceAllStringFunc(s, func(ent string) string {
		inner := ent[1 : len(ent)-1]
		if strings.HasPrefix(inner, "#x") || strings.HasPrefix(inner, "#X") {
			if n, err := strconv.ParseInt(inner[2:], 16, 32); err == nil {
				return string(rune(n))
			}
			return ent
		}
		if strings.HasPrefix(inner, "#") {
			if n, err := strconv.ParseInt(inner[1:], 10, 32); err == nil {
				return string(rune(n))
			}
			return ent
		}
		if repl, ok := xmlNamedEntities[inner]; ok {
			return repl
		}
		return ent
	})
}

func encodeXMLText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\n", "&#x0A;",
	)
	return r.Replace(s)
}
