// Package segment fuses fine-grained subtitle cues (often one word per cue
// from auto-captioning) into paragraph-level blocks readable in a bilingual
// overlay.
package segment

import (
	"strings"

	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
)

// Params controls the fusion heuristic (spec.md §4.2). Zero values for
// MaxDurationMs/MaxChars/MaxWords mean "off".
type Params struct {
	MinDurationMs  int64
	MaxDurationMs  int64
	GapThresholdMs int64
	MaxChars       int
	MaxWords       int
	OverlapGapMs   int64
}

// DefaultParams returns the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		MinDurationMs:  3000,
		MaxDurationMs:  7000,
		GapThresholdMs: 1200,
		OverlapGapMs:   100,
	}
}

type paragraph struct {
	start  int64
	end    int64
	pieces []string
	chars  int
	words  int
}

func (p *paragraph) text() string {
	return joinAndNormalize(p.pieces)
}

func (p *paragraph) append(cue subtitle.Cue, text string) {
	p.pieces = append(p.pieces, text)
	p.end = cue.EndMs
	p.chars += len([]rune(text))
	p.words += len(strings.Fields(text))
}

// Segment fuses raw cues into paragraph-level cues per spec.md §4.2. The
// output is a pure function of the input sequence for a fixed Params.
func Segment(cues []subtitle.Cue, p Params) []subtitle.Cue {
	var out []subtitle.Cue
	var open *paragraph

	emit := func(para *paragraph) {
		if para == nil {
			return
		}
		out = append(out, subtitle.Cue{StartMs: para.start, EndMs: para.end, Text: para.text()})
	}

	for _, cue := range cues {
		text := strings.TrimSpace(cue.Text)
		if text == "" {
			continue
		}

		if open == nil {
			open = &paragraph{start: cue.StartMs, end: cue.EndMs}
			open.append(cue, text)
			continue
		}

		durationIfIncluded := cue.EndMs - open.start
		gap := cue.StartMs - open.end

		if (p.MaxDurationMs > 0 && durationIfIncluded >= p.MaxDurationMs) || gap > p.GapThresholdMs {
			emit(open)
			open = &paragraph{start: cue.StartMs, end: cue.EndMs}
			open.append(cue, text)
			continue
		}

		open.append(cue, text)

		if durationIfIncluded >= p.MinDurationMs && shouldSoftBreak(open, text, p) {
			emit(open)
			open = nil
		}
	}

	if open != nil {
		if len(out) > 0 && open.end-open.start < p.MinDurationMs {
			prev := &out[len(out)-1]
			prev.EndMs = open.end
			prev.Text = joinAndNormalize([]string{prev.Text, open.text()})
		} else {
			emit(open)
		}
	}

	optimizeTiming(out, p.OverlapGapMs)
	return out
}

func shouldSoftBreak(p *paragraph, lastText string, params Params) bool {
	if endsWithSentenceTerminator(lastText) {
		return true
	}
	if params.MaxChars > 0 && p.chars >= params.MaxChars {
		return true
	}
	if params.MaxWords > 0 && p.words >= params.MaxWords {
		return true
	}
	return false
}

var sentenceTerminators = []rune{'.', '!', '?', '…', '。', '！', '？'}

func endsWithSentenceTerminator(s string) bool {
	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return false
	}
	last := r[len(r)-1]
	for _, t := range sentenceTerminators {
		if last == t {
			return true
		}
	}
	return false
}

var closingPunctuation = map[rune]bool{
	',': true, '.': true, ';': true, ':': true, '!': true, '?': true,
	'。': true, '！': true, '？': true, '；': true, '：': true,
}

var openingBrackets = map[rune]bool{'(': true, '[': true, '{': true, '“': true, '「': true, '（': true}
var closingBrackets = map[rune]bool{')': true, ']': true, '}': true, '”': true, '」': true, '）': true}

// joinAndNormalize space-joins paragraph pieces then tidies punctuation
// spacing per spec.md §4.2.
func joinAndNormalize(pieces []string) string {
	joined := strings.Join(pieces, " ")
	runes := []rune(joined)
	var sb []rune

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == ' ' {
			// Drop a space immediately before closing punctuation or a
			// closing bracket/quote.
			if i+1 < len(runes) && (closingPunctuation[runes[i+1]] || closingBrackets[runes[i+1]]) {
				continue
			}
			// Drop a space immediately after an opening bracket/quote.
			if len(sb) > 0 && openingBrackets[sb[len(sb)-1]] {
				continue
			}
			// Collapse runs of whitespace.
			if len(sb) > 0 && sb[len(sb)-1] == ' ' {
				continue
			}
		}
		sb = append(sb, r)
	}

	return collapseWhitespace(string(sb))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// optimizeTiming widens each cue's display time to at least 1000ms where
// possible without overlapping the next cue, then enforces a 500ms floor
// (spec.md §4.2 "Timing optimization").
func optimizeTiming(cues []subtitle.Cue, overlapGapMs int64) {
	const minDisplayMs = 1000
	const floorMs = 500

	for i := range cues {
		want := cues[i].StartMs + minDisplayMs
		if want > cues[i].EndMs {
			if i+1 < len(cues) {
				maxEnd := cues[i+1].StartMs - overlapGapMs
				if want > maxEnd {
					want = maxEnd
				}
			}
			if want > cues[i].EndMs {
				cues[i].EndMs = want
			}
		}
		if cues[i].EndMs-cues[i].StartMs < floorMs {
			cues[i].EndMs = cues[i].StartMs + floorMs
		}
	}
}
