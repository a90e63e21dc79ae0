package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
)

func TestSegmentFusesWordLevelCues(t *testing.T) {
	cues := []subtitle.Cue{
		{StartMs: 0, EndMs: 500, Text: "I"},
		{StartMs: 500, EndMs: 1000, Text: "have"},
		{StartMs: 1000, EndMs: 1500, Text: "a"},
		{StartMs: 1500, EndMs: 2000, Text: "dream."},
		{StartMs: 4000, EndMs: 4500, Text: "Next"},
		{StartMs: 4500, EndMs: 5000, Text: "line"},
	}

	out := Segment(cues, Params{GapThresholdMs: 1000, OverlapGapMs: 100})

	require.Len(t, out, 2)
	assert.Equal(t, "I have a dream.", out[0].Text)
	assert.Equal(t, "Next line", out[1].Text)
}

func TestSegmentRespectsDurationBounds(t *testing.T) {
	var cues []subtitle.Cue
	for i := int64(0); i < 20; i++ {
		cues = append(cues, subtitle.Cue{StartMs: i * 300, EndMs: i*300 + 300, Text: "word"})
	}

	p := DefaultParams()
	out := Segment(cues, p)

	for i, cue := range out {
		d := cue.EndMs - cue.StartMs
		isTail := i == len(out)-1
		if !isTail {
			assert.GreaterOrEqual(t, d, p.MinDurationMs)
		}
		assert.LessOrEqual(t, d, p.MaxDurationMs+1000) // timing optimization may extend slightly
	}
}

func TestSegmentHardBreaksOnLargeGap(t *testing.T) {
	cues := []subtitle.Cue{
		{StartMs: 0, EndMs: 1000, Text: "first"},
		{StartMs: 10000, EndMs: 11000, Text: "second"},
	}

	out := Segment(cues, Params{GapThresholdMs: 1200, MaxDurationMs: 7000})
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Text)
	assert.Equal(t, "second", out[1].Text)
}

func TestSegmentSoftBreaksOnMaxChars(t *testing.T) {
	cues := []subtitle.Cue{
		{StartMs: 0, EndMs: 500, Text: "aaaa"},
		{StartMs: 500, EndMs: 1000, Text: "bbbb"},
		{StartMs: 1000, EndMs: 1500, Text: "cccc"},
	}

	out := Segment(cues, Params{MaxDurationMs: 100000, GapThresholdMs: 100000, MaxChars: 8, MinDurationMs: 0})
	require.GreaterOrEqual(t, len(out), 2)
}

func TestSegmentFoldsShortTailIntoPredecessor(t *testing.T) {
	cues := []subtitle.Cue{
		{StartMs: 0, EndMs: 4000, Text: "long enough paragraph."},
		{StartMs: 4100, EndMs: 4200, Text: "tiny"},
	}

	out := Segment(cues, Params{MinDurationMs: 3000, MaxDurationMs: 7000, GapThresholdMs: 1200, OverlapGapMs: 100})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "tiny")
}

func TestSegmentIsDeterministic(t *testing.T) {
	cues := []subtitle.Cue{
		{StartMs: 0, EndMs: 500, Text: "a"},
		{StartMs: 500, EndMs: 1200, Text: "b."},
		{StartMs: 1500, EndMs: 2000, Text: "c"},
	}
	p := DefaultParams()

	first := Segment(cues, p)
	second := Segment(cues, p)
	assert.Equal(t, first, second)
}

func TestJoinAndNormalizeTrimsPunctuationSpacing(t *testing.T) {
	got := joinAndNormalize([]string{"Hello", ",", "world", "."})
	assert.Equal(t, "Hello, world.", got)
}
