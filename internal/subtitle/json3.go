package subtitle

import (
	"encoding/json"
	"strings"
)

// json3Codec parses and renders YouTube's JSON3 timed-text format: a
// top-level "events" array, each event carrying tStartMs/dDurationMs and a
// "segs" array of inner text segments.
type json3Codec struct{}

func (json3Codec) Format() Format { return FormatJSON3 }

type json3Doc struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    int64      `json:"tStartMs"`
	DDurationMs int64      `json:"dDurationMs"`
	Segs        []json3Seg `json:"segs"`
}

type json3Seg struct {
	Utf8 string `json:"utf8"`
}

func (json3Codec) Parse(data []byte) ([]Cue, error) {
	var doc json3Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	cues := make([]Cue, 0, len(doc.Events))
	for _, ev := range doc.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.Utf8)
		}
		text := strings.TrimSpace(sb.String())
		if text == "" {
			continue
		}
		cues = append(cues, Cue{
			StartMs: ev.TStartMs,
			EndMs:   ev.TStartMs + ev.DDurationMs,
			Text:    text,
		})
	}
	return cues, nil
}

func (json3Codec) Render(cues []Cue) ([]byte, error) {
	doc := json3Doc{Events: make([]json3Event, 0, len(cues))}
	for _, cue := range cues {
		doc.Events = append(doc.Events, json3Event{
			TStartMs:    cue.StartMs,
			DDurationMs: cue.EndMs - cue.StartMs,
			Segs:        []json3Seg{{Utf8: cue.Text}},
		})
	}
	return json.Marshal(doc)
}
