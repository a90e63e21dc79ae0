package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// BuildGuidance runs the optional map-reduce summary and glossary passes
// over the full transcript (spec.md §4.6 "Optional guidance pass"). A
// failure in either sub-pass is non-fatal: it is logged and that part of
// the guidance is simply omitted.
func (t *Translator) BuildGuidance(ctx context.Context, lines []Line, sourceLang, targetLang string) Guidance {
	var g Guidance

	if t.cfg.SummaryEnabled {
		summary, err := t.buildSummary(ctx, lines, sourceLang)
		if err != nil {
			log.Error("guidance: summary pass failed, continuing without it: %v", err)
		} else {
			g.Summary = summary
		}
	}

	if t.cfg.GlossaryEnabled {
		glossary, err := t.buildGlossary(ctx, lines, sourceLang, targetLang)
		if err != nil {
			log.Error("guidance: glossary pass failed, continuing without it: %v", err)
		} else {
			g.Glossary = glossary
		}
	}

	return g
}

// buildSummary chunks the transcript into pieces no larger than
// SummaryChunkChars, summarizes each chunk (map), then reduces the partial
// summaries into one whole-transcript summary.
func (t *Translator) buildSummary(ctx context.Context, lines []Line, sourceLang string) (string, error) {
	chunks := chunkLines(lines, t.cfg.SummaryChunkChars)
	if len(chunks) == 0 {
		return "", nil
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt := fmt.Sprintf(
			"Summarize the following %s transcript excerpt in 2-3 sentences, focusing on topic, tone and recurring entities:\n\n%s",
			sourceLang, joinLineTexts(chunk))
		summary, err := t.client.SimpleChat(ctx, prompt, "You are a concise transcript summarizer.")
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, strings.TrimSpace(summary))
	}

	if len(partials) == 1 {
		return partials[0], nil
	}

	reducePrompt := "Combine these partial summaries into one coherent summary of the whole transcript, 3-5 sentences:\n\n" +
		strings.Join(partials, "\n\n")
	final, err := t.client.SimpleChat(ctx, reducePrompt, "You are a concise transcript summarizer.")
	if err != nil {
		return "", fmt.Errorf("reduce partial summaries: %w", err)
	}
	return strings.TrimSpace(final), nil
}

// buildGlossary chunks the transcript, extracts a glossary per chunk (map),
// then merges and deduplicates entries by source term (reduce).
func (t *Translator) buildGlossary(ctx context.Context, lines []Line, sourceLang, targetLang string) ([]GlossaryEntry, error) {
	chunks := chunkLines(lines, t.cfg.GlossaryChunkChars)
	if len(chunks) == 0 {
		return nil, nil
	}

	merged := make(map[string]GlossaryEntry)
	for i, chunk := range chunks {
		prompt := fmt.Sprintf(
			"Extract proper nouns, names and domain-specific terms from this %s transcript excerpt that need a consistent %s translation. "+
				"Return ONLY a JSON object of the form {\"entries\":[{\"source\":...,\"target\":...,\"note\":...}]}. If none, return {\"entries\":[]}.\n\n%s",
			sourceLang, targetLang, joinLineTexts(chunk))

		raw, err := t.client.SimpleChat(ctx, prompt, "You are a terminology extraction assistant. Output strict JSON only.")
		if err != nil {
			return nil, fmt.Errorf("extract glossary chunk %d/%d: %w", i+1, len(chunks), err)
		}

		entries, err := parseGlossaryResponse(raw)
		if err != nil {
			log.Error("guidance: glossary chunk %d/%d produced unparsable output, skipping chunk: %v", i+1, len(chunks), err)
			continue
		}
		for _, e := range entries {
			if e.Source == "" || e.Target == "" {
				continue
			}
			merged[e.Source] = e
		}
	}

	out := make([]GlossaryEntry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	return out, nil
}

func parseGlossaryResponse(raw string) ([]GlossaryEntry, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object found in glossary response")
	}
	var env glossaryEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("unmarshal glossary response: %w", err)
	}
	return env.Entries, nil
}

// extractJSONObject strips Markdown code fences and locates the outermost
// {...} span, mirroring the array-extraction rule spec.md §4.6 documents
// for batch responses.
func extractJSONObject(s string) string {
	s = stripCodeFences(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

func chunkLines(lines []Line, maxChars int) [][]Line {
	if maxChars <= 0 {
		maxChars = 8000
	}
	var chunks [][]Line
	var current []Line
	currentChars := 0

	for _, l := range lines {
		lineLen := len([]rune(l.Text))
		if currentChars > 0 && currentChars+lineLen > maxChars {
			chunks = append(chunks, current)
			current = nil
			currentChars = 0
		}
		current = append(current, l)
		currentChars += lineLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func joinLineTexts(lines []Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}
