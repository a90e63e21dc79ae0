package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mimelyc/yt-bilingual-proxy/internal/llm"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

// Translator is the context-aware batched LLM translation engine
// (spec.md §4.6).
type Translator struct {
	client *llm.Client
	cfg    Config
}

// New builds a Translator against an LLM client with the given batching
// configuration.
func New(client *llm.Client, cfg Config) *Translator {
	return &Translator{client: client, cfg: cfg}
}

// Translate runs the full pipeline: optional guidance pass, then
// sliding-window batched translation (or the simple fallback mode when
// ContextEnabled is false), returning one translation per input line in
// the same order as lines.
func (t *Translator) Translate(ctx context.Context, lines []Line, sourceLang, targetLang string) ([]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}

	if !t.cfg.ContextEnabled {
		return t.translateSimple(ctx, lines, sourceLang, targetLang)
	}

	guidance := t.BuildGuidance(ctx, lines, sourceLang, targetLang)
	return t.translateBatched(ctx, lines, guidance, sourceLang, targetLang)
}

// translateBatched partitions lines into contiguous batches, dispatches
// them across a bounded worker pool, and writes each batch's results into
// a fixed-size output slice indexed by absolute cue index — so ordering is
// preserved regardless of which batch finishes first (spec.md §4.6
// "Concurrency").
func (t *Translator) translateBatched(ctx context.Context, lines []Line, guidance Guidance, sourceLang, targetLang string) ([]string, error) {
	batchSize := t.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 8
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text // default: original text, overwritten on success
	}

	type batchSpan struct {
		start, end int // indices into lines, end exclusive
	}
	var spans []batchSpan
	for i := 0; i < len(lines); i += batchSize {
		end := i + batchSize
		if end > len(lines) {
			end = len(lines)
		}
		spans = append(spans, batchSpan{start: i, end: end})
	}

	concurrency := t.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, span := range spans {
		span := span
		g.Go(func() error {
			batch := lines[span.start:span.end]
			preceding := contextWindow(lines, span.start-t.cfg.PrecedingLines, span.start)
			following := contextWindow(lines, span.end, span.end+t.cfg.FollowingLines)

			translations, err := t.translateBatchWithFallback(gctx, batch, preceding, following, guidance, sourceLang, targetLang)
			if err != nil {
				// translateBatchWithFallback only returns an error when even
				// per-line fallback failed to produce entries; the caller
				// still has the original-text defaults in out.
				log.Error("translate: batch %d-%d fell back to original text: %v", span.start, span.end, err)
				return nil
			}
			for i, tr := range translations {
				out[batch[i].Index] = tr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func contextWindow(lines []Line, from, to int) []Line {
	if from < 0 {
		from = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from >= to {
		return nil
	}
	return lines[from:to]
}

// translateBatchWithFallback attempts the batch up to 1+BatchRetries times;
// if every attempt fails, it falls back to per-line translation for this
// batch only (spec.md §4.6 "Per-batch retry and fallback").
func (t *Translator) translateBatchWithFallback(ctx context.Context, batch, preceding, following []Line, guidance Guidance, sourceLang, targetLang string) ([]string, error) {
	retries := t.cfg.BatchRetries
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		translations, err := t.translateBatch(ctx, batch, preceding, following, guidance, sourceLang, targetLang)
		if err == nil {
			return translations, nil
		}
		lastErr = err
		log.Error("translate: batch attempt %d/%d failed: %v", attempt+1, retries+1, err)
	}

	log.Error("translate: batch exhausted retries, falling back to per-line translation: %v", lastErr)
	return t.translatePerLineFallback(ctx, batch, guidance, sourceLang, targetLang), nil
}

// translateBatch issues one LLM call for the batch and validates the
// structured response (spec.md §4.6 "Response parsing").
func (t *Translator) translateBatch(ctx context.Context, batch, preceding, following []Line, guidance Guidance, sourceLang, targetLang string) ([]string, error) {
	prompt := buildBatchPrompt(batch, preceding, following, guidance, sourceLang, targetLang)

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(batchSystemPrompt(targetLang)).
		WithMaxTokens(t.cfg.MaxTokens)

	response, err := t.client.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: prompt}}, opts)
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	entries, err := parseBatchResponse(response.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(batch) {
		return nil, fmt.Errorf("batch response length mismatch: got %d, want %d", len(entries), len(batch))
	}

	byID := make(map[int]string, len(entries))
	for _, e := range entries {
		byID[e.ID] = e.Translation
	}

	out := make([]string, len(batch))
	for i, l := range batch {
		tr, ok := byID[l.Index]
		if !ok || strings.TrimSpace(tr) == "" {
			return nil, fmt.Errorf("batch response missing translation for index %d", l.Index)
		}
		out[i] = tr
	}
	return out, nil
}

// translatePerLineFallback translates each line of a failed batch with its
// own single-line call; a line whose own call also fails keeps its
// original text (spec.md §4.6 "fallback never aborts the overall
// translation").
func (t *Translator) translatePerLineFallback(ctx context.Context, batch []Line, guidance Guidance, sourceLang, targetLang string) []string {
	out := make([]string, len(batch))
	for i, l := range batch {
		tr, err := t.translateSingleLine(ctx, l, guidance, sourceLang, targetLang)
		if err != nil {
			log.Error("translate: per-line fallback failed for index %d, keeping original text: %v", l.Index, err)
			out[i] = l.Text
			continue
		}
		out[i] = tr
	}
	return out
}

func (t *Translator) translateSingleLine(ctx context.Context, line Line, guidance Guidance, sourceLang, targetLang string) (string, error) {
	prompt := buildSingleLinePrompt(line, guidance, sourceLang, targetLang)
	response, err := t.client.SimpleChat(ctx, prompt, batchSystemPrompt(targetLang))
	if err != nil {
		return "", err
	}
	response = strings.TrimSpace(stripCodeFences(response))
	if response == "" {
		return "", fmt.Errorf("empty single-line response")
	}
	return response, nil
}

// translateSimple is the non-context fallback mode: one cue per call, no
// preceding/following window, a small delay between dispatch waves to
// avoid bursting the upstream rate limit (spec.md §4.6).
func (t *Translator) translateSimple(ctx context.Context, lines []Line, sourceLang, targetLang string) ([]string, error) {
	const interWaveDelay = 200 * time.Millisecond
	out := make([]string, len(lines))

	concurrency := t.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	for waveStart := 0; waveStart < len(lines); waveStart += concurrency {
		waveEnd := waveStart + concurrency
		if waveEnd > len(lines) {
			waveEnd = len(lines)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := waveStart; i < waveEnd; i++ {
			i := i
			g.Go(func() error {
				tr, err := t.client.SimpleChat(gctx, lines[i].Text,
					fmt.Sprintf("Translate from %s to %s. Return only the translation, no commentary.", sourceLang, targetLang))
				if err != nil {
					log.Error("translate: simple mode failed for index %d, keeping original text: %v", lines[i].Index, err)
					out[i] = lines[i].Text
					return nil
				}
				out[i] = strings.TrimSpace(stripCodeFences(tr))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if waveEnd < len(lines) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interWaveDelay):
			}
		}
	}

	return out, nil
}

func batchSystemPrompt(targetLang string) string {
	return fmt.Sprintf("You are a professional subtitle translator producing natural, concise %s suitable for on-screen display.", targetLang)
}

func buildBatchPrompt(batch, preceding, following []Line, guidance Guidance, sourceLang, targetLang string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Translate the following subtitle lines from %s to %s.\n\n", sourceLang, targetLang)

	if guidance.Summary != "" {
		fmt.Fprintf(&b, "=== TRANSCRIPT SUMMARY ===\n%s\n\n", guidance.Summary)
	}
	if len(guidance.Glossary) > 0 {
		b.WriteString("=== GLOSSARY (use these exact translations) ===\n")
		for _, e := range guidance.Glossary {
			if e.Note != "" {
				fmt.Fprintf(&b, "%s -> %s (%s)\n", e.Source, e.Target, e.Note)
			} else {
				fmt.Fprintf(&b, "%s -> %s\n", e.Source, e.Target)
			}
		}
		b.WriteString("\n")
	}

	if len(preceding) > 0 {
		b.WriteString("=== PRECEDING CONTEXT (for reference only, do not translate) ===\n")
		writeIndexedLines(&b, preceding)
		b.WriteString("\n")
	}

	b.WriteString("=== LINES TO TRANSLATE ===\n")
	writeIndexedLines(&b, batch)
	b.WriteString("\n")

	if len(following) > 0 {
		b.WriteString("=== FOLLOWING CONTEXT (for reference only, do not translate) ===\n")
		writeIndexedLines(&b, following)
		b.WriteString("\n")
	}

	b.WriteString("=== OUTPUT FORMAT ===\n")
	b.WriteString("Return ONLY a JSON array of objects {\"id\": <line index>, \"translation\": <translated text>}, ")
	b.WriteString("one entry per line to translate, in any order, with id values exactly matching the indices shown above. ")
	b.WriteString("Do not include explanations, notes, or Markdown formatting.\n")

	return b.String()
}

func buildSingleLinePrompt(line Line, guidance Guidance, sourceLang, targetLang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate this single subtitle line from %s to %s. Return only the translation.\n\n", sourceLang, targetLang)
	if guidance.Summary != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", guidance.Summary)
	}
	b.WriteString(line.Text)
	return b.String()
}

func writeIndexedLines(b *strings.Builder, lines []Line) {
	for _, l := range lines {
		fmt.Fprintf(b, "[%d] %s\n", l.Index, l.Text)
	}
}

// parseBatchResponse strips Markdown code fences, locates the outermost
// JSON array, and validates it per spec.md §4.6 "Response parsing".
func parseBatchResponse(raw string) ([]translatedEntry, error) {
	body := extractJSONArray(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON array found in batch response")
	}

	var entries []translatedEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Translation) == "" {
			return nil, fmt.Errorf("batch response entry %d has empty translation", e.ID)
		}
	}
	return entries, nil
}

func extractJSONArray(s string) string {
	s = stripCodeFences(s)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

var codeFenceTrim = strings.NewReplacer("```json", "", "```", "")

func stripCodeFences(s string) string {
	return strings.TrimSpace(codeFenceTrim.Replace(s))
}
