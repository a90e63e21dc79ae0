package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/mimelyc/yt-bilingual-proxy/internal/fetch"
	"github.com/mimelyc/yt-bilingual-proxy/internal/segment"
	"github.com/mimelyc/yt-bilingual-proxy/internal/store"
	"github.com/mimelyc/yt-bilingual-proxy/internal/subtitle"
	"github.com/mimelyc/yt-bilingual-proxy/internal/translate"
	"github.com/mimelyc/yt-bilingual-proxy/pkg/log"
)

const jobTimeout = 5 * time.Minute

// process runs one job through pending -> translating -> done|failed
// (spec.md §4.7). It is only ever invoked with a job currently in pending.
func (p *Pool) process(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, ok := p.markTranslating(ctx, id)
	if !ok {
		return
	}

	cues, err := p.cuesFor(ctx, job)
	if err != nil {
		p.markFailed(ctx, job, err)
		return
	}

	bilingual, err := p.translateToBilingual(ctx, job, cues)
	if err != nil {
		p.markFailed(ctx, job, err)
		return
	}

	p.markDone(ctx, job, bilingual)
}

// cuesFor returns the upstream cues for a job: the in-memory cache the
// dispatcher populated at enqueue time, or a fresh upstream fetch when the
// process restarted and lost that cache (spec.md §4.9).
func (p *Pool) cuesFor(ctx context.Context, job *store.Job) ([]subtitle.Cue, error) {
	p.mu2.Lock()
	cached, ok := p.cues[job.ID]
	p.mu2.Unlock()
	if ok {
		return cached, nil
	}

	format, err := subtitle.ParseFormat(job.Key.Fmt)
	if err != nil {
		return nil, fmt.Errorf("parse stored format: %w", err)
	}
	result, err := p.fetcher.Fetch(ctx, fetch.Request{
		VideoID: job.Key.VideoID,
		Lang:    job.Key.SourceLang,
		Track:   job.Key.Track,
		Fmt:     format,
	})
	if err != nil {
		return nil, fmt.Errorf("re-fetch upstream after restart: %w", err)
	}
	return result.Track.Cues, nil
}

// translateToBilingual segments and translates the job's upstream cues,
// returning the bilingual result in the storage-neutral cue form (spec.md
// §4.7 "Success path"). The dispatcher (C8) renders this to whichever wire
// format a given request asked for.
func (p *Pool) translateToBilingual(ctx context.Context, job *store.Job, cues []subtitle.Cue) ([]subtitle.Cue, error) {
	merged := segment.Segment(cues, p.cfg.SegmentParams)
	if len(merged) == 0 {
		return nil, fmt.Errorf("segmentation produced no cues")
	}

	lines := make([]translate.Line, len(merged))
	for i, c := range merged {
		lines[i] = translate.Line{Index: i, Text: c.Text}
	}

	translations, err := p.translator.Translate(ctx, lines, job.Key.SourceLang, job.Key.TargetLang)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	if len(translations) != len(merged) {
		return nil, fmt.Errorf("translator returned %d lines, want %d", len(translations), len(merged))
	}

	bilingual := make([]subtitle.Cue, len(merged))
	for i, c := range merged {
		bilingual[i] = subtitle.Cue{
			StartMs: c.StartMs,
			EndMs:   c.EndMs,
			Text:    c.Text + "\n" + translations[i],
		}
	}
	return bilingual, nil
}

func (p *Pool) markTranslating(ctx context.Context, id string) (*store.Job, bool) {
	p.mu2.Lock()
	jc, ok := p.byJobID[id]
	p.mu2.Unlock()
	if !ok {
		log.Error("worker: no context registered for job %s, dropping", id)
		return nil, false
	}

	job, found, err := p.store.FindActive(ctx, jc.key, jc.sourceHash)
	if err != nil || !found || job.Status != store.JobPending {
		if err != nil {
			log.Error("worker: failed to load job %s before marking translating: %v", id, err)
		}
		return nil, false
	}

	job.Status = store.JobTranslating
	job.UpdatedAt = time.Now().UnixMilli()
	if err := p.store.UpsertJob(ctx, job); err != nil {
		log.Error("worker: failed to mark job %s translating: %v", id, err)
		return nil, false
	}
	return job, true
}

func (p *Pool) markDone(ctx context.Context, job *store.Job, bilingual []subtitle.Cue) {
	encoded, err := subtitle.EncodeCues(bilingual)
	if err != nil {
		p.markFailed(ctx, job, err)
		return
	}

	job.Status = store.JobDone
	job.Bilingual = encoded
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.UpdatedAt = time.Now().UnixMilli()

	if err := p.store.UpsertJob(ctx, job); err != nil {
		log.Error("worker: failed to persist completed job %s: %v", job.ID, err)
	}
	if p.cache != nil {
		p.cache.Put(job)
	}
	p.finish(job)
}

func (p *Pool) markFailed(ctx context.Context, job *store.Job, cause error) {
	log.Error("worker: job %s failed: %v", job.ID, cause)

	job.ErrorMessage = cause.Error()
	job.ErrorCode = "translation_error"
	job.UpdatedAt = time.Now().UnixMilli()

	if job.RetryCount >= p.cfg.MaxRetries {
		job.Status = store.JobFailed
		if err := p.store.UpsertJob(ctx, job); err != nil {
			log.Error("worker: failed to persist terminal-failed job %s: %v", job.ID, err)
		}
		p.finish(job)
		return
	}

	delayMs := p.cfg.RetryBaseMs << job.RetryCount
	job.RetryCount++
	job.NextRetryAt = time.Now().UnixMilli() + delayMs
	job.Status = store.JobPending

	if err := p.store.UpsertJob(ctx, job); err != nil {
		log.Error("worker: failed to persist retry-pending job %s: %v", job.ID, err)
	}

	go func() {
		timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-p.stopCh:
		case <-timer.C:
			p.enqueue(job.ID)
		}
	}()
}

// finish releases the in-flight slot and in-memory bookkeeping for a job
// that reached a terminal outcome for this attempt chain (done, or failed
// past maxRetries). Jobs that are merely retrying keep their in-flight
// entry so a concurrent duplicate request still dedupes against them.
func (p *Pool) finish(job *store.Job) {
	p.mu.Lock()
	delete(p.inFlight, inFlightKey(job.Key, job.SourceHash))
	p.mu.Unlock()

	p.mu2.Lock()
	delete(p.byJobID, job.ID)
	delete(p.cues, job.ID)
	p.mu2.Unlock()
}

func (p *Pool) storeCues(jobID string, cues []subtitle.Cue) {
	p.mu2.Lock()
	p.cues[jobID] = cues
	p.mu2.Unlock()
}
