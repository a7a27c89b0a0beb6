// Package pipeline drives one archive job end to end: render the page,
// stage the capture artifacts on disk, and hand the working directory to
// the chain manager for bundling and publish.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/chain"
	"github.com/bigwebarchive/archiver/internal/metrics"
	"github.com/bigwebarchive/archiver/internal/storage/file"
)

// Stage names recorded in the job's fault field when that stage fails.
const (
	StageSession  = "session"
	StageFetch    = "fetching"
	StageWARC     = "warc"
	StageHTML     = "html"
	StageImage    = "image"
	StageJob      = "job"
	StagePublish  = "publish"
	StageRetrieve = "retrieve"
)

// CompletionEvent is the payload published when a job reaches a terminal
// state, when an event publisher is configured.
type CompletionEvent struct {
	JobID       string `json:"job_id"`
	URL         string `json:"url"`
	URLKey      string `json:"url_key"`
	Status      string `json:"status"`
	ContentHash string `json:"content_hash,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Pipeline orchestrates capture and publish for stored jobs.
type Pipeline struct {
	jobs     archive.JobStore
	layout   *file.Layout
	renderer archive.Renderer
	chain    *chain.Manager
	events   archive.Publisher
	topic    string
	clock    archive.Clock
	logger   *zap.Logger
}

// New builds a Pipeline. events may be nil when no completion topic is
// configured.
func New(jobs archive.JobStore, layout *file.Layout, renderer archive.Renderer, chainMgr *chain.Manager, events archive.Publisher, topic string, clock archive.Clock, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		jobs:     jobs,
		layout:   layout,
		renderer: renderer,
		chain:    chainMgr,
		events:   events,
		topic:    topic,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes the full capture/publish sequence for a stored job. The job
// record tracks progress through intermediate statuses; on any stage error
// the job is marked failed with the stage name and error message before the
// error is returned.
func (p *Pipeline) Run(ctx context.Context, jobID string) error {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	log.Info("starting capture")

	crawlLog := newCrawlLog(p.clock)
	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusStarted); err != nil {
		return err
	}

	session, err := p.renderer.NewSession(ctx)
	if err != nil {
		return p.fail(ctx, job, StageSession, err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("session close", zap.Error(cerr))
		}
	}()

	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusFetching); err != nil {
		return err
	}
	start := p.clock.Now()
	if err := session.Navigate(ctx, job.URL); err != nil {
		return p.fail(ctx, job, StageFetch, err)
	}
	metrics.ObserveStage(StageFetch, p.clock.Now().Sub(start))
	crawlLog.printf("fetched %s", job.URL)

	start = p.clock.Now()
	warcData, err := session.WARC(ctx)
	if err != nil {
		return p.fail(ctx, job, StageWARC, err)
	}
	if err := writeArtifact(p.layout.WARCPath(job.ID), warcData); err != nil {
		return p.fail(ctx, job, StageWARC, err)
	}
	metrics.ObserveStage(StageWARC, p.clock.Now().Sub(start))
	crawlLog.printf("wrote warc (%d bytes)", len(warcData))
	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusWARC); err != nil {
		return err
	}

	start = p.clock.Now()
	html, err := session.HTML(ctx)
	if err != nil {
		return p.fail(ctx, job, StageHTML, err)
	}
	if err := writeArtifact(p.layout.HTMLPath(job.ID), []byte(html)); err != nil {
		return p.fail(ctx, job, StageHTML, err)
	}
	metrics.ObserveStage(StageHTML, p.clock.Now().Sub(start))
	crawlLog.printf("wrote html snapshot (%d bytes)", len(html))
	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusHTML); err != nil {
		return err
	}

	start = p.clock.Now()
	png, err := session.Screenshot(ctx)
	if err != nil {
		return p.fail(ctx, job, StageImage, err)
	}
	if err := writeArtifact(p.layout.PNGPath(job.ID), png); err != nil {
		return p.fail(ctx, job, StageImage, err)
	}
	metrics.ObserveStage(StageImage, p.clock.Now().Sub(start))
	crawlLog.printf("wrote screenshot (%d bytes)", len(png))
	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusImage); err != nil {
		return err
	}

	// Snapshot the job record itself into the bundle so a downloaded
	// archive is self-describing.
	record, err := p.jobs.Get(ctx, job.ID)
	if err != nil {
		return p.fail(ctx, job, StageJob, err)
	}
	recordJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return p.fail(ctx, job, StageJob, err)
	}
	if err := writeArtifact(p.layout.JobJSONPath(job.ID), recordJSON); err != nil {
		return p.fail(ctx, job, StageJob, err)
	}
	crawlLog.printf("wrote job record")
	if err := writeArtifact(p.layout.LogPath(job.ID), crawlLog.bytes()); err != nil {
		return p.fail(ctx, job, StageJob, err)
	}
	if job, err = p.setStatus(ctx, job.ID, archive.JobStatusJob); err != nil {
		return err
	}

	start = p.clock.Now()
	result, err := p.chain.Publish(ctx, job, p.layout.WorkDir(job.ID))
	if err != nil {
		metrics.ObservePublish("failed")
		return p.fail(ctx, job, StagePublish, err)
	}
	metrics.ObserveStage(StagePublish, p.clock.Now().Sub(start))
	if result.Skipped {
		metrics.ObservePublish("skipped")
	} else {
		metrics.ObservePublish("published")
	}

	hash := result.ContentHash
	status := archive.JobStatusComplete
	if job, err = p.jobs.Update(ctx, job.ID, archive.JobPatch{
		Status:      &status,
		ContentHash: &hash,
	}); err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	metrics.ObserveJob("complete")
	log.Info("capture complete",
		zap.String("content_hash", result.ContentHash),
		zap.Bool("skipped", result.Skipped))
	p.emit(ctx, job, result)
	return nil
}

// Retrieve downloads the latest archived version for the job's url key and
// extracts it into the local cache. The job record is updated with the
// content hash and extraction path of the served version.
func (p *Pipeline) Retrieve(ctx context.Context, jobID string) (archive.Job, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return archive.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}

	head, found := p.chain.Head(ctx, job.URLKey)
	if !found {
		err := fmt.Errorf("no archive for %s: %w", job.URL, archive.ErrNotFound)
		return archive.Job{}, p.fail(ctx, job, StageRetrieve, err)
	}

	dest := p.layout.CacheDir(job.ID, job.URLKey, head.ContentHash)
	if _, statErr := os.Stat(filepath.Join(dest, "manifest.json")); statErr != nil {
		if err := p.chain.Fetch(ctx, head, dest); err != nil {
			return archive.Job{}, p.fail(ctx, job, StageRetrieve, err)
		}
	}

	hash := head.ContentHash
	status := archive.JobStatusComplete
	updated, err := p.jobs.Update(ctx, job.ID, archive.JobPatch{
		Status:      &status,
		ContentHash: &hash,
		ExtractPath: &dest,
	})
	if err != nil {
		return archive.Job{}, fmt.Errorf("record retrieval for %s: %w", job.ID, err)
	}
	return updated, nil
}

func (p *Pipeline) setStatus(ctx context.Context, jobID string, status archive.JobStatus) (archive.Job, error) {
	job, err := p.jobs.Update(ctx, jobID, archive.JobPatch{Status: &status})
	if err != nil {
		return archive.Job{}, fmt.Errorf("set status %s on %s: %w", status, jobID, err)
	}
	return job, nil
}

func (p *Pipeline) fail(ctx context.Context, job archive.Job, stage string, cause error) error {
	status := archive.JobStatusFailed
	msg := cause.Error()
	if _, err := p.jobs.Update(ctx, job.ID, archive.JobPatch{
		Status:  &status,
		Fault:   &stage,
		Message: &msg,
	}); err != nil {
		p.logger.Error("record job failure",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob("failed")
	p.logger.Warn("capture failed",
		zap.String("job_id", job.ID),
		zap.String("stage", stage),
		zap.Error(cause))
	job.Status = status
	p.emit(ctx, job, archive.PublishResult{})
	return fmt.Errorf("%s: %w", stage, cause)
}

func (p *Pipeline) emit(ctx context.Context, job archive.Job, result archive.PublishResult) {
	if p.events == nil || p.topic == "" {
		return
	}
	event := CompletionEvent{
		JobID:       job.ID,
		URL:         job.URL,
		URLKey:      job.URLKey,
		Status:      string(job.Status),
		ContentHash: result.ContentHash,
		Skipped:     result.Skipped,
		Timestamp:   p.clock.Now().Format(time.RFC3339),
	}
	if _, err := p.events.Publish(ctx, p.topic, event); err != nil {
		p.logger.Warn("publish completion event",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}

// crawlLog accumulates the human-readable capture transcript bundled as
// metadata/crawl.log.
type crawlLog struct {
	clock archive.Clock
	buf   []byte
}

func newCrawlLog(clock archive.Clock) *crawlLog {
	return &crawlLog{clock: clock}
}

func (c *crawlLog) printf(format string, args ...any) {
	line := fmt.Sprintf("%s %s\n", c.clock.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	c.buf = append(c.buf, line...)
}

func (c *crawlLog) bytes() []byte {
	return c.buf
}
