// Package file implements a file-backed job store with crash-safe writes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
)

const tmpPattern = ".job-tmp-*"

// Config captures the parameters for the file-backed job store.
type Config struct {
	// JobsDir is the directory holding one JSON file per job record.
	JobsDir string `mapstructure:"jobs_dir" yaml:"jobs_dir"`
}

// JobStore persists one JSON file per job under a jobs directory. Writes go
// through a temp file and an atomic rename, so a crash leaves either the
// previous record or no record, never a truncated one.
type JobStore struct {
	jobsDir string
	idGen   archive.IDGenerator
	clock   archive.Clock
	logger  *zap.Logger
}

// New creates the jobs directory if needed and returns a JobStore.
func New(cfg Config, idGen archive.IDGenerator, clock archive.Clock, logger *zap.Logger) (*JobStore, error) {
	if strings.TrimSpace(cfg.JobsDir) == "" {
		return nil, fmt.Errorf("jobs directory is required")
	}
	if err := os.MkdirAll(cfg.JobsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}
	return &JobStore{
		jobsDir: cfg.JobsDir,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Create allocates a fresh id, merges it into the job, and persists
// atomically. The stored record is returned.
func (s *JobStore) Create(_ context.Context, job archive.Job) (archive.Job, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return archive.Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	job.ID = id
	now := s.clock.Now()
	job.Created = now
	job.Updated = now
	if job.Status == "" {
		job.Status = archive.JobStatusQueued
	}

	if err := s.write(job); err != nil {
		return archive.Job{}, err
	}
	return job, nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, id string) (archive.Job, error) {
	return s.read(id)
}

// Update reads the current record, merges the patch over it, and persists
// atomically. Unrelated fields are never lost.
func (s *JobStore) Update(_ context.Context, id string, patch archive.JobPatch) (archive.Job, error) {
	job, err := s.read(id)
	if err != nil {
		return archive.Job{}, err
	}

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Fault != nil {
		job.Fault = *patch.Fault
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.Domain != nil {
		job.Domain = *patch.Domain
	}
	if patch.ContentHash != nil {
		job.ContentHash = *patch.ContentHash
	}
	if patch.ExtractPath != nil {
		job.ExtractPath = *patch.ExtractPath
	}
	if len(patch.Extra) > 0 {
		if job.Extra == nil {
			job.Extra = make(map[string]any, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			job.Extra[k] = v
		}
	}
	job.Updated = s.clock.Now()

	if err := s.write(job); err != nil {
		return archive.Job{}, err
	}
	return job, nil
}

// List returns every stored record, oldest first. Corrupt or partial
// entries are skipped rather than failing the whole listing.
func (s *JobStore) List(_ context.Context) ([]archive.Job, error) {
	entries, err := os.ReadDir(s.jobsDir)
	if err != nil {
		return nil, fmt.Errorf("read jobs directory: %w", err)
	}

	jobs := make([]archive.Job, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		job, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable job record",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].Created.Equal(jobs[j].Created) {
			return jobs[i].Created.Before(jobs[j].Created)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// Remove deletes a record if present. Returns whether it existed.
func (s *JobStore) Remove(_ context.Context, id string) (bool, error) {
	path, err := s.recordPath(id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove job %s: %w", id, err)
	}
	return true, nil
}

// FailStale marks every non-terminal job as failed. Called once at startup
// so jobs interrupted by a restart do not sit in a live-looking state
// forever.
func (s *JobStore) FailStale(ctx context.Context) (int, error) {
	jobs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	failed := archive.JobStatusFailed
	message := "interrupted by process restart"
	swept := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if _, err := s.Update(ctx, job.ID, archive.JobPatch{
			Status:  &failed,
			Message: &message,
		}); err != nil {
			s.logger.Warn("stale job sweep update failed",
				zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func (s *JobStore) recordPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("job id %q: %w", id, archive.ErrInvalidPath)
	}
	return filepath.Join(s.jobsDir, id+".json"), nil
}

func (s *JobStore) read(id string) (archive.Job, error) {
	path, err := s.recordPath(id)
	if err != nil {
		return archive.Job{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return archive.Job{}, fmt.Errorf("job %s: %w", id, archive.ErrNotFound)
		}
		return archive.Job{}, fmt.Errorf("read job %s: %w", id, err)
	}
	var job archive.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return archive.Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// write persists a record via temp file plus atomic rename.
func (s *JobStore) write(job archive.Job) error {
	path, err := s.recordPath(job.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	tmp, err := os.CreateTemp(s.jobsDir, tmpPattern)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()            //nolint:errcheck // write error takes precedence
		_ = os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename record into place: %w", err)
	}
	return nil
}
