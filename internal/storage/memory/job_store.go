// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// JobStore is an in-memory archive.JobStore.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]archive.Job
	idGen archive.IDGenerator
	clock archive.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(idGen archive.IDGenerator, clock archive.Clock) *JobStore {
	return &JobStore{
		jobs:  make(map[string]archive.Job),
		idGen: idGen,
		clock: clock,
	}
}

// Create assigns a fresh id and stores the job in queued status.
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = job
	return job, nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, id string) (archive.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return archive.Job{}, fmt.Errorf("job %s: %w", id, archive.ErrNotFound)
	}
	return job, nil
}

// Update merges the patch over the stored record.
func (s *JobStore) Update(_ context.Context, id string, patch archive.JobPatch) (archive.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return archive.Job{}, fmt.Errorf("job %s: %w", id, archive.ErrNotFound)
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

	s.jobs[id] = job
	return job, nil
}

// List returns every stored record, oldest first.
func (s *JobStore) List(_ context.Context) ([]archive.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Remove deletes a record if present.
func (s *JobStore) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}
