package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/clock/system"
	"github.com/bigwebarchive/archiver/internal/id/uuid"
)

func newStore() *JobStore {
	return NewJobStore(uuid.New(), system.New())
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()
	store := newStore()
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{
		URL:    "https://example.com/",
		URLKey: "url-sha256:abc",
		Depth:  1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, archive.JobStatusQueued, created.Status)
	assert.False(t, created.Created.IsZero())

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	store := newStore()
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestUpdateMergesPatch(t *testing.T) {
	t.Parallel()
	store := newStore()
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{URL: "https://example.com/", URLKey: "url-sha256:abc"})
	require.NoError(t, err)

	status := archive.JobStatusFailed
	fault := "warc"
	updated, err := store.Update(ctx, created.ID, archive.JobPatch{Status: &status, Fault: &fault})
	require.NoError(t, err)

	assert.Equal(t, archive.JobStatusFailed, updated.Status)
	assert.Equal(t, "warc", updated.Fault)
	// Untouched fields survive the merge.
	assert.Equal(t, created.URL, updated.URL)
	assert.Equal(t, created.URLKey, updated.URLKey)
}

func TestListOrderedByCreation(t *testing.T) {
	t.Parallel()
	store := newStore()
	ctx := context.Background()

	var ids []string
	for _, url := range []string{"https://a.test/", "https://b.test/", "https://c.test/"} {
		job, err := store.Create(ctx, archive.Job{URL: url, URLKey: "url-sha256:x"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, ids[i], job.ID)
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	store := newStore()
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{URL: "https://example.com/", URLKey: "url-sha256:abc"})
	require.NoError(t, err)

	removed, err := store.Remove(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = store.Get(ctx, created.ID)
	require.ErrorIs(t, err, archive.ErrNotFound)
}
