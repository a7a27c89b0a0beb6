package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/clock/system"
	"github.com/bigwebarchive/archiver/internal/id/uuid"
)

func newTestStore(t *testing.T) (*JobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(Config{JobsDir: dir}, uuid.New(), system.New(), zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{
		URL:    "http://Example.com:80/Page?z=1&a=2",
		URLKey: "url-sha256:deadbeef",
		Domain: "example.com",
		Depth:  2,
		Assets: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, archive.JobStatusQueued, created.Status)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "http://Example.com:80/Page?z=1&a=2", got.URL)
	assert.Equal(t, "url-sha256:deadbeef", got.URLKey)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, 2, got.Depth)
	assert.True(t, got.Assets)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestUpdateMergesFields(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{
		URL:    "http://a.com/",
		URLKey: "url-sha256:aa",
		Domain: "a.com",
		Depth:  1,
	})
	require.NoError(t, err)

	status := archive.JobStatusWARC
	updated, err := store.Update(ctx, created.ID, archive.JobPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, archive.JobStatusWARC, updated.Status)

	// Fields not mentioned in the patch survive the merge.
	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://a.com/", got.URL)
	assert.Equal(t, "url-sha256:aa", got.URLKey)
	assert.Equal(t, "a.com", got.Domain)
	assert.Equal(t, 1, got.Depth)
	assert.Equal(t, archive.JobStatusWARC, got.Status)
}

func TestUpdateMissing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	status := archive.JobStatusFailed
	_, err := store.Update(context.Background(), "ghost", archive.JobPatch{Status: &status})
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestListSkipsCorruptEntries(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, archive.Job{URL: "http://a.com/"})
	require.NoError(t, err)
	second, err := store.Create(ctx, archive.Job{URL: "http://b.com/"})
	require.NoError(t, err)

	// A truncated record and a stray temp file must not break the listing.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id":"bro`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".job-tmp-123"), []byte("partial"), 0o600))

	jobs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)
}

func TestRemove(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{URL: "http://a.com/"})
	require.NoError(t, err)

	removed, err := store.Remove(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

// TestCrashLeavesOldRecordIntact simulates a process dying after the temp
// file was written but before the rename: Get must return the previous
// value, never a truncated one.
func TestCrashLeavesOldRecordIntact(t *testing.T) {
	t.Parallel()

	store, dir := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, archive.Job{URL: "http://a.com/", Message: "original"})
	require.NoError(t, err)

	// Orphaned temp file from an interrupted update.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".job-tmp-crash"), []byte(`{"id":"`+created.ID+`","mess`), 0o600))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Message)
}

func TestFailStale(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	running, err := store.Create(ctx, archive.Job{URL: "http://a.com/"})
	require.NoError(t, err)
	status := archive.JobStatusFetching
	_, err = store.Update(ctx, running.ID, archive.JobPatch{Status: &status})
	require.NoError(t, err)

	done, err := store.Create(ctx, archive.Job{URL: "http://b.com/"})
	require.NoError(t, err)
	complete := archive.JobStatusComplete
	_, err = store.Update(ctx, done.ID, archive.JobPatch{Status: &complete})
	require.NoError(t, err)

	swept, err := store.FailStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	gotRunning, err := store.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.JobStatusFailed, gotRunning.Status)

	gotDone, err := store.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.JobStatusComplete, gotDone.Status)
}

func TestRejectsPathEscapingIDs(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "../escape")
	assert.ErrorIs(t, err, archive.ErrInvalidPath)
}
