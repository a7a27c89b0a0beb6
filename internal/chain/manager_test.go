package chain

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/clock/system"
	"github.com/bigwebarchive/archiver/internal/hash/sha256"
	objectmemory "github.com/bigwebarchive/archiver/internal/objectnet/memory"
)

const (
	testService = "ARCHIVE"
	testName    = "big-web-archive"
)

func newTestManager(net *objectmemory.Network) *Manager {
	return New(net, sha256.New(), system.New(), nil, Config{
		Service: testService,
		Name:    testName,
	}, zap.NewNop())
}

func testJob(id string) archive.Job {
	return archive.Job{
		ID:     id,
		URL:    "http://example.com/",
		URLKey: "url-sha256:feed",
		Domain: "example.com",
		Depth:  1,
	}
}

// writeWorkDir lays out a job working directory with the given WARC bytes.
func writeWorkDir(t *testing.T, warc []byte) string {
	t.Helper()
	dir := t.TempDir()
	warcPath := filepath.Join(dir, filepath.FromSlash(archive.BundleWARCPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(warcPath), 0o750))
	require.NoError(t, os.WriteFile(warcPath, warc, 0o600))

	htmlPath := filepath.Join(dir, filepath.FromSlash(archive.BundleHTMLPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(htmlPath), 0o750))
	require.NoError(t, os.WriteFile(htmlPath, []byte("<html></html>"), 0o600))
	return dir
}

func TestPublishFirstVersion(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	workDir := writeWorkDir(t, []byte("warc v1"))

	res, err := mgr.Publish(context.Background(), testJob("j1"), workDir)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Manifest.PreviousHash, "first version has no predecessor")
	assert.Equal(t, 1, net.Len(testService, testName))

	// Cleanup runs regardless of outcome.
	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublishIdenticalContentSkips(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)

	_, err := mgr.Publish(context.Background(), testJob("j1"), writeWorkDir(t, []byte("same bytes")))
	require.NoError(t, err)

	res, err := mgr.Publish(context.Background(), testJob("j2"), writeWorkDir(t, []byte("same bytes")))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, net.Len(testService, testName), "no second manifest stored")
}

func TestPublishChangedContentGrowsChain(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	ctx := context.Background()

	first, err := mgr.Publish(ctx, testJob("j1"), writeWorkDir(t, []byte("version one")))
	require.NoError(t, err)

	second, err := mgr.Publish(ctx, testJob("j2"), writeWorkDir(t, []byte("version two")))
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.ContentHash, second.Manifest.PreviousHash)
	assert.Equal(t, 2, net.Len(testService, testName))
}

func TestPublishMissingWARC(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(objectmemory.New())
	workDir := t.TempDir()

	_, err := mgr.Publish(context.Background(), testJob("j1"), workDir)
	assert.ErrorIs(t, err, archive.ErrArtifactMissing)
	assert.ErrorIs(t, err, fs.ErrNotExist, "the hashing failure cause must survive wrapping")
}

func TestPublishUploadFailure(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	net.FailPut = true
	mgr := newTestManager(net)
	workDir := writeWorkDir(t, []byte("bytes"))

	_, err := mgr.Publish(context.Background(), testJob("j1"), workDir)
	assert.ErrorIs(t, err, archive.ErrPublishFailed)

	// Cleanup still runs after a failed upload.
	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestListFailureDegradesToPublish(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	ctx := context.Background()

	_, err := mgr.Publish(ctx, testJob("j1"), writeWorkDir(t, []byte("same")))
	require.NoError(t, err)

	// With the listing unavailable the manager cannot see prior history
	// and must publish again rather than block archiving.
	net.FailList = true
	res, err := mgr.Publish(ctx, testJob("j2"), writeWorkDir(t, []byte("same")))
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Manifest.PreviousHash)
}

func TestVersionsAfterListingOutage(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	ctx := context.Background()

	_, err := mgr.Publish(ctx, testJob("j1"), writeWorkDir(t, []byte("v1")))
	require.NoError(t, err)

	// Publishing with the listing down starts a second chain. Once the
	// listing recovers, both chains must surface in the history.
	net.FailList = true
	_, err = mgr.Publish(ctx, testJob("j2"), writeWorkDir(t, []byte("v2")))
	require.NoError(t, err)
	net.FailList = false

	versions, ordered, err := mgr.Versions(ctx, "url-sha256:feed")
	require.NoError(t, err)
	assert.False(t, ordered)
	assert.Len(t, versions, 2)
}

func TestVersionsOrderedAnyInsertionOrder(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	ctx := context.Background()

	a, err := mgr.Publish(ctx, testJob("j1"), writeWorkDir(t, []byte("A")))
	require.NoError(t, err)
	b, err := mgr.Publish(ctx, testJob("j2"), writeWorkDir(t, []byte("B")))
	require.NoError(t, err)
	c, err := mgr.Publish(ctx, testJob("j3"), writeWorkDir(t, []byte("C")))
	require.NoError(t, err)

	// The memory network lists in map order, so insertion order is
	// already scrambled from the walker's point of view.
	versions, ordered, err := mgr.Versions(ctx, "url-sha256:feed")
	require.NoError(t, err)
	assert.True(t, ordered)
	require.Len(t, versions, 3)
	assert.Equal(t, a.ContentHash, versions[0].ContentHash)
	assert.Equal(t, b.ContentHash, versions[1].ContentHash)
	assert.Equal(t, c.ContentHash, versions[2].ContentHash)
}

func TestOrder(t *testing.T) {
	t.Parallel()

	mA := archive.Manifest{ContentHash: "sha256:aa"}
	mB := archive.Manifest{ContentHash: "sha256:bb", PreviousHash: "sha256:aa"}
	mC := archive.Manifest{ContentHash: "sha256:cc", PreviousHash: "sha256:bb"}

	for _, input := range [][]archive.Manifest{
		{mA, mB, mC},
		{mC, mB, mA},
		{mB, mA, mC},
	} {
		ordered, ok := Order(input)
		require.True(t, ok)
		require.Len(t, ordered, 3)
		assert.Equal(t, "sha256:aa", ordered[0].ContentHash)
		assert.Equal(t, "sha256:bb", ordered[1].ContentHash)
		assert.Equal(t, "sha256:cc", ordered[2].ContentHash)
	}
}

func TestOrderForkPrefersSmallestHash(t *testing.T) {
	t.Parallel()

	root := archive.Manifest{ContentHash: "sha256:aa"}
	forkLow := archive.Manifest{ContentHash: "sha256:ba", PreviousHash: "sha256:aa"}
	forkHigh := archive.Manifest{ContentHash: "sha256:bb", PreviousHash: "sha256:aa"}

	ordered, ok := Order([]archive.Manifest{forkHigh, root, forkLow})
	assert.False(t, ok, "a fork is not a single linked chain")
	require.Len(t, ordered, 3, "the losing branch must not be dropped")
	assert.Equal(t, "sha256:ba", ordered[1].ContentHash)
	assert.Equal(t, "sha256:bb", ordered[2].ContentHash)
}

func TestOrderKeepsDisconnectedRoots(t *testing.T) {
	t.Parallel()

	// Two roots for one url key, as left behind when a publish could not
	// see existing history and started a fresh chain.
	rootA := archive.Manifest{ContentHash: "sha256:aa", Timestamp: "20260101000000"}
	childB := archive.Manifest{ContentHash: "sha256:bb", PreviousHash: "sha256:aa", Timestamp: "20260102000000"}
	rootC := archive.Manifest{ContentHash: "sha256:cc", Timestamp: "20260103000000"}

	ordered, ok := Order([]archive.Manifest{childB, rootC, rootA})
	assert.False(t, ok, "disconnected history must not be reported as ordered")
	require.Len(t, ordered, 3)
	assert.Equal(t, "sha256:aa", ordered[0].ContentHash)
	assert.Equal(t, "sha256:bb", ordered[1].ContentHash)
	assert.Equal(t, "sha256:cc", ordered[2].ContentHash)
}

func TestOrderMalformedChain(t *testing.T) {
	t.Parallel()

	// Every manifest points somewhere: no root exists.
	mB := archive.Manifest{ContentHash: "sha256:bb", PreviousHash: "sha256:aa"}
	mC := archive.Manifest{ContentHash: "sha256:cc", PreviousHash: "sha256:bb"}

	out, ok := Order([]archive.Manifest{mB, mC})
	assert.False(t, ok)
	assert.Len(t, out, 2, "entries are still returned, just unordered")
}

func TestFetchLatest(t *testing.T) {
	t.Parallel()

	net := objectmemory.New()
	mgr := newTestManager(net)
	ctx := context.Background()

	_, err := mgr.Publish(ctx, testJob("j1"), writeWorkDir(t, []byte("old")))
	require.NoError(t, err)
	latest, err := mgr.Publish(ctx, testJob("j2"), writeWorkDir(t, []byte("new")))
	require.NoError(t, err)

	dest := t.TempDir()
	manifest, err := mgr.FetchLatest(ctx, "url-sha256:feed", dest)
	require.NoError(t, err)
	assert.Equal(t, latest.ContentHash, manifest.ContentHash)

	warcOut, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(archive.BundleWARCPath)))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), warcOut)
}

func TestFetchLatestNoHistory(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(objectmemory.New())
	_, err := mgr.FetchLatest(context.Background(), "url-sha256:none", t.TempDir())
	assert.ErrorIs(t, err, archive.ErrNotFound)
}
