// Package chain manages the hash-chained manifest history of each archived
// URL: content identity, publish/skip decisions, and ordered history
// reconstruction from the object network's unordered listings.
package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/bundle"
	"github.com/bigwebarchive/archiver/internal/hash/sha256"
	"github.com/bigwebarchive/archiver/internal/metrics"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// Config captures the object-network namespace and call bounds.
type Config struct {
	// Service and Name form the namespace every bundle lives under.
	Service string `mapstructure:"service"`
	Name    string `mapstructure:"name"`
	// RequestTimeout bounds each individual object-network call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Manager drives one publish attempt at a time per url key. It is safe for
// concurrent use across keys; two concurrent publishes against the same key
// can fork the chain (no cross-process lock exists), which ordering repairs
// deterministically by preferring the lexicographically smallest hash.
type Manager struct {
	net     archive.ObjectNetwork
	hasher  archive.Hasher
	clock   archive.Clock
	history archive.HistoryStore
	logger  *zap.Logger
	cfg     Config
}

// New constructs a Manager. The history store may be nil.
func New(net archive.ObjectNetwork, hasher archive.Hasher, clock archive.Clock,
	history archive.HistoryStore, cfg Config, logger *zap.Logger) *Manager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Manager{
		net:     net,
		hasher:  hasher,
		clock:   clock,
		history: history,
		logger:  logger,
		cfg:     cfg,
	}
}

// Publish runs the chain state machine for one job: hash the WARC, resolve
// the chain head, skip when unchanged, otherwise build and upload the next
// bundle. The job's working directory is removed on every outcome; local
// disk is only a staging area.
func (m *Manager) Publish(ctx context.Context, job archive.Job, workDir string) (archive.PublishResult, error) {
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			m.logger.Warn("working directory cleanup failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	warcPath := filepath.Join(workDir, filepath.FromSlash(archive.BundleWARCPath))
	contentHash, err := m.hasher.HashFile(warcPath)
	if err != nil {
		return archive.PublishResult{}, fmt.Errorf("hash warc %s: %w: %w", warcPath, archive.ErrArtifactMissing, err)
	}

	head, found := m.resolveHead(ctx, job.URLKey)
	if found && head.ContentHash == contentHash {
		m.logger.Info("content unchanged, skipping publish",
			zap.String("url_key", job.URLKey),
			zap.String("content_hash", contentHash))
		return archive.PublishResult{Skipped: true, ContentHash: contentHash, Manifest: head}, nil
	}

	manifest := archive.Manifest{
		Schema:      archive.ManifestSchema,
		URLKey:      job.URLKey,
		TargetURL:   job.URL,
		Domain:      job.Domain,
		CrawlDepth:  job.Depth,
		Timestamp:   m.clock.Now().Format(timestampLayout),
		ContentHash: contentHash,
		WARC:        archive.BundleWARCPath,
		Artifacts: archive.ArtifactPaths{
			Log:  archive.BundleLogPath,
			HTML: archive.BundleHTMLPath,
			PNG:  archive.BundlePNGPath,
		},
	}
	if found {
		manifest.PreviousHash = head.ContentHash
	}

	data, err := bundle.Build(manifest, map[string]string{
		archive.BundleWARCPath: warcPath,
		archive.BundleHTMLPath: filepath.Join(workDir, filepath.FromSlash(archive.BundleHTMLPath)),
		archive.BundlePNGPath:  filepath.Join(workDir, filepath.FromSlash(archive.BundlePNGPath)),
		archive.BundleJobPath:  filepath.Join(workDir, filepath.FromSlash(archive.BundleJobPath)),
		archive.BundleLogPath:  filepath.Join(workDir, filepath.FromSlash(archive.BundleLogPath)),
	})
	if err != nil {
		return archive.PublishResult{}, fmt.Errorf("build bundle: %w", err)
	}

	putCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	identifier := sha256.StripPrefix(contentHash)
	if err := m.net.Put(putCtx, m.cfg.Service, m.cfg.Name, identifier, data); err != nil {
		return archive.PublishResult{}, fmt.Errorf("upload bundle %s: %w: %v", identifier, archive.ErrPublishFailed, err)
	}

	if m.history != nil {
		if err := m.history.RecordManifest(ctx, job.ID, manifest); err != nil {
			m.logger.Warn("history mirror record failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	m.logger.Info("bundle published",
		zap.String("url_key", job.URLKey),
		zap.String("content_hash", contentHash),
		zap.String("previous_hash", manifest.PreviousHash))
	return archive.PublishResult{ContentHash: contentHash, Manifest: manifest}, nil
}

// Versions returns every manifest published for a url key, ordered oldest
// to newest. When the chain is malformed (no root), the manifests are
// returned unordered and ordered is false.
func (m *Manager) Versions(ctx context.Context, urlKey string) (manifests []archive.Manifest, ordered bool, err error) {
	all, err := m.collect(ctx, urlKey)
	if err != nil {
		return nil, false, err
	}
	seq, ok := Order(all)
	if !ok {
		m.logger.Warn("manifest chain is malformed, returning unordered history",
			zap.String("url_key", urlKey), zap.Int("manifests", len(all)))
	}
	return seq, ok, nil
}

// Head resolves the most recent manifest for a url key, when one exists.
func (m *Manager) Head(ctx context.Context, urlKey string) (archive.Manifest, bool) {
	return m.resolveHead(ctx, urlKey)
}

// Fetch downloads a manifest's bundle and extracts it into dest.
func (m *Manager) Fetch(ctx context.Context, manifest archive.Manifest, dest string) error {
	getCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	data, err := m.net.Get(getCtx, m.cfg.Service, m.cfg.Name, sha256.StripPrefix(manifest.ContentHash))
	if err != nil {
		return fmt.Errorf("download bundle %s: %w", manifest.ContentHash, err)
	}
	if _, err := bundle.Extract(data, dest); err != nil {
		return fmt.Errorf("extract bundle %s: %w", manifest.ContentHash, err)
	}
	return nil
}

// FetchLatest downloads the chain head's bundle for a url key and extracts
// it into dest. Returns the extracted manifest.
func (m *Manager) FetchLatest(ctx context.Context, urlKey, dest string) (archive.Manifest, error) {
	head, found := m.resolveHead(ctx, urlKey)
	if !found {
		return archive.Manifest{}, fmt.Errorf("no archive for key %s: %w", urlKey, archive.ErrNotFound)
	}
	if err := m.Fetch(ctx, head, dest); err != nil {
		return archive.Manifest{}, err
	}
	return head, nil
}

// resolveHead finds the most recent manifest for a url key. Object-network
// unavailability degrades to "no prior history" rather than blocking
// archiving; that can duplicate a publish during a partition but never
// loses a capture.
func (m *Manager) resolveHead(ctx context.Context, urlKey string) (archive.Manifest, bool) {
	all, err := m.collect(ctx, urlKey)
	if err != nil {
		m.logger.Warn("chain head resolution failed, treating as no history",
			zap.String("url_key", urlKey), zap.Error(err))
		return archive.Manifest{}, false
	}
	if len(all) == 0 {
		return archive.Manifest{}, false
	}

	seq, ok := Order(all)
	if !ok {
		// The manifests do not form a single linked chain. Fall back
		// deterministically to the newest timestamp across all of
		// them, smallest hash on ties.
		m.logger.Warn("manifest chain is not fully linked, falling back to newest timestamp",
			zap.String("url_key", urlKey))
		head := seq[0]
		for _, c := range seq[1:] {
			if c.Timestamp > head.Timestamp ||
				(c.Timestamp == head.Timestamp && c.ContentHash < head.ContentHash) {
				head = c
			}
		}
		return head, true
	}
	return seq[len(seq)-1], true
}

// collect lists the namespace, downloads every bundle, and keeps the
// manifests matching the url key. The object network offers no server-side
// filter by embedded manifest content, so this is a full scan.
func (m *Manager) collect(ctx context.Context, urlKey string) ([]archive.Manifest, error) {
	listCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	identifiers, err := m.net.List(listCtx, m.cfg.Service, m.cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("list namespace %s/%s: %w", m.cfg.Service, m.cfg.Name, err)
	}

	metrics.ObserveChainResolve(len(identifiers))

	manifests := make([]archive.Manifest, 0, len(identifiers))
	for _, id := range identifiers {
		manifest, err := m.peekManifest(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unreadable bundle",
				zap.String("identifier", id), zap.Error(err))
			continue
		}
		if manifest.URLKey == urlKey {
			manifests = append(manifests, manifest)
		}
	}
	return manifests, nil
}

func (m *Manager) peekManifest(ctx context.Context, identifier string) (archive.Manifest, error) {
	getCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()
	data, err := m.net.Get(getCtx, m.cfg.Service, m.cfg.Name, identifier)
	if err != nil {
		return archive.Manifest{}, err
	}
	return bundle.ReadManifest(data)
}

// Order reconstructs chain order from an unordered manifest set: locate the
// root (no previous hash), then repeatedly follow the manifest whose
// previous hash equals the current content hash. Forks are resolved by
// preferring the lexicographically smallest content hash, so every replica
// reconstructs the same canonical ordering. The result always contains
// every input manifest: ok=true means the walk covered the whole set and
// the slice is a single linked chain; ok=false means no root exists, or
// some manifests were unreachable from the walked root (a second root from
// a degraded publish, a losing fork branch, a cycle) and are appended after
// the ordered prefix, newest timestamp last.
func Order(manifests []archive.Manifest) ([]archive.Manifest, bool) {
	if len(manifests) == 0 {
		return nil, true
	}

	byPrev := make(map[string][]archive.Manifest, len(manifests))
	var roots []archive.Manifest
	for _, m := range manifests {
		if m.PreviousHash == "" {
			roots = append(roots, m)
			continue
		}
		byPrev[m.PreviousHash] = append(byPrev[m.PreviousHash], m)
	}
	if len(roots) == 0 {
		return manifests, false
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ContentHash < roots[j].ContentHash })

	seen := make(map[string]bool, len(manifests))
	ordered := make([]archive.Manifest, 0, len(manifests))
	current := roots[0]
	for !seen[current.ContentHash] {
		seen[current.ContentHash] = true
		ordered = append(ordered, current)

		next, ok := pickNext(byPrev[current.ContentHash])
		if !ok {
			break
		}
		current = next
	}
	if len(ordered) == len(manifests) {
		return ordered, true
	}

	// Manifests the walk never reached. Dropping them would silently
	// truncate history, so append them deterministically instead.
	rest := make([]archive.Manifest, 0, len(manifests)-len(ordered))
	for _, m := range manifests {
		if !seen[m.ContentHash] {
			rest = append(rest, m)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Timestamp != rest[j].Timestamp {
			return rest[i].Timestamp < rest[j].Timestamp
		}
		return rest[i].ContentHash < rest[j].ContentHash
	})
	return append(ordered, rest...), false
}

func pickNext(candidates []archive.Manifest) (archive.Manifest, bool) {
	if len(candidates) == 0 {
		return archive.Manifest{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.ContentHash < best.ContentHash {
			best = c
		}
	}
	return best, true
}
