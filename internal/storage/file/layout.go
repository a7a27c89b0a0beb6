package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// Layout maps jobs onto the on-disk staging area. Local disk is only a
// staging area; the object network is the system of record.
type Layout struct {
	dataDir string
}

// NewLayout validates the data directory and returns a Layout.
func NewLayout(dataDir string) (*Layout, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	return &Layout{dataDir: abs}, nil
}

// Base returns the absolute data directory. Content served over HTTP must
// resolve inside it.
func (l *Layout) Base() string {
	return l.dataDir
}

// WorkDir returns the per-job working directory for capture artifacts.
func (l *Layout) WorkDir(jobID string) string {
	return filepath.Join(l.dataDir, "work", jobID)
}

// WARCPath returns the working-directory location of the WARC capture.
func (l *Layout) WARCPath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), filepath.FromSlash(archive.BundleWARCPath))
}

// HTMLPath returns the working-directory location of the HTML snapshot.
func (l *Layout) HTMLPath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), filepath.FromSlash(archive.BundleHTMLPath))
}

// PNGPath returns the working-directory location of the page screenshot.
func (l *Layout) PNGPath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), filepath.FromSlash(archive.BundlePNGPath))
}

// JobJSONPath returns the working-directory location of the job record copy.
func (l *Layout) JobJSONPath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), filepath.FromSlash(archive.BundleJobPath))
}

// LogPath returns the working-directory location of the crawl log.
func (l *Layout) LogPath(jobID string) string {
	return filepath.Join(l.WorkDir(jobID), filepath.FromSlash(archive.BundleLogPath))
}

// CacheDir returns the extraction directory for a downloaded bundle, keyed
// by (job id, url key, content hash). The url key and hash have their
// algorithm tags stripped so the path stays flat.
func (l *Layout) CacheDir(jobID, urlKey, contentHash string) string {
	key := afterColon(urlKey)
	hash := afterColon(contentHash)
	return filepath.Join(l.dataDir, "cache", jobID, key, hash)
}

func afterColon(tagged string) string {
	if _, rest, ok := strings.Cut(tagged, ":"); ok {
		return rest
	}
	return tagged
}
