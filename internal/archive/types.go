// Package archive defines core types shared across subsystems.
package archive

import "time"

// JobStatus represents the lifecycle state of an archive job.
type JobStatus string

// Job status values persisted in the job store. The warc/html/image/job
// values mark which capture stage the pipeline last completed.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFetching JobStatus = "fetching"
	JobStatusWARC     JobStatus = "warc"
	JobStatusHTML     JobStatus = "html"
	JobStatusImage    JobStatus = "image"
	JobStatusJob      JobStatus = "job"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job is the mutable record describing one capture/publish attempt.
// The job store exclusively owns the persisted representation; everything
// else holds a transient copy and routes mutations through Update.
type Job struct {
	ID      string    `json:"id"`
	Status  JobStatus `json:"status"`
	Fault   string    `json:"fault,omitempty"`
	Message string    `json:"message,omitempty"`

	// URL is the original input string, unmodified. URLKey is derived
	// from the canonical form and groups version history.
	URL    string `json:"url"`
	URLKey string `json:"url_key"`

	Domain string `json:"domain,omitempty"`
	Depth  int    `json:"depth"`
	Assets bool   `json:"assets"`

	// ContentHash and ExtractPath are filled by the retrieval flow.
	ContentHash string `json:"content_hash,omitempty"`
	ExtractPath string `json:"extract_path,omitempty"`

	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`

	// Extra carries unknown fields for forward compatibility.
	Extra map[string]any `json:"extra,omitempty"`
}

// JobPatch is a partial update merged over a stored job. Nil fields are
// left untouched; set fields overwrite.
type JobPatch struct {
	Status      *JobStatus
	Fault       *string
	Message     *string
	Domain      *string
	ContentHash *string
	ExtractPath *string
	Extra       map[string]any
}

// ManifestSchema tags the manifest wire format version.
const ManifestSchema = "big-web-archive/v1"

// Bundle-relative artifact locations.
const (
	BundleWARCPath = "warc/crawl.warc.gz"
	BundleHTMLPath = "metadata/snapshot.html"
	BundlePNGPath  = "metadata/snapshot.png"
	BundleJobPath  = "metadata/job.json"
	BundleLogPath  = "metadata/crawl.log"
)

// ArtifactPaths lists the bundle-relative locations of metadata artifacts.
type ArtifactPaths struct {
	Log  string `json:"log,omitempty"`
	HTML string `json:"html,omitempty"`
	PNG  string `json:"png,omitempty"`
}

// Manifest is the immutable, content-addressed description of one archived
// version of a URL. Manifests sharing a URLKey form a singly linked list
// through PreviousHash; the single manifest without a PreviousHash is the
// chain root (oldest version).
type Manifest struct {
	Schema       string        `json:"schema"`
	URLKey       string        `json:"url_key"`
	TargetURL    string        `json:"target_url"`
	Domain       string        `json:"domain"`
	CrawlDepth   int           `json:"crawl_depth"`
	Timestamp    string        `json:"timestamp"`
	ContentHash  string        `json:"content_hash"`
	PreviousHash string        `json:"previous_hash,omitempty"`
	WARC         string        `json:"warc"`
	Artifacts    ArtifactPaths `json:"artifacts"`
}

// PublishResult reports the outcome of one chain publish attempt.
type PublishResult struct {
	// Skipped is true when the content hash matched the chain head and
	// nothing was uploaded.
	Skipped     bool
	ContentHash string
	Manifest    Manifest
}
