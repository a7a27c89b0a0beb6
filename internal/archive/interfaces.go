package archive

import (
	"context"
	"time"
)

// JobStore persists job records. Create and Update must be atomic with
// respect to process crash; concurrent updates to the same id are
// last-write-wins.
type JobStore interface {
	Create(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, id string, patch JobPatch) (Job, error)
	List(ctx context.Context) ([]Job, error)
	Remove(ctx context.Context, id string) (bool, error)
}

// ObjectNetwork is the external content-addressed blob store, addressed by
// {service, name, identifier}. Listings are unordered and eventually
// consistent; there is no server-side filter by object content.
type ObjectNetwork interface {
	List(ctx context.Context, service, name string) ([]string, error)
	Get(ctx context.Context, service, name, identifier string) ([]byte, error)
	Put(ctx context.Context, service, name, identifier string, data []byte) error
}

// Session is one navigated browser page. Capture calls may independently
// fail; Close must be called on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	WARC(ctx context.Context) ([]byte, error)
	Close() error
}

// Renderer produces capture sessions backed by a headless browser.
type Renderer interface {
	NewSession(ctx context.Context) (Session, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// HistoryStore mirrors published manifests for operator queries. Optional;
// implementations may be absent when no database is configured.
type HistoryStore interface {
	RecordManifest(ctx context.Context, jobID string, m Manifest) error
	Close()
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
	HashFile(path string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
