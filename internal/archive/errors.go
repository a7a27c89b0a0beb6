package archive

import "errors"

// Error taxonomy surfaced across component boundaries. Callers match with
// errors.Is; the HTTP layer maps these to status codes.
var (
	// ErrNotFound reports a job id or archive lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrArtifactMissing reports an expected capture file absent before
	// hashing or publish.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrRendererFailure reports a navigation or capture step failure.
	// It is propagated, not retried.
	ErrRendererFailure = errors.New("renderer failure")

	// ErrPublishFailed reports an object-network upload that was rejected
	// or unreachable.
	ErrPublishFailed = errors.New("publish failed")

	// ErrCorruptBundle reports an archive stream that could not be parsed.
	ErrCorruptBundle = errors.New("corrupt bundle")

	// ErrInvalidPath reports a traversal or non-file access attempt.
	ErrInvalidPath = errors.New("invalid path")
)
