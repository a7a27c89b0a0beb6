package renderer

import (
	"context"
	"sync"

	"github.com/bigwebarchive/archiver/internal/archive"
)

// Stub is an archive.Renderer returning canned captures, used in tests and
// when running without a browser.
type Stub struct {
	HTMLContent string
	PNGContent  []byte
	WARCContent []byte

	NavigateErr   error
	HTMLErr       error
	ScreenshotErr error
	WARCErr       error

	mu       sync.Mutex
	sessions []*StubSession
}

// NewSession returns a stub session.
func (s *Stub) NewSession(_ context.Context) (archive.Session, error) {
	sess := &StubSession{stub: s}
	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.mu.Unlock()
	return sess, nil
}

// Sessions returns every session handed out so far.
func (s *Stub) Sessions() []*StubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*StubSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// StubSession records calls for assertions.
type StubSession struct {
	stub *Stub

	mu        sync.Mutex
	Navigated string
	Closed    bool
}

// Navigate records the URL and returns the injected error, if any.
func (s *StubSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	s.Navigated = url
	s.mu.Unlock()
	return s.stub.NavigateErr
}

// HTML returns the canned document.
func (s *StubSession) HTML(_ context.Context) (string, error) {
	if s.stub.HTMLErr != nil {
		return "", s.stub.HTMLErr
	}
	return s.stub.HTMLContent, nil
}

// Screenshot returns the canned image.
func (s *StubSession) Screenshot(_ context.Context) ([]byte, error) {
	if s.stub.ScreenshotErr != nil {
		return nil, s.stub.ScreenshotErr
	}
	return s.stub.PNGContent, nil
}

// WARC returns the canned capture stream.
func (s *StubSession) WARC(_ context.Context) ([]byte, error) {
	if s.stub.WARCErr != nil {
		return nil, s.stub.WARCErr
	}
	return s.stub.WARCContent, nil
}

// Close marks the session released.
func (s *StubSession) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// WasClosed reports whether Close ran.
func (s *StubSession) WasClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}
