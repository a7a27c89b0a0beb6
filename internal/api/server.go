// Package api exposes the HTTP interface for the archiver service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/canonical"
	"github.com/bigwebarchive/archiver/internal/pipeline"
	"github.com/bigwebarchive/archiver/internal/storage/file"
)

// Server wires HTTP handlers to the job store and capture runner.
type Server struct {
	router chi.Router
	jobs   archive.JobStore
	runner *pipeline.Runner
	layout *file.Layout
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs archive.JobStore, runner *pipeline.Runner, layout *file.Layout, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:   jobs,
		runner: runner,
		layout: layout,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/job", s.handleJob)
	r.Get("/archive-content", s.archiveContent)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobRequest struct {
	Op     string `json:"op"`
	URL    string `json:"url"`
	ID     string `json:"id"`
	Depth  int    `json:"depth"`
	Assets bool   `json:"assets"`
}

// handleJob dispatches the single job endpoint by operation name.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch req.Op {
	case "new":
		s.newJob(w, r, req)
	case "get":
		s.getArchive(w, r, req)
	case "jobs":
		s.listJobs(w, r)
	case "job":
		s.getJob(w, r, req)
	default:
		writeError(s.logger, w, http.StatusBadRequest, "unknown op")
	}
}

// newJob creates a job record and launches the capture pipeline. The stored
// url stays the raw input; only the identity key uses the canonical form.
func (s *Server) newJob(w http.ResponseWriter, r *http.Request, req jobRequest) {
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url is required")
		return
	}
	canonicalURL, err := canonical.Canonicalize(req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}

	job, err := s.jobs.Create(r.Context(), archive.Job{
		URL:    req.URL,
		URLKey: canonical.DeriveKey(canonicalURL),
		Domain: domainOf(canonicalURL),
		Depth:  req.Depth,
		Assets: req.Assets,
	})
	if err != nil {
		s.writeFailure(w, "create job", err)
		return
	}
	s.runner.Submit(job.ID)
	writeJSON(s.logger, w, http.StatusAccepted, job)
}

// getArchive serves the latest archived version for a URL. A completed local
// job with extracted content answers immediately; otherwise a tracking job
// is created and the download runs in the background.
func (s *Server) getArchive(w http.ResponseWriter, r *http.Request, req jobRequest) {
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url is required")
		return
	}
	canonicalURL, err := canonical.Canonicalize(req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}
	urlKey := canonical.DeriveKey(canonicalURL)

	if job, ok := s.localArchive(r, urlKey); ok {
		writeJSON(s.logger, w, http.StatusOK, job)
		return
	}

	status := archive.JobStatusFetching
	job, err := s.jobs.Create(r.Context(), archive.Job{
		URL:    req.URL,
		URLKey: urlKey,
		Domain: domainOf(canonicalURL),
		Status: status,
	})
	if err != nil {
		s.writeFailure(w, "create tracking job", err)
		return
	}
	s.runner.SubmitRetrieval(job.ID)
	writeJSON(s.logger, w, http.StatusAccepted, job)
}

// localArchive returns the newest completed job with extracted content for
// the key, if any.
func (s *Server) localArchive(r *http.Request, urlKey string) (archive.Job, bool) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.logger.Warn("list jobs for local lookup", zap.Error(err))
		return archive.Job{}, false
	}
	matches := jobs[:0]
	for _, job := range jobs {
		if job.URLKey == urlKey && job.Status == archive.JobStatusComplete && job.ExtractPath != "" {
			matches = append(matches, job)
		}
	}
	if len(matches) == 0 {
		return archive.Job{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Updated.After(matches[j].Updated)
	})
	return matches[0], true
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.writeFailure(w, "list jobs", err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request, req jobRequest) {
	if req.ID == "" {
		writeError(s.logger, w, http.StatusBadRequest, "id is required")
		return
	}
	job, err := s.jobs.Get(r.Context(), req.ID)
	if err != nil {
		s.writeFailure(w, "get job", err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, job)
}

// archiveContent serves a UTF-8 text file from inside the data directory.
// Any resolved path escaping the base, missing, or not a regular file is
// rejected.
func (s *Server) archiveContent(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		writeError(s.logger, w, http.StatusBadRequest, "path is required")
		return
	}

	full, err := s.resolveContentPath(rel)
	if err != nil {
		s.writeFailure(w, "resolve content path", err)
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeFailure(w, "stat content path", archive.ErrNotFound)
			return
		}
		s.writeFailure(w, "stat content path", err)
		return
	}
	if !info.Mode().IsRegular() {
		s.writeFailure(w, "stat content path", archive.ErrInvalidPath)
		return
	}

	data, err := os.ReadFile(full)
	if err != nil {
		s.writeFailure(w, "read content", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write content response", zap.Error(err))
	}
}

// resolveContentPath joins the relative request path onto the data base
// directory and rejects anything that resolves outside it.
func (s *Server) resolveContentPath(rel string) (string, error) {
	base := s.layout.Base()
	full, err := filepath.Abs(filepath.Join(base, filepath.FromSlash(rel)))
	if err != nil {
		return "", archive.ErrInvalidPath
	}
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", archive.ErrInvalidPath
	}
	return full, nil
}

// writeFailure maps error kinds onto HTTP statuses: 404 for not-found, 403
// for path violations, 500 otherwise.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeError(s.logger, w, http.StatusNotFound, "not found")
	case errors.Is(err, archive.ErrInvalidPath):
		writeError(s.logger, w, http.StatusForbidden, "forbidden path")
	default:
		s.logger.Error(op, zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "internal error")
	}
}

func domainOf(canonicalURL string) string {
	rest, ok := strings.CutPrefix(canonicalURL, "http://")
	if !ok {
		rest, _ = strings.CutPrefix(canonicalURL, "https://")
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, ":")
	return host
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
