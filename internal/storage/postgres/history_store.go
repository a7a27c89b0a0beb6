// Package postgres mirrors published manifests into Postgres for operator
// queries. The object network stays the system of record; this mirror is
// best effort and optional.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigwebarchive/archiver/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// HistoryStoreConfig controls the Postgres connection pool.
type HistoryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// HistoryStore writes manifest rows into Postgres.
type HistoryStore struct {
	pool  execCloser
	table string
}

// NewHistoryStore creates a Postgres-backed HistoryStore using the provided
// config.
func NewHistoryStore(ctx context.Context, cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "manifests"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewHistoryStoreWithPool(pool execCloser, table string) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "manifests"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &HistoryStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordManifest inserts one published manifest. Re-publishing the same
// content hash is a no-op.
func (s *HistoryStore) RecordManifest(ctx context.Context, jobID string, m archive.Manifest) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("history store is not configured")
	}
	if m.ContentHash == "" {
		return fmt.Errorf("manifest content hash is required")
	}
	artifactsJSON, err := json.Marshal(m.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	content_hash,
	url_key,
	target_url,
	domain,
	crawl_depth,
	captured_at,
	previous_hash,
	job_id,
	warc_path,
	artifacts
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (content_hash) DO NOTHING;`, s.table)

	_, err = s.pool.Exec(ctx, query,
		m.ContentHash,
		m.URLKey,
		m.TargetURL,
		m.Domain,
		m.CrawlDepth,
		m.Timestamp,
		nullable(m.PreviousHash),
		jobID,
		m.WARC,
		artifactsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert manifest row: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
