// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docstash/docstash/internal/doccache"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DocumentStoreConfig controls the Postgres connection pool used for
// document rows.
type DocumentStoreConfig struct {
	DSN             string
	Table           string
	StalenessWindow time.Duration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// DocumentStore implements doccache.DocumentStore over Postgres.
// Tag pushes and pulls are conditional array updates so that
// RowsAffected carries the expected-one-row contract. Expected schema:
//
//	CREATE TABLE document_meta (
//		id UUID PRIMARY KEY,
//		theme TEXT UNIQUE NOT NULL,
//		category TEXT NOT NULL,
//		url TEXT NOT NULL,
//		priority INT NOT NULL DEFAULT 0,
//		tags TEXT[] NOT NULL DEFAULT '{}',
//		cache_content TEXT,
//		cache_update_at TIMESTAMPTZ,
//		update_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		create_by TEXT
//	);
type DocumentStore struct {
	pool      queryExecCloser
	table     string
	staleness time.Duration
}

// NewDocumentStore creates a Postgres-backed DocumentStore using the
// provided config.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return newStore(pool, cfg.Table, cfg.StalenessWindow)
}

// NewDocumentStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewDocumentStoreWithPool(pool queryExecCloser, table string, staleness time.Duration) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newStore(pool, table, staleness)
}

func newStore(pool queryExecCloser, table string, staleness time.Duration) (*DocumentStore, error) {
	if table == "" {
		table = "document_meta"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if staleness <= 0 {
		staleness = time.Hour
	}
	return &DocumentStore{
		pool:      pool,
		table:     table,
		staleness: staleness,
	}, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SelectCandidates returns at most limit (id, url) pairs for documents
// due for caching: cache tag present, cached tag absent, and cache
// timestamp missing or older than the staleness window.
func (s *DocumentStore) SelectCandidates(ctx context.Context, limit int) ([]doccache.CandidateDoc, error) {
	if limit <= 0 {
		limit = doccache.DefaultBatchSize
	}
	cutoff := time.Now().UTC().Add(-s.staleness)
	query := fmt.Sprintf(`
SELECT id, url FROM %s
WHERE $1 = ANY(tags)
  AND NOT ($2 = ANY(tags))
  AND (cache_update_at IS NULL OR cache_update_at < $3)
LIMIT $4`, s.table)

	rows, err := s.pool.Query(ctx, query, doccache.TagCache, doccache.TagCached, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var docs []doccache.CandidateDoc
	for rows.Next() {
		var doc doccache.CandidateDoc
		if err := rows.Scan(&doc.ID, &doc.URL); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return docs, nil
}

// SaveContent sets the cache content and timestamp and appends the
// cached tag in one conditional update.
func (s *DocumentStore) SaveContent(ctx context.Context, docID string, content string, fetchedAt time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET cache_content = $2,
    cache_update_at = $3,
    update_at = $3,
    tags = array_append(tags, $4)
WHERE id = $1 AND NOT ($4 = ANY(tags))`, s.table)

	return s.execOne(ctx, "save content", query, docID, content, fetchedAt, doccache.TagCached)
}

// MarkUnableToCache appends the unable_to_cache tag. The append is
// idempotent: a document rejected on an earlier pass and re-tagged
// for caching by the user is rejected again, and the pipeline must
// still reach the request-tag retraction. Zero rows here means the
// document itself is gone.
func (s *DocumentStore) MarkUnableToCache(ctx context.Context, docID string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET update_at = $3,
    tags = CASE WHEN $2 = ANY(tags) THEN tags ELSE array_append(tags, $2) END
WHERE id = $1`, s.table)

	return s.execOne(ctx, "mark unable to cache", query, docID, doccache.TagUnableToCache, time.Now().UTC())
}

// RemoveCacheTag pulls the one-shot cache request tag.
func (s *DocumentStore) RemoveCacheTag(ctx context.Context, docID string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET update_at = $3,
    tags = array_remove(tags, $2)
WHERE id = $1 AND $2 = ANY(tags)`, s.table)

	return s.execOne(ctx, "remove cache tag", query, docID, doccache.TagCache, time.Now().UTC())
}

// execOne runs a conditional update expected to modify exactly one row.
func (s *DocumentStore) execOne(ctx context.Context, op string, query string, args ...any) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("document store is not configured")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%s %s: %w", op, args[0], doccache.ErrNoDocumentModified)
	}
	return nil
}
