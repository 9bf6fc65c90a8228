// Package memory provides in-memory implementations for development
// and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docstash/docstash/internal/doccache"
	"github.com/docstash/docstash/internal/id/uuid"
)

// DocumentStore implements doccache.DocumentStore over a map.
type DocumentStore struct {
	mu        sync.RWMutex
	docs      map[string]*doccache.DocumentMeta
	staleness time.Duration
	idGen     *uuid.Generator
}

// NewDocumentStore constructs a DocumentStore with the given
// staleness window.
func NewDocumentStore(staleness time.Duration) *DocumentStore {
	if staleness <= 0 {
		staleness = time.Hour
	}
	return &DocumentStore{
		docs:      make(map[string]*doccache.DocumentMeta),
		staleness: staleness,
		idGen:     uuid.NewGenerator(),
	}
}

// Insert stores a document, assigning an ID when absent, and returns
// the ID. Used by fixtures and the development provider.
func (s *DocumentStore) Insert(doc doccache.DocumentMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return "", fmt.Errorf("assign document id: %w", err)
		}
		doc.ID = id
	}
	for _, existing := range s.docs {
		if existing.Theme == doc.Theme {
			return "", fmt.Errorf("theme %q already exists", doc.Theme)
		}
	}
	doc.UpdateAt = time.Now().UTC()
	s.docs[doc.ID] = &doc
	return doc.ID, nil
}

// Document returns a copy of the stored document.
func (s *DocumentStore) Document(id string) (doccache.DocumentMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return doccache.DocumentMeta{}, false
	}
	out := *doc
	out.Tags = append([]string(nil), doc.Tags...)
	if doc.Cache != nil {
		cache := *doc.Cache
		out.Cache = &cache
	}
	return out, true
}

// SelectCandidates applies the candidacy filter: cache tag present,
// cached tag absent, cache timestamp missing or stale.
func (s *DocumentStore) SelectCandidates(_ context.Context, limit int) ([]doccache.CandidateDoc, error) {
	if limit <= 0 {
		limit = doccache.DefaultBatchSize
	}
	cutoff := time.Now().UTC().Add(-s.staleness)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []doccache.CandidateDoc
	for _, doc := range s.docs {
		if len(out) >= limit {
			break
		}
		if !doc.HasTag(doccache.TagCache) || doc.HasTag(doccache.TagCached) {
			continue
		}
		if doc.Cache != nil && !doc.Cache.UpdateAt.Before(cutoff) {
			continue
		}
		out = append(out, doccache.CandidateDoc{ID: doc.ID, URL: doc.URL})
	}
	return out, nil
}

// SaveContent commits fetched content and appends the cached tag.
func (s *DocumentStore) SaveContent(_ context.Context, docID string, content string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok || doc.HasTag(doccache.TagCached) {
		return fmt.Errorf("save content %s: %w", docID, doccache.ErrNoDocumentModified)
	}
	doc.Cache = &doccache.Cache{Content: content, UpdateAt: fetchedAt}
	doc.Tags = append(doc.Tags, doccache.TagCached)
	doc.UpdateAt = time.Now().UTC()
	return nil
}

// MarkUnableToCache appends the unable_to_cache tag. Idempotent: a
// document already carrying the tag (rejected on an earlier pass and
// re-tagged for caching) is left as-is so the pipeline still reaches
// the request-tag retraction.
func (s *DocumentStore) MarkUnableToCache(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok {
		return fmt.Errorf("mark unable to cache %s: %w", docID, doccache.ErrNoDocumentModified)
	}
	if !doc.HasTag(doccache.TagUnableToCache) {
		doc.Tags = append(doc.Tags, doccache.TagUnableToCache)
	}
	doc.UpdateAt = time.Now().UTC()
	return nil
}

// RemoveCacheTag pulls the one-shot cache request tag.
func (s *DocumentStore) RemoveCacheTag(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docID]
	if !ok || !doc.HasTag(doccache.TagCache) {
		return fmt.Errorf("remove cache tag %s: %w", docID, doccache.ErrNoDocumentModified)
	}
	tags := doc.Tags[:0]
	for _, tag := range doc.Tags {
		if tag != doccache.TagCache {
			tags = append(tags, tag)
		}
	}
	doc.Tags = tags
	doc.UpdateAt = time.Now().UTC()
	return nil
}
