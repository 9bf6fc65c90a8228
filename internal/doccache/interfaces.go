package doccache

import (
	"context"
	"io"
	"time"
)

// DocumentStore is the pipeline's contract with the bookmark store.
// Implementations must report a zero-modified-row conditional update
// as an error wrapping ErrNoDocumentModified.
type DocumentStore interface {
	// SelectCandidates returns at most limit (id, url) references for
	// documents carrying the cache request tag, not carrying the
	// cached tag, and whose cache timestamp is absent or older than
	// the store's staleness window. An empty batch is not an error.
	SelectCandidates(ctx context.Context, limit int) ([]CandidateDoc, error)

	// SaveContent atomically sets the cache content and timestamp and
	// appends the cached tag on the one matching document.
	SaveContent(ctx context.Context, docID string, content string, fetchedAt time.Time) error

	// MarkUnableToCache appends the unable_to_cache tag on the one
	// matching document.
	MarkUnableToCache(ctx context.Context, docID string) error

	// RemoveCacheTag pulls the one-shot cache request tag from the one
	// matching document.
	RemoveCacheTag(ctx context.Context, docID string) error
}

// Fetcher retrieves the decoded text content of a URL. A response
// whose media type is outside the enabled set fails with a
// *ContentTypeError; network failures surface as-is.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes outcome events to its configured destination. The
// topic is bound at construction.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass IDs.
type IDGenerator interface {
	NewID() (string, error)
}
