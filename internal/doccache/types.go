package doccache

import "time"

// Category classifies a bookmark by the reader's intent.
type Category string

// Category values persisted in the document store.
const (
	CategoryShortTerm Category = "short_term"
	CategoryLongTerm  Category = "long_term"
	CategoryHighlight Category = "highlight"
	CategoryFlip      Category = "flip"
)

// User tags are applied by the owner of a document. TagCache is a
// one-shot request for the pipeline to cache the URL; it is removed
// after any terminal caching outcome.
const (
	TagImpressive = "impressive"
	TagReviewed   = "reviewed"
	TagToDo       = "to_do"
	TagCache      = "cache"
)

// System tags are applied by the pipeline to record outcomes.
const (
	TagCached        = "cached"
	TagUnableToCache = "unable_to_cache"
)

// Cache is the embedded result of a successful caching attempt.
type Cache struct {
	Content  string    `json:"content"`
	UpdateAt time.Time `json:"update_at"`
}

// DocumentMeta is one user-saved bookmark.
type DocumentMeta struct {
	ID       string   `json:"id"`
	Theme    string   `json:"theme"`
	Category Category `json:"category"`
	URL      string   `json:"url"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
	// Cache is nil until a caching attempt has succeeded.
	Cache    *Cache    `json:"cache,omitempty"`
	UpdateAt time.Time `json:"update_at"`
	CreateBy string    `json:"create_by"`
}

// HasTag reports whether the document currently carries the tag.
func (d DocumentMeta) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CandidateDoc is the lightweight projection returned by candidate
// selection. The pipeline never needs the full document.
type CandidateDoc struct {
	ID  string
	URL string
}

// Outcome is the terminal state of one document's caching attempt.
type Outcome string

const (
	// OutcomeCached: content fetched and committed, request tag retracted.
	OutcomeCached Outcome = "cached"
	// OutcomeRejected: the response media type is not cacheable; the
	// document was marked unable_to_cache and the request tag retracted.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTransient: a network-level failure; the document is left
	// untouched and stays a candidate for the next pass.
	OutcomeTransient Outcome = "transient"
	// OutcomeFatal: a store update that should have modified exactly
	// one row modified zero, or another unexpected failure.
	OutcomeFatal Outcome = "fatal"
)

// Result is the report for one document's pipeline run.
type Result struct {
	Doc     CandidateDoc
	Outcome Outcome
	// Bytes is the size of the cached content, set on OutcomeCached.
	Bytes int
	Err   error
}

// PassSummary aggregates one full pass over a selected batch.
type PassSummary struct {
	PassID    string        `json:"pass_id"`
	Selected  int           `json:"selected"`
	Cached    int           `json:"cached"`
	Rejected  int           `json:"rejected"`
	Transient int           `json:"transient"`
	Fatal     int           `json:"fatal"`
	Duration  time.Duration `json:"duration"`
}
