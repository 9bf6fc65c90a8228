package doccache

import (
	"errors"
	"fmt"
)

// ErrNoDocumentModified signals that a store update which must modify
// exactly one document modified zero. The usual cause is a document
// deleted or re-tagged between selection and commit.
var ErrNoDocumentModified = errors.New("no document modified")

// ContentTypeError reports a response whose media type cannot be
// cached, or a Content-Type header that does not parse.
type ContentTypeError struct {
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("content type %q is not cacheable", e.ContentType)
}

// CacheError wraps a failure inside one document's pipeline, carrying
// the document for correlation in logs and events.
type CacheError struct {
	Doc CandidateDoc
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache document %s (%s): %v", e.Doc.ID, e.Doc.URL, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}
