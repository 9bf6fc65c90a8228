// Package doccache implements the asynchronous document-caching
// pipeline: selecting bookmarks due for caching, fetching their web
// content concurrently, and committing results back to the document
// store with tag-based state transitions.
package doccache
