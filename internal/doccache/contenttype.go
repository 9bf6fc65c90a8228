package doccache

import (
	"mime"
	"strings"
)

// EnabledCacheTypes lists the media types whose bodies are stored as
// document cache content. Everything else is rejected as uncacheable.
var EnabledCacheTypes = []string{"text/html", "text/plain"}

// ParseContentType splits a raw Content-Type header value into its
// media type and charset. The charset is empty when the header does
// not declare one. A value that does not match the
// type/subtype[;charset=...] grammar returns a *ContentTypeError.
func ParseContentType(raw string) (mediaType, charset string, err error) {
	mediaType, params, perr := mime.ParseMediaType(raw)
	if perr != nil || !strings.Contains(mediaType, "/") {
		return "", "", &ContentTypeError{ContentType: raw}
	}
	return mediaType, params["charset"], nil
}

// CacheableType reports whether the media type is in the enabled set.
func CacheableType(mediaType string) bool {
	for _, t := range EnabledCacheTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}
