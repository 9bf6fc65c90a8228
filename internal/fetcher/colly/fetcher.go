// Package collyfetcher implements doccache.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/docstash/docstash/internal/doccache"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs single-URL GETs over a shared pooled transport and
// returns the decoded text content. Responses outside the enabled
// media types fail with *doccache.ContentTypeError.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&rawBodyTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)
	// The same document can be fetched again on a later pass, either
	// after a transient failure or once its cache has gone stale.
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// newHTTPTransport builds a transport with connection pooling sized
// for the pipeline's fan-out.
func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// maxBodyBytes caps how much of a response body is captured.
const maxBodyBytes = 10 * 1024 * 1024

type rawBodyKey struct{}

// rawBody receives the undecoded response bytes for one fetch.
type rawBody struct {
	data []byte
}

// rawBodyTransport records the raw response body before the collector
// applies its own character-encoding conversion, so the declared
// charset can be decoded explicitly. The capture slot travels in the
// request context; requests without one pass through untouched.
type rawBodyTransport struct {
	base http.RoundTripper
}

func (t *rawBodyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	slot, ok := req.Context().Value(rawBodyKey{}).(*rawBody)
	if !ok {
		return resp, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	slot.data = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// Fetch executes a single HTTP GET and returns the body decoded per
// the declared charset, defaulting to UTF-8.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var (
		contentType string
		fetchErr    error
	)
	slot := &rawBody{}

	collector := f.baseCollector.Clone()
	collector.Context = context.WithValue(ctx, rawBodyKey{}, slot)
	collector.OnResponse(func(resp *colly.Response) {
		contentType = resp.Headers.Get("Content-Type")
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.visit(ctx, collector, url); err != nil {
		return "", err
	}
	if fetchErr != nil {
		return "", fmt.Errorf("get %s: %w", url, fetchErr)
	}
	return decodeBody(contentType, slot.data)
}

// visit runs the collector, honoring context cancellation.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

// decodeBody validates the media type against the enabled set and
// decodes the raw bytes using the declared charset.
func decodeBody(rawContentType string, body []byte) (string, error) {
	mediaType, charset, err := doccache.ParseContentType(rawContentType)
	if err != nil {
		return "", err
	}
	if !doccache.CacheableType(mediaType) {
		return "", &doccache.ContentTypeError{ContentType: mediaType}
	}
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		// An undecodable declared charset is as terminal as a
		// disallowed media type.
		return "", &doccache.ContentTypeError{ContentType: rawContentType}
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", &doccache.ContentTypeError{ContentType: rawContentType}
	}
	return string(decoded), nil
}
