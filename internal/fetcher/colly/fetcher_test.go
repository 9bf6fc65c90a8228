package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/docstash/docstash/internal/doccache"
)

func newTestFetcher() *Fetcher {
	return New(Config{
		UserAgent: "docstash-test",
		Timeout:   5 * time.Second,
	})
}

func serve(t *testing.T, contentType string, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchHTML(t *testing.T) {
	t.Parallel()

	srv := serve(t, "text/html; charset=utf-8", []byte("<html>hello</html>"))

	content, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", content)
}

func TestFetchPlainTextDefaultsToUTF8(t *testing.T) {
	t.Parallel()

	srv := serve(t, "text/plain", []byte("hello"))

	content, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "hello", content)
}

func TestFetchDecodesDeclaredCharset(t *testing.T) {
	t.Parallel()

	gbkBody, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("你好"))
	require.NoError(t, err)
	srv := serve(t, "text/plain; charset=gbk", gbkBody)

	content, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "你好", content)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := serve(t, "text/plain; charset=utf-8", []byte("hello"))
	f := newTestFetcher()

	// A long-lived Fetcher serves retries and staleness re-caches, so
	// repeat fetches of one URL must not be deduplicated.
	content, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "hello", content)

	content, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "hello", content)
}

func TestFetchRejectsDisallowedMediaType(t *testing.T) {
	t.Parallel()

	srv := serve(t, "application/pdf", []byte("%PDF-1.4"))

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	var ctErr *doccache.ContentTypeError
	require.ErrorAs(t, err, &ctErr)
	require.Equal(t, "application/pdf", ctErr.ContentType)
}

func TestFetchRejectsUnknownCharset(t *testing.T) {
	t.Parallel()

	srv := serve(t, "text/plain; charset=no-such-encoding", []byte("hello"))

	_, err := newTestFetcher().Fetch(context.Background(), srv.URL)
	var ctErr *doccache.ContentTypeError
	require.ErrorAs(t, err, &ctErr)
}

func TestFetchConnectionErrorIsNotContentTypeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher().Fetch(context.Background(), url)
	require.Error(t, err)
	var ctErr *doccache.ContentTypeError
	require.False(t, errors.As(err, &ctErr))
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher().Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
