package doccache_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docstash/docstash/internal/clock/system"
	"github.com/docstash/docstash/internal/doccache"
	collyfetcher "github.com/docstash/docstash/internal/fetcher/colly"
	"github.com/docstash/docstash/internal/id/uuid"
	pubmemory "github.com/docstash/docstash/internal/publisher/memory"
	"github.com/docstash/docstash/internal/storage/memory"
)

// fakeFetcher serves canned content or errors per URL.
type fakeFetcher struct {
	mu        sync.Mutex
	content   map[string]string
	errs      map[string]error
	active    atomic.Int32
	maxActive atomic.Int32
	delay     time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxActive.Load()
		if cur <= prev || f.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.content[url], nil
}

func newRunner(t *testing.T, store doccache.DocumentStore, fetcher doccache.Fetcher, opts ...func(*runnerDeps)) (*doccache.Runner, *runnerDeps) {
	t.Helper()

	deps := &runnerDeps{
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		cfg: doccache.Config{
			BatchSize:     10,
			MaxConcurrent: 4,
			ArchivePrefix: "docs",
		},
	}
	for _, opt := range opts {
		opt(deps)
	}
	runner := doccache.NewRunner(
		store,
		fetcher,
		deps.blobs,
		deps.publisher,
		system.New(),
		uuid.NewGenerator(),
		deps.cfg,
		zap.NewNop(),
	)
	return runner, deps
}

type runnerDeps struct {
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	cfg       doccache.Config
}

func insertRequested(t *testing.T, store *memory.DocumentStore, theme, url string) string {
	t.Helper()
	id, err := store.Insert(doccache.DocumentMeta{
		Theme:    theme,
		Category: doccache.CategoryShortTerm,
		URL:      url,
		Tags:     []string{doccache.TagCache},
	})
	require.NoError(t, err)
	return id
}

func TestRunPassCachesDocument(t *testing.T) {
	t.Parallel()

	store := memory.NewDocumentStore(time.Hour)
	id := insertRequested(t, store, "x", "http://ok.test")

	fetcher := &fakeFetcher{content: map[string]string{"http://ok.test": "hello"}}
	runner, deps := newRunner(t, store, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Selected)
	require.Equal(t, 1, summary.Cached)
	require.NotEmpty(t, summary.PassID)

	doc, ok := store.Document(id)
	require.True(t, ok)
	require.Equal(t, []string{doccache.TagCached}, doc.Tags)
	require.NotNil(t, doc.Cache)
	require.Equal(t, "hello", doc.Cache.Content)
	require.WithinDuration(t, time.Now().UTC(), doc.Cache.UpdateAt, 3*time.Second)

	archived, ok := deps.blobs.Object("docs/" + id + ".txt")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), archived)

	msgs := deps.publisher.Messages()
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, string(doccache.OutcomeCached), payload["outcome"])
	require.Equal(t, id, payload["doc_id"])
}

func TestRunPassMarksUnableToCache(t *testing.T) {
	t.Parallel()

	store := memory.NewDocumentStore(time.Hour)
	id := insertRequested(t, store, "pdf doc", "http://pdf.test")

	fetcher := &fakeFetcher{errs: map[string]error{
		"http://pdf.test": &doccache.ContentTypeError{ContentType: "application/pdf"},
	}}
	runner, _ := newRunner(t, store, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Rejected)

	doc, ok := store.Document(id)
	require.True(t, ok)
	require.Equal(t, []string{doccache.TagUnableToCache}, doc.Tags)
	require.Nil(t, doc.Cache)
}

func TestRunPassRejectsReRequestedDocumentAgain(t *testing.T) {
	t.Parallel()

	// The document was rejected on an earlier pass and the user
	// re-applied the cache tag. The second rejection must complete the
	// tag transition instead of failing, or the document would be
	// re-selected and fail identically every pass.
	store := memory.NewDocumentStore(time.Hour)
	id, err := store.Insert(doccache.DocumentMeta{
		Theme:    "re-requested pdf",
		Category: doccache.CategoryShortTerm,
		URL:      "http://pdf.test",
		Tags:     []string{doccache.TagCache, doccache.TagUnableToCache},
	})
	require.NoError(t, err)

	fetcher := &fakeFetcher{errs: map[string]error{
		"http://pdf.test": &doccache.ContentTypeError{ContentType: "application/pdf"},
	}}
	runner, _ := newRunner(t, store, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Rejected)
	require.Zero(t, summary.Fatal)

	doc, ok := store.Document(id)
	require.True(t, ok)
	require.Equal(t, []string{doccache.TagUnableToCache}, doc.Tags)

	// Nothing left to select: the request tag is gone.
	docs, err := store.SelectCandidates(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestRunPassIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewDocumentStore(time.Hour)
	okID1 := insertRequested(t, store, "ok one", "http://one.test")
	badID := insertRequested(t, store, "down", "http://down.test")
	okID2 := insertRequested(t, store, "ok two", "http://two.test")

	fetcher := &fakeFetcher{
		content: map[string]string{
			"http://one.test": "one",
			"http://two.test": "two",
		},
		errs: map[string]error{
			"http://down.test": errors.New("dial tcp: connection refused"),
		},
	}
	runner, _ := newRunner(t, store, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Selected)
	require.Equal(t, 2, summary.Cached)
	require.Equal(t, 1, summary.Transient)

	for _, id := range []string{okID1, okID2} {
		doc, _ := store.Document(id)
		require.Equal(t, []string{doccache.TagCached}, doc.Tags, "doc %s", id)
		require.NotNil(t, doc.Cache)
	}

	// The failing document keeps its request tag and gains nothing.
	doc, _ := store.Document(badID)
	require.Equal(t, []string{doccache.TagCache}, doc.Tags)
	require.Nil(t, doc.Cache)
}

func TestRunPassEmptyBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewDocumentStore(time.Hour)
	runner, deps := newRunner(t, store, &fakeFetcher{})

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Selected)
	require.Empty(t, deps.publisher.Messages())
}

// vanishingStore simulates a document deleted between selection and commit.
type vanishingStore struct {
	*memory.DocumentStore
}

func (s *vanishingStore) SaveContent(context.Context, string, string, time.Time) error {
	return doccache.ErrNoDocumentModified
}

func TestRunPassFatalOnZeroRowCommit(t *testing.T) {
	t.Parallel()

	base := memory.NewDocumentStore(time.Hour)
	insertRequested(t, base, "vanishing", "http://gone.test")

	fetcher := &fakeFetcher{content: map[string]string{"http://gone.test": "content"}}
	runner, _ := newRunner(t, &vanishingStore{base}, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Fatal)
	require.Zero(t, summary.Cached)
}

func TestRunPassBoundsConcurrency(t *testing.T) {
	t.Parallel()

	store := memory.NewDocumentStore(time.Hour)
	content := make(map[string]string)
	for _, theme := range []string{"c1", "c2", "c3", "c4", "c5", "c6"} {
		url := "http://" + theme + ".test"
		insertRequested(t, store, theme, url)
		content[url] = theme
	}

	fetcher := &fakeFetcher{content: content, delay: 20 * time.Millisecond}
	runner, _ := newRunner(t, store, fetcher, func(d *runnerDeps) {
		d.cfg.MaxConcurrent = 2
	})

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, summary.Cached)
	require.LessOrEqual(t, fetcher.maxActive.Load(), int32(2))
}

func TestRunPassEndToEndOverHTTP(t *testing.T) {
	t.Parallel()

	htmlSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(htmlSrv.Close)

	pdfSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	t.Cleanup(pdfSrv.Close)

	store := memory.NewDocumentStore(time.Hour)
	htmlID := insertRequested(t, store, "x", htmlSrv.URL)
	pdfID := insertRequested(t, store, "pdf", pdfSrv.URL)

	fetcher := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	runner, _ := newRunner(t, store, fetcher)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Selected)
	require.Equal(t, 1, summary.Cached)
	require.Equal(t, 1, summary.Rejected)

	htmlDoc, _ := store.Document(htmlID)
	require.Equal(t, []string{doccache.TagCached}, htmlDoc.Tags)
	require.Equal(t, "hello", htmlDoc.Cache.Content)
	require.WithinDuration(t, time.Now().UTC(), htmlDoc.Cache.UpdateAt, 3*time.Second)

	pdfDoc, _ := store.Document(pdfID)
	require.Equal(t, []string{doccache.TagUnableToCache}, pdfDoc.Tags)
	require.Nil(t, pdfDoc.Cache)
}
