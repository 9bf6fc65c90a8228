package doccache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docstash/docstash/internal/metrics"
)

// Config controls Runner behavior.
type Config struct {
	// BatchSize caps how many candidates one pass selects.
	BatchSize int
	// MaxConcurrent bounds the per-document fan-out. Zero or negative
	// means one pipeline at a time.
	MaxConcurrent int
	// ArchivePrefix is the blob path prefix for archived content.
	ArchivePrefix string
}

// Runner executes caching passes: one batch selection followed by a
// bounded concurrent fan-out of per-document pipelines.
type Runner struct {
	store     DocumentStore
	fetcher   Fetcher
	blobs     BlobStore
	publisher Publisher
	clock     Clock
	idGen     IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewRunner constructs a Runner. The blob store and publisher are
// optional; a nil value disables archiving or event publishing.
func NewRunner(
	store DocumentStore,
	fetcher Fetcher,
	blobs BlobStore,
	publisher Publisher,
	clock Clock,
	idGen IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	metrics.Init()
	return &Runner{
		store:     store,
		fetcher:   fetcher,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// DefaultBatchSize is used when no batch size is configured.
const DefaultBatchSize = 10

// RunPass executes one full pass: select the due batch, cache every
// selected document concurrently, collect results in completion
// order, and log each outcome. A failure in one document's pipeline
// never cancels or blocks the others; only batch selection itself can
// fail the pass.
func (r *Runner) RunPass(ctx context.Context) (PassSummary, error) {
	passID, err := r.idGen.NewID()
	if err != nil {
		return PassSummary{}, fmt.Errorf("generate pass id: %w", err)
	}
	log := r.logger.With(zap.String("pass_id", passID))
	start := r.clock.Now()

	metrics.IncActivePasses()
	defer metrics.DecActivePasses()

	batch, err := r.store.SelectCandidates(ctx, r.cfg.BatchSize)
	if err != nil {
		return PassSummary{}, fmt.Errorf("select candidates: %w", err)
	}
	summary := PassSummary{PassID: passID, Selected: len(batch)}
	log.Info("Starting caching pass", zap.Int("selected", len(batch)))

	results := make(chan Result, len(batch))
	g := &errgroup.Group{}
	g.SetLimit(r.cfg.MaxConcurrent)
	for _, doc := range batch {
		g.Go(func() error {
			results <- r.cacheDocument(ctx, doc)
			return nil
		})
	}
	go func() {
		// Safe: g.Wait always returns nil, workers only report
		// through the channel.
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		r.recordResult(ctx, log, passID, res, &summary)
	}

	summary.Duration = r.clock.Now().Sub(start)
	metrics.ObservePass(summary.Duration)
	log.Info("Caching pass finished",
		zap.Int("selected", summary.Selected),
		zap.Int("cached", summary.Cached),
		zap.Int("rejected", summary.Rejected),
		zap.Int("transient", summary.Transient),
		zap.Int("fatal", summary.Fatal),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// cacheDocument runs the pipeline for one document through to a
// terminal outcome. Steps are strictly sequential: fetch, then
// commit, then request-tag retraction.
func (r *Runner) cacheDocument(ctx context.Context, doc CandidateDoc) Result {
	fetchStart := r.clock.Now()
	content, err := r.fetcher.Fetch(ctx, doc.URL)
	metrics.ObserveFetch(r.clock.Now().Sub(fetchStart))

	var ctErr *ContentTypeError
	switch {
	case errors.As(err, &ctErr):
		return r.rejectDocument(ctx, doc, ctErr)
	case err != nil:
		return Result{
			Doc:     doc,
			Outcome: OutcomeTransient,
			Err:     &CacheError{Doc: doc, Err: err},
		}
	}

	r.archiveContent(ctx, doc, content)

	if err := r.store.SaveContent(ctx, doc.ID, content, r.clock.Now()); err != nil {
		return Result{
			Doc:     doc,
			Outcome: OutcomeFatal,
			Err:     &CacheError{Doc: doc, Err: fmt.Errorf("save content: %w", err)},
		}
	}
	if err := r.store.RemoveCacheTag(ctx, doc.ID); err != nil {
		return Result{
			Doc:     doc,
			Outcome: OutcomeFatal,
			Err:     &CacheError{Doc: doc, Err: fmt.Errorf("retract request tag: %w", err)},
		}
	}
	return Result{Doc: doc, Outcome: OutcomeCached, Bytes: len(content)}
}

// rejectDocument records a non-cacheable content type: the document
// gets the unable_to_cache tag and loses its one-shot request tag.
// A store failure during the tagging supersedes the content-type
// rejection and becomes a fatal outcome.
func (r *Runner) rejectDocument(ctx context.Context, doc CandidateDoc, ctErr *ContentTypeError) Result {
	if err := r.store.MarkUnableToCache(ctx, doc.ID); err != nil {
		return Result{
			Doc:     doc,
			Outcome: OutcomeFatal,
			Err:     &CacheError{Doc: doc, Err: fmt.Errorf("mark unable to cache: %w", err)},
		}
	}
	if err := r.store.RemoveCacheTag(ctx, doc.ID); err != nil {
		return Result{
			Doc:     doc,
			Outcome: OutcomeFatal,
			Err:     &CacheError{Doc: doc, Err: fmt.Errorf("retract request tag: %w", err)},
		}
	}
	return Result{Doc: doc, Outcome: OutcomeRejected, Err: ctErr}
}

// archiveContent writes the fetched text to the blob store when one
// is configured. Archiving is best-effort and never changes the
// document's outcome.
func (r *Runner) archiveContent(ctx context.Context, doc CandidateDoc, content string) {
	if r.blobs == nil {
		return
	}
	path := r.blobPath(doc.ID)
	uri, err := r.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", strings.NewReader(content))
	if err != nil {
		r.logger.Warn("Content archive failed",
			zap.String("doc_id", doc.ID),
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Content archived", zap.String("doc_id", doc.ID), zap.String("uri", uri))
}

func (r *Runner) blobPath(docID string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s.txt", docID)
	}
	return fmt.Sprintf("%s/%s.txt", prefix, docID)
}

func (r *Runner) recordResult(
	ctx context.Context,
	log *zap.Logger,
	passID string,
	res Result,
	summary *PassSummary,
) {
	switch res.Outcome {
	case OutcomeCached:
		summary.Cached++
		log.Info("Document cached",
			zap.String("doc_id", res.Doc.ID),
			zap.String("url", res.Doc.URL),
			zap.Int("bytes", res.Bytes),
		)
	case OutcomeRejected:
		summary.Rejected++
		log.Warn("Document not cacheable",
			zap.String("doc_id", res.Doc.ID),
			zap.String("url", res.Doc.URL),
			zap.Error(res.Err),
		)
	case OutcomeTransient:
		summary.Transient++
		log.Warn("Document fetch failed, left for next pass",
			zap.String("doc_id", res.Doc.ID),
			zap.String("url", res.Doc.URL),
			zap.Error(res.Err),
		)
	case OutcomeFatal:
		summary.Fatal++
		log.Error("Document pipeline failed",
			zap.String("doc_id", res.Doc.ID),
			zap.String("url", res.Doc.URL),
			zap.Error(res.Err),
		)
	}
	metrics.ObserveDocument(string(res.Outcome), res.Bytes)
	r.publishResult(ctx, log, passID, res)
}

func (r *Runner) publishResult(ctx context.Context, log *zap.Logger, passID string, res Result) {
	if r.publisher == nil {
		return
	}
	payload := map[string]any{
		"pass_id":   passID,
		"doc_id":    res.Doc.ID,
		"url":       res.Doc.URL,
		"outcome":   string(res.Outcome),
		"bytes":     res.Bytes,
		"timestamp": r.clock.Now().Format(time.RFC3339),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	if _, err := r.publisher.Publish(ctx, payload); err != nil {
		log.Warn("Outcome publish failed",
			zap.String("doc_id", res.Doc.ID),
			zap.Error(err),
		)
	}
}
