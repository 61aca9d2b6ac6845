// Package ingest runs the fetch, extract and write pipeline for a set of URLs.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"sitemap-ingestor/internal/backoff"
	"sitemap-ingestor/internal/metrics"
	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/internal/ratelimit"
	"sitemap-ingestor/internal/store"
	"sitemap-ingestor/internal/tokenizer"
	"sitemap-ingestor/pkg/logger"
)

// ErrExceedsBudget is returned in strict admission mode for a record whose token
// cost is larger than the whole per-window limit.
var ErrExceedsBudget = errors.New("token cost exceeds rate limit")

const DefaultSnippetLength = 200

// Outcome is the result of one write.
type Outcome string

const (
	OutcomeIngested  Outcome = "ingested"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

// Writer gates each store write on the shared token budget and retries writes the
// store throttles.
type Writer struct {
	coll    store.Collection
	counter tokenizer.Counter
	limiter *ratelimit.Limiter
	retry   *backoff.Controller

	strict     bool
	snippetLen int
	log        *logger.Logger
	metrics    *metrics.Metrics
}

type WriterOption func(*writerOptions)

type writerOptions struct {
	strict     bool
	snippetLen int
	log        *logger.Logger
	metrics    *metrics.Metrics
	backoff    []backoff.Option
}

// WithStrictAdmission re-checks the budget after every reset wait instead of writing
// unconditionally.
func WithStrictAdmission(strict bool) WriterOption {
	return func(o *writerOptions) { o.strict = strict }
}

func WithSnippetLength(n int) WriterOption {
	return func(o *writerOptions) {
		if n > 0 {
			o.snippetLen = n
		}
	}
}

func WithWriterLogger(log *logger.Logger) WriterOption {
	return func(o *writerOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(o *writerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBackoffOptions passes extra options to the retry controller, e.g. a test clock.
func WithBackoffOptions(opts ...backoff.Option) WriterOption {
	return func(o *writerOptions) { o.backoff = append(o.backoff, opts...) }
}

func NewWriter(coll store.Collection, counter tokenizer.Counter, limiter *ratelimit.Limiter, cfg backoff.Config, opts ...WriterOption) *Writer {
	o := writerOptions{snippetLen: DefaultSnippetLength, log: logger.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}

	w := &Writer{
		coll:       coll,
		counter:    counter,
		limiter:    limiter,
		strict:     o.strict,
		snippetLen: o.snippetLen,
		log:        o.log,
		metrics:    o.metrics,
	}

	bopts := []backoff.Option{
		backoff.WithLogger(o.log),
		backoff.WithOnThrottle(w.waitForReset),
		backoff.WithRetryHook(func(attempt int, err error) {
			w.metrics.ThrottleRetries.Inc()
			w.log.Warn("Store throttled, retrying write", logger.Int("attempt", attempt), logger.Error(err))
		}),
	}
	w.retry = backoff.New(cfg, append(bopts, o.backoff...)...)
	return w
}

// Record builds the write-once record for a page, counting its tokens.
func (w *Writer) Record(url, text string) models.ContentRecord {
	return models.ContentRecord{URL: url, Text: text, TokenCount: w.counter.Count(text)}
}

// Write stores rec keyed by its URL. Duplicates are a non-fatal skip. Any other
// failure is logged with a content snippet and returned with OutcomeFailed.
func (w *Writer) Write(ctx context.Context, rec models.ContentRecord) (Outcome, error) {
	log := w.log.With(logger.String("url", rec.URL))

	err := w.retry.Do(ctx, func(ctx context.Context) error {
		if err := w.admit(ctx, rec.TokenCount); err != nil {
			return err
		}
		return w.coll.Upsert(ctx, models.EntryFromRecord(rec))
	})

	switch {
	case err == nil:
		log.Debug("Ingested page", logger.Int("tokens", rec.TokenCount))
		return OutcomeIngested, nil
	case errors.Is(err, models.ErrDuplicateKey):
		log.Warn("Entry already exists, skipping", logger.Error(err))
		return OutcomeDuplicate, nil
	default:
		log.Error("Failed to write entry",
			logger.Error(err),
			logger.String("snippet", Snippet(rec.Text, w.snippetLen)),
		)
		return OutcomeFailed, err
	}
}

// admit charges tokens against the budget, waiting for a window reset when it is
// spent. Outside strict mode the tokens are charged after one wait whether or not
// they fit.
func (w *Writer) admit(ctx context.Context, tokens int) error {
	if w.limiter.Admit(tokens) {
		w.metrics.TokensCharged.Add(float64(tokens))
		return nil
	}

	if !w.strict {
		if err := w.waitForReset(ctx); err != nil {
			return err
		}
		w.limiter.Reserve(tokens)
		w.metrics.TokensCharged.Add(float64(tokens))
		return nil
	}

	if tokens > w.limiter.Limit() {
		return fmt.Errorf("%w: %d tokens, limit %d", ErrExceedsBudget, tokens, w.limiter.Limit())
	}
	for {
		if err := w.waitForReset(ctx); err != nil {
			return err
		}
		if w.limiter.Admit(tokens) {
			w.metrics.TokensCharged.Add(float64(tokens))
			return nil
		}
	}
}

func (w *Writer) waitForReset(ctx context.Context) error {
	d, err := w.limiter.WaitForReset(ctx)
	if err != nil {
		return err
	}
	w.metrics.Waited(d)
	return nil
}

// Snippet returns at most n characters of text.
func Snippet(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}
