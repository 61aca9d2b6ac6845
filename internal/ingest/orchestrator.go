package ingest

import (
	"context"
	"sync"
	"time"

	"sitemap-ingestor/internal/metrics"
	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

const DefaultConcurrency = 16

// Fetcher retrieves one URL. Failures are values, never panics.
type Fetcher interface {
	Fetch(ctx context.Context, url string) models.FetchResult
}

// Extractor reduces a fetched page to text.
type Extractor interface {
	Extract(body []byte, contentType string) string
}

type Progress struct {
	RunID string `json:"run_id"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

type Summary struct {
	RunID       string        `json:"run_id"`
	Total       int           `json:"total"`
	Ingested    int           `json:"ingested"`
	Duplicates  int           `json:"duplicates"`
	FetchFailed int           `json:"fetch_failed"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Orchestrator runs one fetch, extract and write pipeline per URL on a bounded pool.
// Pipelines share nothing but the writer's rate limiter, and a failure in one never
// affects another.
type Orchestrator struct {
	fetcher     Fetcher
	extractor   Extractor
	writer      *Writer
	concurrency int
	log         *logger.Logger
	metrics     *metrics.Metrics
	onProgress  func(Progress)
}

type OrchestratorOption func(*Orchestrator)

func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithLogger(log *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithProgress registers fn to be called after every pipeline completes. Calls are
// serialized.
func WithProgress(fn func(Progress)) OrchestratorOption {
	return func(o *Orchestrator) { o.onProgress = fn }
}

func NewOrchestrator(f Fetcher, e Extractor, w *Writer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		fetcher:     f,
		extractor:   e,
		writer:      w,
		concurrency: DefaultConcurrency,
		log:         logger.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	return o
}

type pageOutcome int

const (
	pageIngested pageOutcome = iota
	pageDuplicate
	pageFetchFailed
	pageFailed
)

// Run processes every URL and returns once all pipelines have finished.
func (o *Orchestrator) Run(ctx context.Context, runID string, urls []models.SitemapURL) Summary {
	start := time.Now()
	sum := Summary{RunID: runID, Total: len(urls)}
	log := o.log.With(logger.String("run_id", runID))

	var mu sync.Mutex
	done := 0
	record := func(out pageOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch out {
		case pageIngested:
			sum.Ingested++
		case pageDuplicate:
			sum.Duplicates++
		case pageFetchFailed:
			sum.FetchFailed++
		case pageFailed:
			sum.Failed++
		}
		done++
		if o.onProgress != nil {
			o.onProgress(Progress{RunID: runID, Done: done, Total: len(urls)})
		}
	}

	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	for _, u := range urls {
		sem <- struct{}{} // acquire
		wg.Add(1)
		go func() {
			defer func() { <-sem; wg.Done() }()
			record(o.process(ctx, log, u))
		}()
	}
	wg.Wait()

	sum.Duration = time.Since(start)
	log.Info("Ingestion run finished",
		logger.Int("total", sum.Total),
		logger.Int("ingested", sum.Ingested),
		logger.Int("duplicates", sum.Duplicates),
		logger.Int("fetch_failed", sum.FetchFailed),
		logger.Int("failed", sum.Failed),
		logger.Duration("duration", sum.Duration),
	)
	return sum
}

func (o *Orchestrator) process(ctx context.Context, log *logger.Logger, url string) pageOutcome {
	res := o.fetcher.Fetch(ctx, url)
	o.metrics.Fetch(time.Duration(res.FetchMs) * time.Millisecond)
	if !res.OK() {
		log.Warn("Fetch failed, skipping",
			logger.String("url", url),
			logger.String("kind", string(res.Failure.Kind)),
			logger.Error(res.Failure),
		)
		o.metrics.Page(metrics.OutcomeFetchFailed)
		return pageFetchFailed
	}

	text := o.extractor.Extract(res.Body, res.ContentType)
	outcome, _ := o.writer.Write(ctx, o.writer.Record(url, text))
	switch outcome {
	case OutcomeIngested:
		o.metrics.Page(metrics.OutcomeIngested)
		return pageIngested
	case OutcomeDuplicate:
		o.metrics.Page(metrics.OutcomeDuplicate)
		return pageDuplicate
	default:
		o.metrics.Page(metrics.OutcomeFailed)
		return pageFailed
	}
}
