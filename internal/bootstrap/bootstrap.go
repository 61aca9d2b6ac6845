// Package bootstrap builds the ingestion pipeline and its collaborators from config.
//
// The phases are:
//   - Logger and metrics registry
//   - Tokenizer and embedding function
//   - Store collection
//   - Rate limiter, writer, fetcher and orchestrator
//
// Article generation is built on first use.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"sitemap-ingestor/internal/config"
	"sitemap-ingestor/internal/crawler"
	"sitemap-ingestor/internal/embedding"
	"sitemap-ingestor/internal/generate"
	"sitemap-ingestor/internal/ingest"
	"sitemap-ingestor/internal/metrics"
	"sitemap-ingestor/internal/parser"
	"sitemap-ingestor/internal/ratelimit"
	"sitemap-ingestor/internal/store"
	"sitemap-ingestor/internal/tokenizer"
	"sitemap-ingestor/pkg/logger"
)

// App holds everything a command or the HTTP service needs.
type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Collection store.Collection
	Limiter    *ratelimit.Limiter
	Service    *ingest.Service

	newGenerator func(generate.Config) (generate.Generator, error)
	articleOnce  sync.Once
	article      *generate.Article
	articleErr   error
}

type Option func(*options)

type options struct {
	log          *logger.Logger
	progress     func(ingest.Progress)
	embedder     embedding.Function
	newGenerator func(generate.Config) (generate.Generator, error)
}

// WithLogger replaces the logger built from config.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithProgress is called after every page of every run.
func WithProgress(fn func(ingest.Progress)) Option {
	return func(o *options) { o.progress = fn }
}

// WithEmbedder replaces the embedding function selected by config.
func WithEmbedder(fn embedding.Function) Option {
	return func(o *options) { o.embedder = fn }
}

// WithGenerator replaces provider selection for article writing.
func WithGenerator(fn func(generate.Config) (generate.Generator, error)) Option {
	return func(o *options) { o.newGenerator = fn }
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{newGenerator: generate.New}
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		var err error
		if log, err = logger.New(cfg.Logging); err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	counter, err := tokenizer.NewTiktoken(cfg.Tokenizer.Model)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}

	embedder := o.embedder
	if embedder == nil {
		if embedder, err = embedding.New(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("create embedding function: %w", err)
		}
	}

	coll, err := store.Open(ctx, cfg.Store, store.Options{
		Name:      cfg.Ingest.Collection,
		Overwrite: cfg.Ingest.Overwrite,
		Embedder:  embedder,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	log.Info("Collection ready",
		logger.String("backend", cfg.Store.Backend),
		logger.String("collection", coll.Name()),
		logger.String("embedding", embedder.Name()),
	)

	limiter := ratelimit.New(cfg.RateLimit.TokensPerMinute,
		ratelimit.WithWindow(cfg.RateLimit.Window),
		ratelimit.WithResetWait(cfg.RateLimit.ResetWait),
		ratelimit.WithLogger(log),
	)

	writer := ingest.NewWriter(coll, counter, limiter, cfg.Backoff,
		ingest.WithStrictAdmission(cfg.Ingest.StrictAdmission),
		ingest.WithSnippetLength(cfg.Ingest.SnippetLength),
		ingest.WithWriterLogger(log),
		ingest.WithWriterMetrics(m),
	)

	client := crawler.NewHTTPClient(crawler.Options{
		Timeout:           cfg.Crawler.Timeout,
		DialTimeout:       cfg.Crawler.DialTimeout,
		SizeCap:           cfg.Crawler.MaxBodyBytes,
		UserAgent:         cfg.Crawler.UserAgent,
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
		Burst:             cfg.Crawler.Burst,
	})

	orchOpts := []ingest.OrchestratorOption{
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithLogger(log),
		ingest.WithMetrics(m),
	}
	if o.progress != nil {
		orchOpts = append(orchOpts, ingest.WithProgress(o.progress))
	}
	orch := ingest.NewOrchestrator(client, parser.New(), writer, orchOpts...)

	return &App{
		Config:       cfg,
		Logger:       log,
		Registry:     reg,
		Metrics:      m,
		Collection:   coll,
		Limiter:      limiter,
		Service:      ingest.NewService(client.WithSizeCap(cfg.Crawler.MaxSitemapBytes), orch, log, m),
		newGenerator: o.newGenerator,
	}, nil
}

// Article returns the article writer, creating the generator on first call.
func (a *App) Article() (*generate.Article, error) {
	a.articleOnce.Do(func() {
		gen, err := a.newGenerator(a.Config.Generation)
		if err != nil {
			a.articleErr = fmt.Errorf("create generator: %w", err)
			return
		}
		a.article = &generate.Article{
			Searcher:     a.Collection,
			Generator:    gen,
			SystemPrompt: a.Config.Generation.SystemPrompt,
		}
	})
	return a.article, a.articleErr
}

// Close releases the store connection and flushes the logger.
func (a *App) Close() error {
	err := a.Collection.Close()
	_ = a.Logger.Sync()
	return err
}
