package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sitemap-ingestor/internal/metrics"
	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/internal/sitemap"
	"sitemap-ingestor/pkg/logger"
)

// Service discovers URLs from a sitemap and hands them to the orchestrator.
type Service struct {
	fetcher Fetcher
	orch    *Orchestrator
	log     *logger.Logger
	metrics *metrics.Metrics
	newID   func() string
}

func NewService(f Fetcher, orch *Orchestrator, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{fetcher: f, orch: orch, log: log, metrics: m, newID: uuid.NewString}
}

// NewRunID returns a fresh identifier for a run.
func (s *Service) NewRunID() string { return s.newID() }

// Populate ingests every page listed in the sitemap at sitemapURL, truncated to the
// first maxURLs entries when maxURLs > 0. Only a failed sitemap fetch or parse is an
// error; per-page failures are counted in the summary.
func (s *Service) Populate(ctx context.Context, sitemapURL string, maxURLs int) (Summary, error) {
	return s.PopulateRun(ctx, s.newID(), sitemapURL, maxURLs)
}

// PopulateRun is Populate with a caller-chosen run ID.
func (s *Service) PopulateRun(ctx context.Context, runID, sitemapURL string, maxURLs int) (Summary, error) {
	log := s.log.With(logger.String("run_id", runID), logger.String("sitemap", sitemapURL))

	res := s.fetcher.Fetch(ctx, sitemapURL)
	if !res.OK() {
		s.metrics.RunsTotal.WithLabelValues("error").Inc()
		log.Error("Failed to fetch sitemap", logger.Error(res.Failure))
		return Summary{RunID: runID}, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, res.Failure)
	}

	urls, err := sitemap.Parse(res.Body, maxURLs)
	if err != nil {
		s.metrics.RunsTotal.WithLabelValues("error").Inc()
		log.Error("Failed to parse sitemap", logger.Error(err))
		return Summary{RunID: runID}, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	if len(urls) == 0 {
		log.Warn("Sitemap lists no URLs")
	} else {
		log.Info("Discovered URLs", logger.Int("count", len(urls)))
	}

	return s.run(ctx, runID, urls), nil
}

// PopulateURLs ingests an explicit URL list.
func (s *Service) PopulateURLs(ctx context.Context, urls []models.SitemapURL) Summary {
	return s.run(ctx, s.newID(), urls)
}

func (s *Service) run(ctx context.Context, runID string, urls []models.SitemapURL) Summary {
	s.metrics.RunsInFlight.Inc()
	defer s.metrics.RunsInFlight.Dec()

	sum := s.orch.Run(ctx, runID, urls)
	s.metrics.RunsTotal.WithLabelValues("ok").Inc()
	return sum
}
