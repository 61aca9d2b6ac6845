package server

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"sitemap-ingestor/pkg/logger"
)

// cronLogger routes cron's own messages through the service logger.
type cronLogger struct{ log *logger.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logger.Any("details", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logger.Error(err), logger.Any("details", kv))
}

// Schedule re-ingests sitemapURL on a five-field cron spec. A tick that fires while the
// previous scheduled run is still going is skipped. The caller starts and stops the
// returned cron.
func (s *Server) Schedule(spec, sitemapURL string, maxURLs int) (*cron.Cron, error) {
	cl := cronLogger{log: s.deps.Logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() {
		log := s.deps.Logger.With(logger.String("sitemap", sitemapURL))
		log.Info("Scheduled ingestion starting")
		id, sum, err := s.Run(sitemapURL, maxURLs)
		if err != nil {
			log.Error("Scheduled ingestion failed", logger.String("run_id", id), logger.Error(err))
			return
		}
		log.Info("Scheduled ingestion finished",
			logger.String("run_id", id),
			logger.Int("ingested", sum.Ingested),
			logger.Int("failed", sum.Failed+sum.FetchFailed),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return c, nil
}
