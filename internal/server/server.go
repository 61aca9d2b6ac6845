// Package server exposes ingestion runs, search and article writing over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitemap-ingestor/internal/generate"
	"sitemap-ingestor/internal/ingest"
	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

const DefaultResults = 5

type Ingester interface {
	NewRunID() string
	PopulateRun(ctx context.Context, runID, sitemapURL string, maxURLs int) (ingest.Summary, error)
}

type Searcher interface {
	Query(ctx context.Context, text string, n int) ([]models.Hit, error)
}

type ArticleWriter interface {
	Write(ctx context.Context, prompt, search string, n int) (generate.ArticleResult, error)
}

type Deps struct {
	Ingester Ingester
	Searcher Searcher
	// Articles is nil when no generator is configured; /articles then answers 503.
	Articles ArticleWriter
	Runs     *Runs
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger

	// DefaultSitemapURL and DefaultMaxURLs apply to POST /ingest bodies that omit them.
	DefaultSitemapURL string
	DefaultMaxURLs    int
}

// Server owns background runs. Runs started through it are cancelled by the context
// given to New and awaited by Wait.
type Server struct {
	deps Deps
	ctx  context.Context
	wg   sync.WaitGroup
}

func New(ctx context.Context, d Deps) *Server {
	if d.Runs == nil {
		d.Runs = NewRuns()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: d, ctx: ctx}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.deps.Logger))

	r.GET("/health", s.health)
	r.POST("/ingest", s.startIngest)
	r.GET("/ingest", s.listRuns)
	r.GET("/ingest/:id", s.getRun)
	r.GET("/search", s.search)
	r.POST("/articles", s.writeArticle)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	return r
}

// Run ingests sitemapURL synchronously, recording the run like any other.
func (s *Server) Run(sitemapURL string, maxURLs int) (string, ingest.Summary, error) {
	id := s.deps.Ingester.NewRunID()
	s.deps.Runs.start(id, sitemapURL, maxURLs)
	sum, err := s.deps.Ingester.PopulateRun(s.ctx, id, sitemapURL, maxURLs)
	s.deps.Runs.finish(id, sum, err)
	return id, sum, err
}

// StartRun ingests sitemapURL in the background and returns the run ID.
func (s *Server) StartRun(sitemapURL string, maxURLs int) string {
	id := s.deps.Ingester.NewRunID()
	s.deps.Runs.start(id, sitemapURL, maxURLs)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sum, err := s.deps.Ingester.PopulateRun(s.ctx, id, sitemapURL, maxURLs)
		s.deps.Runs.finish(id, sum, err)
	}()
	return id
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ingestRequest struct {
	SitemapURL string `json:"sitemap_url"`
	MaxURLs    *int   `json:"max_urls"`
}

func (s *Server) startIngest(c *gin.Context) {
	var req ingestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	if req.SitemapURL == "" {
		req.SitemapURL = s.deps.DefaultSitemapURL
	}
	if req.SitemapURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sitemap_url is required"})
		return
	}
	maxURLs := s.deps.DefaultMaxURLs
	if req.MaxURLs != nil {
		maxURLs = *req.MaxURLs
	}

	id := s.StartRun(req.SitemapURL, maxURLs)
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "status_url": "/ingest/" + id})
}

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.deps.Runs.List()})
}

func (s *Server) getRun(c *gin.Context) {
	run, ok := s.deps.Runs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func resultCount(c *gin.Context, def int) (int, bool) {
	raw := c.Query("n")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	n, ok := resultCount(c, DefaultResults)
	if !ok {
		return
	}

	hits, err := s.deps.Searcher.Query(c.Request.Context(), q, n)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": "search failed"})
		return
	}
	if hits == nil {
		hits = []models.Hit{}
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "hits": hits})
}

type articleRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Search string `json:"search"`
	N      *int   `json:"n"`
}

func (s *Server) writeArticle(c *gin.Context) {
	if s.deps.Articles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "article generation is not configured"})
		return
	}
	var req articleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	n := DefaultResults
	if req.N != nil {
		if *req.N < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
			return
		}
		n = *req.N
	}

	res, err := s.deps.Articles.Write(c.Request.Context(), req.Prompt, req.Search, n)
	if err != nil {
		_ = c.Error(err)
		c.JSON(statusFor(err), gin.H{"error": "article generation failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	if errors.Is(err, models.ErrThrottled) {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
