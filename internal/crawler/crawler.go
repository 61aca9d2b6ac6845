package crawler

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sitemap-ingestor/internal/models"
)

const (
	DefaultUserAgent = "sitemap-ingestor/1.0 (+https://example.com)"
	DefaultSizeCap   = 5 * 1024 * 1024

	// DefaultSitemapSizeCap is the sitemaps.org limit for an uncompressed sitemap.
	DefaultSitemapSizeCap = 50 * 1024 * 1024
)

type Options struct {
	Timeout     time.Duration
	DialTimeout time.Duration
	SizeCap     int64
	UserAgent   string
	// RequestsPerSecond paces all fetches made through this client. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// HTTPClient fetches sitemaps and pages. It never retries; every failure comes back
// as a FetchResult with Failure set.
type HTTPClient struct {
	client    *http.Client
	sizeCap   int64
	userAgent string
	pace      *rate.Limiter
}

func NewHTTPClient(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.SizeCap <= 0 {
		opts.SizeCap = DefaultSizeCap
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	h := &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		sizeCap:   opts.SizeCap,
		userAgent: opts.UserAgent,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		h.pace = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return h
}

// WithSizeCap returns a client sharing h's connections and pacing but reading
// bodies of up to n bytes.
func (h *HTTPClient) WithSizeCap(n int64) *HTTPClient {
	c := *h
	if n > 0 {
		c.sizeCap = n
	}
	return &c
}

func transportFailure(rawURL string, start time.Time, err error) models.FetchResult {
	return models.FetchResult{
		URL:     rawURL,
		FetchMs: time.Since(start).Milliseconds(),
		Failure: &models.FetchFailure{Kind: models.FailureTransport, Detail: err.Error()},
	}
}

// Fetch performs a GET. Only 2xx responses produce a body.
func (h *HTTPClient) Fetch(ctx context.Context, rawURL string) models.FetchResult {
	start := time.Now()
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return transportFailure(rawURL, start, fmt.Errorf("invalid url %q", rawURL))
	}
	if h.pace != nil {
		if err := h.pace.Wait(ctx); err != nil {
			return transportFailure(rawURL, start, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return transportFailure(rawURL, start, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return transportFailure(rawURL, start, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.FetchResult{
			URL:     rawURL,
			FetchMs: time.Since(start).Milliseconds(),
			Failure: &models.FetchFailure{
				Kind:       models.FailureHTTPStatus,
				StatusCode: resp.StatusCode,
				Detail:     resp.Status,
			},
		}
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return transportFailure(rawURL, start, err)
		}
		defer gz.Close()
		body = gz
	}

	// one byte past the cap tells an oversized body from one that fits exactly
	data, err := io.ReadAll(io.LimitReader(body, h.sizeCap+1))
	if err != nil {
		return transportFailure(rawURL, start, err)
	}
	if int64(len(data)) > h.sizeCap {
		return models.FetchResult{
			URL:      rawURL,
			FinalURL: resp.Request.URL.String(),
			FetchMs:  time.Since(start).Milliseconds(),
			Failure: &models.FetchFailure{
				Kind:   models.FailureTooLarge,
				Detail: fmt.Sprintf("body exceeds %d bytes", h.sizeCap),
			},
		}
	}

	return models.FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
		FetchMs:     time.Since(start).Milliseconds(),
	}
}
