package crawler

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitemap-ingestor/internal/models"
)

func TestFetchHTML(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html><title>x</title></html>"))
	}))
	defer ts.Close()

	client := NewHTTPClient(Options{Timeout: 5 * time.Second, DialTimeout: 2 * time.Second, SizeCap: 1024})
	res := client.Fetch(context.Background(), ts.URL)
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)
	require.Equal(t, "<html><title>x</title></html>", string(res.Body))
	require.Equal(t, "text/html", res.ContentType)
	require.NotEmpty(t, res.FinalURL)
}

func TestFetchXMLIsNotRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<urlset/>`))
	}))
	defer ts.Close()

	res := NewHTTPClient(Options{}).Fetch(context.Background(), ts.URL)
	require.True(t, res.OK())
	require.Equal(t, "<urlset/>", string(res.Body))
}

func TestFetchNon2xxIsHTTPStatusFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	res := NewHTTPClient(Options{}).Fetch(context.Background(), ts.URL)
	require.False(t, res.OK())
	require.Equal(t, models.FailureHTTPStatus, res.Failure.Kind)
	require.Equal(t, http.StatusNotFound, res.Failure.StatusCode)
	require.Nil(t, res.Body)
}

func TestFetchTransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := ts.URL
	ts.Close()

	res := NewHTTPClient(Options{Timeout: time.Second}).Fetch(context.Background(), addr)
	require.False(t, res.OK())
	require.Equal(t, models.FailureTransport, res.Failure.Kind)
	require.NotEmpty(t, res.Failure.Detail)
}

func TestFetchInvalidURL(t *testing.T) {
	res := NewHTTPClient(Options{}).Fetch(context.Background(), "not a url")
	require.False(t, res.OK())
	require.Equal(t, models.FailureTransport, res.Failure.Kind)
}

func TestFetchGzipAndSizeCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		_, _ = gz.Write(bytes.Repeat([]byte("a"), 4096))
		_ = gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer ts.Close()

	res := NewHTTPClient(Options{SizeCap: 4096}).Fetch(context.Background(), ts.URL)
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)
	require.Len(t, res.Body, 4096)

	res = NewHTTPClient(Options{SizeCap: 100}).Fetch(context.Background(), ts.URL)
	require.False(t, res.OK())
	require.Equal(t, models.FailureTooLarge, res.Failure.Kind)
	require.Nil(t, res.Body)
}

func TestWithSizeCapRaisesLimitForOneClient(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 6*1024*1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	pages := NewHTTPClient(Options{})
	res := pages.Fetch(context.Background(), ts.URL)
	require.False(t, res.OK())
	require.Equal(t, models.FailureTooLarge, res.Failure.Kind)

	sitemaps := pages.WithSizeCap(DefaultSitemapSizeCap)
	res = sitemaps.Fetch(context.Background(), ts.URL)
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)
	require.Len(t, res.Body, len(body))

	require.False(t, pages.Fetch(context.Background(), ts.URL).OK())
}

func TestFetchPacingHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	client := NewHTTPClient(Options{RequestsPerSecond: 0.001, Burst: 1})
	require.True(t, client.Fetch(context.Background(), ts.URL).OK())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := client.Fetch(ctx, ts.URL)
	require.False(t, res.OK())
	require.Equal(t, models.FailureTransport, res.Failure.Kind)
}
