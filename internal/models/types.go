package models

import (
	"errors"
	"fmt"
)

// SitemapURL is one <loc> entry in manifest order. Duplicates are possible.
type SitemapURL = string

type FailureKind string

const (
	FailureTransport  FailureKind = "transport"
	FailureHTTPStatus FailureKind = "http_status"
	FailureTooLarge   FailureKind = "too_large"
)

// FetchFailure describes why a fetch produced no body.
type FetchFailure struct {
	Kind       FailureKind `json:"kind"`
	StatusCode int         `json:"statusCode,omitempty"`
	Detail     string      `json:"detail"`
}

func (f *FetchFailure) Error() string {
	if f.Kind == FailureHTTPStatus {
		return fmt.Sprintf("http status %d: %s", f.StatusCode, f.Detail)
	}
	return fmt.Sprintf("%s error: %s", f.Kind, f.Detail)
}

// FetchResult is either a body (Failure == nil) or a failure, never both.
type FetchResult struct {
	URL         string        `json:"url"`
	FinalURL    string        `json:"finalUrl,omitempty"`
	ContentType string        `json:"contentType,omitempty"`
	Body        []byte        `json:"-"`
	FetchMs     int64         `json:"fetchMs"`
	Failure     *FetchFailure `json:"failure,omitempty"`
}

func (r FetchResult) OK() bool { return r.Failure == nil }

// ContentRecord is built once per page and handed to the writer unchanged.
type ContentRecord struct {
	URL        string `json:"url"`
	Text       string `json:"text"`
	TokenCount int    `json:"tokenCount"`
}

// StoreEntry is the persisted form of a record, keyed by URL.
type StoreEntry struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// EntryFromRecord maps a record to its store entry: id and metadata url are the page URL.
func EntryFromRecord(rec ContentRecord) StoreEntry {
	return StoreEntry{
		ID:       rec.URL,
		Document: rec.Text,
		Metadata: map[string]string{"url": rec.URL},
	}
}

// Hit is one query result. Higher Score means more relevant.
type Hit struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

var (
	// ErrThrottled marks a rate-limit signal from the store or an API behind it.
	ErrThrottled = errors.New("throttled")
	// ErrDuplicateKey is returned by create-only writes when the id already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)
