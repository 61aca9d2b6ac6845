// Package store persists embedded documents in a named collection.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"sitemap-ingestor/internal/embedding"
	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

const (
	BackendMemory        = "memory"
	BackendSQLite        = "sqlite"
	BackendRedis         = "redis"
	BackendElasticsearch = "elasticsearch"

	DefaultCollection = "sitemap_collection"
)

// Collection is a document store keyed by entry ID. Upsert computes the embedding
// with the collection's embedding function when the entry has none.
type Collection interface {
	Name() string
	// Upsert writes e. In create-only mode an existing ID yields models.ErrDuplicateKey.
	Upsert(ctx context.Context, e models.StoreEntry) error
	// Get returns every entry ordered by ID, with only the included fields populated.
	// IDs are always returned; with no include, documents and metadatas are.
	Get(ctx context.Context, include ...Include) ([]models.StoreEntry, error)
	// Query returns up to n entries closest to text, best first. n <= 0 yields none.
	Query(ctx context.Context, text string, n int) ([]models.Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Include names an optional field returned by Get.
type Include string

const (
	IncludeDocuments  Include = "documents"
	IncludeMetadatas  Include = "metadatas"
	IncludeEmbeddings Include = "embeddings"
)

// project clears the fields not named in include.
func project(entries []models.StoreEntry, include []Include) []models.StoreEntry {
	if len(include) == 0 {
		include = []Include{IncludeDocuments, IncludeMetadatas}
	}
	var docs, meta, vecs bool
	for _, in := range include {
		switch in {
		case IncludeDocuments:
			docs = true
		case IncludeMetadatas:
			meta = true
		case IncludeEmbeddings:
			vecs = true
		}
	}
	for i := range entries {
		if !docs {
			entries[i].Document = ""
		}
		if !meta {
			entries[i].Metadata = nil
		}
		if !vecs {
			entries[i].Embedding = nil
		}
	}
	return entries
}

type Config struct {
	Backend       string              `mapstructure:"backend"`
	SQLite        SQLiteConfig        `mapstructure:"sqlite"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// Options apply to every backend.
type Options struct {
	Name string
	// Overwrite replaces an existing entry; when false the store is create-only.
	Overwrite bool
	Embedder  embedding.Function
	Logger    *logger.Logger
}

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = DefaultCollection
	}
	if o.Embedder == nil {
		o.Embedder = embedding.NewHashing(0)
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
}

// Open connects to the configured backend and returns the collection named in opts.
func Open(ctx context.Context, cfg Config, opts Options) (Collection, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(opts), nil
	case BackendSQLite:
		return NewSQLite(ctx, cfg.SQLite, opts)
	case BackendRedis:
		return NewRedis(ctx, cfg.Redis, opts)
	case BackendElasticsearch:
		return NewElasticsearch(ctx, cfg.Elasticsearch, opts)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// embed fills e.Embedding when it is empty.
func embed(ctx context.Context, fn embedding.Function, e *models.StoreEntry) error {
	if len(e.Embedding) > 0 {
		return nil
	}
	vecs, err := fn.Embed(ctx, []string{e.Document})
	if err != nil {
		return err
	}
	e.Embedding = vecs[0]
	return nil
}

func embedQuery(ctx context.Context, fn embedding.Function, text string) ([]float32, error) {
	vecs, err := fn.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// rank scores entries against q by cosine similarity and keeps the best n.
// Ties keep ID order.
func rank(entries []models.StoreEntry, q []float32, n int) []models.Hit {
	if n <= 0 {
		return []models.Hit{}
	}
	hits := make([]models.Hit, 0, len(entries))
	for _, e := range entries {
		hits = append(hits, models.Hit{
			ID:       e.ID,
			Document: e.Document,
			Metadata: e.Metadata,
			Score:    embedding.Cosine(e.Embedding, q),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if n < len(hits) {
		hits = hits[:n]
	}
	return hits
}

func cloneEntry(e models.StoreEntry) models.StoreEntry {
	out := e
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Embedding = append([]float32(nil), e.Embedding...)
	return out
}

// marshalFields encodes metadata and embedding as JSON text for row and hash backends.
func marshalFields(e models.StoreEntry) (meta, vec string, err error) {
	m, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	v, err := json.Marshal(e.Embedding)
	if err != nil {
		return "", "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(m), string(v), nil
}

func unmarshalFields(e *models.StoreEntry, meta, vec string) error {
	if meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	if vec != "" && vec != "null" {
		if err := json.Unmarshal([]byte(vec), &e.Embedding); err != nil {
			return fmt.Errorf("decode embedding: %w", err)
		}
	}
	return nil
}
