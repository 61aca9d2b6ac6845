package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/pkg/logger"
)

type ElasticsearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	APIKey   string `mapstructure:"api_key"`
}

const esPageSize = 500

// Elasticsearch keeps a collection in one index with a dense_vector field and
// answers queries with approximate kNN.
type Elasticsearch struct {
	client *es.Client
	opts   Options
	index  string
}

type esDoc struct {
	ID        string            `json:"id"`
	Document  string            `json:"document"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source esDoc   `json:"_source"`
			Sort   []any   `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

func NewElasticsearch(ctx context.Context, cfg ElasticsearchConfig, opts Options) (*Elasticsearch, error) {
	esCfg := es.Config{
		Username: cfg.Username,
		Password: cfg.Password,
		APIKey:   cfg.APIKey,
	}
	if cfg.URL != "" {
		esCfg.Addresses = []string{cfg.URL}
	}
	client, err := es.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return NewElasticsearchWithClient(ctx, client, opts)
}

// NewElasticsearchWithClient uses an existing client and creates the index when it
// does not exist yet.
func NewElasticsearchWithClient(ctx context.Context, client *es.Client, opts Options) (*Elasticsearch, error) {
	opts.setDefaults()
	s := &Elasticsearch{client: client, opts: opts, index: strings.ToLower(opts.Name)}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Elasticsearch) Name() string { return s.opts.Name }

func (s *Elasticsearch) ensureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status checking index %s: %s", s.index, res.Status())
	}

	vector := map[string]any{"type": "dense_vector", "index": true, "similarity": "l2_norm"}
	if d := s.opts.Embedder.Dimensions(); d > 0 {
		vector["dims"] = d
	}
	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":        map[string]any{"type": "keyword"},
				"document":  map[string]any{"type": "text"},
				"metadata":  map[string]any{"type": "flattened"},
				"embedding": vector,
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	res, err = s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg := readBody(res)
		// another process created it first
		if strings.Contains(msg, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s", s.index, msg)
	}
	s.opts.Logger.Info("Created index", logger.String("index", s.index))
	return nil
}

func (s *Elasticsearch) Upsert(ctx context.Context, e models.StoreEntry) error {
	if err := embed(ctx, s.opts.Embedder, &e); err != nil {
		return err
	}
	body, err := json.Marshal(esDoc(e))
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	opts := []func(*esapi.IndexRequest){
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(DocumentID(e.ID)),
		s.client.Index.WithRefresh("true"),
	}
	if !s.opts.Overwrite {
		opts = append(opts, s.client.Index.WithOpType("create"))
	}
	res, err := s.client.Index(s.index, bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusConflict:
		return models.ErrDuplicateKey
	case res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", models.ErrThrottled, readBody(res))
	case res.IsError():
		return fmt.Errorf("elasticsearch error: %s", readBody(res))
	}
	return nil
}

// DocumentID maps an entry ID, usually a URL, to a path-safe _id. The original ID is
// kept in the "id" field.
func DocumentID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *Elasticsearch) Get(ctx context.Context, include ...Include) ([]models.StoreEntry, error) {
	var (
		out   []models.StoreEntry
		after []any
	)
	for {
		req := map[string]any{
			"size":  esPageSize,
			"query": map[string]any{"match_all": map[string]any{}},
			"sort":  []any{map[string]any{"id": "asc"}},
		}
		if after != nil {
			req["search_after"] = after
		}
		resp, err := s.search(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, h := range resp.Hits.Hits {
			out = append(out, models.StoreEntry(h.Source))
		}
		if len(resp.Hits.Hits) < esPageSize {
			break
		}
		after = resp.Hits.Hits[len(resp.Hits.Hits)-1].Sort
	}
	if out == nil {
		out = []models.StoreEntry{}
	}
	return project(out, include), nil
}

func (s *Elasticsearch) Query(ctx context.Context, text string, n int) ([]models.Hit, error) {
	if n <= 0 {
		return []models.Hit{}, nil
	}
	q, err := embedQuery(ctx, s.opts.Embedder, text)
	if err != nil {
		return nil, err
	}
	resp, err := s.search(ctx, map[string]any{
		"size": n,
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   q,
			"k":              n,
			"num_candidates": max(100, n),
		},
		"_source": []string{"id", "document", "metadata"},
	})
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, models.Hit{
			ID:       h.Source.ID,
			Document: h.Source.Document,
			Metadata: h.Source.Metadata,
			Score:    h.Score,
		})
	}
	return hits, nil
}

func (s *Elasticsearch) search(ctx context.Context, req map[string]any) (*esSearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search: %w", err)
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", readBody(res))
	}

	var out esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}

func (s *Elasticsearch) Count(ctx context.Context) (int, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.index),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count error: %s", readBody(res))
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return out.Count, nil
}

func (s *Elasticsearch) Close() error { return nil }

func readBody(res *esapi.Response) string {
	b, _ := io.ReadAll(res.Body)
	return fmt.Sprintf("[%d] %s", res.StatusCode, strings.TrimSpace(string(b)))
}
