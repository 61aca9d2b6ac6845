package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitemap-ingestor/internal/embedding"
	"sitemap-ingestor/internal/models"
)

type factory func(t *testing.T, overwrite bool) Collection

func newMemoryCollection(t *testing.T, overwrite bool) Collection {
	return NewMemory(Options{Overwrite: overwrite, Embedder: embedding.NewHashing(64)})
}

func newRedisCollection(t *testing.T, overwrite bool) Collection {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisWithClient(client, "test", Options{Overwrite: overwrite, Embedder: embedding.NewHashing(64)})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newSQLiteCollection(t *testing.T, overwrite bool) Collection {
	c, err := NewSQLite(context.Background(), SQLiteConfig{Path: t.TempDir()},
		Options{Overwrite: overwrite, Embedder: embedding.NewHashing(64)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func entry(url, text string) models.StoreEntry {
	return models.EntryFromRecord(models.ContentRecord{URL: url, Text: text})
}

func TestCollections(t *testing.T) {
	for name, newColl := range map[string]factory{
		"memory": newMemoryCollection,
		"sqlite": newSQLiteCollection,
		"redis":  newRedisCollection,
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("upsert and get", func(t *testing.T) { testUpsertGet(t, newColl) })
			t.Run("overwrite replaces", func(t *testing.T) { testOverwrite(t, newColl) })
			t.Run("create only rejects duplicates", func(t *testing.T) { testCreateOnly(t, newColl) })
			t.Run("query ranks by similarity", func(t *testing.T) { testQuery(t, newColl) })
		})
	}
}

func testUpsertGet(t *testing.T, newColl factory) {
	ctx := context.Background()
	c := newColl(t, true)
	require.Equal(t, DefaultCollection, c.Name())

	require.NoError(t, c.Upsert(ctx, entry("https://example.com/b", "beta page")))
	require.NoError(t, c.Upsert(ctx, entry("https://example.com/a", "alpha page")))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := c.Get(ctx, IncludeDocuments, IncludeMetadatas, IncludeEmbeddings)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.com/a", got[0].ID)
	assert.Equal(t, "alpha page", got[0].Document)
	assert.Equal(t, map[string]string{"url": "https://example.com/a"}, got[0].Metadata)
	assert.Len(t, got[0].Embedding, 64)
	assert.Equal(t, "https://example.com/b", got[1].ID)

	ids, err := c.Get(ctx, IncludeMetadatas)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Empty(t, ids[0].Document)
	assert.Nil(t, ids[0].Embedding)
	assert.Equal(t, "https://example.com/a", ids[0].Metadata["url"])

	def, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alpha page", def[0].Document)
	assert.Nil(t, def[0].Embedding)
}

func testOverwrite(t *testing.T, newColl factory) {
	ctx := context.Background()
	c := newColl(t, true)

	require.NoError(t, c.Upsert(ctx, entry("https://example.com/a", "old text")))
	require.NoError(t, c.Upsert(ctx, entry("https://example.com/a", "new text")))

	got, err := c.Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new text", got[0].Document)
}

func testCreateOnly(t *testing.T, newColl factory) {
	ctx := context.Background()
	c := newColl(t, false)

	require.NoError(t, c.Upsert(ctx, entry("https://example.com/a", "first")))
	err := c.Upsert(ctx, entry("https://example.com/a", "second"))
	require.ErrorIs(t, err, models.ErrDuplicateKey)

	got, err := c.Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Document)
}

func testQuery(t *testing.T, newColl factory) {
	ctx := context.Background()
	c := newColl(t, true)

	require.NoError(t, c.Upsert(ctx, entry("https://example.com/go", "golang concurrency goroutines channels")))
	require.NoError(t, c.Upsert(ctx, entry("https://example.com/cake", "chocolate cake baking recipe")))
	require.NoError(t, c.Upsert(ctx, entry("https://example.com/k8s", "kubernetes cluster deployment")))

	hits, err := c.Query(ctx, "goroutines and channels in golang", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "https://example.com/go", hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	all, err := c.Query(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := c.Query(ctx, "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsertKeepsProvidedEmbedding(t *testing.T) {
	c := NewMemory(Options{Overwrite: true})
	e := entry("https://example.com/a", "text")
	e.Embedding = []float32{1, 0, 0}
	require.NoError(t, c.Upsert(context.Background(), e))

	got, err := c.Get(context.Background(), IncludeEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, got[0].Embedding)
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, f.err }
func (f failingEmbedder) Dimensions() int                                      { return 0 }
func (f failingEmbedder) Name() string                                         { return "failing" }

func TestUpsertPropagatesThrottling(t *testing.T) {
	c := NewMemory(Options{Overwrite: true, Embedder: failingEmbedder{err: models.ErrThrottled}})
	err := c.Upsert(context.Background(), entry("https://example.com/a", "text"))
	require.ErrorIs(t, err, models.ErrThrottled)

	n, _ := c.Count(context.Background())
	assert.Zero(t, n)
}

func TestRedisSkipsUnwrittenClaims(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisWithClient(client, "", Options{})

	_, err := mr.SAdd("sitemap:sitemap_collection:ids", "https://example.com/pending")
	require.NoError(t, err)

	got, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	opts := Options{Overwrite: true, Embedder: embedding.NewHashing(64)}

	first, err := Open(ctx, Config{Backend: BackendSQLite, SQLite: SQLiteConfig{Path: dir}}, opts)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, entry("https://example.com/go", "golang goroutines channels")))
	require.NoError(t, first.Upsert(ctx, entry("https://example.com/tea", "green tea leaves")))
	require.NoError(t, first.Close())

	second, err := Open(ctx, Config{Backend: BackendSQLite, SQLite: SQLiteConfig{Path: dir}}, opts)
	require.NoError(t, err)
	defer second.Close()

	n, err := second.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := second.Query(ctx, "goroutines", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://example.com/go", hits[0].ID)
	assert.Equal(t, map[string]string{"url": "https://example.com/go"}, hits[0].Metadata)
}

func TestSQLiteCollectionsShareFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	docs, err := NewSQLite(ctx, SQLiteConfig{Path: dir}, Options{Name: "docs", Overwrite: true})
	require.NoError(t, err)
	defer docs.Close()
	blog, err := NewSQLite(ctx, SQLiteConfig{Path: dir}, Options{Name: "blog", Overwrite: true})
	require.NoError(t, err)
	defer blog.Close()

	require.NoError(t, docs.Upsert(ctx, entry("https://example.com/a", "alpha")))
	assert.Equal(t, docs.File(), blog.File())

	n, err := blog.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "cassandra"}, Options{})
	require.Error(t, err)

	c, err := Open(context.Background(), Config{}, Options{Name: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Name())

	_, err = Open(context.Background(), Config{Backend: BackendRedis}, Options{})
	require.ErrorIs(t, err, ErrEmptyAddress)
}
