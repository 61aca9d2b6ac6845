package store

import (
	"context"
	"sort"
	"sync"

	"sitemap-ingestor/internal/models"
)

// Memory is an in-process collection.
type Memory struct {
	opts Options

	mu      sync.RWMutex
	entries map[string]models.StoreEntry
}

func NewMemory(opts Options) *Memory {
	opts.setDefaults()
	return &Memory{opts: opts, entries: make(map[string]models.StoreEntry)}
}

func (m *Memory) Name() string { return m.opts.Name }

func (m *Memory) Upsert(ctx context.Context, e models.StoreEntry) error {
	if !m.opts.Overwrite && m.has(e.ID) {
		return models.ErrDuplicateKey
	}
	e = cloneEntry(e)
	if err := embed(ctx, m.opts.Embedder, &e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; ok && !m.opts.Overwrite {
		return models.ErrDuplicateKey
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

func (m *Memory) Get(ctx context.Context, include ...Include) ([]models.StoreEntry, error) {
	return project(m.all(), include), nil
}

func (m *Memory) all() []models.StoreEntry {
	m.mu.RLock()
	out := make([]models.StoreEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, cloneEntry(e))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Query(ctx context.Context, text string, n int) ([]models.Hit, error) {
	q, err := embedQuery(ctx, m.opts.Embedder, text)
	if err != nil {
		return nil, err
	}
	return rank(m.all(), q, n), nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error { return nil }
