package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"deepresearch/internal/state"
)

// MemoryStore keeps facts in memory and indexes their content in an
// in-memory bleve index for full-text search. Suitable for tests and
// single-process runs.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	facts map[string]state.Fact
	index bleve.Index
}

type indexedFact struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	return &MemoryStore{facts: make(map[string]state.Fact), index: idx}, nil
}

func (m *MemoryStore) SaveFacts(ctx context.Context, facts []state.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range facts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, exists := m.facts[f.ID]; !exists {
			m.order = append(m.order, f.ID)
		}
		m.facts[f.ID] = f
		if err := m.index.Index(f.ID, indexedFact{Content: f.Content, Source: f.Source}); err != nil {
			return fmt.Errorf("indexing fact %s: %w", f.ID, err)
		}
	}
	return nil
}

func (m *MemoryStore) GetAllFacts(ctx context.Context) ([]state.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]state.Fact, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.facts[id])
	}
	return out, nil
}

func (m *MemoryStore) Search(ctx context.Context, query string) ([]state.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = 50
	res, err := m.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	var out []state.Fact
	for _, hit := range res.Hits {
		if f, ok := m.facts[hit.ID]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if err := m.index.Delete(id); err != nil {
			return err
		}
	}
	m.order = nil
	m.facts = make(map[string]state.Fact)
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	facts, _ := m.GetAllFacts(ctx)
	return statsOf(facts), nil
}
