package store

import (
	"context"
	"testing"

	"deepresearch/internal/state"
)

func TestMemoryStoreSaveAndGetAll(t *testing.T) {
	m, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	ctx := context.Background()

	first := state.NewFact("Quantum computing milestone reached", "source-a", 80)
	second := state.NewFact("AI regulation draft published in the EU", "source-b", 70)
	if err := m.SaveFacts(ctx, []state.Fact{first, second}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}

	all, err := m.GetAllFacts(ctx)
	if err != nil {
		t.Fatalf("GetAllFacts: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Fatalf("unexpected order or count: %+v", all)
	}
}

func TestMemoryStoreSaveIsUpsert(t *testing.T) {
	m, _ := NewMemoryStore()
	ctx := context.Background()

	f := state.NewFact("original claim text here", "source", 50)
	if err := m.SaveFacts(ctx, []state.Fact{f}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}
	f.ConfidenceScore = 90
	if err := m.SaveFacts(ctx, []state.Fact{f}); err != nil {
		t.Fatalf("SaveFacts (update): %v", err)
	}

	all, _ := m.GetAllFacts(ctx)
	if len(all) != 1 {
		t.Fatalf("expected upsert, got %d facts", len(all))
	}
	if all[0].ConfidenceScore != 90 {
		t.Fatalf("expected updated confidence 90, got %d", all[0].ConfidenceScore)
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	m, _ := NewMemoryStore()
	ctx := context.Background()

	facts := []state.Fact{
		state.NewFact("Transformer models dominate language benchmarks", "paper", 85),
		state.NewFact("Solar capacity grew forty percent last year", "report", 75),
	}
	if err := m.SaveFacts(ctx, facts); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}

	hits, err := m.Search(ctx, "transformer")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != facts[0].ID {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestMemoryStoreClearAndStats(t *testing.T) {
	m, _ := NewMemoryStore()
	ctx := context.Background()

	disputed := state.NewFact("contested claim about markets", "source", 60)
	disputed.Disputed = true
	if err := m.SaveFacts(ctx, []state.Fact{state.NewFact("solid claim with evidence", "source", 80), disputed}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FactCount != 2 || stats.DisputedFacts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.MeanConfidence != 0.7 {
		t.Fatalf("expected mean confidence 0.7, got %v", stats.MeanConfidence)
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if all, _ := m.GetAllFacts(ctx); len(all) != 0 {
		t.Fatalf("expected empty store after clear, got %d", len(all))
	}
}
