// Package store provides the durable fact store behind the research
// engines, with in-memory, redis and postgres backends.
package store

import (
	"context"
	"errors"

	"deepresearch/internal/state"
)

// FactStore is the persistence collaborator the engines write extracted
// facts into and read the knowledge base back from.
type FactStore interface {
	SaveFacts(ctx context.Context, facts []state.Fact) error
	GetAllFacts(ctx context.Context) ([]state.Fact, error)
	Search(ctx context.Context, query string) ([]state.Fact, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// Stats summarizes the stored corpus.
type Stats struct {
	FactCount      int     `json:"fact_count"`
	MeanConfidence float64 `json:"mean_confidence"`
	DisputedFacts  int     `json:"disputed_facts"`
}

// Backend selects a fact store implementation.
type Backend string

const (
	MemoryBackend   Backend = "memory"
	RedisBackend    Backend = "redis"
	PostgresBackend Backend = "postgres"
)

var ErrUnsupportedBackend = errors.New("unsupported store backend")

func statsOf(facts []state.Fact) Stats {
	st := Stats{FactCount: len(facts)}
	var sum float64
	for _, f := range facts {
		sum += f.Confidence()
		if f.Disputed {
			st.DisputedFacts++
		}
	}
	if len(facts) > 0 {
		st.MeanConfidence = sum / float64(len(facts))
	}
	return st
}
