package store

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"deepresearch/internal/state"
)

func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.RunContainer(ctx, testcontainers.WithImage("redis:7-alpine"))
	if err != nil {
		t.Skipf("redis container not available: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parsing redis url: %v", err)
	}
	st := NewRedisStore(goredis.NewClient(opts))

	first := state.NewFact("Redis persists extracted facts", "integration", 80)
	second := state.NewFact("Ordering is preserved across saves", "integration", 70)
	if err := st.SaveFacts(ctx, []state.Fact{first, second}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}

	all, err := st.GetAllFacts(ctx)
	if err != nil {
		t.Fatalf("GetAllFacts: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID || all[1].ID != second.ID {
		t.Fatalf("unexpected facts: %+v", all)
	}

	hits, err := st.Search(ctx, "ordering")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != second.ID {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if all, _ := st.GetAllFacts(ctx); len(all) != 0 {
		t.Fatalf("expected empty store after clear, got %d", len(all))
	}
}
