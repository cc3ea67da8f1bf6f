package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "server": {"address": ":9090", "jwt_secret": "secret"},
  "search": {"provider": "brave", "api_key": "key", "max_results": 5},
  "storage": {"backend": "redis", "redis": {"host": "localhost", "port": "6379"}}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %q", cfg.Server.Address)
	}
	if cfg.Search.Provider != "brave" || cfg.Search.MaxResults != 5 {
		t.Fatalf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Timeout != 5*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg.Storage)
	}
	if cfg.Engine.ResearcherIterations != 5 {
		t.Fatalf("default iterations not applied: %+v", cfg.Engine)
	}
}

func TestValidate(t *testing.T) {
	if err := (SearchConfig{Provider: "google", MaxResults: 3}).Validate(); err == nil {
		t.Fatal("expected unknown search provider to fail")
	}
	if err := (StorageConfig{Backend: "postgres"}).Validate(); err == nil {
		t.Fatal("expected postgres backend without connection info to fail")
	}
	if err := (StorageConfig{Backend: "postgres", Postgres: PostgresConfig{URL: "postgres://u:p@h/db"}}).Validate(); err != nil {
		t.Fatalf("url-only postgres config should pass: %v", err)
	}
	if err := (EngineConfig{ResearcherIterations: 0, SupervisorIterations: 5, ClarifierRounds: 1}).Validate(); err == nil {
		t.Fatal("expected zero researcher budget to fail")
	}
	if err := (FetchConfig{Type: "curl"}).Validate(); err == nil {
		t.Fatal("expected unknown fetcher to fail")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "app", Password: "pw", DBName: "research"}
	want := "host=db port=5432 user=app password=pw dbname=research sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN: want %q, got %q", want, got)
	}
	if got := (PostgresConfig{URL: "postgres://x"}).DSN(); got != "postgres://x" {
		t.Fatalf("expected url passthrough, got %q", got)
	}
}
