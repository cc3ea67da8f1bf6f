package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"deepresearch/internal/state"
)

// PostgresStore is the durable backend. Besides facts it owns the user
// accounts and the standing research queries the scheduler re-runs.
type PostgresStore struct {
	DB *sql.DB
}

// NewPostgresWithDSN opens and pings a postgres connection.
func NewPostgresWithDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{DB: db}, nil
}

func (p *PostgresStore) SaveFacts(ctx context.Context, facts []state.Fact) error {
	for _, f := range facts {
		tags, err := json.Marshal(f.Tags)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(f.Metadata)
		if err != nil {
			return err
		}
		_, err = p.DB.ExecContext(ctx, `
INSERT INTO facts (id, content, source, confidence_score, extracted_at, disputed, tags, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content,
  confidence_score = EXCLUDED.confidence_score,
  disputed = EXCLUDED.disputed,
  tags = EXCLUDED.tags,
  metadata = EXCLUDED.metadata;
`, f.ID, f.Content, f.Source, f.ConfidenceScore, f.ExtractedAt, f.Disputed, tags, metadata)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) GetAllFacts(ctx context.Context) ([]state.Fact, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, content, source, confidence_score, extracted_at, disputed, tags, metadata
FROM facts ORDER BY extracted_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (p *PostgresStore) Search(ctx context.Context, query string) ([]state.Fact, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, content, source, confidence_score, extracted_at, disputed, tags, metadata
FROM facts WHERE content ILIKE '%' || $1 || '%' OR source ILIKE '%' || $1 || '%'
ORDER BY extracted_at ASC`, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM facts`)
	return err
}

func (p *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	facts, err := p.GetAllFacts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(facts), nil
}

func scanFacts(rows *sql.Rows) ([]state.Fact, error) {
	var facts []state.Fact
	for rows.Next() {
		var f state.Fact
		var tags, metadata []byte
		if err := rows.Scan(&f.ID, &f.Content, &f.Source, &f.ConfidenceScore,
			&f.ExtractedAt, &f.Disputed, &tags, &metadata); err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			_ = json.Unmarshal(tags, &f.Tags)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &f.Metadata)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// CreateUser inserts a new user account.
func (p *PostgresStore) CreateUser(ctx context.Context, email, hash string) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

// GetUserByEmail returns the user's id and password hash.
func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = p.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	return id, hash, err
}

// StandingQuery is a saved research query the scheduler re-runs on a
// cron expression.
type StandingQuery struct {
	ID        string
	UserID    string
	Query     string
	CronSpec  string
	LastRunAt sql.NullTime
	CreatedAt time.Time
}

// CreateStandingQuery registers a recurring research query.
func (p *PostgresStore) CreateStandingQuery(ctx context.Context, userID, query, cronSpec string) (string, error) {
	var id string
	err := p.DB.QueryRowContext(ctx, `
INSERT INTO standing_queries (user_id, query, cron_spec) VALUES ($1,$2,$3) RETURNING id`,
		userID, query, cronSpec).Scan(&id)
	return id, err
}

// ListStandingQueries returns every registered recurring query.
func (p *PostgresStore) ListStandingQueries(ctx context.Context) ([]StandingQuery, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, user_id, query, cron_spec, last_run_at, created_at FROM standing_queries ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StandingQuery
	for rows.Next() {
		var sq StandingQuery
		if err := rows.Scan(&sq.ID, &sq.UserID, &sq.Query, &sq.CronSpec, &sq.LastRunAt, &sq.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// TouchStandingQuery records a completed scheduled run.
func (p *PostgresStore) TouchStandingQuery(ctx context.Context, id string) error {
	_, err := p.DB.ExecContext(ctx, `UPDATE standing_queries SET last_run_at = NOW() WHERE id = $1`, id)
	return err
}
