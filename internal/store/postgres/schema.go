// Package postgres is a Postgres-backed store.Store implementation built on
// pgx/pgxpool, following the table-per-entity, JSONB-for-structured-fields
// style of manifold's internal/persistence/databases postgres stores.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a connection pool and verifies connectivity with a bounded
// ping, mirroring the teacher's newPgPool helper.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Init must be called once before use.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Init creates every table the store needs, idempotently.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS topics (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  active_strategy_version INTEGER,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
  key TEXT PRIMARY KEY,
  topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS strategies (
  topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
  version INTEGER NOT NULL,
  status TEXT NOT NULL,
  rollout_percentage INTEGER NOT NULL,
  parent_version INTEGER,
  config JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (topic_id, version)
);
CREATE INDEX IF NOT EXISTS strategies_topic_status_idx ON strategies(topic_id, status);

CREATE TABLE IF NOT EXISTS evolution_log (
  id TEXT PRIMARY KEY,
  topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
  from_version INTEGER,
  to_version INTEGER NOT NULL,
  reason TEXT NOT NULL,
  changes JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS evolution_log_topic_created_idx ON evolution_log(topic_id, created_at);

CREATE TABLE IF NOT EXISTS episodes (
  id TEXT PRIMARY KEY,
  topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL DEFAULT '',
  strategy_version INTEGER NOT NULL,
  query TEXT NOT NULL,
  status TEXT NOT NULL,
  error_message TEXT NOT NULL DEFAULT '',
  sources_returned JSONB NOT NULL DEFAULT '[]',
  sources_saved JSONB NOT NULL DEFAULT '[]',
  tool_usage JSONB NOT NULL DEFAULT '{}',
  followup_count INTEGER NOT NULL DEFAULT 0,
  senso_search_used BOOLEAN NOT NULL DEFAULT false,
  senso_generate_used BOOLEAN NOT NULL DEFAULT false,
  result_note_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS episodes_topic_strategy_idx ON episodes(topic_id, strategy_version);
CREATE INDEX IF NOT EXISTS episodes_created_idx ON episodes(created_at);

CREATE TABLE IF NOT EXISTS notes (
  id TEXT PRIMARY KEY,
  topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
  episode_id TEXT NOT NULL,
  title TEXT NOT NULL,
  content TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}
