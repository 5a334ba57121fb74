package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BackendConfig selects and parameterizes a VectorStore backend. The zero
// value resolves to an in-memory store, which is what every topic gets until
// an operator points it at qdrant or Postgres.
type BackendConfig struct {
	Backend    string // "", "memory", "qdrant", "postgres"
	DSN        string
	Collection string // qdrant only
	Dimensions int
	Metric     string // cosine|l2|ip
}

// NewKnowledgeStore resolves a BackendConfig into a ready KnowledgeStore,
// pairing the selected VectorStore with a deterministic Embedder. Real
// embedding models are wired in by replacing the Embedder at the call site
// (e.g. an OpenAI embeddings adapter); the deterministic one keeps the store
// usable with zero external dependencies.
func NewKnowledgeStore(ctx context.Context, cfg BackendConfig) (KnowledgeStore, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = 64
	}
	return New(backend, NewDeterministicEmbedder(dim, true, 0)), nil
}

// NewBackend resolves a BackendConfig into a low-level VectorStore.
func NewBackend(ctx context.Context, cfg BackendConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryVector(), nil
	case "qdrant":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("vector backend qdrant requires a DSN")
		}
		collection := cfg.Collection
		if collection == "" {
			collection = "probe_senso"
		}
		return NewQdrantVector(cfg.DSN, collection, cfg.Dimensions, cfg.Metric)
	case "postgres", "pgvector":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("vector backend postgres requires a DSN")
		}
		pool, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres (vector): %w", err)
		}
		return NewPostgresVector(pool, cfg.Dimensions, cfg.Metric), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
