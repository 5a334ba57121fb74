// Package vectorstore provides the orchestrator's one boundary onto the
// vector/graph-RAG world spec.md §1 places out of scope: callers only ever
// see Upsert(chunks) and Query(text, k) -> chunks. Concrete backends (qdrant,
// pgvector, in-memory) are adapters behind that narrow surface.
package vectorstore

import "context"

// VectorResult is a single nearest-neighbor hit from a low-level backend.
type VectorResult struct {
	ID       string
	Score    float64 // higher is closer
	Metadata map[string]string
}

// VectorStore is the minimum interface a pluggable vector backend must satisfy.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// Chunk is the unit the research state machine exchanges with the knowledge
// store: a retrievable passage plus enough metadata to present it as if it
// were a search result.
type Chunk struct {
	ID       string
	Text     string
	Title    string
	URL      string
	Score    float64
	Metadata map[string]string
}

// Embedder turns text into a vector. It is the only piece of the embedding
// stack this module owns; real embedding models are an external collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// RelevanceCutoff is the minimum similarity score SENSO_LOOKUP treats as a
// "strong hit" per spec.md §4.3.
const RelevanceCutoff = 0.75

// KnowledgeStore is the senso/vector-RAG boundary: upsert retrievable chunks,
// query by free text. Everything below this interface (chunking, embedding
// model choice, ANN index) is an external collaborator per spec.md §1.
type KnowledgeStore interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Query(ctx context.Context, text string, k int) ([]Chunk, error)
}

// Store wires an Embedder on top of a VectorStore to implement KnowledgeStore.
type Store struct {
	backend  VectorStore
	embedder Embedder
}

// New constructs a KnowledgeStore from a low-level vector backend and embedder.
func New(backend VectorStore, embedder Embedder) *Store {
	return &Store{backend: backend, embedder: embedder}
}

// Upsert embeds and stores each chunk, keyed by its own ID.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return err
		}
		md := map[string]string{"text": c.Text, "title": c.Title, "url": c.URL}
		for k, v := range c.Metadata {
			md[k] = v
		}
		if err := s.backend.Upsert(ctx, c.ID, vec, md); err != nil {
			return err
		}
	}
	return nil
}

// Query embeds the text and returns the top-k nearest chunks.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.backend.SimilaritySearch(ctx, vec, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, Chunk{
			ID:       h.ID,
			Text:     h.Metadata["text"],
			Title:    h.Metadata["title"],
			URL:      h.Metadata["url"],
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	return out, nil
}
