// Package memory is an in-process store.Store implementation: a single
// mutex guarding plain maps, good for tests and for running the orchestrator
// with no database configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"probe/internal/apperr"
	"probe/internal/store"
)

// Store is a mutex-guarded, in-memory store.Store.
type Store struct {
	mu sync.Mutex

	topics     map[string]store.Topic
	idemKeys   map[string]string
	strategies map[string][]store.Strategy // topicID -> versions, append-only
	evolutions map[string][]store.EvolutionLogEntry
	episodes   map[string]store.Episode
	episodeIDs map[string][]string // topicID -> episode ids in creation order
	notes      map[string]store.Note
	noteIDs    map[string][]string // topicID -> note ids in creation order
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		topics:     make(map[string]store.Topic),
		idemKeys:   make(map[string]string),
		strategies: make(map[string][]store.Strategy),
		evolutions: make(map[string][]store.EvolutionLogEntry),
		episodes:   make(map[string]store.Episode),
		episodeIDs: make(map[string][]string),
		notes:      make(map[string]store.Note),
		noteIDs:    make(map[string][]string),
	}
}

func (s *Store) CreateTopic(_ context.Context, t store.Topic) (store.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	s.topics[t.ID] = t
	return t, nil
}

func (s *Store) GetTopic(_ context.Context, id string) (store.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return store.Topic{}, apperr.New(apperr.UnknownTopic, "topic "+id+" not found")
	}
	return t, nil
}

func (s *Store) ListTopics(_ context.Context, p store.Page) ([]store.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, p), nil
}

func (s *Store) SetActiveStrategyVersion(_ context.Context, topicID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[topicID]
	if !ok {
		return apperr.New(apperr.UnknownTopic, "topic "+topicID+" not found")
	}
	v := version
	t.ActiveStrategyVersion = &v
	t.UpdatedAt = time.Now().UTC()
	s.topics[topicID] = t
	return nil
}

func (s *Store) DeleteTopic(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; !ok {
		return apperr.New(apperr.UnknownTopic, "topic "+id+" not found")
	}
	delete(s.topics, id)
	delete(s.strategies, id)
	delete(s.evolutions, id)
	for _, epID := range s.episodeIDs[id] {
		delete(s.episodes, epID)
	}
	delete(s.episodeIDs, id)
	for _, noteID := range s.noteIDs[id] {
		delete(s.notes, noteID)
	}
	delete(s.noteIDs, id)
	return nil
}

func (s *Store) LookupIdempotencyKey(_ context.Context, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idemKeys[key]
	return id, ok
}

func (s *Store) RecordIdempotencyKey(_ context.Context, key, topicID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idemKeys[key] = topicID
}

func paginate(topics []store.Topic, p store.Page) []store.Topic {
	if p.Limit <= 0 {
		return topics
	}
	start := p.Offset
	if start > len(topics) {
		start = len(topics)
	}
	end := start + p.Limit
	if end > len(topics) {
		end = len(topics)
	}
	return topics[start:end]
}
