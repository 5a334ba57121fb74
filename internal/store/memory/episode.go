package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"probe/internal/apperr"
	"probe/internal/store"
)

func (s *Store) CreateEpisode(_ context.Context, e store.Episode) (store.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.ToolUsage == nil {
		e.ToolUsage = make(map[string]int)
	}
	s.episodes[e.ID] = e
	s.episodeIDs[e.TopicID] = append(s.episodeIDs[e.TopicID], e.ID)
	return e, nil
}

func (s *Store) UpdateEpisode(_ context.Context, e store.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[e.ID]; !ok {
		return apperr.New(apperr.PersistenceError, "episode "+e.ID+" not found")
	}
	e.UpdatedAt = time.Now().UTC()
	s.episodes[e.ID] = e
	return nil
}

func (s *Store) GetEpisode(_ context.Context, id string) (store.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.episodes[id]
	if !ok {
		return store.Episode{}, apperr.New(apperr.PersistenceError, "episode "+id+" not found")
	}
	return e, nil
}

func (s *Store) ListEpisodes(_ context.Context, topicID string, p store.Page) ([]store.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Episode, 0, len(s.episodeIDs[topicID]))
	for _, id := range s.episodeIDs[topicID] {
		out = append(out, s.episodes[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if p.Limit <= 0 {
		return out, nil
	}
	start := p.Offset
	if start > len(out) {
		start = len(out)
	}
	end := start + p.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *Store) LatestCompleted(_ context.Context, topicID string, n int) ([]store.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Episode
	for _, id := range s.episodeIDs[topicID] {
		e := s.episodes[id]
		if e.Status == store.EpisodeCompleted {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) CreateNote(_ context.Context, n store.Note) (store.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	s.notes[n.ID] = n
	s.noteIDs[n.TopicID] = append(s.noteIDs[n.TopicID], n.ID)
	return n, nil
}

func (s *Store) GetNote(_ context.Context, topicID, noteID string) (store.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[noteID]
	if !ok || n.TopicID != topicID {
		return store.Note{}, apperr.New(apperr.PersistenceError, "note "+noteID+" not found")
	}
	return n, nil
}

func (s *Store) ListNotes(_ context.Context, topicID string) ([]store.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Note, 0, len(s.noteIDs[topicID]))
	for _, id := range s.noteIDs[topicID] {
		out = append(out, s.notes[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
