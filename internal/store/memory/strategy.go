package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"probe/internal/apperr"
	"probe/internal/store"
)

func (s *Store) GetActive(_ context.Context, topicID string) (*store.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.strategies[topicID] {
		if st.Status == store.StatusActive {
			return &s.strategies[topicID][i], nil
		}
	}
	return nil, nil
}

func (s *Store) ListVersions(_ context.Context, topicID string) ([]store.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Strategy(nil), s.strategies[topicID]...), nil
}

func (s *Store) GetVersion(_ context.Context, topicID string, version int) (*store.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.strategies[topicID] {
		if st.Version == version {
			return &s.strategies[topicID][i], nil
		}
	}
	return nil, nil
}

func (s *Store) CreateDefault(_ context.Context, topicID string, defaultModel string) (store.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.strategies[topicID]) != 0 {
		return store.Strategy{}, apperr.New(apperr.InternalInvariant, "topic "+topicID+" already has strategies")
	}
	st := store.Strategy{
		TopicID:           topicID,
		Version:           1,
		Status:            store.StatusActive,
		RolloutPercentage: 100,
		Config:            store.DefaultConfig(defaultModel),
		CreatedAt:         time.Now().UTC(),
	}
	s.strategies[topicID] = append(s.strategies[topicID], st)
	return st, nil
}

func (s *Store) nextVersionLocked(topicID string) int {
	max := 0
	for _, st := range s.strategies[topicID] {
		if st.Version > max {
			max = st.Version
		}
	}
	return max + 1
}

// Promote atomically sets version to active and demotes the previously
// active version to archived.
func (s *Store) Promote(_ context.Context, topicID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.strategies[topicID]
	found := -1
	for i, st := range versions {
		if st.Version == version {
			found = i
		}
	}
	if found == -1 {
		return apperr.New(apperr.UnknownTopic, "no such strategy version")
	}
	for i := range versions {
		switch {
		case i == found:
			versions[i].Status = store.StatusActive
			versions[i].RolloutPercentage = 100
		case versions[i].Status == store.StatusActive:
			versions[i].Status = store.StatusArchived
			versions[i].RolloutPercentage = 0
		}
	}
	s.strategies[topicID] = versions
	v := version
	if t, ok := s.topics[topicID]; ok {
		t.ActiveStrategyVersion = &v
		t.UpdatedAt = time.Now().UTC()
		s.topics[topicID] = t
	}
	return nil
}

// CreateCandidate inserts a new candidate version per §4.1: rollout=20,
// archiving the oldest candidate first if total candidate rollout would
// exceed 80.
func (s *Store) CreateCandidate(_ context.Context, topicID string, cfg store.StrategyConfig, fromVersion int, reason string, changes map[string]store.ConfigChange) (store.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.strategies[topicID]
	candidateTotal := 0
	oldestCandidateIdx := -1
	for i, st := range versions {
		if st.Status == store.StatusCandidate {
			candidateTotal += st.RolloutPercentage
			if oldestCandidateIdx == -1 || st.CreatedAt.Before(versions[oldestCandidateIdx].CreatedAt) {
				oldestCandidateIdx = i
			}
		}
	}
	if candidateTotal+20 > 80 && oldestCandidateIdx != -1 {
		versions[oldestCandidateIdx].Status = store.StatusArchived
		versions[oldestCandidateIdx].RolloutPercentage = 0
	}

	next := s.nextVersionLocked(topicID)
	from := fromVersion
	st := store.Strategy{
		TopicID:           topicID,
		Version:           next,
		Status:            store.StatusCandidate,
		RolloutPercentage: 20,
		ParentVersion:     &from,
		Config:            cfg.Clone(),
		CreatedAt:         time.Now().UTC(),
	}
	s.strategies[topicID] = append(versions, st)

	entry := store.EvolutionLogEntry{
		ID:          uuid.NewString(),
		TopicID:     topicID,
		FromVersion: &from,
		ToVersion:   next,
		Reason:      reason,
		Changes:     changes,
		CreatedAt:   st.CreatedAt,
	}
	s.evolutions[topicID] = append(s.evolutions[topicID], entry)
	return st, nil
}

func (s *Store) ListEvolutions(_ context.Context, topicID string) ([]store.EvolutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.EvolutionLogEntry(nil), s.evolutions[topicID]...), nil
}
