// Package strategy is the Strategy Store façade (§4.1): it adds weighted
// version selection and config diffing on top of a store.StrategyStore,
// which does the actual persistence and invariant enforcement.
package strategy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"probe/internal/apperr"
	"probe/internal/store"
)

// Store wraps a store.StrategyStore with the selection RNG and default
// model used to seed new topics.
type Store struct {
	backend      store.StrategyStore
	defaultModel string

	mu  sync.Mutex
	rng *rand.Rand
}

// New constructs a Store. seed 0 means "seed from the current time", per §9
// ("default seed = current time with per-request jitter"); tests should
// pass a fixed non-zero seed for determinism.
func New(backend store.StrategyStore, defaultModel string, seed int64) *Store {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Store{backend: backend, defaultModel: defaultModel, rng: rand.New(rand.NewSource(seed))}
}

func (s *Store) GetActive(ctx context.Context, topicID string) (*store.Strategy, error) {
	return s.backend.GetActive(ctx, topicID)
}

func (s *Store) ListVersions(ctx context.Context, topicID string) ([]store.Strategy, error) {
	return s.backend.ListVersions(ctx, topicID)
}

func (s *Store) CreateDefault(ctx context.Context, topicID string) (store.Strategy, error) {
	return s.backend.CreateDefault(ctx, topicID, s.defaultModel)
}

func (s *Store) Promote(ctx context.Context, topicID string, version int) error {
	return s.backend.Promote(ctx, topicID, version)
}

func (s *Store) ListEvolutions(ctx context.Context, topicID string) ([]store.EvolutionLogEntry, error) {
	return s.backend.ListEvolutions(ctx, topicID)
}

// SelectForQuery picks a strategy version for one incoming query, weighted
// by rolloutPercentage across {active, candidate} versions (§4.1). Weights
// are normalized if they don't sum to 100; a topic with only an active
// strategy always returns it.
func (s *Store) SelectForQuery(ctx context.Context, topicID string) (*store.Strategy, error) {
	versions, err := s.backend.ListVersions(ctx, topicID)
	if err != nil {
		return nil, err
	}
	var eligible []store.Strategy
	for _, v := range versions {
		if v.Status == store.StatusActive || v.Status == store.StatusCandidate {
			eligible = append(eligible, v)
		}
	}
	if len(eligible) == 0 {
		return nil, apperr.New(apperr.NoStrategyConfigured, "topic "+topicID+" has no active or candidate strategy")
	}
	if len(eligible) == 1 {
		return &eligible[0], nil
	}

	total := 0
	for _, v := range eligible {
		total += v.RolloutPercentage
	}
	if total <= 0 {
		return &eligible[0], nil
	}

	s.mu.Lock()
	roll := s.rng.Intn(total)
	s.mu.Unlock()

	acc := 0
	for i := range eligible {
		acc += eligible[i].RolloutPercentage
		if roll < acc {
			return &eligible[i], nil
		}
	}
	return &eligible[len(eligible)-1], nil
}

// CreateCandidate diffs newConfig against the config of version fromVersion
// and asks the backend to persist a new candidate version plus the
// evolution log entry carrying that diff. A no-op diff means the
// caller should treat this as "keep" and never call CreateCandidate at all;
// this method always creates a version when called; callers are
// responsible for invoking it only once a diff is known non-empty (see
// internal/evolve).
func (s *Store) CreateCandidate(ctx context.Context, topicID string, newConfig store.StrategyConfig, fromVersion int, reason string) (store.Strategy, map[string]store.ConfigChange, error) {
	active, err := s.backend.GetVersion(ctx, topicID, fromVersion)
	if err != nil {
		return store.Strategy{}, nil, err
	}
	if active == nil {
		return store.Strategy{}, nil, apperr.New(apperr.UnknownTopic, "unknown strategy version to evolve from")
	}
	changes := DiffConfig(active.Config, newConfig)
	st, err := s.backend.CreateCandidate(ctx, topicID, newConfig, fromVersion, reason, changes)
	return st, changes, err
}
