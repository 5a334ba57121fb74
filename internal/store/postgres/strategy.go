package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"probe/internal/apperr"
	"probe/internal/store"
)

func (s *Store) GetActive(ctx context.Context, topicID string) (*store.Strategy, error) {
	row := s.pool.QueryRow(ctx, `
SELECT topic_id, version, status, rollout_percentage, parent_version, config, created_at
FROM strategies WHERE topic_id = $1 AND status = 'active'`, topicID)
	st, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "get active strategy", err)
	}
	return &st, nil
}

func (s *Store) ListVersions(ctx context.Context, topicID string) ([]store.Strategy, error) {
	rows, err := s.pool.Query(ctx, `
SELECT topic_id, version, status, rollout_percentage, parent_version, config, created_at
FROM strategies WHERE topic_id = $1 ORDER BY version ASC`, topicID)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "list strategy versions", err)
	}
	defer rows.Close()
	var out []store.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, topicID string, version int) (*store.Strategy, error) {
	row := s.pool.QueryRow(ctx, `
SELECT topic_id, version, status, rollout_percentage, parent_version, config, created_at
FROM strategies WHERE topic_id = $1 AND version = $2`, topicID, version)
	st, err := scanStrategy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "get strategy version", err)
	}
	return &st, nil
}

func (s *Store) CreateDefault(ctx context.Context, topicID string, defaultModel string) (store.Strategy, error) {
	cfg := store.DefaultConfig(defaultModel)
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return store.Strategy{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO strategies (topic_id, version, status, rollout_percentage, parent_version, config)
VALUES ($1, 1, 'active', 100, NULL, $2)
RETURNING topic_id, version, status, rollout_percentage, parent_version, config, created_at`,
		topicID, cfgJSON)
	st, err := scanStrategy(row)
	if err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "create default strategy", err)
	}
	return st, nil
}

// Promote demotes any currently-active version and activates the target,
// inside a transaction so "exactly one active row" never observably breaks.
func (s *Store) Promote(ctx context.Context, topicID string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, "begin promote tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `SELECT 1 FROM strategies WHERE topic_id = $1 AND version = $2 FOR UPDATE`, topicID, version)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, "lock target strategy", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.UnknownTopic, "no such strategy version")
	}
	if _, err := tx.Exec(ctx, `
UPDATE strategies SET status = 'archived', rollout_percentage = 0
WHERE topic_id = $1 AND status = 'active' AND version <> $2`, topicID, version); err != nil {
		return apperr.Wrap(apperr.PersistenceError, "archive previous active strategy", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE strategies SET status = 'active', rollout_percentage = 100
WHERE topic_id = $1 AND version = $2`, topicID, version); err != nil {
		return apperr.Wrap(apperr.PersistenceError, "activate strategy", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE topics SET active_strategy_version = $2, updated_at = now() WHERE id = $1`, topicID, version); err != nil {
		return apperr.Wrap(apperr.PersistenceError, "update topic active version", err)
	}
	return tx.Commit(ctx)
}

// CreateCandidate inserts a new candidate version, archiving the oldest
// candidate first if the rollout budget (§4.1) would be exceeded, and
// appends an EvolutionLogEntry in the same transaction.
func (s *Store) CreateCandidate(ctx context.Context, topicID string, cfg store.StrategyConfig, fromVersion int, reason string, changes map[string]store.ConfigChange) (store.Strategy, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "begin create-candidate tx", err)
	}
	defer tx.Rollback(ctx)

	var candidateTotal int
	if err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(rollout_percentage), 0) FROM strategies WHERE topic_id = $1 AND status = 'candidate'`, topicID).Scan(&candidateTotal); err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "sum candidate rollout", err)
	}
	if candidateTotal+20 > 80 {
		if _, err := tx.Exec(ctx, `
UPDATE strategies SET status = 'archived', rollout_percentage = 0
WHERE topic_id = $1 AND version = (
  SELECT version FROM strategies WHERE topic_id = $1 AND status = 'candidate' ORDER BY created_at ASC LIMIT 1
)`, topicID); err != nil {
			return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "archive oldest candidate", err)
		}
	}

	var next int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM strategies WHERE topic_id = $1`, topicID).Scan(&next); err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "compute next version", err)
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return store.Strategy{}, err
	}
	row := tx.QueryRow(ctx, `
INSERT INTO strategies (topic_id, version, status, rollout_percentage, parent_version, config)
VALUES ($1, $2, 'candidate', 20, $3, $4)
RETURNING topic_id, version, status, rollout_percentage, parent_version, config, created_at`,
		topicID, next, fromVersion, cfgJSON)
	st, err := scanStrategy(row)
	if err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "insert candidate strategy", err)
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return store.Strategy{}, err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO evolution_log (id, topic_id, from_version, to_version, reason, changes)
VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), topicID, fromVersion, next, reason, changesJSON); err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "insert evolution log entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Strategy{}, apperr.Wrap(apperr.PersistenceError, "commit create-candidate tx", err)
	}
	return st, nil
}

func (s *Store) ListEvolutions(ctx context.Context, topicID string) ([]store.EvolutionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic_id, from_version, to_version, reason, changes, created_at
FROM evolution_log WHERE topic_id = $1 ORDER BY created_at ASC`, topicID)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "list evolutions", err)
	}
	defer rows.Close()
	var out []store.EvolutionLogEntry
	for rows.Next() {
		var e store.EvolutionLogEntry
		var changesJSON []byte
		if err := rows.Scan(&e.ID, &e.TopicID, &e.FromVersion, &e.ToVersion, &e.Reason, &changesJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(changesJSON, &e.Changes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanStrategy(row rowScanner) (store.Strategy, error) {
	var st store.Strategy
	var cfgJSON []byte
	if err := row.Scan(&st.TopicID, &st.Version, &st.Status, &st.RolloutPercentage, &st.ParentVersion, &cfgJSON, &st.CreatedAt); err != nil {
		return store.Strategy{}, err
	}
	if err := json.Unmarshal(cfgJSON, &st.Config); err != nil {
		return store.Strategy{}, err
	}
	return st, nil
}
