package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"probe/internal/apperr"
	"probe/internal/store"
)

func (s *Store) CreateTopic(ctx context.Context, t store.Topic) (store.Topic, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO topics (id, title, description, active_strategy_version)
VALUES ($1, $2, $3, $4)
RETURNING id, title, description, active_strategy_version, created_at, updated_at`,
		t.ID, t.Title, t.Description, t.ActiveStrategyVersion)
	return scanTopic(row)
}

func (s *Store) GetTopic(ctx context.Context, id string) (store.Topic, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, description, active_strategy_version, created_at, updated_at
FROM topics WHERE id = $1`, id)
	t, err := scanTopic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Topic{}, apperr.New(apperr.UnknownTopic, "topic "+id+" not found")
	}
	return t, err
}

func (s *Store) ListTopics(ctx context.Context, p store.Page) ([]store.Topic, error) {
	limit, offset := p.Limit, p.Offset
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, title, description, active_strategy_version, created_at, updated_at
FROM topics ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Topic
	for rows.Next() {
		t, err := scanTopicRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) SetActiveStrategyVersion(ctx context.Context, topicID string, version int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE topics SET active_strategy_version = $2, updated_at = now() WHERE id = $1`, topicID, version)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, "update active strategy version", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.UnknownTopic, "topic "+topicID+" not found")
	}
	return nil
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, "delete topic", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.UnknownTopic, "topic "+id+" not found")
	}
	return nil
}

func (s *Store) LookupIdempotencyKey(ctx context.Context, key string) (string, bool) {
	var topicID string
	err := s.pool.QueryRow(ctx, `SELECT topic_id FROM idempotency_keys WHERE key = $1`, key).Scan(&topicID)
	if err != nil {
		return "", false
	}
	return topicID, true
}

func (s *Store) RecordIdempotencyKey(ctx context.Context, key, topicID string) {
	_, _ = s.pool.Exec(ctx, `INSERT INTO idempotency_keys(key, topic_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, key, topicID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (store.Topic, error) {
	var t store.Topic
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.ActiveStrategyVersion, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return store.Topic{}, err
	}
	return t, nil
}

func scanTopicRow(rows pgx.Rows) (store.Topic, error) { return scanTopic(rows) }
