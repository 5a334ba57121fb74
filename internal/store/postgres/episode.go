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

func (s *Store) CreateEpisode(ctx context.Context, e store.Episode) (store.Episode, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ToolUsage == nil {
		e.ToolUsage = make(map[string]int)
	}
	srcReturned, err := json.Marshal(e.SourcesReturned)
	if err != nil {
		return store.Episode{}, err
	}
	srcSaved, err := json.Marshal(e.SourcesSaved)
	if err != nil {
		return store.Episode{}, err
	}
	toolUsage, err := json.Marshal(e.ToolUsage)
	if err != nil {
		return store.Episode{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO episodes (id, topic_id, user_id, strategy_version, query, status, error_message,
  sources_returned, sources_saved, tool_usage, followup_count, senso_search_used, senso_generate_used, result_note_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, topic_id, user_id, strategy_version, query, status, error_message,
  sources_returned, sources_saved, tool_usage, followup_count, senso_search_used, senso_generate_used,
  result_note_id, created_at, updated_at`,
		e.ID, e.TopicID, e.UserID, e.StrategyVersion, e.Query, e.Status, e.ErrorMessage,
		srcReturned, srcSaved, toolUsage, e.FollowupCount, e.SensoSearchUsed, e.SensoGenerateUsed, nullableString(e.ResultNoteID))
	return scanEpisode(row)
}

func (s *Store) UpdateEpisode(ctx context.Context, e store.Episode) error {
	srcReturned, err := json.Marshal(e.SourcesReturned)
	if err != nil {
		return err
	}
	srcSaved, err := json.Marshal(e.SourcesSaved)
	if err != nil {
		return err
	}
	toolUsage, err := json.Marshal(e.ToolUsage)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE episodes SET status=$2, error_message=$3, sources_returned=$4, sources_saved=$5,
  tool_usage=$6, followup_count=$7, senso_search_used=$8, senso_generate_used=$9,
  result_note_id=$10, updated_at=now()
WHERE id=$1`,
		e.ID, e.Status, e.ErrorMessage, srcReturned, srcSaved, toolUsage, e.FollowupCount,
		e.SensoSearchUsed, e.SensoGenerateUsed, nullableString(e.ResultNoteID))
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, "update episode", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.PersistenceError, "episode "+e.ID+" not found")
	}
	return nil
}

func (s *Store) GetEpisode(ctx context.Context, id string) (store.Episode, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, topic_id, user_id, strategy_version, query, status, error_message,
  sources_returned, sources_saved, tool_usage, followup_count, senso_search_used, senso_generate_used,
  result_note_id, created_at, updated_at
FROM episodes WHERE id = $1`, id)
	e, err := scanEpisode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Episode{}, apperr.New(apperr.PersistenceError, "episode "+id+" not found")
	}
	return e, err
}

func (s *Store) ListEpisodes(ctx context.Context, topicID string, p store.Page) ([]store.Episode, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, topic_id, user_id, strategy_version, query, status, error_message,
  sources_returned, sources_saved, tool_usage, followup_count, senso_search_used, senso_generate_used,
  result_note_id, created_at, updated_at
FROM episodes WHERE topic_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, topicID, limit, p.Offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "list episodes", err)
	}
	defer rows.Close()
	var out []store.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LatestCompleted(ctx context.Context, topicID string, n int) ([]store.Episode, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic_id, user_id, strategy_version, query, status, error_message,
  sources_returned, sources_saved, tool_usage, followup_count, senso_search_used, senso_generate_used,
  result_note_id, created_at, updated_at
FROM episodes WHERE topic_id = $1 AND status = 'completed'
ORDER BY created_at DESC LIMIT $2`, topicID, n)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "latest completed episodes", err)
	}
	defer rows.Close()
	var out []store.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateNote(ctx context.Context, n store.Note) (store.Note, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO notes (id, topic_id, episode_id, title, content, type)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, topic_id, episode_id, title, content, type, created_at`,
		n.ID, n.TopicID, n.EpisodeID, n.Title, n.Content, n.Type)
	return scanNote(row)
}

func (s *Store) GetNote(ctx context.Context, topicID, noteID string) (store.Note, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, topic_id, episode_id, title, content, type, created_at
FROM notes WHERE id = $1 AND topic_id = $2`, noteID, topicID)
	n, err := scanNote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Note{}, apperr.New(apperr.PersistenceError, "note "+noteID+" not found")
	}
	return n, err
}

func (s *Store) ListNotes(ctx context.Context, topicID string) ([]store.Note, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic_id, episode_id, title, content, type, created_at
FROM notes WHERE topic_id = $1 ORDER BY created_at DESC`, topicID)
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, "list notes", err)
	}
	defer rows.Close()
	var out []store.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanEpisode(row rowScanner) (store.Episode, error) {
	var e store.Episode
	var srcReturned, srcSaved, toolUsage []byte
	var resultNoteID *string
	if err := row.Scan(&e.ID, &e.TopicID, &e.UserID, &e.StrategyVersion, &e.Query, &e.Status, &e.ErrorMessage,
		&srcReturned, &srcSaved, &toolUsage, &e.FollowupCount, &e.SensoSearchUsed, &e.SensoGenerateUsed,
		&resultNoteID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return store.Episode{}, err
	}
	if resultNoteID != nil {
		e.ResultNoteID = *resultNoteID
	}
	if err := json.Unmarshal(srcReturned, &e.SourcesReturned); err != nil {
		return store.Episode{}, err
	}
	if err := json.Unmarshal(srcSaved, &e.SourcesSaved); err != nil {
		return store.Episode{}, err
	}
	if err := json.Unmarshal(toolUsage, &e.ToolUsage); err != nil {
		return store.Episode{}, err
	}
	return e, nil
}

func scanNote(row rowScanner) (store.Note, error) {
	var n store.Note
	if err := row.Scan(&n.ID, &n.TopicID, &n.EpisodeID, &n.Title, &n.Content, &n.Type, &n.CreatedAt); err != nil {
		return store.Note{}, err
	}
	return n, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
