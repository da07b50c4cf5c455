package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/2php/iffse/internal/crawler"
)

const (
	getCursorSQL = `
SELECT topic, protocol_id, end_cursor, exhausted, updated_at
FROM topic_cursors WHERE topic = $1`

	putCursorSQL = `
INSERT INTO topic_cursors (topic, protocol_id, end_cursor, exhausted, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (topic) DO UPDATE SET
	protocol_id = EXCLUDED.protocol_id,
	end_cursor = EXCLUDED.end_cursor,
	exhausted = EXCLUDED.exhausted,
	updated_at = EXCLUDED.updated_at`

	listCursorsSQL = `
SELECT topic, protocol_id, end_cursor, exhausted, updated_at
FROM topic_cursors ORDER BY topic`

	deleteCursorSQL = `DELETE FROM topic_cursors WHERE topic = $1`
)

// CursorStore persists topic pagination state. Failures other than a missing
// row are reported as crawler.ErrStoreUnavailable.
type CursorStore struct {
	db DB
}

// NewCursorStore builds a CursorStore over db.
func NewCursorStore(db DB) (*CursorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CursorStore{db: db}, nil
}

// Get returns the state for topic or crawler.ErrNotFound.
func (s *CursorStore) Get(ctx context.Context, topic string) (crawler.TopicState, error) {
	var state crawler.TopicState
	err := s.db.QueryRow(ctx, getCursorSQL, topic).Scan(
		&state.Topic, &state.ProtocolID, &state.Cursor, &state.Exhausted, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.TopicState{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.TopicState{}, unavailable("get cursor", err)
	}
	return state, nil
}

// Put upserts the full state.
func (s *CursorStore) Put(ctx context.Context, state crawler.TopicState) error {
	_, err := s.db.Exec(ctx, putCursorSQL,
		state.Topic, state.ProtocolID, state.Cursor, state.Exhausted, state.UpdatedAt,
	)
	if err != nil {
		return unavailable("put cursor", err)
	}
	return nil
}

// List returns every stored state ordered by topic.
func (s *CursorStore) List(ctx context.Context) ([]crawler.TopicState, error) {
	rows, err := s.db.Query(ctx, listCursorsSQL)
	if err != nil {
		return nil, unavailable("list cursors", err)
	}
	defer rows.Close()

	var out []crawler.TopicState
	for rows.Next() {
		var state crawler.TopicState
		if err := rows.Scan(&state.Topic, &state.ProtocolID, &state.Cursor, &state.Exhausted, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list cursors", err)
	}
	return out, nil
}

// Delete removes the state for topic.
func (s *CursorStore) Delete(ctx context.Context, topic string) error {
	tag, err := s.db.Exec(ctx, deleteCursorSQL, topic)
	if err != nil {
		return unavailable("delete cursor", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}
