package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/2php/iffse/internal/crawler"
)

const (
	insertPostSQL = `
INSERT INTO posts (id, item_key, media_url, topic, image_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (item_key) DO NOTHING
RETURNING id`

	insertEmbeddingSQL = `
INSERT INTO face_embeddings (post_id, face_index, embedding)
VALUES ($1, $2, $3)`

	postExistsSQL = `SELECT EXISTS (SELECT 1 FROM posts WHERE item_key = $1)`
)

// PostStore commits Posts and face embeddings in one transaction.
type PostStore struct {
	db DB
}

// NewPostStore builds a PostStore over db.
func NewPostStore(db DB) (*PostStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostStore{db: db}, nil
}

// Commit inserts the Post if its item key is new and writes every vector in
// the same transaction. A conflicting item key rolls back and reports
// CommitAlreadyExists; any later failure rolls the Post back too.
func (s *PostStore) Commit(ctx context.Context, post crawler.Post, vectors [][]float32) (crawler.CommitResult, error) {
	if post.ID == "" || post.ItemKey == "" {
		return "", fmt.Errorf("post id and item key are required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", unavailable("begin commit", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // rollback after failure is best-effort
		}
	}()

	var postID string
	err = tx.QueryRow(ctx, insertPostSQL,
		post.ID, post.ItemKey, post.MediaURL, post.Topic, post.ImageHash, post.CreatedAt,
	).Scan(&postID)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CommitAlreadyExists, nil
	}
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}

	for i, v := range vectors {
		if _, err := tx.Exec(ctx, insertEmbeddingSQL, postID, i, pgvector.NewVector(v)); err != nil {
			return "", fmt.Errorf("insert embedding %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit post: %w", err)
	}
	committed = true
	return crawler.CommitCreated, nil
}

// Exists reports whether a Post exists for itemKey.
func (s *PostStore) Exists(ctx context.Context, itemKey string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, postExistsSQL, itemKey).Scan(&exists); err != nil {
		return false, unavailable("check post", err)
	}
	return exists, nil
}

// Close releases the underlying pool.
func (s *PostStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}
