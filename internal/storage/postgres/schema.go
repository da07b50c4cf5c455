package postgres

import (
	"context"
	"fmt"
)

// Migrate creates the tables used by the stores. dimension sizes the vector column.
func Migrate(ctx context.Context, db DB, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be > 0")
	}
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS posts (
	id UUID PRIMARY KEY,
	item_key TEXT NOT NULL UNIQUE,
	media_url TEXT NOT NULL,
	topic TEXT NOT NULL,
	image_hash TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS face_embeddings (
	post_id UUID NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	face_index INT NOT NULL,
	embedding vector(%d) NOT NULL,
	PRIMARY KEY (post_id, face_index)
)`, dimension),
		`CREATE TABLE IF NOT EXISTS topic_cursors (
	topic TEXT PRIMARY KEY,
	protocol_id TEXT NOT NULL,
	end_cursor TEXT NOT NULL DEFAULT '',
	exhausted BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS crawl_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	error_message TEXT
)`,
		`CREATE TABLE IF NOT EXISTS topic_stats (
	run_id UUID NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
	topic TEXT NOT NULL,
	last_update TIMESTAMPTZ NOT NULL,
	pages BIGINT NOT NULL DEFAULT 0,
	rate_limited BIGINT NOT NULL DEFAULT 0,
	reseeds BIGINT NOT NULL DEFAULT 0,
	created BIGINT NOT NULL DEFAULT 0,
	already_exists BIGINT NOT NULL DEFAULT 0,
	skipped BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	faces BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, topic)
)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
