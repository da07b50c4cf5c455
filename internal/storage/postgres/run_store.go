package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/2php/iffse/internal/store"
)

const (
	startRunSQL = `
INSERT INTO crawl_runs (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
WHERE crawl_runs.status <> EXCLUDED.status`

	finishRunSQL = `
UPDATE crawl_runs SET finished_at = $1, status = $2, error_message = $3
WHERE id = $4`

	addTopicStatsSQL = `
INSERT INTO topic_stats (run_id, topic, last_update, pages, rate_limited, reseeds,
	created, already_exists, skipped, failed, faces)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (run_id, topic) DO UPDATE SET
	last_update = GREATEST(topic_stats.last_update, EXCLUDED.last_update),
	pages = topic_stats.pages + EXCLUDED.pages,
	rate_limited = topic_stats.rate_limited + EXCLUDED.rate_limited,
	reseeds = topic_stats.reseeds + EXCLUDED.reseeds,
	created = topic_stats.created + EXCLUDED.created,
	already_exists = topic_stats.already_exists + EXCLUDED.already_exists,
	skipped = topic_stats.skipped + EXCLUDED.skipped,
	failed = topic_stats.failed + EXCLUDED.failed,
	faces = topic_stats.faces + EXCLUDED.faces`

	getRunSQL = `
SELECT id, started_at, finished_at, status, error_message
FROM crawl_runs WHERE id = $1`

	listRunsSQL = `
SELECT id, started_at, finished_at, status, error_message
FROM crawl_runs
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`

	listRunTopicsSQL = `
SELECT run_id, topic, last_update, pages, rate_limited, reseeds,
	created, already_exists, skipped, failed, faces
FROM topic_stats
WHERE run_id = $1
ORDER BY topic
LIMIT $2 OFFSET $3`
)

// RunStore implements store.RunRepository.
type RunStore struct {
	db DB
}

// NewRunStore builds a RunStore over db.
func NewRunStore(db DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// StartRun inserts a running run, or resets its status to running.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	if _, err := s.db.Exec(ctx, startRunSQL, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	tag, err := s.db.Exec(ctx, finishRunSQL, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddTopicStats adds delta to the (run, topic) counters in one upsert.
func (s *RunStore) AddTopicStats(
	ctx context.Context,
	runID uuid.UUID,
	topic string,
	delta store.TopicDelta,
	at time.Time,
) error {
	_, err := s.db.Exec(ctx, addTopicStatsSQL,
		runID, topic, at,
		delta.Pages, delta.RateLimited, delta.Reseeds,
		delta.Created, delta.AlreadyExists, delta.Skipped, delta.Failed, delta.Faces,
	)
	if err != nil {
		return fmt.Errorf("add topic stats: %w", err)
	}
	return nil
}

// GetRun loads one run or store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	var run store.Run
	err := s.db.QueryRow(ctx, getRunSQL, runID).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, listRunsSQL, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunTopics returns the per-topic counters of one run ordered by topic.
func (s *RunStore) ListRunTopics(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.TopicStats, error) {
	rows, err := s.db.Query(ctx, listRunTopicsSQL, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run topics: %w", err)
	}
	defer rows.Close()

	var stats []store.TopicStats
	for rows.Next() {
		var st store.TopicStats
		err := rows.Scan(
			&st.RunID, &st.Topic, &st.LastUpdate,
			&st.Pages, &st.RateLimited, &st.Reseeds,
			&st.Created, &st.AlreadyExists, &st.Skipped, &st.Failed, &st.Faces,
		)
		if err != nil {
			return nil, fmt.Errorf("scan topic stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run topics: %w", err)
	}
	return stats, nil
}
