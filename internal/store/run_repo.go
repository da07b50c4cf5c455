package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the crawl_runs.status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one process lifetime of the crawler.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// TopicDelta is an increment of per-topic counters within a run.
type TopicDelta struct {
	Pages         int64
	RateLimited   int64
	Reseeds       int64
	Created       int64
	AlreadyExists int64
	Skipped       int64
	Failed        int64
	Faces         int64
}

// IsZero reports whether the delta carries no change.
func (d TopicDelta) IsZero() bool {
	return d == TopicDelta{}
}

// TopicStats is the accumulated TopicDelta for one (run, topic).
type TopicStats struct {
	RunID      uuid.UUID
	Topic      string
	LastUpdate time.Time
	TopicDelta
}

// RunRepository persists run lifecycle and per-topic counters.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) a running run.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AddTopicStats applies delta to the (run, topic) row.
	AddTopicStats(ctx context.Context, runID uuid.UUID, topic string, delta TopicDelta, at time.Time) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunTopics returns per-topic counters for one run.
	ListRunTopics(ctx context.Context, runID uuid.UUID, limit, offset int) ([]TopicStats, error)
}
