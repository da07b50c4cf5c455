package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2php/iffse/internal/store"
)

// RunStore keeps run statistics in memory. It implements store.RunRepository.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	topics map[uuid.UUID]map[string]store.TopicStats
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[uuid.UUID]store.Run),
		topics: make(map[uuid.UUID]map[string]store.TopicStats),
	}
}

// StartRun records a running run.
func (s *RunStore) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		run = store.Run{ID: runID, StartedAt: startedAt}
	}
	run.Status = store.RunRunning
	s.runs[runID] = run
	return nil
}

// FinishRun records the final status of a run.
func (s *RunStore) FinishRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// AddTopicStats adds delta to the (run, topic) counters.
func (s *RunStore) AddTopicStats(_ context.Context, runID uuid.UUID, topic string, delta store.TopicDelta, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTopic := s.topics[runID]
	if byTopic == nil {
		byTopic = make(map[string]store.TopicStats)
		s.topics[runID] = byTopic
	}
	st := byTopic[topic]
	st.RunID = runID
	st.Topic = topic
	if at.After(st.LastUpdate) {
		st.LastUpdate = at
	}
	st.Pages += delta.Pages
	st.RateLimited += delta.RateLimited
	st.Reseeds += delta.Reseeds
	st.Created += delta.Created
	st.AlreadyExists += delta.AlreadyExists
	st.Skipped += delta.Skipped
	st.Failed += delta.Failed
	st.Faces += delta.Faces
	byTopic[topic] = st
	return nil
}

// GetRun returns one run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, limit, offset), nil
}

// ListRunTopics returns per-topic counters ordered by topic.
func (s *RunStore) ListRunTopics(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.TopicStats, error) {
	s.mu.RLock()
	out := make([]store.TopicStats, 0, len(s.topics[runID]))
	for _, st := range s.topics[runID] {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
