package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/progress"
	"github.com/2php/iffse/internal/store"
)

// TestStoreSinkPersistsEvents ensures topic counters are collapsed before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{RunID: runID, Stage: progress.StageTopicSeeded, Topic: "selfie", TS: now},
		{RunID: runID, Stage: progress.StageRateLimited, Topic: "selfie", TS: now.Add(time.Second)},
		{RunID: runID, Stage: progress.StageReseeded, Topic: "selfie", TS: now.Add(2 * time.Second)},
		{RunID: runID, Stage: progress.StagePageFetched, Topic: "selfie", TS: now.Add(3 * time.Second)},
		{RunID: runID, Stage: progress.StageCandidateDone, Topic: "selfie", ItemKey: "a", Outcome: crawler.OutcomeCreated, Faces: 2, TS: now},
		{RunID: runID, Stage: progress.StageCandidateDone, Topic: "selfie", ItemKey: "b", Outcome: crawler.OutcomeAlreadyExists, TS: now},
		{RunID: runID, Stage: progress.StageCandidateDone, Topic: "selfie", ItemKey: "c", Outcome: crawler.OutcomeSkipped, TS: now},
		{RunID: runID, Stage: progress.StageCandidateDone, Topic: "me", ItemKey: "d", Outcome: crawler.OutcomeFailed, TS: now},
		{RunID: runID, Stage: progress.StageRunError, TS: now.Add(4 * time.Second), Note: "store unavailable"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.finishes, 1)
	require.Equal(t, store.RunError, repo.finishes[0].status)
	require.Equal(t, "store unavailable", repo.finishes[0].note)

	require.Len(t, repo.topics, 2)
	selfie := repo.topics["selfie"]
	require.Equal(t, store.TopicDelta{
		Pages: 2, RateLimited: 1, Reseeds: 1, Created: 1, AlreadyExists: 1, Skipped: 1, Faces: 2,
	}, selfie.delta)
	require.Equal(t, now.Add(3*time.Second), selfie.at)
	require.Equal(t, int64(1), repo.topics["me"].delta.Failed)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StagePageFetched, Topic: "x", TS: time.Now()},
	})
	require.ErrorContains(t, err, "add topic stats")
}

type finishCall struct {
	status store.RunStatus
	note   string
}

type topicCall struct {
	delta store.TopicDelta
	at    time.Time
}

type fakeRunRepo struct {
	fail     bool
	starts   []uuid.UUID
	finishes []finishCall
	topics   map[string]topicCall
}

func (f *fakeRunRepo) StartRun(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) FinishRun(_ context.Context, _ uuid.UUID, _ time.Time, status store.RunStatus, errMsg *string) error {
	if f.fail {
		return assertErr("finish")
	}
	call := finishCall{status: status}
	if errMsg != nil {
		call.note = *errMsg
	}
	f.finishes = append(f.finishes, call)
	return nil
}

func (f *fakeRunRepo) AddTopicStats(_ context.Context, _ uuid.UUID, topic string, delta store.TopicDelta, at time.Time) error {
	if f.fail {
		return assertErr("topic")
	}
	if f.topics == nil {
		f.topics = make(map[string]topicCall)
	}
	f.topics[topic] = topicCall{delta: delta, at: at}
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, assertErr("read")
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, assertErr("list")
}

func (f *fakeRunRepo) ListRunTopics(context.Context, uuid.UUID, int, int) ([]store.TopicStats, error) {
	return nil, assertErr("topics")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
