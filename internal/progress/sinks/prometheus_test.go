package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and gauges follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageTopicSeeded, Topic: "selfie", Candidates: 3},
		{RunID: runID, TS: now, Stage: progress.StageTopicSeeded, Topic: "me", Candidates: 1},
		{RunID: runID, TS: now, Stage: progress.StageRateLimited, Topic: "selfie", Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StageReseeded, Topic: "selfie", Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StagePageFetched, Topic: "selfie", Candidates: 2},
		{
			RunID: runID, TS: now, Stage: progress.StageCandidateDone, Topic: "selfie", ItemKey: "k1",
			Outcome: crawler.OutcomeCreated, PostID: "p1", Faces: 2, Dur: 300 * time.Millisecond,
		},
		{
			RunID: runID, TS: now, Stage: progress.StageCandidateDone, Topic: "selfie", ItemKey: "k2",
			Outcome: crawler.OutcomeSkipped, Reason: crawler.SkipNoFace,
		},
		{RunID: runID, TS: now, Stage: progress.StageTopicExhausted, Topic: "me"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.candidates.WithLabelValues("created", "")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.candidates.WithLabelValues("skipped", "no_face")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.faces))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.pages.WithLabelValues("selfie")))
	require.Equal(t, 5.0, testutil.ToFloat64(sink.discovered.WithLabelValues("selfie")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.topicEvents.WithLabelValues("selfie", string(progress.StageRateLimited))))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.topicEvents.WithLabelValues("me", string(progress.StageTopicExhausted))))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.topicsActive))
	require.Equal(t, 1, testutil.CollectAndCount(sink.candidateLatency, "iffse_candidate_duration_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
