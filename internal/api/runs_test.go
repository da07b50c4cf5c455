package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/2php/iffse/internal/config"
	"github.com/2php/iffse/internal/storage/memory"
	"github.com/2php/iffse/internal/store"
)

func seededRuns(t *testing.T) (*memory.RunStore, uuid.UUID) {
	t.Helper()
	repo := memory.NewRunStore()
	ctx := context.Background()
	runID := uuid.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartRun(ctx, runID, start))
	require.NoError(t, repo.AddTopicStats(ctx, runID, "selfie", store.TopicDelta{Pages: 2, Created: 3, Faces: 4}, start))
	require.NoError(t, repo.FinishRun(ctx, runID, start.Add(time.Hour), store.RunSuccess, nil))
	return repo, runID
}

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	handler := NewRunHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, runID.String(), body.Runs[0].ID)
	require.NotNil(t, body.Runs[0].FinishedAt)
}

func TestRunHandlerListRunsRejectsBadFilters(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(memory.NewRunStore(), zap.NewNop())
	for _, query := range []string{"status=paused", "limit=-1", "offset=x"} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	handler := NewRunHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/", nil), runID.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/", nil), uuid.NewString()))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/", nil), "not-a-uuid"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandlerListRunTopicsThroughRouter(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	server := NewServer(newFakeTopics(), repo, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/topics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Topics []topicStatsDTO `json:"topics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Topics, 1)
	require.Equal(t, "selfie", body.Topics[0].Topic)
	require.EqualValues(t, 3, body.Topics[0].Created)
	require.EqualValues(t, 4, body.Topics[0].Faces)
}

func TestRunHandlerRepositoryError(t *testing.T) {
	t.Parallel()

	handler := NewRunHandler(failingRunRepo{err: errors.New("boom")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingRunRepo struct {
	store.RunRepository
	err error
}

func (f failingRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, f.err
}

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
