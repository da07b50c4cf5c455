package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"

	"github.com/2php/iffse/internal/crawler"
)

func testPost() crawler.Post {
	return crawler.Post{
		ID:        "0190c2d4-7f5e-7a41-9a55-6f1b0d1e2a3b",
		ItemKey:   "abc123",
		MediaURL:  "https://cdn.test/abc123.jpg",
		Topic:     "selfie",
		ImageHash: "b94d27b9",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func expectInsertPost(mock pgxmock.PgxPoolIface, post crawler.Post) *pgxmock.ExpectedQuery {
	return mock.ExpectQuery("INSERT INTO posts").
		WithArgs(post.ID, post.ItemKey, post.MediaURL, post.Topic, post.ImageHash, post.CreatedAt)
}

func TestCommitCreatesPostAndEmbeddings(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	post := testPost()
	vectors := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	mock.ExpectBegin()
	expectInsertPost(mock, post).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(post.ID))
	mock.ExpectExec("INSERT INTO face_embeddings").
		WithArgs(post.ID, 0, pgvector.NewVector(vectors[0])).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO face_embeddings").
		WithArgs(post.ID, 1, pgvector.NewVector(vectors[1])).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := store.Commit(context.Background(), post, vectors)
	require.NoError(t, err)
	require.Equal(t, crawler.CommitCreated, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitConflictReportsAlreadyExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	post := testPost()
	mock.ExpectBegin()
	expectInsertPost(mock, post).WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	res, err := store.Commit(context.Background(), post, [][]float32{{1}})
	require.NoError(t, err)
	require.Equal(t, crawler.CommitAlreadyExists, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRollsBackOnPartialEmbeddingFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	post := testPost()
	vectors := [][]float32{{1, 1}, {2, 2}}
	mock.ExpectBegin()
	expectInsertPost(mock, post).WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(post.ID))
	mock.ExpectExec("INSERT INTO face_embeddings").
		WithArgs(post.ID, 0, pgvector.NewVector(vectors[0])).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO face_embeddings").
		WithArgs(post.ID, 1, pgvector.NewVector(vectors[1])).
		WillReturnError(errors.New("expected 128 dimensions, not 2"))
	mock.ExpectRollback()

	_, err = store.Commit(context.Background(), post, vectors)
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert embedding 1")
	require.NotErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBeginFailureIsSystemic(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err = store.Commit(context.Background(), testPost(), nil)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRequiresIdentity(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	_, err = store.Commit(context.Background(), crawler.Post{ItemKey: "abc"}, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsConnectionFailureIsSystemic(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("abc123").
		WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connection refused"))

	_, err = store.Exists(context.Background(), "abc123")
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostStoreRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewPostStore(nil)
	require.Error(t, err)
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS posts").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`embedding vector\(128\)`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS topic_cursors").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS topic_stats").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, 128))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, Migrate(context.Background(), mock, 0))
}
