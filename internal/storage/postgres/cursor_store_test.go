package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/2php/iffse/internal/crawler"
)

var cursorColumns = []string{"topic", "protocol_id", "end_cursor", "exhausted", "updated_at"}

func TestCursorStoreGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT topic, protocol_id").
		WithArgs("selfie").
		WillReturnRows(pgxmock.NewRows(cursorColumns).AddRow("selfie", "P1", "C0", false, now))
	mock.ExpectQuery("SELECT topic, protocol_id").
		WithArgs("me").
		WillReturnRows(pgxmock.NewRows(cursorColumns))
	mock.ExpectQuery("SELECT topic, protocol_id").
		WithArgs("down").
		WillReturnError(errors.New("connection reset"))

	state, err := store.Get(context.Background(), "selfie")
	require.NoError(t, err)
	require.Equal(t, crawler.TopicState{Topic: "selfie", ProtocolID: "P1", Cursor: "C0", UpdatedAt: now}, state)

	_, err = store.Get(context.Background(), "me")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	_, err = store.Get(context.Background(), "down")
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStorePutUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock)
	require.NoError(t, err)
	state := crawler.TopicState{Topic: "x", ProtocolID: "P2", Cursor: "C1", UpdatedAt: time.Unix(1700000100, 0).UTC()}

	mock.ExpectExec("INSERT INTO topic_cursors").
		WithArgs(state.Topic, state.ProtocolID, state.Cursor, state.Exhausted, state.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO topic_cursors").
		WithArgs(state.Topic, state.ProtocolID, state.Cursor, state.Exhausted, state.UpdatedAt).
		WillReturnError(errors.New("pool closed"))

	require.NoError(t, store.Put(context.Background(), state))
	require.ErrorIs(t, store.Put(context.Background(), state), crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorStoreListAndDelete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCursorStore(mock)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT topic, protocol_id").
		WillReturnRows(pgxmock.NewRows(cursorColumns).
			AddRow("me", "P1", "", true, now).
			AddRow("selfie", "P2", "C9", false, now))
	mock.ExpectExec("DELETE FROM topic_cursors").WithArgs("me").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM topic_cursors").WithArgs("gone").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	states, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.True(t, states[0].Exhausted)
	require.Equal(t, "C9", states[1].Cursor)

	require.NoError(t, store.Delete(context.Background(), "me"))
	require.ErrorIs(t, store.Delete(context.Background(), "gone"), crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
