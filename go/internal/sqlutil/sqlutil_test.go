package sqlutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueries struct{ tx *sql.Tx }

func newFake(tx *sql.Tx) *fakeQueries { return &fakeQueries{tx: tx} }

func TestRunCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err = Run(context.Background(), db, newFake, func(q *fakeQueries) error {
		assert.NotNil(t, q.tx)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = Run(context.Background(), db, newFake, func(q *fakeQueries) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	v, err := Get(context.Background(), db, newFake, func(q *fakeQueries) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestConverters(t *testing.T) {
	assert.False(t, ToNullString("").Valid)
	assert.Equal(t, "x", FromNullString(ToNullString("x")))
	assert.Equal(t, "", FromNullString(sql.NullString{}))

	now := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	assert.True(t, now.Equal(FromUnixNano(ToUnixNano(now))))
	assert.True(t, FromUnixNano(ToUnixNano(time.Time{})).IsZero())

	assert.True(t, ToBool(FromBool(true)))
	assert.False(t, ToBool(FromBool(false)))
}
