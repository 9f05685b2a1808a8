package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/store"
	"github.com/mcdev12/ledgersync/go/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	return s
}

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend { return openTemp(t) })
}

func TestBackendInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		s, err := Open(context.Background(), ":memory:")
		require.NoError(t, err)
		return s
	})
}

func TestDataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s, err := Opener(path)(ctx)
	require.NoError(t, err)
	rec := models.Record{ID: "e-1", OrganizationID: "org-a", Fields: map[string]any{"name": "Ada"}, CreatedAt: now, UpdatedAt: now}
	data, _ := json.Marshal(rec.RemoteMap())
	entry := models.QueueEntry{ID: "q1", Table: "employees", RecordID: "e-1", Operation: models.OperationCreate, Data: data, Timestamp: now}
	require.NoError(t, s.CreateRecord(ctx, "employees", rec, entry))
	require.NoError(t, s.Close())

	again, err := Open(ctx, path)
	require.NoError(t, err)
	defer again.Close()
	got, err := again.GetRecord(ctx, "employees", "e-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Fields["name"])

	pending, err := again.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, string(data), string(pending[0].Data))
}

func TestCreateRollsBackWhenEnqueueFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO records")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_queue")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	now := time.Now()
	err = s.CreateRecord(context.Background(), "invoices",
		models.Record{ID: "inv-1", CreatedAt: now, UpdatedAt: now},
		models.QueueEntry{ID: "q1", Table: "invoices", RecordID: "inv-1", Operation: models.OperationCreate, Data: []byte(`{}`), Timestamp: now})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRollsBackWhenEnqueueFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM records")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_queue")).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err = s.DeleteRecord(context.Background(), "invoices", "inv-1",
		models.QueueEntry{ID: "q1", Table: "invoices", RecordID: "inv-1", Operation: models.OperationDelete, Data: []byte(`{}`), Timestamp: time.Now()})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPragmasApplied(t *testing.T) {
	s := openTemp(t)
	defer s.Close()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
