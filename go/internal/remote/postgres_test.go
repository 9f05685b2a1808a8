package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
	ping  error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func (f *fakeExecer) Ping(ctx context.Context) error { return f.ping }

func TestInsertUpserts(t *testing.T) {
	db := &fakeExecer{tag: pgconn.NewCommandTag("INSERT 0 1")}
	c := NewPostgresCollaborator(db)

	err := c.Insert(context.Background(), "invoices", map[string]any{
		"id":     "inv-1",
		"amount": 120.0,
		"status": "draft",
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	assert.Equal(t,
		`INSERT INTO "invoices" ("amount", "id", "status") VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET "amount" = EXCLUDED."amount", "status" = EXCLUDED."status"`,
		db.calls[0].sql)
	assert.Equal(t, []any{120.0, "inv-1", "draft"}, db.calls[0].args)
}

func TestInsertOnlyID(t *testing.T) {
	db := &fakeExecer{}
	c := NewPostgresCollaborator(db)

	require.NoError(t, c.Insert(context.Background(), "employees", map[string]any{"id": "e-1"}))
	assert.Equal(t, `INSERT INTO "employees" ("id") VALUES ($1) ON CONFLICT (id) DO NOTHING`, db.calls[0].sql)
}

func TestInsertRejectsMissingID(t *testing.T) {
	c := NewPostgresCollaborator(&fakeExecer{})
	assert.Error(t, c.Insert(context.Background(), "invoices", map[string]any{"amount": 1}))
	assert.Error(t, c.Insert(context.Background(), "invoices", map[string]any{}))
}

func TestUpdateBuildsSetClause(t *testing.T) {
	db := &fakeExecer{tag: pgconn.NewCommandTag("UPDATE 1")}
	c := NewPostgresCollaborator(db)

	err := c.Update(context.Background(), "ledger_entries", "le-1", map[string]any{
		"id":    "le-1",
		"memo":  "rent",
		"debit": 900.0,
	})
	require.NoError(t, err)
	require.Len(t, db.calls, 1)
	assert.Equal(t, `UPDATE "ledger_entries" SET "debit" = $1, "memo" = $2 WHERE id = $3`, db.calls[0].sql)
	assert.Equal(t, []any{900.0, "rent", "le-1"}, db.calls[0].args)
}

func TestUpdateNoRows(t *testing.T) {
	db := &fakeExecer{tag: pgconn.NewCommandTag("UPDATE 0")}
	c := NewPostgresCollaborator(db)
	err := c.Update(context.Background(), "invoices", "gone", map[string]any{"status": "void"})
	assert.ErrorIs(t, err, ErrRowMissing)
	assert.Contains(t, err.Error(), "invoices/gone")
}

func TestUpdateNothingToSet(t *testing.T) {
	db := &fakeExecer{}
	c := NewPostgresCollaborator(db)
	require.NoError(t, c.Update(context.Background(), "invoices", "inv-1", map[string]any{"id": "inv-1"}))
	assert.Empty(t, db.calls)
}

func TestDeleteAndErrors(t *testing.T) {
	db := &fakeExecer{}
	c := NewPostgresCollaborator(db)
	require.NoError(t, c.Delete(context.Background(), "payroll", "p-1"))
	assert.Equal(t, `DELETE FROM "payroll" WHERE id = $1`, db.calls[0].sql)
	assert.Equal(t, []any{"p-1"}, db.calls[0].args)

	db.err = errors.New("connection reset")
	err := c.Delete(context.Background(), "payroll", "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPing(t *testing.T) {
	db := &fakeExecer{ping: errors.New("down")}
	assert.EqualError(t, NewPostgresCollaborator(db).Ping(context.Background()), "down")
	assert.ErrorIs(t, Unconfigured{}.Insert(context.Background(), "t", nil), ErrNotConfigured)
}
