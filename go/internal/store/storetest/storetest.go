// Package storetest holds behaviour checks every store.Backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) store.Backend

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// Run executes the suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateReplacesExisting", testCreateReplaces},
		{"ListFiltersByOrganization", testListFilters},
		{"UpdateAppliesAndEnqueues", testUpdate},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateFuncErrorRollsBack", testUpdateRollback},
		{"DeleteAndEnqueue", testDelete},
		{"DeleteMissing", testDeleteMissing},
		{"QueueOrder", testQueueOrder},
		{"AckMarksSynced", testAckMarksSynced},
		{"AckKeepsUnsyncedWhileEntriesRemain", testAckKeepsUnsynced},
		{"RetryAndDrop", testRetryAndDrop},
		{"RequeueFailed", testRequeue},
		{"RequeueRebuildsAheadOfPending", testRequeueAheadOfPending},
		{"RequeueRecordGone", testRequeueRecordGone},
		{"RequeueDelete", testRequeueDelete},
		{"Settings", testSettings},
		{"Clear", testClear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, b)
		})
	}
}

func record(id, org string, fields map[string]any) models.Record {
	return models.Record{
		ID:             id,
		OrganizationID: org,
		Fields:         fields,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func entry(id, table, recordID string, op models.Operation, at time.Time) models.QueueEntry {
	data, _ := json.Marshal(map[string]any{"id": recordID})
	return models.QueueEntry{ID: id, Table: table, RecordID: recordID, Operation: op, Data: data, Timestamp: at}
}

func testCreateAndGet(t *testing.T, b store.Backend) {
	ctx := context.Background()
	rec := record("inv-1", "org-a", map[string]any{"number": "INV-1", "amount": 250.5})
	require.NoError(t, b.CreateRecord(ctx, "invoices", rec, entry("q1", "invoices", "inv-1", models.OperationCreate, base)))

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "org-a", got.OrganizationID)
	assert.Equal(t, "INV-1", got.Fields["number"])
	assert.Equal(t, 250.5, got.Fields["amount"])
	assert.True(t, base.Equal(got.CreatedAt))
	assert.False(t, got.Synced)

	_, err = b.GetRecord(ctx, "expenses", "inv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testCreateReplaces(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{"n": "a"}),
		entry("q1", "invoices", "inv-1", models.OperationCreate, base)))
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{"n": "b"}),
		entry("q2", "invoices", "inv-1", models.OperationCreate, base.Add(time.Second))))

	all, err := b.ListRecords(ctx, "invoices", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].Fields["n"])

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func testListFilters(t *testing.T, b store.Backend) {
	ctx := context.Background()
	for i, org := range []string{"org-a", "org-b", "org-a"} {
		id := string(rune('a'+i)) + "-rec"
		require.NoError(t, b.CreateRecord(ctx, "expenses", record(id, org, map[string]any{}),
			entry("q"+id, "expenses", id, models.OperationCreate, base)))
	}

	orgA, err := b.ListRecords(ctx, "expenses", "org-a")
	require.NoError(t, err)
	assert.Len(t, orgA, 2)
	for _, r := range orgA {
		assert.Equal(t, "org-a", r.OrganizationID)
	}

	all, err := b.ListRecords(ctx, "expenses", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := b.ListRecords(ctx, "invoices", "org-a")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testUpdate(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{"status": "draft"}),
		entry("q1", "invoices", "inv-1", models.OperationCreate, base)))

	later := base.Add(time.Minute)
	updated, err := b.UpdateRecord(ctx, "invoices", "inv-1", func(rec *models.Record) (models.QueueEntry, error) {
		rec.Merge(map[string]any{"status": "sent"})
		rec.UpdatedAt = later
		rec.Synced = false
		return entry("q2", "invoices", "inv-1", models.OperationUpdate, later), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sent", updated.Fields["status"])

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "sent", got.Fields["status"])
	assert.True(t, later.Equal(got.UpdatedAt))
	assert.True(t, base.Equal(got.CreatedAt))

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.OperationUpdate, pending[1].Operation)
}

func testUpdateMissing(t *testing.T, b store.Backend) {
	_, err := b.UpdateRecord(context.Background(), "invoices", "nope", func(rec *models.Record) (models.QueueEntry, error) {
		t.Fatal("update func must not run for a missing record")
		return models.QueueEntry{}, nil
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateRollback(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{"status": "draft"}),
		entry("q1", "invoices", "inv-1", models.OperationCreate, base)))

	boom := errors.New("boom")
	_, err := b.UpdateRecord(ctx, "invoices", "inv-1", func(rec *models.Record) (models.QueueEntry, error) {
		rec.Merge(map[string]any{"status": "void"})
		return models.QueueEntry{}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Fields["status"])

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "payroll", record("p-1", "org-a", map[string]any{}),
		entry("q1", "payroll", "p-1", models.OperationCreate, base)))
	require.NoError(t, b.DeleteRecord(ctx, "payroll", "p-1", entry("q2", "payroll", "p-1", models.OperationDelete, base)))

	_, err := b.GetRecord(ctx, "payroll", "p-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, models.OperationDelete, pending[1].Operation)
}

func testDeleteMissing(t *testing.T, b store.Backend) {
	ctx := context.Background()
	err := b.DeleteRecord(ctx, "payroll", "ghost", entry("q1", "payroll", "ghost", models.OperationDelete, base))
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testQueueOrder(t *testing.T, b store.Backend) {
	ctx := context.Background()
	ids := []string{"01A", "01B", "01C"}
	for i, id := range ids {
		recID := "r" + id
		require.NoError(t, b.CreateRecord(ctx, "invoices", record(recID, "org-a", map[string]any{}),
			entry(id, "invoices", recID, models.OperationCreate, base.Add(time.Duration(i)*time.Second))))
	}
	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, e := range pending {
		assert.Equal(t, ids[i], e.ID)
	}
}

func testAckMarksSynced(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), e))
	require.NoError(t, b.AckEntry(ctx, e, base))

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.True(t, got.Synced)

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, b.AckEntry(ctx, e, base), store.ErrNotFound)
}

func testAckKeepsUnsynced(t *testing.T, b store.Backend) {
	ctx := context.Background()
	create := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), create))
	_, err := b.UpdateRecord(ctx, "invoices", "inv-1", func(rec *models.Record) (models.QueueEntry, error) {
		rec.Merge(map[string]any{"status": "sent"})
		return entry("q2", "invoices", "inv-1", models.OperationUpdate, base), nil
	})
	require.NoError(t, err)

	require.NoError(t, b.AckEntry(ctx, create, base))
	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

func testRetryAndDrop(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), e))

	require.NoError(t, b.RetryEntry(ctx, "q1", 1, "timeout"))
	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Retries)
	assert.Equal(t, "timeout", pending[0].LastError)

	assert.ErrorIs(t, b.RetryEntry(ctx, "missing", 1, "x"), store.ErrNotFound)

	e.Retries = 3
	failedAt := base.Add(time.Hour)
	require.NoError(t, b.DropEntry(ctx, e, "rejected", failedAt))

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	failed, err := b.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "q1", failed[0].ID)
	assert.Equal(t, 3, failed[0].Retries)
	assert.Equal(t, "rejected", failed[0].LastError)
	assert.True(t, failedAt.Equal(failed[0].FailedAt))

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

func testRequeue(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), e))
	e.Retries = 3
	require.NoError(t, b.DropEntry(ctx, e, "rejected", base))

	at := base.Add(2 * time.Hour)
	require.NoError(t, b.RequeueFailed(ctx, "q1", "q9", at))
	assert.ErrorIs(t, b.RequeueFailed(ctx, "q1", "q10", at), store.ErrNotFound)

	failed, err := b.FailedEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q9", pending[0].ID)
	assert.Zero(t, pending[0].Retries)
	assert.Empty(t, pending[0].LastError)
	assert.True(t, at.Equal(pending[0].Timestamp))
}

func testRequeueAheadOfPending(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{"amount": 10.0}),
		entry("q1", "invoices", "inv-1", models.OperationCreate, base)))
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-2", "org-a", map[string]any{}),
		entry("q2", "invoices", "inv-2", models.OperationCreate, base)))

	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	e.Retries = 3
	require.NoError(t, b.DropEntry(ctx, e, "rejected", base))

	_, err := b.UpdateRecord(ctx, "invoices", "inv-1", func(rec *models.Record) (models.QueueEntry, error) {
		rec.Fields["amount"] = 25.0
		return entry("q3", "invoices", "inv-1", models.OperationUpdate, base), nil
	})
	require.NoError(t, err)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-3", "org-a", map[string]any{}),
		entry("q4", "invoices", "inv-3", models.OperationCreate, base)))

	require.NoError(t, b.RequeueFailed(ctx, "q1", "q9", base.Add(time.Hour)))

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"q2", "q9", "q3", "q4"}, ids)

	requeued := pending[1]
	assert.Equal(t, models.OperationCreate, requeued.Operation)
	payload, err := requeued.Payload()
	require.NoError(t, err)
	assert.Equal(t, 25.0, payload["amount"])
	assert.Equal(t, "org-a", payload[models.FieldOrganizationID])

	got, err := b.GetRecord(ctx, "invoices", "inv-1")
	require.NoError(t, err)
	assert.False(t, got.Synced)
}

func testRequeueRecordGone(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), e))
	e.Retries = 3
	require.NoError(t, b.DropEntry(ctx, e, "rejected", base))
	require.NoError(t, b.DeleteRecord(ctx, "invoices", "inv-1",
		entry("q2", "invoices", "inv-1", models.OperationDelete, base)))

	assert.ErrorIs(t, b.RequeueFailed(ctx, "q1", "q9", base), store.ErrNotFound)

	failed, err := b.FailedEntries(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "q1", failed[0].ID)

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q2", pending[0].ID)
}

func testRequeueDelete(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}),
		entry("q1", "invoices", "inv-1", models.OperationCreate, base)))
	require.NoError(t, b.DeleteRecord(ctx, "invoices", "inv-1",
		entry("q2", "invoices", "inv-1", models.OperationDelete, base)))
	del := entry("q2", "invoices", "inv-1", models.OperationDelete, base)
	del.Retries = 3
	require.NoError(t, b.DropEntry(ctx, del, "rejected", base))

	// Created again locally: the old delete must not go out.
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}),
		entry("q3", "invoices", "inv-1", models.OperationCreate, base)))
	assert.ErrorIs(t, b.RequeueFailed(ctx, "q2", "q9", base), store.ErrSuperseded)

	require.NoError(t, b.DeleteRecord(ctx, "invoices", "inv-1",
		entry("q4", "invoices", "inv-1", models.OperationDelete, base)))
	require.NoError(t, b.RequeueFailed(ctx, "q2", "q9", base))

	pending, err := b.PendingEntries(ctx)
	require.NoError(t, err)
	var ids []string
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"q9", "q1", "q3", "q4"}, ids)
	assert.Equal(t, models.OperationDelete, pending[0].Operation)
}

func testSettings(t *testing.T, b store.Backend) {
	ctx := context.Background()
	_, ok, err := b.GetSetting(ctx, "currency")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.SetSetting(ctx, models.Setting{Key: "currency", Value: json.RawMessage(`"USD"`), UpdatedAt: base}))
	require.NoError(t, b.SetSetting(ctx, models.Setting{Key: "currency", Value: json.RawMessage(`"EUR"`), UpdatedAt: base}))

	s, ok, err := b.GetSetting(ctx, "currency")
	require.NoError(t, err)
	require.True(t, ok)
	var v string
	require.NoError(t, s.Decode(&v))
	assert.Equal(t, "EUR", v)

	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testClear(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("q1", "invoices", "inv-1", models.OperationCreate, base)
	require.NoError(t, b.CreateRecord(ctx, "invoices", record("inv-1", "org-a", map[string]any{}), e))
	require.NoError(t, b.CreateRecord(ctx, "expenses", record("exp-1", "org-a", map[string]any{}),
		entry("q2", "expenses", "exp-1", models.OperationCreate, base)))
	e.Retries = 3
	require.NoError(t, b.DropEntry(ctx, e, "x", base))
	require.NoError(t, b.SetSetting(ctx, models.Setting{Key: "k", Value: json.RawMessage(`1`), UpdatedAt: base}))

	require.NoError(t, b.Clear(ctx))

	for _, table := range []string{"invoices", "expenses"} {
		recs, err := b.ListRecords(ctx, table, "")
		require.NoError(t, err)
		assert.Empty(t, recs)
	}
	n, err := b.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	failed, err := b.FailedEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
	_, ok, err := b.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
