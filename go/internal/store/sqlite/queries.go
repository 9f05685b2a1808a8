package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/sqlutil"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds the statements used by Store, bound to a DB or a transaction.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type recordRow struct {
	TableName      string
	ID             string
	OrganizationID string
	Data           string
	Synced         int64
	CreatedAt      int64
	UpdatedAt      int64
}

const upsertRecord = `
INSERT INTO records (table_name, id, organization_id, data, synced, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (table_name, id) DO UPDATE SET
    organization_id = excluded.organization_id,
    data = excluded.data,
    synced = excluded.synced,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at`

func (q *Queries) UpsertRecord(ctx context.Context, r recordRow) error {
	_, err := q.db.ExecContext(ctx, upsertRecord,
		r.TableName, r.ID, r.OrganizationID, r.Data, r.Synced, r.CreatedAt, r.UpdatedAt)
	return err
}

const getRecord = `
SELECT table_name, id, organization_id, data, synced, created_at, updated_at
FROM records WHERE table_name = ? AND id = ?`

func (q *Queries) GetRecord(ctx context.Context, table, id string) (recordRow, error) {
	var r recordRow
	err := q.db.QueryRowContext(ctx, getRecord, table, id).Scan(
		&r.TableName, &r.ID, &r.OrganizationID, &r.Data, &r.Synced, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

const listRecords = `
SELECT table_name, id, organization_id, data, synced, created_at, updated_at
FROM records WHERE table_name = ? AND (? = '' OR organization_id = ?)
ORDER BY created_at, id`

func (q *Queries) ListRecords(ctx context.Context, table, orgID string) ([]recordRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecords, table, orgID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []recordRow
	for rows.Next() {
		var r recordRow
		if err := rows.Scan(&r.TableName, &r.ID, &r.OrganizationID, &r.Data, &r.Synced, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const deleteRecord = `DELETE FROM records WHERE table_name = ? AND id = ?`

func (q *Queries) DeleteRecord(ctx context.Context, table, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRecord, table, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markSynced = `UPDATE records SET synced = 1 WHERE table_name = ? AND id = ?`

func (q *Queries) MarkSynced(ctx context.Context, table, id string) error {
	_, err := q.db.ExecContext(ctx, markSynced, table, id)
	return err
}

const markUnsynced = `UPDATE records SET synced = 0 WHERE table_name = ? AND id = ?`

func (q *Queries) MarkUnsynced(ctx context.Context, table, id string) error {
	_, err := q.db.ExecContext(ctx, markUnsynced, table, id)
	return err
}

const insertEntry = `
INSERT INTO sync_queue (id, table_name, record_id, operation, data, timestamp, retries, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertEntry(ctx context.Context, e models.QueueEntry) error {
	_, err := q.db.ExecContext(ctx, insertEntry,
		e.ID, e.Table, e.RecordID, string(e.Operation), string(e.Data),
		sqlutil.ToUnixNano(e.Timestamp), e.Retries, sqlutil.ToNullString(e.LastError))
	return err
}

const firstSeqForRecord = `SELECT MIN(seq) FROM sync_queue WHERE table_name = ? AND record_id = ?`

// FirstSeqForRecord returns the position of the oldest pending entry for a record, or
// false when none is pending.
func (q *Queries) FirstSeqForRecord(ctx context.Context, table, recordID string) (int64, bool, error) {
	var seq sql.NullInt64
	if err := q.db.QueryRowContext(ctx, firstSeqForRecord, table, recordID).Scan(&seq); err != nil {
		return 0, false, err
	}
	return seq.Int64, seq.Valid, nil
}

// Two passes through negative values so no intermediate seq collides with a live row.
var shiftEntries = []string{
	`UPDATE sync_queue SET seq = -seq - 1 WHERE seq >= ?`,
	`UPDATE sync_queue SET seq = -seq WHERE seq < 0`,
}

// ShiftEntries moves every entry at or after seq one position back.
func (q *Queries) ShiftEntries(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, shiftEntries[0], seq); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, shiftEntries[1])
	return err
}

const insertEntryAt = `
INSERT INTO sync_queue (seq, id, table_name, record_id, operation, data, timestamp, retries, last_error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertEntryAt(ctx context.Context, seq int64, e models.QueueEntry) error {
	_, err := q.db.ExecContext(ctx, insertEntryAt, seq,
		e.ID, e.Table, e.RecordID, string(e.Operation), string(e.Data),
		sqlutil.ToUnixNano(e.Timestamp), e.Retries, sqlutil.ToNullString(e.LastError))
	return err
}

const listEntries = `
SELECT id, table_name, record_id, operation, data, timestamp, retries, last_error
FROM sync_queue ORDER BY seq`

func (q *Queries) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, listEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const getEntry = `
SELECT id, table_name, record_id, operation, data, timestamp, retries, last_error
FROM sync_queue WHERE id = ?`

func (q *Queries) GetEntry(ctx context.Context, id string) (models.QueueEntry, error) {
	return scanEntry(q.db.QueryRowContext(ctx, getEntry, id))
}

const countEntries = `SELECT COUNT(*) FROM sync_queue`

func (q *Queries) CountEntries(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, countEntries).Scan(&n)
	return n, err
}

const countEntriesForRecord = `SELECT COUNT(*) FROM sync_queue WHERE table_name = ? AND record_id = ?`

func (q *Queries) CountEntriesForRecord(ctx context.Context, table, recordID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, countEntriesForRecord, table, recordID).Scan(&n)
	return n, err
}

const deleteEntry = `DELETE FROM sync_queue WHERE id = ?`

func (q *Queries) DeleteEntry(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteEntry, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const updateEntryRetries = `UPDATE sync_queue SET retries = ?, last_error = ? WHERE id = ?`

func (q *Queries) UpdateEntryRetries(ctx context.Context, id string, retries int, lastErr string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateEntryRetries, retries, sqlutil.ToNullString(lastErr), id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const insertFailure = `
INSERT INTO sync_failures (id, table_name, record_id, operation, data, timestamp, retries, last_error, failed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertFailure(ctx context.Context, f models.FailedEntry) error {
	_, err := q.db.ExecContext(ctx, insertFailure,
		f.ID, f.Table, f.RecordID, string(f.Operation), string(f.Data),
		sqlutil.ToUnixNano(f.Timestamp), f.Retries, sqlutil.ToNullString(f.LastError),
		sqlutil.ToUnixNano(f.FailedAt))
	return err
}

const listFailures = `
SELECT id, table_name, record_id, operation, data, timestamp, retries, last_error, failed_at
FROM sync_failures ORDER BY failed_at, id`

func (q *Queries) ListFailures(ctx context.Context) ([]models.FailedEntry, error) {
	rows, err := q.db.QueryContext(ctx, listFailures)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.FailedEntry
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

const getFailure = `
SELECT id, table_name, record_id, operation, data, timestamp, retries, last_error, failed_at
FROM sync_failures WHERE id = ?`

func (q *Queries) GetFailure(ctx context.Context, id string) (models.FailedEntry, error) {
	return scanFailure(q.db.QueryRowContext(ctx, getFailure, id))
}

const deleteFailure = `DELETE FROM sync_failures WHERE id = ?`

func (q *Queries) DeleteFailure(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteFailure, id)
	return err
}

const getSetting = `SELECT key, value, updated_at FROM settings WHERE key = ?`

func (q *Queries) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	var (
		s         models.Setting
		value     string
		updatedAt int64
	)
	if err := q.db.QueryRowContext(ctx, getSetting, key).Scan(&s.Key, &value, &updatedAt); err != nil {
		return models.Setting{}, err
	}
	s.Value = []byte(value)
	s.UpdatedAt = sqlutil.FromUnixNano(updatedAt)
	return s, nil
}

const upsertSetting = `
INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (q *Queries) UpsertSetting(ctx context.Context, s models.Setting) error {
	_, err := q.db.ExecContext(ctx, upsertSetting, s.Key, string(s.Value), sqlutil.ToUnixNano(s.UpdatedAt))
	return err
}

var clearStatements = []string{
	`DELETE FROM records`,
	`DELETE FROM sync_queue`,
	`DELETE FROM sync_failures`,
	`DELETE FROM settings`,
}

func (q *Queries) ClearAll(ctx context.Context) error {
	for _, stmt := range clearStatements {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.QueueEntry, error) {
	var (
		e         models.QueueEntry
		op, data  string
		ts        int64
		lastError sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Table, &e.RecordID, &op, &data, &ts, &e.Retries, &lastError); err != nil {
		return models.QueueEntry{}, err
	}
	e.Operation = models.Operation(op)
	e.Data = []byte(data)
	e.Timestamp = sqlutil.FromUnixNano(ts)
	e.LastError = sqlutil.FromNullString(lastError)
	return e, nil
}

func scanFailure(row scanner) (models.FailedEntry, error) {
	var (
		f         models.FailedEntry
		op, data  string
		ts, at    int64
		lastError sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Table, &f.RecordID, &op, &data, &ts, &f.Retries, &lastError, &at); err != nil {
		return models.FailedEntry{}, err
	}
	f.Operation = models.Operation(op)
	f.Data = []byte(data)
	f.Timestamp = sqlutil.FromUnixNano(ts)
	f.LastError = sqlutil.FromNullString(lastError)
	f.FailedAt = sqlutil.FromUnixNano(at)
	return f, nil
}
