// Package sqlite is the durable store.Backend, a single SQLite file opened through the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/sqlutil"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

type Store struct {
	db      *sql.DB
	queries *Queries
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps the record write and queue append serialised, and keeps
	// ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Debug().Str("path", path).Msg("sqlite store opened")
	return NewWithDB(db), nil
}

// NewWithDB wraps an already prepared database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, queries: New(db)}
}

// Opener adapts Open to store.Opener.
func Opener(path string) store.Opener {
	return func(ctx context.Context) (store.Backend, error) {
		return Open(ctx, path)
	}
}

func (s *Store) txQueries(tx *sql.Tx) *Queries {
	return s.queries.WithTx(tx)
}

func (s *Store) CreateRecord(ctx context.Context, table string, rec models.Record, entry models.QueueEntry) error {
	row, err := toRow(table, rec)
	if err != nil {
		return err
	}
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		if err := q.UpsertRecord(ctx, row); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		if err := q.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("enqueue %s: %w", entry.Operation, err)
		}
		return nil
	})
}

func (s *Store) UpdateRecord(ctx context.Context, table, id string, fn store.UpdateFunc) (models.Record, error) {
	return sqlutil.Get(ctx, s.db, s.txQueries, func(q *Queries) (models.Record, error) {
		row, err := q.GetRecord(ctx, table, id)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
		}
		if err != nil {
			return models.Record{}, fmt.Errorf("load record: %w", err)
		}
		rec, err := fromRow(row)
		if err != nil {
			return models.Record{}, err
		}
		entry, err := fn(&rec)
		if err != nil {
			return models.Record{}, err
		}
		updated, err := toRow(table, rec)
		if err != nil {
			return models.Record{}, err
		}
		if err := q.UpsertRecord(ctx, updated); err != nil {
			return models.Record{}, fmt.Errorf("save record: %w", err)
		}
		if err := q.InsertEntry(ctx, entry); err != nil {
			return models.Record{}, fmt.Errorf("enqueue %s: %w", entry.Operation, err)
		}
		return rec, nil
	})
}

func (s *Store) DeleteRecord(ctx context.Context, table, id string, entry models.QueueEntry) error {
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		n, err := q.DeleteRecord(ctx, table, id)
		if err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
		}
		if err := q.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("enqueue %s: %w", entry.Operation, err)
		}
		return nil
	})
}

func (s *Store) GetRecord(ctx context.Context, table, id string) (models.Record, error) {
	row, err := s.queries.GetRecord(ctx, table, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("get record: %w", err)
	}
	return fromRow(row)
}

func (s *Store) ListRecords(ctx context.Context, table, orgID string) ([]models.Record, error) {
	rows, err := s.queries.ListRecords(ctx, table, orgID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) PendingEntries(ctx context.Context) ([]models.QueueEntry, error) {
	entries, err := s.queries.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return entries, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	n, err := s.queries.CountEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

func (s *Store) AckEntry(ctx context.Context, entry models.QueueEntry, at time.Time) error {
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		n, err := q.DeleteEntry(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("delete queue entry: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("queue entry %s: %w", entry.ID, store.ErrNotFound)
		}
		if entry.Operation == models.OperationDelete {
			return nil
		}
		remaining, err := q.CountEntriesForRecord(ctx, entry.Table, entry.RecordID)
		if err != nil {
			return fmt.Errorf("count record entries: %w", err)
		}
		if remaining > 0 {
			return nil
		}
		return q.MarkSynced(ctx, entry.Table, entry.RecordID)
	})
}

func (s *Store) RetryEntry(ctx context.Context, entryID string, retries int, lastErr string) error {
	n, err := s.queries.UpdateEntryRetries(ctx, entryID, retries, lastErr)
	if err != nil {
		return fmt.Errorf("update retries: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("queue entry %s: %w", entryID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DropEntry(ctx context.Context, entry models.QueueEntry, lastErr string, at time.Time) error {
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		stored, err := q.GetEntry(ctx, entry.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("queue entry %s: %w", entry.ID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load queue entry: %w", err)
		}
		stored.Retries = entry.Retries
		stored.LastError = lastErr
		if err := q.InsertFailure(ctx, models.FailedEntry{QueueEntry: stored, FailedAt: at}); err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
		if _, err := q.DeleteEntry(ctx, entry.ID); err != nil {
			return fmt.Errorf("delete queue entry: %w", err)
		}
		return nil
	})
}

func (s *Store) FailedEntries(ctx context.Context) ([]models.FailedEntry, error) {
	failures, err := s.queries.ListFailures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	return failures, nil
}

func (s *Store) RequeueFailed(ctx context.Context, entryID, newID string, at time.Time) error {
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		f, err := q.GetFailure(ctx, entryID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed entry %s: %w", entryID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load failure: %w", err)
		}

		var current *models.Record
		row, err := q.GetRecord(ctx, f.Table, f.RecordID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("load record: %w", err)
		default:
			rec, err := fromRow(row)
			if err != nil {
				return err
			}
			current = &rec
		}

		entry, err := store.Requeue(f, current, newID, at)
		if err != nil {
			return err
		}
		if current != nil {
			if err := q.MarkUnsynced(ctx, f.Table, f.RecordID); err != nil {
				return fmt.Errorf("mark unsynced: %w", err)
			}
		}

		seq, pending, err := q.FirstSeqForRecord(ctx, f.Table, f.RecordID)
		if err != nil {
			return fmt.Errorf("locate pending entries: %w", err)
		}
		if pending {
			if err := q.ShiftEntries(ctx, seq); err != nil {
				return fmt.Errorf("shift queue: %w", err)
			}
			err = q.InsertEntryAt(ctx, seq, entry)
		} else {
			err = q.InsertEntry(ctx, entry)
		}
		if err != nil {
			return fmt.Errorf("requeue: %w", err)
		}
		return q.DeleteFailure(ctx, entryID)
	})
}

func (s *Store) GetSetting(ctx context.Context, key string) (models.Setting, bool, error) {
	setting, err := s.queries.GetSetting(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Setting{}, false, nil
	}
	if err != nil {
		return models.Setting{}, false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return setting, true, nil
}

func (s *Store) SetSetting(ctx context.Context, setting models.Setting) error {
	if err := s.queries.UpsertSetting(ctx, setting); err != nil {
		return fmt.Errorf("set setting %s: %w", setting.Key, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	return sqlutil.Run(ctx, s.db, s.txQueries, func(q *Queries) error {
		return q.ClearAll(ctx)
	})
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toRow(table string, rec models.Record) (recordRow, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode %s/%s: %w", table, rec.ID, err)
	}
	return recordRow{
		TableName:      table,
		ID:             rec.ID,
		OrganizationID: rec.OrganizationID,
		Data:           string(data),
		Synced:         sqlutil.FromBool(rec.Synced),
		CreatedAt:      sqlutil.ToUnixNano(rec.CreatedAt),
		UpdatedAt:      sqlutil.ToUnixNano(rec.UpdatedAt),
	}, nil
}

func fromRow(row recordRow) (models.Record, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(row.Data), &fields); err != nil {
		return models.Record{}, fmt.Errorf("decode %s/%s: %w", row.TableName, row.ID, err)
	}
	return models.Record{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Fields:         fields,
		CreatedAt:      sqlutil.FromUnixNano(row.CreatedAt),
		UpdatedAt:      sqlutil.FromUnixNano(row.UpdatedAt),
		Synced:         sqlutil.ToBool(row.Synced),
	}, nil
}
