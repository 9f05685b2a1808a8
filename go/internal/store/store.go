// Package store defines the storage contract shared by the local backends. A backend owns
// the record collections, the sync queue, the dead-letter list and the settings table, and
// guarantees that a record write and its queue entry commit together.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/ledgersync/go/internal/models"
)

var (
	// ErrNotFound is returned when a record, queue entry or failed entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("store closed")
	// ErrSuperseded is returned when a dead-lettered delete is retried after the record
	// was created again locally.
	ErrSuperseded = errors.New("superseded by a later local change")
)

// UpdateFunc mutates a loaded record in place and returns the queue entry describing the
// change. It runs inside the backend's transaction.
type UpdateFunc func(rec *models.Record) (models.QueueEntry, error)

// Records is the keyed record collections.
type Records interface {
	// CreateRecord writes rec (replacing any record with the same id) and appends entry.
	CreateRecord(ctx context.Context, table string, rec models.Record, entry models.QueueEntry) error
	// UpdateRecord loads the record, applies fn, saves it and appends the returned entry.
	UpdateRecord(ctx context.Context, table, id string, fn UpdateFunc) (models.Record, error)
	// DeleteRecord removes the record and appends entry.
	DeleteRecord(ctx context.Context, table, id string, entry models.QueueEntry) error
	GetRecord(ctx context.Context, table, id string) (models.Record, error)
	// ListRecords returns every record in table; an empty orgID means every tenant.
	ListRecords(ctx context.Context, table, orgID string) ([]models.Record, error)
}

// Queue is the outbox side of the backend.
type Queue interface {
	// PendingEntries returns a snapshot of the queue in enqueue order.
	PendingEntries(ctx context.Context) ([]models.QueueEntry, error)
	CountPending(ctx context.Context) (int, error)
	// AckEntry deletes a replayed entry. For create and update entries the record is
	// marked synced unless another entry for it is still queued.
	AckEntry(ctx context.Context, entry models.QueueEntry, at time.Time) error
	// RetryEntry records a failed attempt and keeps the entry queued.
	RetryEntry(ctx context.Context, entryID string, retries int, lastErr string) error
	// DropEntry moves an entry that exhausted its retries to the dead-letter list.
	DropEntry(ctx context.Context, entry models.QueueEntry, lastErr string, at time.Time) error
	FailedEntries(ctx context.Context) ([]models.FailedEntry, error)
	// RequeueFailed rebuilds a dead-lettered entry with Requeue and puts it back on the
	// queue ahead of any pending entry for the same record, with zero retries. The record,
	// if it still exists, is marked unsynced.
	RequeueFailed(ctx context.Context, entryID, newID string, at time.Time) error
}

// Settings is the key/value table.
type Settings interface {
	GetSetting(ctx context.Context, key string) (models.Setting, bool, error)
	SetSetting(ctx context.Context, setting models.Setting) error
}

// Backend is a complete local store.
type Backend interface {
	Records
	Queue
	Settings
	// Clear wipes every collection, the queue, the dead-letter list and the settings.
	Clear(ctx context.Context) error
	Close() error
}

// Opener creates a ready backend. It may block on slow storage.
type Opener func(ctx context.Context) (Backend, error)

// Requeue rebuilds a dead-lettered entry against the record's current local state.
// current is nil when the record no longer exists locally.
//
// A create or update is resent as a create carrying the whole current record, and fails
// with ErrNotFound once the record is gone. A delete is resent only while the record
// stays deleted, otherwise it fails with ErrSuperseded.
func Requeue(f models.FailedEntry, current *models.Record, newID string, at time.Time) (models.QueueEntry, error) {
	entry := models.QueueEntry{
		ID:        newID,
		Table:     f.Table,
		RecordID:  f.RecordID,
		Operation: f.Operation,
		Data:      f.Data,
		Timestamp: at,
	}

	if f.Operation == models.OperationDelete {
		if current != nil {
			return models.QueueEntry{}, fmt.Errorf("retry delete of %s: %w", f.Key(), ErrSuperseded)
		}
		return entry, nil
	}
	if current == nil {
		return models.QueueEntry{}, fmt.Errorf("record %s: %w", f.Key(), ErrNotFound)
	}

	data, err := json.Marshal(current.RemoteMap())
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("encode %s: %w", f.Key(), err)
	}
	entry.Operation = models.OperationCreate
	entry.Data = data
	return entry, nil
}
