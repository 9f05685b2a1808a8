// Package memstore is an in-memory store.Backend. Every operation runs under one mutex, so a
// record write and its queue append are applied together or not at all.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

type Store struct {
	mu       sync.Mutex
	closed   bool
	records  map[string]map[string]models.Record
	queue    []models.QueueEntry
	failed   []models.FailedEntry
	settings map[string]models.Setting
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		records:  make(map[string]map[string]models.Record),
		settings: make(map[string]models.Setting),
	}
}

// Opener adapts New to store.Opener.
func Opener() store.Opener {
	return func(ctx context.Context) (store.Backend, error) {
		return New(), nil
	}
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	return nil
}

func (s *Store) CreateRecord(ctx context.Context, table string, rec models.Record, entry models.QueueEntry) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	coll, ok := s.records[table]
	if !ok {
		coll = make(map[string]models.Record)
		s.records[table] = coll
	}
	coll[rec.ID] = rec.Clone()
	s.queue = append(s.queue, entry)
	return nil
}

func (s *Store) UpdateRecord(ctx context.Context, table, id string, fn store.UpdateFunc) (models.Record, error) {
	if err := s.lock(); err != nil {
		return models.Record{}, err
	}
	defer s.mu.Unlock()

	existing, ok := s.records[table][id]
	if !ok {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
	}
	rec := existing.Clone()
	entry, err := fn(&rec)
	if err != nil {
		return models.Record{}, err
	}
	s.records[table][id] = rec
	s.queue = append(s.queue, entry)
	return rec.Clone(), nil
}

func (s *Store) DeleteRecord(ctx context.Context, table, id string, entry models.QueueEntry) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.records[table][id]; !ok {
		return fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
	}
	delete(s.records[table], id)
	s.queue = append(s.queue, entry)
	return nil
}

func (s *Store) GetRecord(ctx context.Context, table, id string) (models.Record, error) {
	if err := s.lock(); err != nil {
		return models.Record{}, err
	}
	defer s.mu.Unlock()

	rec, ok := s.records[table][id]
	if !ok {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *Store) ListRecords(ctx context.Context, table, orgID string) ([]models.Record, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]models.Record, 0, len(s.records[table]))
	for _, rec := range s.records[table] {
		if orgID != "" && rec.OrganizationID != orgID {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) PendingEntries(ctx context.Context) ([]models.QueueEntry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]models.QueueEntry, len(s.queue))
	copy(out, s.queue)
	return out, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return len(s.queue), nil
}

func (s *Store) AckEntry(ctx context.Context, entry models.QueueEntry, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	idx := s.indexOf(entry.ID)
	if idx < 0 {
		return fmt.Errorf("queue entry %s: %w", entry.ID, store.ErrNotFound)
	}
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)

	if entry.Operation == models.OperationDelete {
		return nil
	}
	for _, e := range s.queue {
		if e.Key() == entry.Key() {
			return nil
		}
	}
	if rec, ok := s.records[entry.Table][entry.RecordID]; ok {
		rec.Synced = true
		s.records[entry.Table][entry.RecordID] = rec
	}
	return nil
}

func (s *Store) RetryEntry(ctx context.Context, entryID string, retries int, lastErr string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	idx := s.indexOf(entryID)
	if idx < 0 {
		return fmt.Errorf("queue entry %s: %w", entryID, store.ErrNotFound)
	}
	s.queue[idx].Retries = retries
	s.queue[idx].LastError = lastErr
	return nil
}

func (s *Store) DropEntry(ctx context.Context, entry models.QueueEntry, lastErr string, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	idx := s.indexOf(entry.ID)
	if idx < 0 {
		return fmt.Errorf("queue entry %s: %w", entry.ID, store.ErrNotFound)
	}
	dropped := s.queue[idx]
	dropped.Retries = entry.Retries
	dropped.LastError = lastErr
	s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	s.failed = append(s.failed, models.FailedEntry{QueueEntry: dropped, FailedAt: at})
	return nil
}

func (s *Store) FailedEntries(ctx context.Context) ([]models.FailedEntry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	out := make([]models.FailedEntry, len(s.failed))
	copy(out, s.failed)
	return out, nil
}

func (s *Store) RequeueFailed(ctx context.Context, entryID, newID string, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for i, f := range s.failed {
		if f.ID != entryID {
			continue
		}
		var current *models.Record
		if rec, ok := s.records[f.Table][f.RecordID]; ok {
			current = &rec
		}
		entry, err := store.Requeue(f, current, newID, at)
		if err != nil {
			return err
		}
		if current != nil {
			current.Synced = false
			s.records[f.Table][f.RecordID] = *current
		}
		s.failed = append(s.failed[:i], s.failed[i+1:]...)

		pos := len(s.queue)
		for j, e := range s.queue {
			if e.Key() == entry.Key() {
				pos = j
				break
			}
		}
		s.queue = append(s.queue, models.QueueEntry{})
		copy(s.queue[pos+1:], s.queue[pos:])
		s.queue[pos] = entry
		return nil
	}
	return fmt.Errorf("failed entry %s: %w", entryID, store.ErrNotFound)
}

func (s *Store) GetSetting(ctx context.Context, key string) (models.Setting, bool, error) {
	if err := s.lock(); err != nil {
		return models.Setting{}, false, err
	}
	defer s.mu.Unlock()

	setting, ok := s.settings[key]
	return setting, ok, nil
}

func (s *Store) SetSetting(ctx context.Context, setting models.Setting) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.settings[setting.Key] = setting
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.records = make(map[string]map[string]models.Record)
	s.queue = nil
	s.failed = nil
	s.settings = make(map[string]models.Setting)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// indexOf must be called with mu held.
func (s *Store) indexOf(entryID string) int {
	for i, e := range s.queue {
		if e.ID == entryID {
			return i
		}
	}
	return -1
}
