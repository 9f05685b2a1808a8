// Package engine is the offline-first record store: local CRUD with an atomic outbox,
// connectivity tracking and background replay to the remote system of record.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/connectivity"
	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/ids"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/outbox"
	"github.com/mcdev12/ledgersync/go/internal/remote"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

type Config struct {
	// Tables is the registry of collection names. Empty means models.DefaultTables.
	Tables      []string
	InitTimeout time.Duration
	Drain       outbox.Config
	// HealthThreshold is how long entries may wait while online before /health fails.
	HealthThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tables:          models.DefaultTables(),
		InitTimeout:     5 * time.Second,
		Drain:           outbox.DefaultConfig(),
		HealthThreshold: 2 * time.Minute,
	}
}

// Deps are the collaborators the engine is built from. Only Open is required.
type Deps struct {
	Open    store.Opener
	Remote  remote.Collaborator
	Source  connectivity.Source
	Clock   clockwork.Clock
	Bus     *events.Bus
	Metrics outbox.MetricsCollector
}

type Engine struct {
	cfg     Config
	tables  map[string]bool
	open    store.Opener
	remote  remote.Collaborator
	source  connectivity.Source
	clock   clockwork.Clock
	bus     *events.Bus
	metrics outbox.MetricsCollector
	monitor *connectivity.Monitor

	// initMu serialises Init so the open can wait without holding mu.
	initMu  sync.Mutex
	mu      sync.RWMutex
	backend store.Backend
	drainer *outbox.Drainer
	health  *outbox.HealthChecker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if len(cfg.Tables) == 0 {
		cfg.Tables = def.Tables
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = def.HealthThreshold
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Source == nil {
		// Without a remote there is nothing to reach.
		deps.Source = connectivity.NewManualSource(deps.Remote != nil)
	}
	if deps.Remote == nil {
		deps.Remote = remote.Unconfigured{}
	}

	tables := make(map[string]bool, len(cfg.Tables))
	for _, t := range cfg.Tables {
		tables[t] = true
	}

	return &Engine{
		cfg:     cfg,
		tables:  tables,
		open:    deps.Open,
		remote:  deps.Remote,
		source:  deps.Source,
		clock:   deps.Clock,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		monitor: connectivity.NewMonitor(deps.Clock, deps.Bus),
	}
}

type openResult struct {
	backend store.Backend
	err     error
}

// Init opens storage, seeds connectivity and starts the drain loop. Calling it again
// after success is a no-op. If storage is not ready within InitTimeout it returns
// ErrInitializationTimeout and the engine stays degraded; Init may be retried. Other
// calls keep failing fast with ErrStoreUnavailable while the open is pending.
func (e *Engine) Init(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.RLock()
	installed := e.backend != nil
	e.mu.RUnlock()
	if installed {
		return nil
	}
	if e.open == nil {
		return fmt.Errorf("%w: no store opener", ErrStoreUnavailable)
	}

	openCtx, cancelOpen := context.WithCancel(ctx)
	results := make(chan openResult, 1)
	go func() {
		b, err := e.open(openCtx)
		results <- openResult{backend: b, err: err}
	}()

	var backend store.Backend
	select {
	case r := <-results:
		cancelOpen()
		if r.err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, r.err)
		}
		backend = r.backend
	case <-e.clock.After(e.cfg.InitTimeout):
		cancelOpen()
		go closeLate(results)
		log.Error().Dur("timeout", e.cfg.InitTimeout).Msg("store initialization timed out, running degraded")
		return ErrInitializationTimeout
	case <-ctx.Done():
		cancelOpen()
		go closeLate(results)
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	e.backend = backend
	e.cancel = cancel
	e.drainer = outbox.NewDrainer(outbox.Deps{
		Store:   backend,
		Remote:  e.remote,
		Conn:    e.monitor,
		Events:  e.bus,
		Clock:   e.clock,
		Metrics: e.metrics,
	}, e.cfg.Drain)
	e.health = outbox.NewHealthChecker(e.drainer, backend, e.monitor, e.clock, e.cfg.HealthThreshold)
	e.monitor.OnOnline(e.drainer.Trigger)

	e.monitor.Seed(e.source.Reachable(ctx))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.monitor.Follow(runCtx, e.source); err != nil {
			log.Error().Err(err).Msg("connectivity source stopped")
		}
	}()
	if err := e.drainer.Start(runCtx); err != nil {
		return err
	}

	log.Info().
		Strs("tables", e.cfg.Tables).
		Str("connection", e.monitor.Status()).
		Msg("engine initialized")
	return nil
}

// closeLate releases a backend that finished opening after Init gave up on it.
func closeLate(results <-chan openResult) {
	if r := <-results; r.err == nil && r.backend != nil {
		_ = r.backend.Close()
	}
}

// Close stops background work and closes storage. The engine is unusable afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.backend == nil {
		return nil
	}
	e.cancel()
	if err := e.drainer.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop drainer")
	}
	e.wg.Wait()
	err := e.backend.Close()
	e.backend = nil
	return err
}

func (e *Engine) ready() (store.Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return nil, ErrStoreUnavailable
	}
	return e.backend, nil
}

func (e *Engine) readyTable(table string) (store.Backend, error) {
	if !e.tables[table] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return e.ready()
}

// Tables returns the registered collection names.
func (e *Engine) Tables() []string {
	return append([]string(nil), e.cfg.Tables...)
}

// Create stores a new record and queues its replay. A missing id is generated.
func (e *Engine) Create(ctx context.Context, table string, data map[string]any) (string, error) {
	b, err := e.readyTable(table)
	if err != nil {
		return "", err
	}
	data, err = normalize(data)
	if err != nil {
		return "", err
	}

	rec := models.NewRecordFromMap(data)
	if rec.ID == "" {
		rec.ID = ids.NewRecordID()
	}
	now := e.clock.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Synced = false

	entry, err := newEntry(table, rec.ID, models.OperationCreate, rec.RemoteMap(), now)
	if err != nil {
		return "", err
	}
	if err := b.CreateRecord(ctx, table, rec, entry); err != nil {
		return "", storeErr(err)
	}

	log.Debug().Str("table", table).Str("id", rec.ID).Msg("record created")
	e.afterMutation()
	return rec.ID, nil
}

// Update merges partial into an existing record and queues its replay.
func (e *Engine) Update(ctx context.Context, table, id string, partial map[string]any) error {
	b, err := e.readyTable(table)
	if err != nil {
		return err
	}
	partial, err = normalize(partial)
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	_, err = b.UpdateRecord(ctx, table, id, func(rec *models.Record) (models.QueueEntry, error) {
		rec.Merge(partial)
		rec.UpdatedAt = now
		rec.Synced = false
		return newEntry(table, id, models.OperationUpdate, rec.RemoteMap(), now)
	})
	if err != nil {
		return storeErr(err)
	}

	log.Debug().Str("table", table).Str("id", id).Msg("record updated")
	e.afterMutation()
	return nil
}

// Delete removes a record and queues the remote delete.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	b, err := e.readyTable(table)
	if err != nil {
		return err
	}
	now := e.clock.Now().UTC()
	entry, err := newEntry(table, id, models.OperationDelete, map[string]any{models.FieldID: id}, now)
	if err != nil {
		return err
	}
	if err := b.DeleteRecord(ctx, table, id, entry); err != nil {
		return storeErr(err)
	}

	log.Debug().Str("table", table).Str("id", id).Msg("record deleted")
	e.afterMutation()
	return nil
}

// GetAll lists a table. An empty orgID returns every tenant's records.
func (e *Engine) GetAll(ctx context.Context, table, orgID string) ([]models.Record, error) {
	b, err := e.readyTable(table)
	if err != nil {
		return nil, err
	}
	recs, err := b.ListRecords(ctx, table, orgID)
	if err != nil {
		return nil, storeErr(err)
	}
	return recs, nil
}

func (e *Engine) GetByID(ctx context.Context, table, id string) (models.Record, error) {
	b, err := e.readyTable(table)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := b.GetRecord(ctx, table, id)
	if err != nil {
		return models.Record{}, storeErr(err)
	}
	return rec, nil
}

// Search returns records whose JSON form contains query, ignoring case. It scans the
// whole table.
func (e *Engine) Search(ctx context.Context, table, query, orgID string) ([]models.Record, error) {
	recs, err := e.GetAll(ctx, table, orgID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	if needle == "" {
		return recs, nil
	}

	out := make([]models.Record, 0, len(recs))
	for _, rec := range recs {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", table, rec.ID, err)
		}
		if strings.Contains(strings.ToLower(string(raw)), needle) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (e *Engine) GetSetting(ctx context.Context, key string) (models.Setting, bool, error) {
	b, err := e.ready()
	if err != nil {
		return models.Setting{}, false, err
	}
	s, ok, err := b.GetSetting(ctx, key)
	if err != nil {
		return models.Setting{}, false, storeErr(err)
	}
	return s, ok, nil
}

// SetSetting stores value as JSON under key.
func (e *Engine) SetSetting(ctx context.Context, key string, value any) error {
	b, err := e.ready()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	setting := models.Setting{Key: key, Value: raw, UpdatedAt: e.clock.Now().UTC()}
	if err := b.SetSetting(ctx, setting); err != nil {
		return storeErr(err)
	}
	return nil
}

// UnsyncedCount is the number of queued entries.
func (e *Engine) UnsyncedCount(ctx context.Context) (int, error) {
	b, err := e.ready()
	if err != nil {
		return 0, err
	}
	n, err := b.CountPending(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// ConnectionStatus reports whether the remote is currently reachable.
func (e *Engine) ConnectionStatus() bool {
	return e.monitor.Online()
}

// Monitor exposes the connectivity monitor, for hosts that push state themselves.
func (e *Engine) Monitor() *connectivity.Monitor {
	return e.monitor
}

// ClearAllData wipes every collection, the queue, the failed entries and the settings.
func (e *Engine) ClearAllData(ctx context.Context) error {
	b, err := e.ready()
	if err != nil {
		return err
	}
	if err := b.Clear(ctx); err != nil {
		return storeErr(err)
	}
	log.Info().Msg("local data cleared")
	return nil
}

// FailedEntries lists entries dropped after exhausting their retries.
func (e *Engine) FailedEntries(ctx context.Context) ([]models.FailedEntry, error) {
	b, err := e.ready()
	if err != nil {
		return nil, err
	}
	failed, err := b.FailedEntries(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return failed, nil
}

// RetryFailed puts a dropped entry back on the queue with zero retries, rebuilt from the
// record's current local state and ahead of any later pending change to that record. It
// returns ErrNotFound when the record has since been deleted locally.
func (e *Engine) RetryFailed(ctx context.Context, entryID string) error {
	b, err := e.ready()
	if err != nil {
		return err
	}
	now := e.clock.Now().UTC()
	if err := b.RequeueFailed(ctx, entryID, ids.NewEntryID(now), now); err != nil {
		return storeErr(err)
	}
	log.Info().Str("entry_id", entryID).Msg("failed entry requeued")
	e.afterMutation()
	return nil
}

// SyncNow runs a drain pass on the calling goroutine.
func (e *Engine) SyncNow(ctx context.Context) (outbox.Result, error) {
	e.mu.RLock()
	d := e.drainer
	e.mu.RUnlock()
	if d == nil {
		return outbox.Result{}, ErrStoreUnavailable
	}
	return d.Drain(ctx)
}

// Subscribe returns a channel of engine events and a func that ends the subscription.
func (e *Engine) Subscribe(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// Health returns the drain health checker, or nil before Init.
func (e *Engine) Health() *outbox.HealthChecker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health
}

func (e *Engine) afterMutation() {
	if !e.monitor.Online() {
		return
	}
	e.mu.RLock()
	d := e.drainer
	e.mu.RUnlock()
	if d != nil {
		d.Trigger()
	}
}

func newEntry(table, recordID string, op models.Operation, payload map[string]any, at time.Time) (models.QueueEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("encode %s payload: %w", op, err)
	}
	return models.QueueEntry{
		ID:        ids.NewEntryID(at),
		Table:     table,
		RecordID:  recordID,
		Operation: op,
		Data:      data,
		Timestamp: at,
	}, nil
}

// normalize round-trips data through JSON so every backend stores the same value types.
func normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	out := make(map[string]any, len(data))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
