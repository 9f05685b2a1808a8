// Package outbox replays the sync queue against the remote collaborator.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/remote"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

// SettingLastSyncAt is written after every pass that acknowledged at least one entry.
const SettingLastSyncAt = "last_sync_at"

// Connectivity reports whether the remote can be reached right now.
type Connectivity interface {
	Online() bool
}

// Backend is the part of the local store the drainer touches.
type Backend interface {
	store.Queue
	store.Settings
}

type Deps struct {
	Store   Backend
	Remote  remote.Collaborator
	Conn    Connectivity
	Events  events.Publisher
	Clock   clockwork.Clock
	Metrics MetricsCollector
}

// Drainer runs drain passes. At most one pass is in flight at a time; triggers that
// arrive while a pass is running are dropped.
type Drainer struct {
	store   Backend
	remote  remote.Collaborator
	conn    Connectivity
	events  events.Publisher
	clock   clockwork.Clock
	metrics MetricsCollector
	config  Config

	inFlight atomic.Bool
	wakeCh   chan struct{}

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	statsMu    sync.Mutex
	lastPass   time.Time
	lastResult Result
	totals     Totals
}

// Totals accumulate across passes since the drainer was created.
type Totals struct {
	Passes  uint64 `json:"passes"`
	Synced  uint64 `json:"synced"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func NewDrainer(deps Deps, cfg Config) *Drainer {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = NoOpMetricsCollector{}
	}
	return &Drainer{
		store:    deps.Store,
		remote:   deps.Remote,
		conn:     deps.Conn,
		events:   deps.Events,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		config:   cfg.withDefaults(),
		wakeCh:   make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

func (d *Drainer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("drainer already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx)

	log.Info().
		Dur("interval", d.config.Interval).
		Int("max_retries", d.config.MaxRetries).
		Dur("item_timeout", d.config.ItemTimeout).
		Msg("drainer started")
	return nil
}

func (d *Drainer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("drainer not running")
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	log.Info().Msg("drainer stopped")
	return nil
}

// Running reports whether the background loop is active.
func (d *Drainer) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// InFlight reports whether a pass is executing.
func (d *Drainer) InFlight() bool {
	return d.inFlight.Load()
}

// Trigger asks the background loop for a pass without blocking. It is a no-op while a
// pass is in flight or a wake-up is already pending.
func (d *Drainer) Trigger() {
	if d.inFlight.Load() {
		log.Debug().Msg("drain in flight, trigger dropped")
		return
	}
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Drainer) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := d.clock.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.drainIfOnline(ctx, "start")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case <-ticker.Chan():
			d.drainIfOnline(ctx, "interval")
		case <-d.wakeCh:
			d.drainIfOnline(ctx, "trigger")
		}
	}
}

func (d *Drainer) drainIfOnline(ctx context.Context, reason string) {
	if !d.conn.Online() {
		return
	}
	res, err := d.Drain(ctx)
	switch {
	case errors.Is(err, ErrDrainInFlight), errors.Is(err, ErrOffline):
		log.Debug().Err(err).Str("reason", reason).Msg("drain skipped")
	case err != nil:
		log.Error().Err(err).Str("reason", reason).Msg("drain pass failed")
	case res.Synced+res.Failed+res.Dropped > 0:
		log.Info().
			Str("reason", reason).
			Int("synced", res.Synced).
			Int("failed", res.Failed).
			Int("dropped", res.Dropped).
			Int("skipped", res.Skipped).
			Int("pending", res.Pending).
			Msg("drain pass complete")
	}
}

// Drain runs one pass synchronously.
func (d *Drainer) Drain(ctx context.Context) (Result, error) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrDrainInFlight
	}
	defer d.inFlight.Store(false)

	if !d.conn.Online() {
		return Result{}, ErrOffline
	}
	return d.pass(ctx)
}

func (d *Drainer) pass(ctx context.Context) (Result, error) {
	res := Result{StartedAt: d.clock.Now()}

	entries, err := d.store.PendingEntries(ctx)
	if err != nil {
		return res, fmt.Errorf("read queue: %w", err)
	}

	blocked := make(map[string]bool)
	for _, entry := range entries {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if !d.conn.Online() {
			log.Info().Str("entry_id", entry.ID).Msg("connectivity lost, stopping pass")
			res.Interrupted = true
			break
		}
		if blocked[entry.Key()] {
			res.Skipped++
			continue
		}

		start := d.clock.Now()
		replayErr := d.replay(ctx, entry)
		d.metrics.RecordReplay(entry.Table, string(entry.Operation), replayErr == nil, d.clock.Since(start))

		if replayErr == nil {
			if err := d.store.AckEntry(ctx, entry, d.clock.Now()); err != nil {
				log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to ack entry")
				blocked[entry.Key()] = true
				continue
			}
			res.Synced++
			continue
		}

		if ctx.Err() != nil {
			// Shutting down: leave the entry untouched.
			res.Interrupted = true
			break
		}

		blocked[entry.Key()] = true
		failure := d.recordFailure(ctx, entry, replayErr)
		res.Failures = append(res.Failures, failure)
		if failure.Dropped {
			res.Dropped++
		} else {
			res.Failed++
		}
	}

	if n, err := d.store.CountPending(ctx); err == nil {
		res.Pending = n
		d.metrics.RecordQueueDepth(n)
	}
	res.FinishedAt = d.clock.Now()
	d.metrics.RecordPass(res, res.FinishedAt.Sub(res.StartedAt))
	d.finishPass(ctx, res)
	return res, nil
}

func (d *Drainer) replay(ctx context.Context, entry models.QueueEntry) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.ItemTimeout)
	defer cancel()

	switch entry.Operation {
	case models.OperationCreate:
		payload, err := entry.Payload()
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.remote.Insert(ctx, entry.Table, payload)
	case models.OperationUpdate:
		payload, err := entry.Payload()
		if err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return d.remote.Update(ctx, entry.Table, entry.RecordID, payload)
	case models.OperationDelete:
		return d.remote.Delete(ctx, entry.Table, entry.RecordID)
	default:
		return fmt.Errorf("unknown operation %q", entry.Operation)
	}
}

func (d *Drainer) recordFailure(ctx context.Context, entry models.QueueEntry, replayErr error) *SyncFailure {
	attempt := entry.Retries + 1
	failure := &SyncFailure{
		EntryID:   entry.ID,
		Table:     entry.Table,
		RecordID:  entry.RecordID,
		Operation: entry.Operation,
		Attempt:   attempt,
		Err:       replayErr,
	}

	if attempt >= d.config.MaxRetries {
		failure.Dropped = true
		entry.Retries = attempt
		if err := d.store.DropEntry(ctx, entry, replayErr.Error(), d.clock.Now()); err != nil {
			log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to drop entry")
		}
		d.metrics.RecordDropped(entry.Table, string(entry.Operation))
		log.Warn().Err(failure).Msg("entry dropped after max retries")
		return failure
	}

	if err := d.store.RetryEntry(ctx, entry.ID, attempt, replayErr.Error()); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to record retry")
	}
	log.Warn().Err(failure).Msg("replay failed, will retry")
	return failure
}

func (d *Drainer) finishPass(ctx context.Context, res Result) {
	d.statsMu.Lock()
	d.lastPass = res.FinishedAt
	d.lastResult = res
	d.totals.Passes++
	d.totals.Synced += uint64(res.Synced)
	d.totals.Failed += uint64(res.Failed)
	d.totals.Dropped += uint64(res.Dropped)
	d.statsMu.Unlock()

	if res.Synced > 0 {
		value, _ := json.Marshal(res.FinishedAt.UTC().Format(time.RFC3339Nano))
		err := d.store.SetSetting(ctx, models.Setting{Key: SettingLastSyncAt, Value: value, UpdatedAt: res.FinishedAt})
		if err != nil {
			log.Error().Err(err).Msg("failed to record last sync time")
		}
	}

	if d.events == nil {
		return
	}
	ev, err := events.New(events.TypeSyncStatus, events.SyncStatus{
		Pending:   res.Pending,
		Synced:    res.Synced,
		Failed:    res.Failed,
		Dropped:   res.Dropped,
		Skipped:   res.Skipped,
		Timestamp: res.FinishedAt,
	}, res.FinishedAt)
	if err == nil {
		err = d.events.Publish(ctx, ev)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to publish sync status")
	}
}

// Stats returns the time and result of the last pass and the running totals.
func (d *Drainer) Stats() (time.Time, Result, Totals) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.lastPass, d.lastResult, d.totals
}
