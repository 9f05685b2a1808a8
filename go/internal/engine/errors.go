package engine

import (
	"errors"

	"github.com/mcdev12/ledgersync/go/internal/outbox"
	"github.com/mcdev12/ledgersync/go/internal/store"
)

var (
	// ErrStoreUnavailable is returned when the engine was never initialized, its
	// initialization timed out, or the backend has been closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned for a missing record, queue entry or failed entry.
	ErrNotFound = store.ErrNotFound
	// ErrUnknownTable is returned for a table outside the configured registry.
	ErrUnknownTable = errors.New("unknown table")
	// ErrInitializationTimeout is returned by Init when storage is not ready in time.
	ErrInitializationTimeout = errors.New("initialization timeout")
	// ErrDrainInFlight is returned by SyncNow while another pass runs.
	ErrDrainInFlight = outbox.ErrDrainInFlight
	// ErrSuperseded is returned by RetryFailed for a dropped delete whose record was
	// created again locally.
	ErrSuperseded = store.ErrSuperseded
	// ErrOffline is returned by SyncNow when the remote is unreachable.
	ErrOffline = outbox.ErrOffline
)
