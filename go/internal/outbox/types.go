package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/ledgersync/go/internal/models"
)

var (
	// ErrDrainInFlight is returned by Drain when another pass is running.
	ErrDrainInFlight = errors.New("drain already in flight")
	// ErrOffline is returned by Drain when the remote is unreachable.
	ErrOffline = errors.New("remote unreachable")
)

// SyncFailure describes one failed replay. It is recorded on the queue entry and
// reported in pass results, never returned to the caller that made the mutation.
type SyncFailure struct {
	EntryID   string
	Table     string
	RecordID  string
	Operation models.Operation
	Attempt   int
	Dropped   bool
	Err       error
}

func (f *SyncFailure) Error() string {
	return fmt.Sprintf("sync %s %s/%s (entry %s, attempt %d): %v",
		f.Operation, f.Table, f.RecordID, f.EntryID, f.Attempt, f.Err)
}

func (f *SyncFailure) Unwrap() error { return f.Err }

// Result summarises one drain pass.
type Result struct {
	Synced  int
	Failed  int
	Dropped int
	Skipped int
	Pending int
	// Interrupted is set when connectivity was lost mid-pass.
	Interrupted bool
	Failures    []*SyncFailure
	StartedAt   time.Time
	FinishedAt  time.Time
}
