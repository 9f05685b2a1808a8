package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEntryID returns a lexicographically sortable identifier for a queue entry.
// IDs minted within the same millisecond keep their creation order.
func NewEntryID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewRecordID returns a random UUID for a locally created record.
func NewRecordID() string {
	return uuid.New().String()
}
