package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryID_MonotonicWithinSameInstant(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := NewEntryID(at)
	for i := 0; i < 100; i++ {
		next := NewEntryID(at)
		require.Less(t, prev, next)
		prev = next
	}
}

func TestNewRecordID_IsUUIDv4(t *testing.T) {
	id, err := uuid.Parse(NewRecordID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
}
