package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of mutation a queue entry replays.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether o is one of the three replayable operations.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// QueueEntry is one pending mutation in the outbox.
type QueueEntry struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"record_id"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries"`
	LastError string          `json:"last_error,omitempty"`
}

// Key identifies the record an entry refers to. Entries sharing a key replay in order.
func (e QueueEntry) Key() string {
	return e.Table + "/" + e.RecordID
}

// Payload decodes the replay data.
func (e QueueEntry) Payload() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FailedEntry is a queue entry dropped after exhausting its retries.
type FailedEntry struct {
	QueueEntry
	FailedAt time.Time `json:"failed_at"`
}
