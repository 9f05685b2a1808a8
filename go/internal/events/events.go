// Package events carries engine notifications to in-process subscribers and external sinks.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an engine event.
type Type string

const (
	TypeConnectionChange Type = "connection-change"
	TypeSyncStatus       Type = "sync-status"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ConnectionChange is the payload of a connection-change event.
type ConnectionChange struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncStatus summarises one drain pass.
type SyncStatus struct {
	Pending   int       `json:"pending"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	Dropped   int       `json:"dropped"`
	Skipped   int       `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}

// New wraps payload in an envelope.
func New(typ Type, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: at,
		Data:      data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
