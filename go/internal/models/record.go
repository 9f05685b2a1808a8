package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Keys the engine owns inside a flattened record. Everything else is a domain field.
const (
	FieldID             = "id"
	FieldOrganizationID = "organization_id"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldSynced         = "synced"
)

// Record is one row of a local collection. Domain fields are opaque to the engine.
type Record struct {
	ID             string
	OrganizationID string
	Fields         map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Synced         bool
}

// NewRecordFromMap builds a record from caller supplied data. Engine-owned keys other
// than id and organization_id are ignored.
func NewRecordFromMap(data map[string]any) Record {
	rec := Record{Fields: make(map[string]any, len(data))}
	for k, v := range data {
		switch k {
		case FieldID:
			rec.ID = stringValue(v)
		case FieldOrganizationID:
			rec.OrganizationID = stringValue(v)
		case FieldCreatedAt, FieldUpdatedAt, FieldSynced:
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}

// Merge applies a partial update on top of the record's domain fields.
func (r *Record) Merge(partial map[string]any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		switch k {
		case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldSynced:
		case FieldOrganizationID:
			r.OrganizationID = stringValue(v)
		default:
			r.Fields[k] = v
		}
	}
}

// Clone returns a copy that does not share the fields map.
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// Map flattens the record into the shape stored locally and exposed to callers.
func (r Record) Map() map[string]any {
	m := r.RemoteMap()
	m[FieldSynced] = r.Synced
	return m
}

// RemoteMap is Map without the local-only synced flag. It is what gets replayed.
func (r Record) RemoteMap() map[string]any {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[FieldID] = r.ID
	m[FieldOrganizationID] = r.OrganizationID
	m[FieldCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	m[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return m
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	rec := NewRecordFromMap(m)
	if s, ok := m[FieldCreatedAt].(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse created_at: %w", err)
		}
		rec.CreatedAt = t
	}
	if s, ok := m[FieldUpdatedAt].(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse updated_at: %w", err)
		}
		rec.UpdatedAt = t
	}
	if b, ok := m[FieldSynced].(bool); ok {
		rec.Synced = b
	}
	*r = rec
	return nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
