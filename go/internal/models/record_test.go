package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordFromMap_SplitsEngineFields(t *testing.T) {
	rec := NewRecordFromMap(map[string]any{
		"id":              "inv-1",
		"organization_id": "org1",
		"invoice_number":  "INV-1",
		"total_amount":    100.0,
		"synced":          true,
		"created_at":      "ignored",
	})

	assert.Equal(t, "inv-1", rec.ID)
	assert.Equal(t, "org1", rec.OrganizationID)
	assert.False(t, rec.Synced)
	assert.True(t, rec.CreatedAt.IsZero())
	assert.Equal(t, map[string]any{"invoice_number": "INV-1", "total_amount": 100.0}, rec.Fields)
}

func TestRecordMerge_IgnoresEngineOwnedKeys(t *testing.T) {
	rec := NewRecordFromMap(map[string]any{"id": "x", "organization_id": "org1", "status": "draft"})
	rec.Synced = true

	rec.Merge(map[string]any{
		"id":              "other",
		"synced":          true,
		"status":          "sent",
		"organization_id": "org2",
	})

	assert.Equal(t, "x", rec.ID)
	assert.Equal(t, "org2", rec.OrganizationID)
	assert.Equal(t, "sent", rec.Fields["status"])
}

func TestRecordMap_RemoteOmitsSynced(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Record{ID: "a", OrganizationID: "org1", Fields: map[string]any{"amount": 5.0}, CreatedAt: now, UpdatedAt: now}

	local := rec.Map()
	remote := rec.RemoteMap()

	assert.Equal(t, false, local["synced"])
	_, ok := remote["synced"]
	assert.False(t, ok)
	assert.Equal(t, "2026-01-02T03:04:05Z", remote["created_at"])
}

func TestRecordJSON_RoundTripKeepsTimestampsAndFlag(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 123, time.UTC)
	rec := Record{ID: "a", OrganizationID: "org1", Fields: map[string]any{"memo": "hi"}, CreatedAt: now, UpdatedAt: now, Synced: true}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rec, got)
}

func TestRecordClone_DoesNotShareFields(t *testing.T) {
	rec := Record{ID: "a", Fields: map[string]any{"k": "v"}}
	cp := rec.Clone()
	cp.Fields["k"] = "changed"
	assert.Equal(t, "v", rec.Fields["k"])
}

func TestOperationValid(t *testing.T) {
	assert.True(t, OperationCreate.Valid())
	assert.True(t, OperationUpdate.Valid())
	assert.True(t, OperationDelete.Valid())
	assert.False(t, Operation("upsert").Valid())
}
