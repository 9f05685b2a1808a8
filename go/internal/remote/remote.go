// Package remote replays queued mutations against the system of record.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned by Unconfigured for every call.
	ErrNotConfigured = errors.New("remote not configured")
	// ErrRowMissing is returned when an update finds no remote row to apply to.
	ErrRowMissing = errors.New("remote row missing")
)

// Collaborator is the remote side of a sync. Implementations must treat a repeated
// Insert of the same id as an overwrite so that replays converge.
type Collaborator interface {
	Insert(ctx context.Context, table string, record map[string]any) error
	Update(ctx context.Context, table, id string, partial map[string]any) error
	Delete(ctx context.Context, table, id string) error
}

// Pinger is implemented by collaborators that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Unconfigured fails every replay, so its entries exhaust their retries and are dropped
// to the failure list. Pair it with an offline connectivity source to keep them queued.
type Unconfigured struct{}

func (Unconfigured) Insert(context.Context, string, map[string]any) error         { return ErrNotConfigured }
func (Unconfigured) Update(context.Context, string, string, map[string]any) error { return ErrNotConfigured }
func (Unconfigured) Delete(context.Context, string, string) error                 { return ErrNotConfigured }
func (Unconfigured) Ping(context.Context) error                                   { return ErrNotConfigured }
