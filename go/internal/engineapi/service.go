// Package engineapi exposes the engine over Connect. Messages are google.protobuf.Struct
// values, so any Connect, gRPC or gRPC-Web client can call it without generated stubs.
package engineapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/outbox"
)

const ServiceName = "ledgersync.v1.EngineService"

const (
	CreateProcedure       = "/" + ServiceName + "/Create"
	UpdateProcedure       = "/" + ServiceName + "/Update"
	DeleteProcedure       = "/" + ServiceName + "/Delete"
	GetAllProcedure       = "/" + ServiceName + "/GetAll"
	GetByIDProcedure      = "/" + ServiceName + "/GetByID"
	SearchProcedure       = "/" + ServiceName + "/Search"
	GetSettingProcedure   = "/" + ServiceName + "/GetSetting"
	SetSettingProcedure   = "/" + ServiceName + "/SetSetting"
	StatusProcedure       = "/" + ServiceName + "/Status"
	ListFailuresProcedure = "/" + ServiceName + "/ListFailures"
	RetryFailureProcedure = "/" + ServiceName + "/RetryFailure"
	DrainProcedure        = "/" + ServiceName + "/Drain"
	ResetProcedure        = "/" + ServiceName + "/Reset"
)

// Engine is what the service needs from *engine.Engine.
type Engine interface {
	Create(ctx context.Context, table string, data map[string]any) (string, error)
	Update(ctx context.Context, table, id string, partial map[string]any) error
	Delete(ctx context.Context, table, id string) error
	GetAll(ctx context.Context, table, orgID string) ([]models.Record, error)
	GetByID(ctx context.Context, table, id string) (models.Record, error)
	Search(ctx context.Context, table, query, orgID string) ([]models.Record, error)
	GetSetting(ctx context.Context, key string) (models.Setting, bool, error)
	SetSetting(ctx context.Context, key string, value any) error
	UnsyncedCount(ctx context.Context) (int, error)
	ConnectionStatus() bool
	FailedEntries(ctx context.Context) ([]models.FailedEntry, error)
	RetryFailed(ctx context.Context, entryID string) error
	SyncNow(ctx context.Context) (outbox.Result, error)
	ClearAllData(ctx context.Context) error
}

var _ Engine = (*engine.Engine)(nil)

// Status is the body of a Status response.
type Status struct {
	Online     bool   `json:"online"`
	Unsynced   int    `json:"unsynced"`
	Failed     int    `json:"failed"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
}

// DrainResult is the body of a Drain response.
type DrainResult struct {
	Synced      int  `json:"synced"`
	Failed      int  `json:"failed"`
	Dropped     int  `json:"dropped"`
	Skipped     int  `json:"skipped"`
	Pending     int  `json:"pending"`
	Interrupted bool `json:"interrupted"`
}

type Service struct {
	engine Engine
}

func NewService(e Engine) *Service {
	return &Service{engine: e}
}

type request = connect.Request[structpb.Struct]
type response = connect.Response[structpb.Struct]

// NewHandler builds an HTTP handler serving every procedure, and returns the path to
// mount it on.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(CreateProcedure, connect.NewUnaryHandler(CreateProcedure, s.Create, opts...))
	mux.Handle(UpdateProcedure, connect.NewUnaryHandler(UpdateProcedure, s.Update, opts...))
	mux.Handle(DeleteProcedure, connect.NewUnaryHandler(DeleteProcedure, s.Delete, opts...))
	mux.Handle(GetAllProcedure, connect.NewUnaryHandler(GetAllProcedure, s.GetAll, opts...))
	mux.Handle(GetByIDProcedure, connect.NewUnaryHandler(GetByIDProcedure, s.GetByID, opts...))
	mux.Handle(SearchProcedure, connect.NewUnaryHandler(SearchProcedure, s.Search, opts...))
	mux.Handle(GetSettingProcedure, connect.NewUnaryHandler(GetSettingProcedure, s.GetSetting, opts...))
	mux.Handle(SetSettingProcedure, connect.NewUnaryHandler(SetSettingProcedure, s.SetSetting, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(ListFailuresProcedure, connect.NewUnaryHandler(ListFailuresProcedure, s.ListFailures, opts...))
	mux.Handle(RetryFailureProcedure, connect.NewUnaryHandler(RetryFailureProcedure, s.RetryFailure, opts...))
	mux.Handle(DrainProcedure, connect.NewUnaryHandler(DrainProcedure, s.Drain, opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, s.Reset, opts...))
	return "/" + ServiceName + "/", mux
}

// Create expects {table, data} and returns {id}.
func (s *Service) Create(ctx context.Context, req *request) (*response, error) {
	table, err := requiredString(req.Msg, "table")
	if err != nil {
		return nil, err
	}
	id, err := s.engine.Create(ctx, table, structField(req.Msg, "data"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"id": id})
}

// Update expects {table, id, data}.
func (s *Service) Update(ctx context.Context, req *request) (*response, error) {
	table, id, err := tableAndID(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Update(ctx, table, id, structField(req.Msg, "data")); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

// Delete expects {table, id}.
func (s *Service) Delete(ctx context.Context, req *request) (*response, error) {
	table, id, err := tableAndID(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Delete(ctx, table, id); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

// GetAll expects {table, organization_id?} and returns {records}.
func (s *Service) GetAll(ctx context.Context, req *request) (*response, error) {
	table, err := requiredString(req.Msg, "table")
	if err != nil {
		return nil, err
	}
	recs, err := s.engine.GetAll(ctx, table, stringField(req.Msg, "organization_id"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respondRecords(recs)
}

// GetByID expects {table, id} and returns {record}.
func (s *Service) GetByID(ctx context.Context, req *request) (*response, error) {
	table, id, err := tableAndID(req.Msg)
	if err != nil {
		return nil, err
	}
	rec, err := s.engine.GetByID(ctx, table, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"record": rec.Map()})
}

// Search expects {table, query, organization_id?} and returns {records}.
func (s *Service) Search(ctx context.Context, req *request) (*response, error) {
	table, err := requiredString(req.Msg, "table")
	if err != nil {
		return nil, err
	}
	recs, err := s.engine.Search(ctx, table, stringField(req.Msg, "query"), stringField(req.Msg, "organization_id"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respondRecords(recs)
}

// GetSetting expects {key} and returns {found, value, updated_at}.
func (s *Service) GetSetting(ctx context.Context, req *request) (*response, error) {
	key, err := requiredString(req.Msg, "key")
	if err != nil {
		return nil, err
	}
	setting, ok, err := s.engine.GetSetting(ctx, key)
	if err != nil {
		return nil, toConnectError(err)
	}
	if !ok {
		return respond(map[string]any{"found": false})
	}
	var value any
	if err := setting.Decode(&value); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return respond(map[string]any{"found": true, "value": value, "updated_at": setting.UpdatedAt})
}

// SetSetting expects {key, value}.
func (s *Service) SetSetting(ctx context.Context, req *request) (*response, error) {
	key, err := requiredString(req.Msg, "key")
	if err != nil {
		return nil, err
	}
	var value any
	if v, ok := req.Msg.GetFields()["value"]; ok {
		value = v.AsInterface()
	}
	if err := s.engine.SetSetting(ctx, key, value); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

func (s *Service) Status(ctx context.Context, req *request) (*response, error) {
	unsynced, err := s.engine.UnsyncedCount(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	failed, err := s.engine.FailedEntries(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	status := Status{
		Online:   s.engine.ConnectionStatus(),
		Unsynced: unsynced,
		Failed:   len(failed),
	}
	if setting, ok, err := s.engine.GetSetting(ctx, outbox.SettingLastSyncAt); err == nil && ok {
		_ = setting.Decode(&status.LastSyncAt)
	}
	return respond(status)
}

// ListFailures returns {failures}.
func (s *Service) ListFailures(ctx context.Context, req *request) (*response, error) {
	failed, err := s.engine.FailedEntries(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	if failed == nil {
		failed = []models.FailedEntry{}
	}
	return respond(map[string]any{"failures": failed})
}

// RetryFailure expects {entry_id}.
func (s *Service) RetryFailure(ctx context.Context, req *request) (*response, error) {
	entryID, err := requiredString(req.Msg, "entry_id")
	if err != nil {
		return nil, err
	}
	if err := s.engine.RetryFailed(ctx, entryID); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

// Drain runs one pass and returns its DrainResult.
func (s *Service) Drain(ctx context.Context, req *request) (*response, error) {
	res, err := s.engine.SyncNow(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(DrainResult{
		Synced:      res.Synced,
		Failed:      res.Failed,
		Dropped:     res.Dropped,
		Skipped:     res.Skipped,
		Pending:     res.Pending,
		Interrupted: res.Interrupted,
	})
}

// Reset wipes all local data.
func (s *Service) Reset(ctx context.Context, req *request) (*response, error) {
	if err := s.engine.ClearAllData(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{})
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, engine.ErrUnknownTable):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, engine.ErrStoreUnavailable), errors.Is(err, engine.ErrInitializationTimeout):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, engine.ErrDrainInFlight):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, engine.ErrOffline), errors.Is(err, engine.ErrSuperseded):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func respondRecords(recs []models.Record) (*response, error) {
	items := make([]any, len(recs))
	for i, rec := range recs {
		items[i] = rec.Map()
	}
	return respond(map[string]any{"records": items})
}

func respond(v any) (*response, error) {
	msg, err := toStruct(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// fromStruct is the inverse of toStruct.
func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func structField(s *structpb.Struct, key string) map[string]any {
	v := s.GetFields()[key].GetStructValue()
	if v == nil {
		return map[string]any{}
	}
	return v.AsMap()
}

func requiredString(s *structpb.Struct, key string) (string, error) {
	v := stringField(s, key)
	if v == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s is required", key))
	}
	return v, nil
}

func tableAndID(s *structpb.Struct) (string, string, error) {
	table, err := requiredString(s, "table")
	if err != nil {
		return "", "", err
	}
	id, err := requiredString(s, "id")
	if err != nil {
		return "", "", err
	}
	return table, id, nil
}
