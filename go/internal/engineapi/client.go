package engineapi

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/ledgersync/go/internal/models"
)

type unaryClient = connect.Client[structpb.Struct, structpb.Struct]

// Client calls a running engine service.
type Client struct {
	create       *unaryClient
	update       *unaryClient
	delete       *unaryClient
	getAll       *unaryClient
	getByID      *unaryClient
	search       *unaryClient
	status       *unaryClient
	listFailures *unaryClient
	retryFailure *unaryClient
	drain        *unaryClient
	reset        *unaryClient
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	newUnary := func(procedure string) *unaryClient {
		return connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return &Client{
		create:       newUnary(CreateProcedure),
		update:       newUnary(UpdateProcedure),
		delete:       newUnary(DeleteProcedure),
		getAll:       newUnary(GetAllProcedure),
		getByID:      newUnary(GetByIDProcedure),
		search:       newUnary(SearchProcedure),
		status:       newUnary(StatusProcedure),
		listFailures: newUnary(ListFailuresProcedure),
		retryFailure: newUnary(RetryFailureProcedure),
		drain:        newUnary(DrainProcedure),
		reset:        newUnary(ResetProcedure),
	}
}

func (c *Client) Create(ctx context.Context, table string, data map[string]any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := call(ctx, c.create, map[string]any{"table": table, "data": data}, &out)
	return out.ID, err
}

func (c *Client) Update(ctx context.Context, table, id string, partial map[string]any) error {
	return call(ctx, c.update, map[string]any{"table": table, "id": id, "data": partial}, nil)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	return call(ctx, c.delete, map[string]any{"table": table, "id": id}, nil)
}

func (c *Client) GetAll(ctx context.Context, table, orgID string) ([]models.Record, error) {
	var out struct {
		Records []models.Record `json:"records"`
	}
	err := call(ctx, c.getAll, map[string]any{"table": table, "organization_id": orgID}, &out)
	return out.Records, err
}

func (c *Client) GetByID(ctx context.Context, table, id string) (models.Record, error) {
	var out struct {
		Record models.Record `json:"record"`
	}
	err := call(ctx, c.getByID, map[string]any{"table": table, "id": id}, &out)
	return out.Record, err
}

func (c *Client) Search(ctx context.Context, table, query, orgID string) ([]models.Record, error) {
	var out struct {
		Records []models.Record `json:"records"`
	}
	err := call(ctx, c.search, map[string]any{"table": table, "query": query, "organization_id": orgID}, &out)
	return out.Records, err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := call(ctx, c.status, map[string]any{}, &out)
	return out, err
}

func (c *Client) ListFailures(ctx context.Context) ([]models.FailedEntry, error) {
	var out struct {
		Failures []models.FailedEntry `json:"failures"`
	}
	err := call(ctx, c.listFailures, map[string]any{}, &out)
	return out.Failures, err
}

func (c *Client) RetryFailure(ctx context.Context, entryID string) error {
	return call(ctx, c.retryFailure, map[string]any{"entry_id": entryID}, nil)
}

func (c *Client) Drain(ctx context.Context) (DrainResult, error) {
	var out DrainResult
	err := call(ctx, c.drain, map[string]any{}, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context) error {
	return call(ctx, c.reset, map[string]any{}, nil)
}

func call(ctx context.Context, client *unaryClient, in map[string]any, out any) error {
	msg, err := toStruct(in)
	if err != nil {
		return err
	}
	resp, err := client.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return fromStruct(resp.Msg, out)
}
