package engineapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/ledgersync/go/internal/connectivity"
	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/store/memstore"
)

func newTestServer(t *testing.T) (*engine.Engine, *Client) {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), engine.Deps{
		Open:   memstore.Opener(),
		Source: connectivity.NewManualSource(false),
		Clock:  clockwork.NewFakeClockAt(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, eng.Init(context.Background()))
	t.Cleanup(func() { _ = eng.Close() })

	mux := http.NewServeMux()
	path, handler := NewHandler(NewService(eng))
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return eng, NewClient(srv.Client(), srv.URL)
}

func TestRecordRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.Create(ctx, models.TableInvoices, map[string]any{
		"organization_id": "org-1",
		"number":          "INV-001",
		"amount":          120.5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := client.GetByID(ctx, models.TableInvoices, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, "org-1", rec.OrganizationID)
	assert.Equal(t, "INV-001", rec.Fields["number"])
	assert.Equal(t, 120.5, rec.Fields["amount"])
	assert.False(t, rec.Synced)

	require.NoError(t, client.Update(ctx, models.TableInvoices, id, map[string]any{"amount": 99.0}))
	rec, err = client.GetByID(ctx, models.TableInvoices, id)
	require.NoError(t, err)
	assert.Equal(t, 99.0, rec.Fields["amount"])
	assert.Equal(t, "INV-001", rec.Fields["number"])

	all, err := client.GetAll(ctx, models.TableInvoices, "org-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	other, err := client.GetAll(ctx, models.TableInvoices, "org-2")
	require.NoError(t, err)
	assert.Empty(t, other)

	found, err := client.Search(ctx, models.TableInvoices, "inv-0", "")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	require.NoError(t, client.Delete(ctx, models.TableInvoices, id))
	_, err = client.GetByID(ctx, models.TableInvoices, id)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestErrorCodes(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Create(ctx, "widgets", map[string]any{"name": "x"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.Create(ctx, "", map[string]any{"name": "x"})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	err = client.Update(ctx, models.TableExpenses, "missing", map[string]any{"amount": 1.0})
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	err = client.Delete(ctx, models.TableExpenses, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.Drain(ctx)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestUnavailableBeforeInit(t *testing.T) {
	eng := engine.New(engine.DefaultConfig(), engine.Deps{Open: memstore.Opener()})
	srv := NewService(eng)

	_, err := srv.Status(context.Background(), connect.NewRequest(&structpb.Struct{}))
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestStatusAndFailures(t *testing.T) {
	eng, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Create(ctx, models.TableExpenses, map[string]any{"description": "fuel"})
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.Unsynced)
	assert.Zero(t, status.Failed)

	// No remote is configured, so every replay fails until the entry is dropped.
	eng.Monitor().Seed(true)
	var failures []models.FailedEntry
	for i := 0; i < 5 && len(failures) == 0; i++ {
		res, err := client.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Synced)
		failures, err = client.ListFailures(ctx)
		require.NoError(t, err)
	}
	require.Len(t, failures, 1)
	assert.Equal(t, models.TableExpenses, failures[0].Table)
	assert.Equal(t, models.OperationCreate, failures[0].Operation)
	assert.NotEmpty(t, failures[0].LastError)

	status, err = client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, 0, status.Unsynced)
	assert.Equal(t, 1, status.Failed)

	eng.Monitor().Seed(false)
	require.NoError(t, client.RetryFailure(ctx, failures[0].ID))
	status, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Unsynced)
	assert.Equal(t, 0, status.Failed)

	err = client.RetryFailure(ctx, "no-such-entry")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestRetryFailureOfSupersededDelete(t *testing.T) {
	eng, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.Create(ctx, models.TableExpenses, map[string]any{"id": "exp-1"})
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, models.TableExpenses, "exp-1"))

	eng.Monitor().Seed(true)
	var failures []models.FailedEntry
	for i := 0; i < 8 && len(failures) < 2; i++ {
		_, err := client.Drain(ctx)
		require.NoError(t, err)
		failures, err = client.ListFailures(ctx)
		require.NoError(t, err)
	}
	require.Len(t, failures, 2)
	eng.Monitor().Seed(false)

	var deleteID, createID string
	for _, f := range failures {
		if f.Operation == models.OperationDelete {
			deleteID = f.ID
		} else {
			createID = f.ID
		}
	}
	err = client.RetryFailure(ctx, createID)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = client.Create(ctx, models.TableExpenses, map[string]any{"id": "exp-1"})
	require.NoError(t, err)
	err = client.RetryFailure(ctx, deleteID)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestSettingsAndReset(t *testing.T) {
	eng, client := newTestServer(t)
	ctx := context.Background()
	svc := NewService(eng)

	in, err := structpb.NewStruct(map[string]any{"key": "currency", "value": "EUR"})
	require.NoError(t, err)
	_, err = svc.SetSetting(ctx, connect.NewRequest(in))
	require.NoError(t, err)

	in, err = structpb.NewStruct(map[string]any{"key": "currency"})
	require.NoError(t, err)
	resp, err := svc.GetSetting(ctx, connect.NewRequest(in))
	require.NoError(t, err)
	assert.True(t, resp.Msg.GetFields()["found"].GetBoolValue())
	assert.Equal(t, "EUR", resp.Msg.GetFields()["value"].GetStringValue())

	_, err = client.Create(ctx, models.TablePayroll, map[string]any{"period": "2024-06"})
	require.NoError(t, err)
	require.NoError(t, client.Reset(ctx))

	all, err := client.GetAll(ctx, models.TablePayroll, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	resp, err = svc.GetSetting(ctx, connect.NewRequest(in))
	require.NoError(t, err)
	assert.False(t, resp.Msg.GetFields()["found"].GetBoolValue())
}
