package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/ledgersync/go/internal/connectivity"
	"github.com/mcdev12/ledgersync/go/internal/dbconfig"
	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/engineapi"
	"github.com/mcdev12/ledgersync/go/internal/models"
	"github.com/mcdev12/ledgersync/go/internal/store/memstore"
)

func startEngineServer(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), engine.Deps{
		Open:   memstore.Opener(),
		Source: connectivity.NewManualSource(false),
	})
	require.NoError(t, eng.Init(context.Background()))
	t.Cleanup(func() { _ = eng.Close() })

	path, handler := engineapi.NewHandler(engineapi.NewService(eng))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return eng, srv.URL
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clearEnv(t)
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	eng, url := startEngineServer(t)
	_, err := eng.Create(context.Background(), models.TableInvoices, map[string]any{"number": "INV-9"})
	require.NoError(t, err)

	out, err := runCommand(t, "status", "--server", url, "--format", "json")
	require.NoError(t, err)
	var status engineapi.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.False(t, status.Online)
	assert.Equal(t, 1, status.Unsynced)

	out, err = runCommand(t, "status", "--server", url)
	require.NoError(t, err)
	assert.Contains(t, out, "connection: offline")
	assert.Contains(t, out, "unsynced:   1")
}

func TestDrainCommandOffline(t *testing.T) {
	_, url := startEngineServer(t)

	_, err := runCommand(t, "drain", "--server", url)
	require.Error(t, err)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestDrainCommandOnline(t *testing.T) {
	eng, url := startEngineServer(t)
	eng.Monitor().Seed(true)

	out, err := runCommand(t, "drain", "--server", url, "--format", "json")
	require.NoError(t, err)
	var res engineapi.DrainResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, engineapi.DrainResult{}, res)
}

func TestFailuresCommands(t *testing.T) {
	_, url := startEngineServer(t)

	out, err := runCommand(t, "failures", "list", "--server", url)
	require.NoError(t, err)
	assert.Equal(t, "No failed entries.\n", out)

	_, err = runCommand(t, "failures", "retry", "missing", "--server", url)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))

	_, err = runCommand(t, "failures", "retry", "--server", url)
	assert.Error(t, err)
}

func TestResetCommand(t *testing.T) {
	eng, url := startEngineServer(t)
	ctx := context.Background()
	_, err := eng.Create(ctx, models.TableEmployees, map[string]any{"full_name": "Ada"})
	require.NoError(t, err)

	_, err = runCommand(t, "reset", "--server", url)
	assert.ErrorContains(t, err, "--yes")

	out, err := runCommand(t, "reset", "--yes", "--server", url)
	require.NoError(t, err)
	assert.Equal(t, "local data cleared\n", out)

	all, err := eng.GetAll(ctx, models.TableEmployees, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestInvalidFormat(t *testing.T) {
	_, err := runCommand(t, "status", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestServerRoutes(t *testing.T) {
	clearEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "ledgersync.db")

	services, err := setupServices(context.Background(), cfg, dbconfig.Config{})
	require.NoError(t, err)
	t.Cleanup(services.Close)

	srv := httptest.NewServer(setupServer(":0", services).Handler)
	t.Cleanup(srv.Close)

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, _ := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, services.Engine.Init(context.Background()))
	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"healthy":true`)

	// Without a hosted database the engine stays offline and keeps changes queued.
	code, body = get("/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"online":false`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "go_goroutines"))

	client := engineapi.NewClient(srv.Client(), srv.URL)
	id, err := client.Create(context.Background(), models.TableTransactions, map[string]any{"amount": 10.0})
	require.NoError(t, err)
	rec, err := client.GetByID(context.Background(), models.TableTransactions, id)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.Fields["amount"])
}
