package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/models"
)

type fakeEngine struct {
	*events.Bus
	online   bool
	unsynced int
	failed   []models.FailedEntry
	err      error
}

func (f *fakeEngine) ConnectionStatus() bool { return f.online }

func (f *fakeEngine) UnsyncedCount(ctx context.Context) (int, error) {
	return f.unsynced, f.err
}

func (f *fakeEngine) FailedEntries(ctx context.Context) ([]models.FailedEntry, error) {
	return f.failed, f.err
}

func startGateway(t *testing.T, eng *fakeEngine) (*Service, *httptest.Server) {
	t.Helper()
	svc := NewService(DefaultConfig(), eng)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Start(ctx)
	}()

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return svc, srv
}

func dial(t *testing.T, svc *Service, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := svc.Connections()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return svc.Connections() > before }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt events.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func publish(t *testing.T, bus *events.Bus, typ events.Type, payload any) {
	t.Helper()
	evt, err := events.New(typ, payload, time.Now())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), evt))
}

func TestEventsAreBroadcast(t *testing.T) {
	eng := &fakeEngine{Bus: events.NewBus()}
	svc, srv := startGateway(t, eng)
	conn := dial(t, svc, srv, "")

	publish(t, eng.Bus, events.TypeSyncStatus, events.SyncStatus{Synced: 2, Pending: 1})

	evt := readEvent(t, conn)
	assert.Equal(t, events.TypeSyncStatus, evt.Type)
	var status events.SyncStatus
	require.NoError(t, evt.Decode(&status))
	assert.Equal(t, 2, status.Synced)
	assert.Equal(t, 1, status.Pending)
}

func TestTypeFilter(t *testing.T) {
	eng := &fakeEngine{Bus: events.NewBus()}
	svc, srv := startGateway(t, eng)
	conn := dial(t, svc, srv, "?types=connection-change")

	publish(t, eng.Bus, events.TypeSyncStatus, events.SyncStatus{Synced: 1})
	publish(t, eng.Bus, events.TypeConnectionChange, events.ConnectionChange{Status: events.StatusOffline})

	evt := readEvent(t, conn)
	assert.Equal(t, events.TypeConnectionChange, evt.Type)
}

func TestUnknownTypeRejected(t *testing.T) {
	eng := &fakeEngine{Bus: events.NewBus()}
	_, srv := startGateway(t, eng)

	resp, err := http.Get(srv.URL + "/ws/events?types=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	eng := &fakeEngine{
		Bus:      events.NewBus(),
		online:   true,
		unsynced: 3,
		failed:   []models.FailedEntry{{}},
	}
	_, srv := startGateway(t, eng)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, StatusResponse{Online: true, Unsynced: 3, Failed: 1}, body)
}

func TestStatusEndpointUnavailable(t *testing.T) {
	eng := &fakeEngine{Bus: events.NewBus(), err: errors.New("store unavailable")}
	_, srv := startGateway(t, eng)

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSlowClientIsDropped(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.SendBuffer = 1
	hub := NewHub(cfg)
	c := &Connection{ID: "slow", Send: make(chan []byte, 1), hub: hub}
	hub.register(c)

	evt, err := events.New(events.TypeSyncStatus, events.SyncStatus{}, time.Now())
	require.NoError(t, err)
	hub.Broadcast(evt)
	assert.Equal(t, 1, hub.Count())
	hub.Broadcast(evt)
	assert.Equal(t, 0, hub.Count())

	_, ok := <-c.Send
	assert.True(t, ok)
	_, ok = <-c.Send
	assert.False(t, ok)
}
