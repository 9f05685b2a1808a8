package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/ledgersync/go/internal/events"
	"github.com/mcdev12/ledgersync/go/internal/models"
)

// StatusSource is the part of the engine the status endpoint reads.
type StatusSource interface {
	ConnectionStatus() bool
	UnsyncedCount(ctx context.Context) (int, error)
	FailedEntries(ctx context.Context) ([]models.FailedEntry, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Online   bool `json:"online"`
	Unsynced int  `json:"unsynced"`
	Failed   int  `json:"failed"`
}

type Handler struct {
	hub    *Hub
	status StatusSource
}

func NewHandler(hub *Hub, status StatusSource) *Handler {
	return &Handler{hub: hub, status: status}
}

// HandleEvents upgrades to a websocket that streams engine events. An optional
// comma separated types query parameter limits which event types are sent.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var types []events.Type
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			switch typ := events.Type(strings.TrimSpace(name)); typ {
			case events.TypeConnectionChange, events.TypeSyncStatus:
				types = append(types, typ)
			default:
				http.Error(w, "unknown event type "+string(typ), http.StatusBadRequest)
				return
			}
		}
	}

	if _, err := h.hub.Upgrade(w, r, types); err != nil {
		// The upgrader has already written an error response.
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
	}
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	unsynced, err := h.status.UnsyncedCount(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	failed, err := h.status.FailedEntries(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, StatusResponse{
		Online:   h.status.ConnectionStatus(),
		Unsynced: unsynced,
		Failed:   len(failed),
	})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int{"connections": h.hub.Count()})
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.HandleEvents)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	mux.HandleFunc("/status", h.HandleStatus)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
