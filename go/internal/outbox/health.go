package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type HealthStatus struct {
	Healthy  bool      `json:"healthy"`
	LastPass time.Time `json:"last_pass"`
	Totals   Totals    `json:"totals"`
	Pending  int       `json:"pending"`
	InFlight bool      `json:"in_flight"`
	Running  bool      `json:"running"`
	Online   bool      `json:"online"`
	Errors   []string  `json:"errors"`
}

type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// HealthChecker reports on the drainer. It is unhealthy when the loop is stopped, the
// queue cannot be read, or entries wait while online and no pass has finished within
// threshold.
type HealthChecker struct {
	drainer   *Drainer
	queue     PendingCounter
	conn      Connectivity
	clock     clockwork.Clock
	threshold time.Duration
}

func NewHealthChecker(d *Drainer, queue PendingCounter, conn Connectivity, clock clockwork.Clock, threshold time.Duration) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthChecker{drainer: d, queue: queue, conn: conn, clock: clock, threshold: threshold}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	lastPass, _, totals := h.drainer.Stats()
	status.LastPass = lastPass
	status.Totals = totals
	status.InFlight = h.drainer.InFlight()
	status.Running = h.drainer.Running()
	status.Online = h.conn.Online()

	if !status.Running {
		status.Healthy = false
		status.Errors = append(status.Errors, "drainer not running")
	}

	pending, err := h.queue.CountPending(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending entries: %v", err))
	} else {
		status.Pending = pending
	}

	if status.Online && status.Pending > 0 && !lastPass.IsZero() {
		if since := h.clock.Since(lastPass); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no drain pass for %s", since))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
