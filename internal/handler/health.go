package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/harman698/OnGoPool/internal/clock"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// SweeperLiveness reports whether the expiry sweeper completed a recent tick.
type SweeperLiveness interface {
	Healthy(now time.Time) bool
	LastRun() time.Time
}

type healthResponse struct {
	Status       string     `json:"status"`
	Database     string     `json:"database"`
	Sweeper      string     `json:"sweeper"`
	SweeperRunAt *time.Time `json:"sweeper_last_run,omitempty"`
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	db      Pinger
	sweeper SweeperLiveness
	clock   clock.Clock
}

func NewHealthHandler(db Pinger, sweeper SweeperLiveness, clk clock.Clock) *HealthHandler {
	return &HealthHandler{db: db, sweeper: sweeper, clock: clk}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok", Sweeper: "ok"}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			handlerLogger.Error().Str("event", "health_db_failed").Err(err).Msg("Database ping failed")
			resp.Database = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	if h.sweeper != nil {
		if last := h.sweeper.LastRun(); !last.IsZero() {
			resp.SweeperRunAt = &last
		}
		if !h.sweeper.Healthy(h.clock.Now()) {
			resp.Sweeper = "stalled"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
