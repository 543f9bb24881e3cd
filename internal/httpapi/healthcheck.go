package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"anemometer-server/internal/utils"
)

// HistoryStats is the view of the telemetry history that /healthz reports.
type HistoryStats interface {
	Len() int
	MirrorKind() string
}

// BrokerStatus reports the MQTT connection state.
type BrokerStatus interface {
	IsConnected() bool
}

// HealthDeps are the components /healthz inspects. DB and Broker are nil when
// the sqlite mirror or MQTT are disabled.
type HealthDeps struct {
	History HistoryStats
	DB      *sql.DB
	Broker  BrokerStatus
}

type healthResponse struct {
	Status        string `json:"status"`
	Records       int    `json:"records"`
	Mirror        string `json:"mirror"`
	MQTTEnabled   bool   `json:"mqtt_enabled"`
	MQTTConnected bool   `json:"mqtt_connected"`
}

type healthchecker struct {
	deps HealthDeps
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.DB.PingContext(ctx); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}

	resp := healthResponse{
		Status:  "ok",
		Records: h.deps.History.Len(),
		Mirror:  h.deps.History.MirrorKind(),
	}
	if h.deps.Broker != nil {
		resp.MQTTEnabled = true
		resp.MQTTConnected = h.deps.Broker.IsConnected()
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, deps HealthDeps) {
	h := &healthchecker{deps: deps}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}
