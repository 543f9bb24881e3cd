package controller

import (
	"context"
	"log/slog"
	"net/http"

	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/types"
)

// Ingester accepts a modem delivery and returns the appended record.
type Ingester interface {
	Ingest(ctx context.Context, imei, data string) (types.Record, error)
}

type TelemetryController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type telemetryControllerImpl struct {
	ingester Ingester
	store    *history.Store
	logger   *slog.Logger
}

func NewTelemetryController(ingester Ingester, store *history.Store, logger *slog.Logger) TelemetryController {
	if logger == nil {
		logger = slog.Default()
	}
	return &telemetryControllerImpl{
		ingester: ingester,
		store:    store,
		logger:   logger,
	}
}

func (c *telemetryControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rockblock", c.handleRockBLOCK)
	mux.HandleFunc("GET /live-data", c.handleLiveData)
	mux.HandleFunc("GET /history", c.handleHistory)
	mux.HandleFunc("GET /download-history", c.handleDownloadHistory)
	mux.HandleFunc("GET /animation-data", c.handleAnimationData)
}
