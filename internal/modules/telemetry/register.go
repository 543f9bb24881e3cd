package telemetry

import (
	"log/slog"
	"net/http"

	"anemometer-server/internal/modules/telemetry/controller"
	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/service"
)

func RegisterFeature(mux *http.ServeMux, store *history.Store, imei string, logger *slog.Logger, publishers ...service.Publisher) *service.Ingestor {
	ingestor := service.NewIngestor(imei, store, logger, publishers...)
	telemetryController := controller.NewTelemetryController(ingestor, store, logger)
	telemetryController.RegisterRoutes(mux)
	return ingestor
}
