package controller

import (
	"bufio"
	"errors"
	"net/http"

	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/types"
	"anemometer-server/internal/utils"
)

func (c *telemetryControllerImpl) handleRockBLOCK(w http.ResponseWriter, r *http.Request) {
	// FormValue covers both the query string and a urlencoded body; the modem
	// gateway has used each.
	imei := r.FormValue("imei")
	data := r.FormValue("data")

	c.logger.Debug("rockblock delivery", "imei", imei, "payload_chars", len(data))

	_, err := c.ingester.Ingest(r.Context(), imei, data)
	status, body := ackFor(err)
	utils.WriteText(w, status, body)
}

func (c *telemetryControllerImpl) handleLiveData(w http.ResponseWriter, r *http.Request) {
	rec, ok := c.store.Latest()
	if !ok {
		utils.WriteJSON(w, http.StatusOK, types.NoData)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (c *telemetryControllerImpl) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := parseHistoryQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, c.store.Window(from, to, limit))
}

func (c *telemetryControllerImpl) handleDownloadHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=flight_history.csv")

	bw := bufio.NewWriter(w)
	if err := c.store.ExportCSV(bw); err != nil {
		if errors.Is(err, history.ErrEmptyHistory) {
			w.Header().Del("Content-Disposition")
			utils.WriteText(w, http.StatusNotFound, "No data available")
			return
		}
		c.logger.Error("csv export failed", "error", err)
		return
	}
	if err := bw.Flush(); err != nil {
		c.logger.Error("csv export: write response failed", "error", err)
	}
}

func (c *telemetryControllerImpl) handleAnimationData(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, randomAnimationFrame())
}
