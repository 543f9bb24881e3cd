package controller

import (
	"errors"
	"net/http"

	"anemometer-server/internal/modules/telemetry/codec"
	"anemometer-server/internal/modules/telemetry/service"
)

// Acknowledgment bodies understood by the satellite modem gateway.
const (
	ackOK           = "OK,0"
	ackUnauthorized = "FAILED,10,Invalid login credentials"
	ackNoData       = "FAILED,16,No data provided"
	ackBadLength    = "FAILED,17,Invalid message length"
	ackMalformed    = "FAILED,15,Error processing message data"
)

// ackFor maps an ingestion outcome to the status and body sent to the modem
// gateway. Unknown errors are reported as a processing failure.
func ackFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ackOK
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusBadRequest, ackUnauthorized
	case errors.Is(err, service.ErrMissingPayload):
		return http.StatusBadRequest, ackNoData
	case errors.Is(err, codec.ErrBadLength):
		return http.StatusBadRequest, ackBadLength
	default:
		return http.StatusBadRequest, ackMalformed
	}
}
