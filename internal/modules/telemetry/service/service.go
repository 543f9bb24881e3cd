package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"anemometer-server/internal/modules/telemetry/codec"
	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/types"
)

var (
	ErrUnauthorized   = errors.New("invalid login credentials")
	ErrMissingPayload = errors.New("no data provided")
)

// Publisher receives every record after it has been appended. Failures are
// logged by the ingestor and never change the device acknowledgment.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, imei string, rec types.Record) error
}

// Ingestor runs a modem webhook delivery through authentication, payload
// validation, decoding and the history append.
type Ingestor struct {
	imei       string
	store      *history.Store
	publishers []Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewIngestor(imei string, store *history.Store, logger *slog.Logger, publishers ...Publisher) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		imei:       imei,
		store:      store,
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
	}
}

// AddPublisher registers p for subsequent appends. Not safe to call while
// requests are being served.
func (i *Ingestor) AddPublisher(p Publisher) {
	i.publishers = append(i.publishers, p)
}

// Ingest accepts one delivery. Any error is terminal and nothing is appended.
func (i *Ingestor) Ingest(ctx context.Context, imei, data string) (types.Record, error) {
	if subtle.ConstantTimeCompare([]byte(imei), []byte(i.imei)) != 1 {
		i.logger.Warn("telemetry rejected: unknown device", "imei", imei)
		return types.Record{}, ErrUnauthorized
	}
	if data == "" {
		i.logger.Warn("telemetry rejected: empty payload", "imei", imei)
		return types.Record{}, ErrMissingPayload
	}

	rec, err := codec.DecodeHex(data, i.now())
	if err != nil {
		i.logger.Warn("telemetry rejected: decode failed",
			"imei", imei,
			"payload_chars", len(data),
			"error", err,
		)
		return types.Record{}, err
	}

	seq := i.store.Append(ctx, rec)
	i.logger.Info("telemetry stored",
		"seq", seq,
		"sent_time", rec.SentTime,
		"siv", rec.SatellitesInView,
		"altitude", rec.AltitudeMeters,
		"pressure_mbar", rec.PressureMbar,
	)
	i.logger.Debug("decoded telemetry", "record", rec)

	for _, p := range i.publishers {
		if err := p.Publish(ctx, imei, rec); err != nil {
			i.logger.Warn("telemetry publish failed",
				"publisher", p.Name(),
				"seq", seq,
				"error", err,
			)
		}
	}
	return rec, nil
}
