package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"anemometer-server/internal/modules/telemetry/types"
)

//go:embed sql/insert-record.sql
var insertRecordSQL string

//go:embed sql/get-records.sql
var getRecordsSQL string

//go:embed sql/get-records-count.sql
var getRecordsCountSQL string

type TelemetryRepository interface {
	// InsertRecord stores rec and returns the row sequence assigned by the
	// database. Sequences only grow, so reads return insertion order.
	InsertRecord(ctx context.Context, rec types.Record) (int64, error)
	GetRecords(ctx context.Context) ([]types.Record, error)
	GetRecordsCount(ctx context.Context) (int, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) TelemetryRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertRecord(ctx context.Context, rec types.Record) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertRecordSQL,
		rec.ReceivedTime, rec.SentTime, int64(rec.UnixEpoch), rec.SatellitesInView,
		rec.Latitude, rec.Longitude, rec.AltitudeMeters,
		rec.PressureMbar, rec.TemperaturePHT, rec.TemperatureColdJunction, rec.TemperatureTCTip,
		rec.Roll, rec.Pitch, rec.Yaw,
		rec.VelocityAvg1, rec.VelocityAvg2, rec.VelocityAvg3,
		rec.VelocityStd1, rec.VelocityStd2, rec.VelocityStd3,
		rec.VelocityPeak1, rec.VelocityPeak2, rec.VelocityPeak3,
		rec.ExtraMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record (unix_epoch %d): %w", rec.UnixEpoch, err)
	}
	return res.LastInsertId()
}

func (r *repositoryImpl) GetRecords(ctx context.Context) ([]types.Record, error) {
	rows, err := r.db.QueryContext(ctx, getRecordsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close telemetry rows", "error", err)
		}
	}()

	var out []types.Record
	for rows.Next() {
		var rec types.Record
		var epoch int64
		if err := rows.Scan(
			&rec.ReceivedTime, &rec.SentTime, &epoch, &rec.SatellitesInView,
			&rec.Latitude, &rec.Longitude, &rec.AltitudeMeters,
			&rec.PressureMbar, &rec.TemperaturePHT, &rec.TemperatureColdJunction, &rec.TemperatureTCTip,
			&rec.Roll, &rec.Pitch, &rec.Yaw,
			&rec.VelocityAvg1, &rec.VelocityAvg2, &rec.VelocityAvg3,
			&rec.VelocityStd1, &rec.VelocityStd2, &rec.VelocityStd3,
			&rec.VelocityPeak1, &rec.VelocityPeak2, &rec.VelocityPeak3,
			&rec.ExtraMessage,
		); err != nil {
			return nil, err
		}
		rec.UnixEpoch = uint32(epoch)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) GetRecordsCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, getRecordsCountSQL).Scan(&n)
	return n, err
}

// SQLiteMirror persists appended records into the telemetry_records table.
// Each append is a single insert; the table assigns its own sequence, so a
// store that started without restoring (or lost a write) never collides with
// rows already on disk.
type SQLiteMirror struct {
	repo TelemetryRepository
}

func NewSQLiteMirror(repo TelemetryRepository) *SQLiteMirror {
	return &SQLiteMirror{repo: repo}
}

func (m *SQLiteMirror) Kind() string { return "sqlite" }

func (m *SQLiteMirror) Save(ctx context.Context, _ uint64, rec types.Record) error {
	_, err := m.repo.InsertRecord(ctx, rec)
	return err
}

func (m *SQLiteMirror) Load(ctx context.Context) ([]types.Record, error) {
	return m.repo.GetRecords(ctx)
}
