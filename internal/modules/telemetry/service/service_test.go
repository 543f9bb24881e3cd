package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anemometer-server/internal/modules/telemetry/codec"
	"anemometer-server/internal/modules/telemetry/history"
	"anemometer-server/internal/modules/telemetry/types"
)

const testIMEI = "301434061119410"

type recordingPublisher struct {
	mu   sync.Mutex
	got  []types.Record
	imei []string
	err  error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, imei string, rec types.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, rec)
	p.imei = append(p.imei, imei)
	return p.err
}

func validPayload(t *testing.T) string {
	t.Helper()
	h, err := codec.EncodeHex(codec.Values{
		UnixEpoch:        1700000000,
		SatellitesInView: 9,
		Latitude:         42.35,
		Longitude:        -71.10,
		AltitudeMeters:   800,
		PressureMbar:     1013.2,
	})
	require.NoError(t, err)
	return h
}

func newIngestor(pubs ...Publisher) (*Ingestor, *history.Store) {
	logger := slog.New(slog.DiscardHandler)
	store := history.New(nil, logger)
	ing := NewIngestor(testIMEI, store, logger, pubs...)
	ing.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return ing, store
}

func TestIngest_Success(t *testing.T) {
	pub := &recordingPublisher{}
	ing, store := newIngestor(pub)

	rec, err := ing.Ingest(context.Background(), testIMEI, validPayload(t))
	require.NoError(t, err)

	assert.Equal(t, 1013.2, rec.PressureMbar)
	assert.Equal(t, "2023-11-14T22:13:20Z", rec.SentTime)
	assert.Equal(t, "2024-01-02T03:04:05.000000Z", rec.ReceivedTime)

	latest, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, rec, latest)

	require.Len(t, pub.got, 1)
	assert.Equal(t, rec, pub.got[0])
	assert.Equal(t, []string{testIMEI}, pub.imei)
}

func TestIngest_Failures(t *testing.T) {
	payload := validPayload(t)

	tests := []struct {
		name    string
		imei    string
		data    string
		wantErr error
	}{
		{name: "wrong imei", imei: "300434065264590", data: payload, wantErr: ErrUnauthorized},
		{name: "empty imei", imei: "", data: payload, wantErr: ErrUnauthorized},
		{name: "imei prefix", imei: testIMEI[:10], data: payload, wantErr: ErrUnauthorized},
		{name: "wrong imei and no data", imei: "nope", data: "", wantErr: ErrUnauthorized},
		{name: "no data", imei: testIMEI, data: "", wantErr: ErrMissingPayload},
		{name: "40 bytes", imei: testIMEI, data: payload[:80], wantErr: codec.ErrBadLength},
		{name: "not hex", imei: testIMEI, data: strings.Repeat("g", 100), wantErr: codec.ErrMalformed},
		{name: "odd digits", imei: testIMEI, data: payload + "0", wantErr: codec.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			ing, store := newIngestor(pub)

			_, err := ing.Ingest(context.Background(), tt.imei, tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, store.Len(), "nothing appended on failure")
			assert.Empty(t, pub.got)
		})
	}
}

func TestIngest_PublisherFailureStillSucceeds(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	ok := &recordingPublisher{}
	ing, store := newIngestor(failing)
	ing.AddPublisher(ok)

	_, err := ing.Ingest(context.Background(), testIMEI, validPayload(t))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1, "later publishers still run")
}

func TestIngest_Trailer(t *testing.T) {
	ing, _ := newIngestor()
	h, err := codec.EncodeHex(codec.Values{UnixEpoch: 1, ExtraMessage: "ballast released"})
	require.NoError(t, err)

	rec, err := ing.Ingest(context.Background(), testIMEI, strings.ToUpper(h))
	require.NoError(t, err)
	assert.Equal(t, "ballast released", rec.ExtraMessage)
}

func TestIngest_Concurrent(t *testing.T) {
	ing, store := newIngestor()
	payload := validPayload(t)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ing.Ingest(context.Background(), testIMEI, payload)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, store.Len())
}
