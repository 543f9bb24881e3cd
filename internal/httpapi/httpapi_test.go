package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anemometer-server/internal/config"
)

type fakeHistory struct {
	n    int
	kind string
}

func (f fakeHistory) Len() int           { return f.n }
func (f fakeHistory) MirrorKind() string { return f.kind }

type fakeBroker bool

func (b fakeBroker) IsConnected() bool { return bool(b) }

func getHealth(t *testing.T, deps HealthDeps) (int, healthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewMux(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body healthResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Run("memory only", func(t *testing.T) {
		code, body := getHealth(t, HealthDeps{History: fakeHistory{n: 3, kind: "none"}})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, healthResponse{Status: "ok", Records: 3, Mirror: "none"}, body)
	})

	t.Run("sqlite and broker", func(t *testing.T) {
		db, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		code, body := getHealth(t, HealthDeps{
			History: fakeHistory{n: 1, kind: "sqlite"},
			DB:      db,
			Broker:  fakeBroker(false),
		})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "sqlite", body.Mirror)
		assert.True(t, body.MQTTEnabled)
		assert.False(t, body.MQTTConnected, "broker outage is reported, not fatal")
	})

	t.Run("closed database", func(t *testing.T) {
		db, err := sql.Open("sqlite3", ":memory:")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		code, _ := getHealth(t, HealthDeps{History: fakeHistory{kind: "sqlite"}, DB: db})
		assert.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := requestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("FAILED,16,No data provided"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rockblock", nil))

	id := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, seen)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.Equal(t, id, entry["request_id"])
	assert.Equal(t, "/rockblock", entry["path"])
	assert.EqualValues(t, http.StatusBadRequest, entry["status"])
	assert.EqualValues(t, len("FAILED,16,No data provided"), entry["bytes"])
}

func TestRequestLogger_KeepsValidIncomingID(t *testing.T) {
	incoming := uuid.NewString()
	h := requestLogger(slog.New(slog.DiscardHandler), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/live-data", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, incoming, rec.Header().Get(RequestIDHeader))

	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(RequestIDHeader))
}

func TestNewServer(t *testing.T) {
	srv := NewServer(config.Config{HTTPAddr: ":9090"}, http.NewServeMux(), nil)
	assert.Equal(t, ":9090", srv.Addr)
	assert.NotNil(t, srv.Handler)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
