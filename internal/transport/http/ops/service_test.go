package ops

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-translate-server/internal/domain/eventbus"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
	"speech-translate-server/internal/platform/storage"
)

func newEngine(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	opts.Logger = logging.NewDiscard()
	NewService(opts).Register(&engine.RouterGroup, engine.Group("/api"))
	return engine
}

func get(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthReportsLiveState(t *testing.T) {
	bus := eventbus.New(1, 4, logging.NewDiscard())
	stats, err := eventbus.NewSessionStats(bus)
	require.NoError(t, err)
	bus.Publish(eventbus.EventSessionStarted, eventbus.SessionEventData{SessionID: "s1"})

	engine := newEngine(t, Options{Stats: stats, Sessions: func() int { return 1 }})
	rec := get(engine, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var h Health
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	require.NotNil(t, h.Live)
	assert.Equal(t, 1, h.Live.Active)
	require.NotNil(t, h.Connected)
	assert.Equal(t, 1, *h.Connected)
	require.NotNil(t, h.Process)
	assert.Positive(t, h.Process.PID)
	assert.Positive(t, h.Goroutines)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.SessionsTotal.WithLabelValues("completed").Inc()
	engine := newEngine(t, Options{Metrics: metrics})

	rec := get(engine, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `live_sessions_total{outcome="completed"} 1`))

	assert.Equal(t, http.StatusNotFound, get(newEngine(t, Options{}), "/metrics").Code)
}

func TestSessionHistory(t *testing.T) {
	db, err := storage.Open(fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	journal := eventbus.NewJournal(db, logging.NewDiscard())
	ctx := context.Background()
	require.NoError(t, journal.Store(ctx, eventbus.EventSessionStarted, eventbus.SessionEventData{SessionID: "s1", TargetLang: "hi"}))
	require.NoError(t, journal.Store(ctx, eventbus.EventSessionClosed, eventbus.SessionEventData{SessionID: "s1", Windows: 3}))

	engine := newEngine(t, Options{Journal: journal})

	var h Health
	require.NoError(t, sonic.Unmarshal(get(engine, "/healthz").Body.Bytes(), &h))
	assert.Equal(t, int64(1), h.Journal[eventbus.EventSessionClosed])

	rec := get(engine, "/api/sessions/s1/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success bool             `json:"success"`
		Data    []eventbus.Event `json:"data"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 3, resp.Data[1].Data.Windows)

	assert.Equal(t, http.StatusNotFound, get(engine, "/api/sessions/nope/events").Code)

	rec = get(engine, "/api/sessions?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "s1", resp.Data[0].SessionID)

	assert.Equal(t, http.StatusBadRequest, get(engine, "/api/sessions?limit=zero").Code)
}
