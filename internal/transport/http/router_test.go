package httptransport

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-translate-server/internal/domain/auth"
	"speech-translate-server/internal/platform/config"
	"speech-translate-server/internal/platform/logging"
	"speech-translate-server/internal/platform/observability"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Web.OutputsDir = t.TempDir()
	return cfg
}

func TestBuildRequiresConfig(t *testing.T) {
	_, err := Build(Options{})
	assert.Error(t, err)
}

func TestStaticOutputs(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Web.OutputsDir, "abc.mp3"), []byte("ID3"), 0o644))
	router, err := Build(Options{Config: cfg, Logger: logging.NewDiscard()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outputs/abc.mp3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ID3", rec.Body.String())

	rec = httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/outputs/missing.mp3", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	router, err := Build(Options{Config: testConfig(t), Logger: logging.NewDiscard()})
	require.NoError(t, err)
	router.Engine.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router, err := Build(Options{Config: testConfig(t), Logger: logging.NewDiscard(), Metrics: metrics})
	require.NoError(t, err)
	router.API.GET("/thing", func(c *gin.Context) { RespondSuccess(c, http.StatusOK, nil, "") })

	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thing", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/api/thing", "200")))

	var body APIResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ok", body.Message)
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewAuthToken("secret").WithTTL(time.Minute)
	router, err := Build(Options{
		Config:         testConfig(t),
		Logger:         logging.NewDiscard(),
		AuthMiddleware: AuthMiddleware(tokens, logging.NewDiscard()),
	})
	require.NoError(t, err)
	router.API.GET("/private", func(c *gin.Context) {
		claims, ok := c.Get(claimsKey)
		require.True(t, ok)
		c.String(http.StatusOK, claims.(*auth.Claims).Client)
	})

	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/private", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rec = httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	signed, err := tokens.GenerateToken("dashboard")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/private", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dashboard", rec.Body.String())
}

func TestAuthenticatorReadsQueryToken(t *testing.T) {
	tokens := auth.NewAuthToken("secret")
	signed, err := tokens.GenerateToken("player")
	require.NoError(t, err)
	check := Authenticator(tokens)

	assert.ErrorIs(t, check(httptest.NewRequest(http.MethodGet, "/ws-ott", nil)), errMissingToken)
	assert.NoError(t, check(httptest.NewRequest(http.MethodGet, "/ws-ott?token="+signed, nil)))
	assert.ErrorIs(t, check(httptest.NewRequest(http.MethodGet, "/ws-ott?token=bad", nil)), auth.ErrInvalidToken)
}
