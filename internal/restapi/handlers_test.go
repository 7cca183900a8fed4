package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker.campus.org/internal/app"
)

func TestHealthHandler(t *testing.T) {
	t.Run("ok when the store answers", func(t *testing.T) {
		server := serveApi(t, createTestApi(t))
		resp, err := http.Get(server.URL + "/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("unavailable without a store", func(t *testing.T) {
		api := &RestAPI{Application: &app.Application{}}
		rec := httptest.NewRecorder()
		api.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "database not initialized", body.Detail)
	})

	t.Run("unavailable once the store is closed", func(t *testing.T) {
		api := createTestApi(t)
		require.NoError(t, api.DB.Close())
		rec := httptest.NewRecorder()
		api.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestCurrentTimeHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodGet, "/api/current-time?key=TEST", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := entryOf(t, model)
	assert.Equal(t, float64(testStart.UnixMilli()), entry["time"])
	assert.Equal(t, "2025-09-01T08:00:00Z", entry["readableTime"])

	resp, _ = serveApiAndRetrieveEndpoint(t, server, http.MethodGet, "/api/current-time?key=wrong", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestConfigHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodGet, "/api/config?key=TEST", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=300", resp.Header.Get("Cache-Control"))

	entry := entryOf(t, model)
	assert.Equal(t, "bustracker", entry["id"])
	assert.Equal(t, "test", entry["env"])
	assert.Equal(t, float64(300), entry["staleAfterSeconds"])
	assert.Equal(t, float64(1800), entry["autoStopAfterSeconds"])
	assert.Equal(t, false, entry["natsRelay"])
	assert.NotContains(t, entry, "apiKeys")
}

func TestMetricsEndpoint(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	startAndReport(t, api, "B1", "D1", 0, 0, ptr(20))

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bustracker_position_reports_total")
	assert.Contains(t, string(body), "bustracker_active_sharing_sessions 1")
}
