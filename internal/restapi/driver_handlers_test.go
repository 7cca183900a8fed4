package restapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker.campus.org/internal/clock"
)

func TestDriverFlow(t *testing.T) {
	mockClock := clock.NewMockClock(testStart)
	api := createTestApiWithClock(t, mockClock)
	server := serveApi(t, api)

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/start?key=TEST",
		map[string]string{"busId": "B1", "driverId": "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	started := entryOf(t, model)
	assert.Equal(t, true, started["isSharing"])
	assert.Equal(t, "R1", started["routeId"])
	assert.Nil(t, started["nextStop"])

	mockClock.Advance(10 * time.Second)
	resp, model = serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/positions?key=TEST",
		position{BusID: "B1", DriverID: "D1", Latitude: 0, Longitude: 0, SpeedKmh: ptr(20)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := entryOf(t, model)
	nextStop := view["nextStop"].(map[string]any)
	assert.Equal(t, "S2", nextStop["id"])
	etaView := view["etaToNextStop"].(map[string]any)
	assert.InDelta(t, 1.11, etaView["distanceKm"].(float64), 0.01)
	assert.InDelta(t, 5.34, etaView["durationMinutes"].(float64), 0.05)
	assert.Equal(t, "high", etaView["confidence"])

	resp, model = serveApiAndRetrieveEndpoint(t, server, http.MethodGet, "/api/buses/B1/location?key=TEST", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "S2", entryOf(t, model)["nextStop"].(map[string]any)["id"])

	mockClock.Advance(5 * time.Minute)
	resp, model = serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/stop?key=TEST",
		map[string]string{"busId": "B1", "driverId": "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopped := entryOf(t, model)
	assert.Equal(t, false, stopped["isSharing"])

	resp, model = serveApiAndRetrieveEndpoint(t, server, http.MethodGet, "/api/locations?key=TEST", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, listOf(t, model))
}

func TestStartSharingTwiceConflicts(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	body := map[string]string{"busId": "B1", "driverId": "D1"}

	resp, _ := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/start?key=TEST", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/start?key=TEST", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, http.StatusConflict, model.Code)
	assert.Contains(t, model.Text, "already active")
}

func TestDriverEndpointErrors(t *testing.T) {
	server := serveApi(t, createTestApi(t))

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		text   string
	}{
		{"missing key", "/api/drivers/sharing/start", map[string]string{"busId": "B1", "driverId": "D1"}, http.StatusForbidden, "access denied"},
		{"invalid key", "/api/drivers/sharing/start?key=nope", map[string]string{"busId": "B1", "driverId": "D1"}, http.StatusForbidden, "access denied"},
		{"wrong driver", "/api/drivers/sharing/start?key=TEST", map[string]string{"busId": "B1", "driverId": "D2"}, http.StatusForbidden, "access denied"},
		{"unknown bus", "/api/drivers/sharing/start?key=TEST", map[string]string{"busId": "B9", "driverId": "D1"}, http.StatusNotFound, "not found"},
		{"inactive bus", "/api/drivers/sharing/start?key=TEST", map[string]string{"busId": "B3", "driverId": "D3"}, http.StatusConflict, "not active"},
		{"malformed body", "/api/drivers/sharing/start?key=TEST", `{"busId":`, http.StatusBadRequest, "invalid JSON body"},
		{"unknown field", "/api/drivers/sharing/start?key=TEST", `{"busId":"B1","driverId":"D1","extra":1}`, http.StatusBadRequest, "invalid JSON body"},
		{"report while not sharing", "/api/drivers/positions?key=TEST", position{BusID: "B2", DriverID: "D2", Latitude: 1, Longitude: 1}, http.StatusConflict, "not active"},
		{"stop while not sharing", "/api/drivers/sharing/stop?key=TEST", map[string]string{"busId": "B2", "driverId": "D2"}, http.StatusConflict, "not active"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.status, model.Code)
			assert.Contains(t, model.Text, tt.text)
		})
	}
}

func TestReportPositionValidation(t *testing.T) {
	server := serveApi(t, createTestApi(t))

	resp, _ := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/start?key=TEST",
		map[string]string{"busId": "B1", "driverId": "D1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/positions?key=TEST",
		`{"busId":"B1","driverId":"D1","latitude":91,"longitude":0,"speedKmh":-3,"heading":400}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation error", model.Text)

	fields := fieldErrorsOf(t, model)
	assert.Contains(t, fields, "latitude")
	assert.Contains(t, fields, "speedKmh")
	assert.Contains(t, fields, "heading")
	assert.NotContains(t, fields, "longitude")

	resp, model = serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/positions?key=TEST",
		`{"busId":"B1","driverId":"D1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields = fieldErrorsOf(t, model)
	assert.Contains(t, fields, "latitude")
	assert.Contains(t, fields, "longitude")
}

func TestDriverEndpointsAreRateLimited(t *testing.T) {
	server := serveApi(t, createTestApiWithOptions(t, testOptions{rateLimit: 1}))
	body := map[string]string{"busId": "B2", "driverId": "D2"}

	resp, _ := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/stop?key=TEST", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, model := serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/stop?key=TEST", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, model.Code)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// admin keys are exempt
	resp, _ = serveApiAndRetrieveEndpoint(t, server, http.MethodPost, "/api/drivers/sharing/stop?key=ADMIN", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
