package models

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker.campus.org/internal/clock"
)

func TestNewEntryResponse(t *testing.T) {
	c := clock.NewMockClock(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC))

	resp := NewEntryResponse(map[string]string{"busId": "B1"}, c)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK", resp.Text)
	assert.Equal(t, APIVersion, resp.Version)
	assert.Equal(t, c.Now().UnixMilli(), resp.CurrentTime)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":200,"currentTime":1756713600000,"text":"OK","version":2,"data":{"entry":{"busId":"B1"}}}`, string(data))
}

func TestNewListResponse(t *testing.T) {
	resp := NewListResponse([]int{1, 2}, true, nil)
	list, ok := resp.Data.(ListData)
	require.True(t, ok)
	assert.True(t, list.LimitExceeded)
	assert.NotZero(t, resp.CurrentTime)
}

func TestErrorResponseOmitsData(t *testing.T) {
	resp := NewResponse(http.StatusNotFound, nil, "resource not found", nil)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"data"`)
}

func TestNewCurrentTimeData(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)
	entry := NewCurrentTimeData(ts).Entry.(CurrentTimeData)
	assert.Equal(t, ts.UnixMilli(), entry.Time)
	assert.Equal(t, "2024-06-15T14:30:00Z", entry.ReadableTime)
}
