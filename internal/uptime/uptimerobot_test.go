package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMonitorsFollowsPagination(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		requests = append(requests, r.FormValue("offset"))

		assert.Equal(t, "key-123", r.FormValue("api_key"))
		assert.Equal(t, "json", r.FormValue("format"))
		assert.Equal(t, "1-7-30", r.FormValue("custom_uptime_ratios"))

		offset := r.FormValue("offset")
		monitors := `[{"id": 1, "friendly_name": "api", "url": "https://api.example.com", "type": 1, "status": 2, "custom_uptime_ranges": "100.00-99.95-99.90", "average_response_time": "123.4"}]`
		if offset == "50" {
			monitors = `[{"id": 2, "friendly_name": "web", "url": "https://example.com", "type": 1, "status": 9}]`
		}
		fmt.Fprintf(w, `{"stat": "ok", "monitors": %s, "pagination": {"offset": %s, "limit": 50, "total": 51}}`, monitors, offset)
	}))
	defer srv.Close()

	client := NewUptimeRobotClient("key-123")
	client.baseURL = srv.URL

	monitors, err := client.GetMonitors(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "50"}, requests)
	require.Len(t, monitors, 2)
	assert.Equal(t, int64(1), monitors[0].ID)
	assert.Equal(t, "api", monitors[0].FriendlyName)
	assert.Equal(t, 2, monitors[0].Status)
	assert.Equal(t, int64(2), monitors[1].ID)
	assert.Equal(t, 9, monitors[1].Status)
}

func TestGetMonitorsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat": "fail", "error": {"type": "invalid_parameter", "message": "api_key is wrong"}}`)
	}))
	defer srv.Close()

	client := NewUptimeRobotClient("bad-key")
	client.baseURL = srv.URL

	_, err := client.GetMonitors(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is wrong")
}

func TestGetAccountDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getAccountDetails", r.URL.Path)
		fmt.Fprint(w, `{"stat": "ok", "account": {"email": "ops@example.com", "up_monitors": 3, "down_monitors": 1}}`)
	}))
	defer srv.Close()

	client := NewUptimeRobotClient("key-123")
	client.baseURL = srv.URL

	account, err := client.GetAccountDetails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", account.Email)
	assert.Equal(t, 3, account.UpMonitors)
	assert.Equal(t, 1, account.DownMonitors)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewUptimeRobotClient("key-123")
	client.baseURL = srv.URL

	for i := 0; i < 3; i++ {
		_, err := client.GetMonitors(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)

	_, err := client.GetMonitors(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, calls, "an open breaker must not hit the API")
}

func TestRobotStatus(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, StatusPaused},
		{1, StatusUnknown},
		{2, StatusUp},
		{8, StatusDegraded},
		{9, StatusDown},
		{42, StatusUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RobotStatus(tc.code), "status code %d", tc.code)
	}
}

func TestParseUptimeRatios(t *testing.T) {
	day1, day7, day30 := ParseUptimeRatios("100.00-99.95-99.90")
	assert.Equal(t, 100.00, day1)
	assert.Equal(t, 99.95, day7)
	assert.Equal(t, 99.90, day30)

	day1, day7, day30 = ParseUptimeRatios("98.5")
	assert.Equal(t, 98.5, day1)
	assert.Zero(t, day7)
	assert.Zero(t, day30)

	day1, day7, day30 = ParseUptimeRatios("")
	assert.Zero(t, day1)
	assert.Zero(t, day7)
	assert.Zero(t, day30)
}

func TestUptimeRobotMonitorDecodesNumericResponseTime(t *testing.T) {
	// average_response_time arrives as a string or a number depending on
	// the account plan.
	for _, raw := range []string{`"123.4"`, `123.4`} {
		var m UptimeRobotMonitor
		require.NoError(t, json.Unmarshal([]byte(`{"id": 1, "average_response_time": `+raw+`}`), &m))
		v, err := m.ResponseTime.Float64()
		require.NoError(t, err)
		assert.Equal(t, 123.4, v)
	}
}
