package uptime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecklyGetChecksSendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cu_key", r.Header.Get("Authorization"))
		assert.Equal(t, "acct-1", r.Header.Get("X-Checkly-Account"))
		fmt.Fprint(w, `[{"id": "chk-1", "name": "homepage", "checkType": "BROWSER", "activated": true}]`)
	}))
	defer srv.Close()

	client := NewChecklyClient("cu_key", "acct-1")
	client.baseURL = srv.URL

	checks, err := client.GetChecks(context.Background())
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, "chk-1", checks[0].ID)
	assert.Equal(t, "BROWSER", checks[0].CheckType)
	assert.True(t, checks[0].Activated)
}

func TestChecklyGetCheckStatistics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/check-statuses/chk-1", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		assert.NotEmpty(t, r.URL.Query().Get("to"))
		fmt.Fprint(w, `[{"checkId": "chk-1", "hasFailures": true, "avg": 250, "successRatio": 0.9987}]`)
	}))
	defer srv.Close()

	client := NewChecklyClient("cu_key", "acct-1")
	client.baseURL = srv.URL

	now := time.Now()
	status, err := client.GetCheckStatistics(context.Background(), "chk-1", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	assert.True(t, status.HasFailures)
	assert.Equal(t, 250, status.AvgResponseTime)
	assert.InDelta(t, 99.87, status.Uptime, 0.001)
}

func TestChecklyUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewChecklyClient("bad", "acct-1")
	client.baseURL = srv.URL

	err := client.ValidateCredentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestChecklyMonitorStatus(t *testing.T) {
	active := ChecklyCheck{Activated: true}

	assert.Equal(t, StatusUp, ChecklyMonitorStatus(active, &ChecklyStatus{}))
	assert.Equal(t, StatusDown, ChecklyMonitorStatus(active, &ChecklyStatus{HasFailures: true}))
	assert.Equal(t, StatusDown, ChecklyMonitorStatus(active, &ChecklyStatus{HasErrors: true}))
	assert.Equal(t, StatusDegraded, ChecklyMonitorStatus(active, &ChecklyStatus{IsDegraded: true}))
	assert.Equal(t, StatusPaused, ChecklyMonitorStatus(ChecklyCheck{Activated: false}, &ChecklyStatus{}))
	assert.Equal(t, StatusPaused, ChecklyMonitorStatus(ChecklyCheck{Activated: true, Muted: true}, &ChecklyStatus{HasFailures: true}))
}

func TestSplitChecklyCredentials(t *testing.T) {
	key, account, ok := SplitChecklyCredentials("cu_abc123:acct-1")
	require.True(t, ok)
	assert.Equal(t, "cu_abc123", key)
	assert.Equal(t, "acct-1", account)

	// API keys may contain colons; the split happens at the last one.
	key, account, ok = SplitChecklyCredentials("cu:abc:123:acct-1")
	require.True(t, ok)
	assert.Equal(t, "cu:abc:123", key)
	assert.Equal(t, "acct-1", account)

	for _, bad := range []string{"", "nocolon", ":leading", "trailing:"} {
		_, _, ok := SplitChecklyCredentials(bad)
		assert.False(t, ok, "input %q", bad)
	}
}
