package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

type fakeTokens struct {
	store.TokenStore
	token *db.DeploymentToken
}

func (f *fakeTokens) VerifyToken(ctx context.Context, token string) (*db.DeploymentToken, error) {
	if f.token == nil || token != "klx_tok-1_secret" {
		return nil, apperr.New(apperr.Unauthorized, "invalid deployment token")
	}
	return f.token, nil
}

type fakeMonitors struct {
	store.MonitorStore

	mu       sync.Mutex
	monitors map[string]*db.Monitor
	prev     map[string]*bool
	checks   []db.MonitorCheck
}

func (f *fakeMonitors) RecordCheck(ctx context.Context, orgID string, chk *db.MonitorCheck) (*bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.monitors[chk.MonitorID]
	if !ok || m.OrganizationID != orgID {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", chk.MonitorID)
	}
	f.checks = append(f.checks, *chk)
	return f.prev[chk.MonitorID], nil
}

func (f *fakeMonitors) Get(ctx context.Context, id string) (*db.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.monitors[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", id)
	}
	return m, nil
}

type recordingSink struct {
	mu     sync.Mutex
	routes []ingest.Route
	alerts []ingest.NormalizedAlert
}

func (r *recordingSink) Process(ctx context.Context, route ingest.Route, alerts []ingest.NormalizedAlert) (ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	r.alerts = append(r.alerts, alerts...)
	return ingest.Result{}, nil
}

func boolPtr(b bool) *bool { return &b }

func newReportTestHandler(prev map[string]*bool) (*ReportHandler, *fakeMonitors, *recordingSink) {
	monitors := &fakeMonitors{
		monitors: map[string]*db.Monitor{
			"mon-1": {ID: "mon-1", Name: "api", URL: "https://api.example.com/health", OrganizationID: "org-1", ProjectID: "proj-1"},
			"mon-2": {ID: "mon-2", Name: "web", URL: "https://example.com", OrganizationID: "org-1"},
		},
		prev: prev,
	}
	sink := &recordingSink{}
	tokens := &fakeTokens{token: &db.DeploymentToken{ID: "tok-1", OrganizationID: "org-1", Name: "edge"}}
	h := NewReportHandler(tokens, monitors, sink, slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
	return h, monitors, sink
}

func postReport(t *testing.T, h *ReportHandler, token string, report WorkerReport) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	body, err := json.Marshal(report)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/monitors/report", bytes.NewReader(body))
	if token != "" {
		c.Request.Header.Set("Authorization", "Bearer "+token)
	}
	h.HandleReport(c)
	return w
}

func TestHandleReportRequiresToken(t *testing.T) {
	h, _, sink := newReportTestHandler(nil)

	w := postReport(t, h, "", WorkerReport{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postReport(t, h, "klx_tok-1_wrong", WorkerReport{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, sink.alerts)
}

func TestHandleReportDownOpensIncident(t *testing.T) {
	h, monitors, sink := newReportTestHandler(map[string]*bool{"mon-1": boolPtr(true)})

	w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
		Location:  "fra",
		Timestamp: 1700000000,
		Results: []MonitorResult{
			{MonitorID: "mon-1", IsUp: false, Latency: 0, Status: 503, Error: "connection refused"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed": 1, "failed": 0}`, w.Body.String())

	require.Len(t, monitors.checks, 1)
	chk := monitors.checks[0]
	assert.Equal(t, "mon-1", chk.MonitorID)
	assert.False(t, chk.IsUp)
	assert.Equal(t, 503, chk.Status)
	assert.Equal(t, "fra", chk.Location)
	assert.Equal(t, int64(1700000000), chk.CheckedAt.Unix())

	require.Len(t, sink.alerts, 1)
	alert := sink.alerts[0]
	assert.Equal(t, db.SourceUptime, alert.Source)
	assert.Equal(t, "mon-1", alert.Key)
	assert.Equal(t, ingest.StatusFire, alert.Status)
	assert.Equal(t, db.SeverityCritical, alert.Severity)
	assert.Equal(t, "Monitor Down: api", alert.Title)
	assert.Contains(t, alert.Summary, "connection refused")

	require.Len(t, sink.routes, 1)
	assert.Equal(t, ingest.Route{OrganizationID: "org-1", ProjectID: "proj-1"}, sink.routes[0])
}

func TestHandleReportRecoveryResolves(t *testing.T) {
	h, _, sink := newReportTestHandler(map[string]*bool{"mon-1": boolPtr(false)})

	w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
		Location: "fra",
		Results:  []MonitorResult{{MonitorID: "mon-1", IsUp: true, Latency: 42, Status: 200}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, ingest.StatusResolve, sink.alerts[0].Status)
	assert.Equal(t, "mon-1", sink.alerts[0].Key)
}

func TestHandleReportSteadyStateIsQuiet(t *testing.T) {
	h, monitors, sink := newReportTestHandler(map[string]*bool{
		"mon-1": boolPtr(true),
		"mon-2": boolPtr(false),
	})

	w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
		Location: "fra",
		Results: []MonitorResult{
			{MonitorID: "mon-1", IsUp: true, Latency: 40, Status: 200},
			{MonitorID: "mon-2", IsUp: false, Status: 503, Error: "still down"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, monitors.checks, 2, "samples land even without a transition")
	assert.Empty(t, sink.alerts)
}

func TestHandleReportFirstCheck(t *testing.T) {
	t.Run("down opens", func(t *testing.T) {
		h, _, sink := newReportTestHandler(map[string]*bool{})
		w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
			Results: []MonitorResult{{MonitorID: "mon-1", IsUp: false, Status: 500, Error: "boom"}},
		})
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, sink.alerts, 1)
		assert.Equal(t, ingest.StatusFire, sink.alerts[0].Status)
	})

	t.Run("up stays quiet", func(t *testing.T) {
		h, _, sink := newReportTestHandler(map[string]*bool{})
		w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
			Results: []MonitorResult{{MonitorID: "mon-1", IsUp: true, Status: 200}},
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, sink.alerts)
	})
}

func TestHandleReportSkipsUnknownMonitors(t *testing.T) {
	h, _, sink := newReportTestHandler(map[string]*bool{"mon-1": boolPtr(true)})

	w := postReport(t, h, "klx_tok-1_secret", WorkerReport{
		Results: []MonitorResult{
			{MonitorID: "mon-ghost", IsUp: false, Status: 503},
			{MonitorID: "mon-1", IsUp: false, Status: 503, Error: "timeout"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed": 1, "failed": 1}`, w.Body.String())
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "mon-1", sink.alerts[0].Key)
}
