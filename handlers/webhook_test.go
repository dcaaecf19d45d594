package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

type fakeIntegrationStore struct {
	store.IntegrationStore

	integrations map[string]db.Integration

	created *db.Integration
	updated *db.Integration
	deleted []string
}

func (f *fakeIntegrationStore) Get(_ context.Context, id string) (*db.Integration, error) {
	in, ok := f.integrations[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "integration %s not found", id)
	}
	return &in, nil
}

func (f *fakeIntegrationStore) Create(_ context.Context, in *db.Integration) (*db.Integration, error) {
	in.ID = "int-new"
	in.IsActive = true
	f.created = in
	return in, nil
}

func (f *fakeIntegrationStore) Update(_ context.Context, in *db.Integration) (*db.Integration, error) {
	f.updated = in
	return in, nil
}

func (f *fakeIntegrationStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIntegrationStore) List(_ context.Context, _, _ string, _ bool) ([]db.Integration, error) {
	out := make([]db.Integration, 0, len(f.integrations))
	for _, in := range f.integrations {
		out = append(out, in)
	}
	return out, nil
}

type fakeSink struct {
	route  ingest.Route
	alerts []ingest.NormalizedAlert
	res    ingest.Result
	err    error
	calls  int
}

func (f *fakeSink) Process(_ context.Context, route ingest.Route, alerts []ingest.NormalizedAlert) (ingest.Result, error) {
	f.calls++
	f.route = route
	f.alerts = alerts
	return f.res, f.err
}

func datadogIntegration(id string) db.Integration {
	return db.Integration{
		ID:                 id,
		Name:               "dd prod",
		Type:               db.SourceDatadog,
		IsActive:           true,
		OrganizationID:     "org-1",
		GroupID:            "grp-1",
		EscalationPolicyID: "pol-1",
	}
}

func TestHandleWebhookUnknownIntegration(t *testing.T) {
	h := NewWebhookHandler(&fakeIntegrationStore{}, &fakeSink{})

	c, w := testCtx(t, "POST", "/webhook/datadog/nope", `{}`)
	c.Params = gin.Params{{Key: "source", Value: "datadog"}, {Key: "integration_id", Value: "nope"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "integration not found")
}

func TestHandleWebhookInactiveIntegration(t *testing.T) {
	in := datadogIntegration("int-1")
	in.IsActive = false
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{"int-1": in}}
	sink := &fakeSink{}
	h := NewWebhookHandler(integrations, sink)

	c, w := testCtx(t, "POST", "/webhook/datadog/int-1", `{}`)
	c.Params = gin.Params{{Key: "source", Value: "datadog"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "integration is inactive")
	assert.Zero(t, sink.calls)
}

func TestHandleWebhookTypeMismatch(t *testing.T) {
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{
		"int-1": datadogIntegration("int-1"),
	}}
	sink := &fakeSink{}
	h := NewWebhookHandler(integrations, sink)

	c, w := testCtx(t, "POST", "/webhook/prometheus/int-1", `{}`)
	c.Params = gin.Params{{Key: "source", Value: "prometheus"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "integration type mismatch")
	assert.Zero(t, sink.calls)
}

func TestHandleWebhookUnsupportedSource(t *testing.T) {
	in := datadogIntegration("int-1")
	in.Type = "pagers"
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{"int-1": in}}
	h := NewWebhookHandler(integrations, &fakeSink{})

	c, w := testCtx(t, "POST", "/webhook/pagers/int-1", `{}`)
	c.Params = gin.Params{{Key: "source", Value: "pagers"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported webhook source 'pagers'")
}

func TestHandleWebhookRoutesToSink(t *testing.T) {
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{
		"int-1": datadogIntegration("int-1"),
	}}
	sink := &fakeSink{res: ingest.Result{Created: 1}}
	h := NewWebhookHandler(integrations, sink)

	payload := `{"id":"evt-1","title":"cpu is pegged","alert_priority":"P1","transition":"Triggered","aggregate":"monitor-7"}`
	c, w := testCtx(t, "POST", "/webhook/datadog/int-1", payload)
	c.Params = gin.Params{{Key: "source", Value: "datadog"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"created":1`)

	require.Equal(t, 1, sink.calls)
	assert.Equal(t, ingest.Route{
		OrganizationID: "org-1",
		GroupID:        "grp-1",
		PolicyID:       "pol-1",
		IntegrationID:  "int-1",
	}, sink.route)

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "monitor-7", sink.alerts[0].Key)
	assert.Equal(t, db.SeverityCritical, sink.alerts[0].Severity)
	assert.Equal(t, ingest.StatusFire, sink.alerts[0].Status)
}

func TestHandleWebhookBadPayload(t *testing.T) {
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{
		"int-1": datadogIntegration("int-1"),
	}}
	sink := &fakeSink{}
	h := NewWebhookHandler(integrations, sink)

	c, w := testCtx(t, "POST", "/webhook/datadog/int-1", `{"id":`)
	c.Params = gin.Params{{Key: "source", Value: "datadog"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid datadog payload")
	assert.Zero(t, sink.calls)
}

func TestHandleWebhookSinkTransientError(t *testing.T) {
	integrations := &fakeIntegrationStore{integrations: map[string]db.Integration{
		"int-1": datadogIntegration("int-1"),
	}}
	sink := &fakeSink{err: apperr.New(apperr.TransientFailure, "2 of 2 alerts failed")}
	h := NewWebhookHandler(integrations, sink)

	c, w := testCtx(t, "POST", "/webhook/datadog/int-1", `{"id":"evt-1","title":"x","transition":"Triggered"}`)
	c.Params = gin.Params{{Key: "source", Value: "datadog"}, {Key: "integration_id", Value: "int-1"}}
	h.HandleWebhook(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
