package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/store"
)

// AlertSink applies a batch of normalized alerts under a route.
type AlertSink interface {
	Process(ctx context.Context, route ingest.Route, alerts []ingest.NormalizedAlert) (ingest.Result, error)
}

// WebhookHandler receives provider webhooks on the public ingest endpoint.
// The integration id in the URL is the only credential: it routes the payload
// to its tenant and must match the declared source type.
type WebhookHandler struct {
	Integrations store.IntegrationStore
	Alerts       AlertSink
}

func NewWebhookHandler(integrations store.IntegrationStore, alerts AlertSink) *WebhookHandler {
	return &WebhookHandler{Integrations: integrations, Alerts: alerts}
}

// HandleWebhook handles POST /webhook/:source/:integration_id.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	source := c.Param("source")
	integrationID := c.Param("integration_id")

	integration, err := h.Integrations.Get(c.Request.Context(), integrationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return
	}
	if !integration.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "integration is inactive"})
		return
	}
	if integration.Type != source {
		c.JSON(http.StatusBadRequest, gin.H{"error": "integration type mismatch"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	var alerts []ingest.NormalizedAlert
	switch source {
	case db.SourceDatadog:
		alerts, err = ingest.TranslateDatadog(payload)
	case db.SourcePrometheus:
		alerts, err = ingest.TranslatePrometheus(payload)
	case db.SourceWebhook:
		alerts, err = ingest.TranslateWebhook(payload)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported webhook source '" + source + "'"})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}

	res, err := h.Alerts.Process(c.Request.Context(), ingest.RouteFromIntegration(*integration), alerts)
	if err != nil {
		// Partial batches still landed; dedup makes the sender's retry safe.
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
