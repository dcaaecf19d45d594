package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/internal/metrics"
	"github.com/klaxonhq/klaxon/store"
)

// AlertSink is where detected up/down transitions go. *ingest.Ingestor
// satisfies it.
type AlertSink interface {
	Process(ctx context.Context, route ingest.Route, alerts []ingest.NormalizedAlert) (ingest.Result, error)
}

// ReportHandler accepts batched probe results from edge workers. Workers
// authenticate with a deployment token; each result records a check sample
// and state transitions flow through alert ingest, so a monitor going down
// opens an incident and its recovery resolves the same one.
type ReportHandler struct {
	Tokens   store.TokenStore
	Monitors store.MonitorStore
	Alerts   AlertSink
	Logger   *slog.Logger
}

func NewReportHandler(tokens store.TokenStore, monitors store.MonitorStore, alerts AlertSink, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{Tokens: tokens, Monitors: monitors, Alerts: alerts, Logger: logger}
}

// MonitorResult is one probe sample as workers report it.
type MonitorResult struct {
	MonitorID string `json:"monitor_id"`
	IsUp      bool   `json:"is_up"`
	Latency   int    `json:"latency"`
	Status    int    `json:"status"`
	Error     string `json:"error"`
}

// WorkerReport is the batch a worker posts after a probe round.
type WorkerReport struct {
	Location  string          `json:"location"`
	Timestamp int64           `json:"timestamp"`
	Results   []MonitorResult `json:"results"`
}

func (h *ReportHandler) HandleReport(c *gin.Context) {
	token, err := h.authenticate(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var report WorkerReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metrics.ProbeReports.Inc()

	processed, failed := 0, 0
	for _, result := range report.Results {
		if err := h.apply(c.Request.Context(), token.OrganizationID, report, result); err != nil {
			h.Logger.Warn("probe result rejected",
				"monitor_id", result.MonitorID,
				"location", report.Location,
				"error", err)
			failed++
			continue
		}
		processed++
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed, "failed": failed})
}

// apply records one sample and turns a state transition into an alert. The
// incident is keyed by monitor id so a later recovery resolves exactly the
// incident the outage opened.
func (h *ReportHandler) apply(ctx context.Context, orgID string, report WorkerReport, result MonitorResult) error {
	chk := &db.MonitorCheck{
		MonitorID: result.MonitorID,
		IsUp:      result.IsUp,
		LatencyMS: result.Latency,
		Status:    result.Status,
		Error:     result.Error,
		Location:  report.Location,
	}
	if report.Timestamp > 0 {
		chk.CheckedAt = time.Unix(report.Timestamp, 0).UTC()
	}

	prev, err := h.Monitors.RecordCheck(ctx, orgID, chk)
	if err != nil {
		return err
	}

	// A repeated state needs no incident work, and a monitor whose very
	// first check comes back up starts quiet.
	changed := prev != nil && *prev != result.IsUp
	firstDown := prev == nil && !result.IsUp
	if !changed && !firstDown {
		return nil
	}

	m, err := h.Monitors.Get(ctx, result.MonitorID)
	if err != nil {
		return err
	}

	alert := ingest.NormalizedAlert{
		Source:   db.SourceUptime,
		Key:      m.ID,
		Title:    "Monitor Down: " + m.Name,
		Summary:  fmt.Sprintf("Monitor %s (%s) is down from %s: %s", m.Name, m.URL, report.Location, result.Error),
		Severity: db.SeverityCritical,
		Status:   ingest.StatusFire,
		StartsAt: chk.CheckedAt,
		Labels: map[string]interface{}{
			"monitor_id":  m.ID,
			"monitor_url": m.URL,
			"location":    report.Location,
		},
	}
	if result.IsUp {
		alert.Status = ingest.StatusResolve
	}

	route := ingest.Route{OrganizationID: m.OrganizationID, ProjectID: m.ProjectID}
	_, err = h.Alerts.Process(ctx, route, []ingest.NormalizedAlert{alert})
	return err
}

func (h *ReportHandler) authenticate(c *gin.Context) (*db.DeploymentToken, error) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return nil, apperr.New(apperr.Unauthorized, "missing deployment token")
	}
	return h.Tokens.VerifyToken(c.Request.Context(), token)
}
