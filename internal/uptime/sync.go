package uptime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/ingest"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/internal/metrics"
	"github.com/klaxonhq/klaxon/store"
)

// DefaultScanInterval is how often the worker looks for providers whose
// sync_interval_minutes has elapsed.
const DefaultScanInterval = time.Minute

// AlertSink is where detected status transitions go. *ingest.Ingestor
// satisfies it.
type AlertSink interface {
	Process(ctx context.Context, route ingest.Route, alerts []ingest.NormalizedAlert) (ingest.Result, error)
}

type robotAPI interface {
	GetMonitors(ctx context.Context) ([]UptimeRobotMonitor, error)
}

type checklyAPI interface {
	GetChecks(ctx context.Context) ([]ChecklyCheck, error)
	GetCheckStatistics(ctx context.Context, checkID string, from, to time.Time) (*ChecklyStatus, error)
}

// SyncWorker periodically pulls monitor state from configured providers,
// mirrors it into external_monitors, and routes up/down transitions through
// alert ingest. Incidents are keyed "<provider_id>:<external_id>" so the
// recovery seen by a later sync resolves the incident the outage opened.
type SyncWorker struct {
	Providers store.ProviderStore
	Alerts    AlertSink
	Logger    *slog.Logger
	Interval  time.Duration
	Clock     func() time.Time

	newRobot   func(apiKey string) robotAPI
	newCheckly func(apiKey, accountID string) checklyAPI
}

func NewSyncWorker(providers store.ProviderStore, alerts AlertSink, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		Providers:  providers,
		Alerts:     alerts,
		Logger:     logger,
		Interval:   DefaultScanInterval,
		Clock:      time.Now,
		newRobot:   func(apiKey string) robotAPI { return NewUptimeRobotClient(apiKey) },
		newCheckly: func(apiKey, accountID string) checklyAPI { return NewChecklyClient(apiKey, accountID) },
	}
}

// Run scans for due providers until the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context) error {
	if w.Interval <= 0 {
		w.Interval = DefaultScanInterval
	}
	if w.Clock == nil {
		w.Clock = time.Now
	}

	w.Logger.Info("uptime sync worker started", "scan_interval", w.Interval)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("uptime sync worker stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SyncWorker) tick(ctx context.Context) {
	due, err := w.Providers.ListDueProviders(ctx, w.Clock())
	if err != nil {
		w.Logger.Error("listing due providers", "error", err)
		return
	}

	for _, p := range due {
		if err := w.SyncProvider(ctx, p.ID); err != nil {
			metrics.ProviderSyncs.WithLabelValues(p.ProviderType, "error").Inc()
			w.Logger.Error("provider sync failed",
				"provider_id", p.ID,
				"provider_type", p.ProviderType,
				"error", err)
			continue
		}
		metrics.ProviderSyncs.WithLabelValues(p.ProviderType, "ok").Inc()
	}
}

// SyncProvider pulls one provider's monitors and reconciles them. Also the
// entry point for manual syncs triggered over the API.
func (w *SyncWorker) SyncProvider(ctx context.Context, providerID string) error {
	p, err := w.Providers.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}

	// Mark the attempt up front so a provider that keeps failing waits out
	// its interval instead of retrying every scan.
	if err := w.Providers.MarkProviderSynced(ctx, p.ID, w.Clock()); err != nil {
		w.Logger.Warn("marking provider synced", "provider_id", p.ID, "error", err)
	}

	_, apiKey, err := w.Providers.Credentials(ctx, p.ID)
	if err != nil {
		return err
	}

	var fetched []db.ExternalMonitor
	switch p.ProviderType {
	case ProviderTypeUptimeRobot:
		fetched, err = w.fetchUptimeRobot(ctx, apiKey)
	case ProviderTypeCheckly:
		fetched, err = w.fetchCheckly(ctx, apiKey)
	default:
		err = apperr.Newf(apperr.BadRequest, "unsupported provider type '%s'", p.ProviderType)
	}
	if err != nil {
		return err
	}

	previous, err := w.previousStatuses(ctx, p)
	if err != nil {
		return err
	}

	var alerts []ingest.NormalizedAlert
	now := w.Clock().UTC()
	for i := range fetched {
		em := &fetched[i]
		em.ProviderID = p.ID
		em.OrganizationID = p.OrganizationID
		if em.LastCheckAt == nil {
			em.LastCheckAt = &now
		}

		if err := w.Providers.UpsertExternalMonitor(ctx, em); err != nil {
			w.Logger.Error("upserting external monitor",
				"provider_id", p.ID,
				"external_id", em.ExternalID,
				"error", err)
			continue
		}

		if alert, ok := transitionAlert(p, em, previous, now); ok {
			alerts = append(alerts, alert)
		}
	}

	if len(alerts) > 0 {
		route := ingest.Route{OrganizationID: p.OrganizationID}
		if _, err := w.Alerts.Process(ctx, route, alerts); err != nil {
			return fmt.Errorf("processing transition alerts for provider %s: %w", p.ID, err)
		}
	}

	w.Logger.Info("provider sync complete",
		"provider_id", p.ID,
		"provider_type", p.ProviderType,
		"monitors", len(fetched),
		"transitions", len(alerts))
	return nil
}

// previousStatuses snapshots the stored status of each mirrored monitor
// before this sync overwrites it.
func (w *SyncWorker) previousStatuses(ctx context.Context, p *db.UptimeProvider) (map[string]string, error) {
	existing, err := w.Providers.ListExternalMonitors(ctx, p.OrganizationID, p.ID)
	if err != nil {
		return nil, err
	}
	previous := make(map[string]string, len(existing))
	for _, em := range existing {
		previous[em.ExternalID] = em.Status
	}
	return previous, nil
}

// transitionAlert decides whether a monitor's new status fires or resolves.
// Down always fires unless it was already down; only a down monitor coming
// back up resolves. Paused, degraded and unknown states never page.
func transitionAlert(p *db.UptimeProvider, em *db.ExternalMonitor, previous map[string]string, now time.Time) (ingest.NormalizedAlert, bool) {
	prev, seen := previous[em.ExternalID]
	key := p.ID + ":" + em.ExternalID

	switch {
	case em.Status == StatusDown && (!seen || prev != StatusDown):
		return ingest.NormalizedAlert{
			Source:   db.SourceUptime,
			Key:      key,
			Title:    "Monitor Down: " + em.Name,
			Summary:  fmt.Sprintf("%s monitor %s (%s) is reported down", p.ProviderType, em.Name, em.URL),
			Severity: db.SeverityCritical,
			Status:   ingest.StatusFire,
			StartsAt: now,
			Labels: map[string]interface{}{
				"provider_id":   p.ID,
				"provider_type": p.ProviderType,
				"external_id":   em.ExternalID,
				"monitor_url":   em.URL,
			},
		}, true
	case em.Status == StatusUp && seen && prev == StatusDown:
		return ingest.NormalizedAlert{
			Source:   db.SourceUptime,
			Key:      key,
			Status:   ingest.StatusResolve,
			StartsAt: now,
		}, true
	}
	return ingest.NormalizedAlert{}, false
}

func (w *SyncWorker) fetchUptimeRobot(ctx context.Context, apiKey string) ([]db.ExternalMonitor, error) {
	monitors, err := w.newRobot(apiKey).GetMonitors(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]db.ExternalMonitor, 0, len(monitors))
	for _, m := range monitors {
		day1, day7, day30 := ParseUptimeRatios(m.CustomUptimeRanges)

		responseTime := 0
		if m.ResponseTime != "" {
			if v, err := m.ResponseTime.Float64(); err == nil {
				responseTime = int(v)
			}
		}

		out = append(out, db.ExternalMonitor{
			ExternalID:     strconv.FormatInt(m.ID, 10),
			Name:           m.FriendlyName,
			URL:            m.URL,
			MonitorType:    RobotMonitorType(m.Type),
			Status:         RobotStatus(m.Status),
			IsPaused:       m.Status == 0,
			Uptime24h:      day1,
			Uptime7d:       day7,
			Uptime30d:      day30,
			ResponseTimeMS: responseTime,
		})
	}
	return out, nil
}

func (w *SyncWorker) fetchCheckly(ctx context.Context, apiKey string) ([]db.ExternalMonitor, error) {
	key, account, ok := SplitChecklyCredentials(apiKey)
	if !ok {
		return nil, apperr.New(apperr.BadRequest, "checkly credentials must be 'API_KEY:ACCOUNT_ID'")
	}
	client := w.newCheckly(key, account)

	checks, err := client.GetChecks(ctx)
	if err != nil {
		return nil, err
	}

	now := w.Clock().UTC()
	out := make([]db.ExternalMonitor, 0, len(checks))
	for _, check := range checks {
		// A check whose statistics cannot be read is skipped rather than
		// assumed healthy: guessing "up" here would auto-resolve a live
		// incident.
		status, err := client.GetCheckStatistics(ctx, check.ID, now.AddDate(0, 0, -30), now)
		if err != nil {
			w.Logger.Warn("checkly statistics unavailable", "check_id", check.ID, "error", err)
			continue
		}

		checkURL := ""
		if check.Request != nil {
			checkURL = check.Request.URL
		}

		out = append(out, db.ExternalMonitor{
			ExternalID:     check.ID,
			Name:           check.Name,
			URL:            checkURL,
			MonitorType:    ChecklyMonitorType(check.CheckType),
			Status:         ChecklyMonitorStatus(check, status),
			IsPaused:       !check.Activated || check.Muted,
			Uptime24h:      status.Uptime,
			Uptime7d:       status.Uptime,
			Uptime30d:      status.Uptime,
			ResponseTimeMS: status.AvgResponseTime,
		})
	}
	return out, nil
}
