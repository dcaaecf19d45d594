package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/internal/metrics"
	"github.com/klaxonhq/klaxon/notify"
	"github.com/klaxonhq/klaxon/store"
)

// Route is the tenant and escalation context an integration stamps onto
// every incident it opens.
type Route struct {
	OrganizationID string
	ProjectID      string
	GroupID        string
	PolicyID       string
	IntegrationID  string
}

// RouteFromIntegration builds the route an incoming webhook inherits from
// its integration record.
func RouteFromIntegration(in db.Integration) Route {
	return Route{
		OrganizationID: in.OrganizationID,
		ProjectID:      in.ProjectID,
		GroupID:        in.GroupID,
		PolicyID:       in.EscalationPolicyID,
		IntegrationID:  in.ID,
	}
}

// Result counts what a batch of alerts did to the store.
type Result struct {
	Created  int `json:"created"`
	Merged   int `json:"merged"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Ingestor applies normalized alerts to the incident store. Fires open or
// merge incidents through keyed dedup; resolves close the open incident
// holding the key and are no-ops when nothing is open.
type Ingestor struct {
	Incidents store.IncidentStore
	Notifier  notify.Emitter
	Logger    *slog.Logger
}

func NewIngestor(incidents store.IncidentStore, notifier notify.Emitter, logger *slog.Logger) *Ingestor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{Incidents: incidents, Notifier: notifier, Logger: logger}
}

// Process applies every alert in the batch, continuing past individual
// failures. The returned error is the first failure, so webhook senders get
// a retryable status while the rest of the batch still lands; keyed dedup
// makes the retry safe.
func (i *Ingestor) Process(ctx context.Context, route Route, alerts []NormalizedAlert) (Result, error) {
	var res Result
	var firstErr error

	for _, alert := range alerts {
		var err error
		switch alert.Status {
		case StatusResolve:
			err = i.resolve(ctx, route, alert, &res)
		default:
			err = i.fire(ctx, route, alert, &res)
		}
		if err != nil {
			res.Failed++
			i.Logger.Error("alert ingest failed",
				"source", alert.Source, "key", alert.Key, "status", alert.Status, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.AlertsIngested.WithLabelValues(alert.Source).Inc()
	}

	return res, firstErr
}

func (i *Ingestor) fire(ctx context.Context, route Route, alert NormalizedAlert, res *Result) error {
	inc := &db.Incident{
		Title:              alert.Title,
		Description:        alert.Summary,
		Severity:           normalizeSeverity(alert.Severity),
		Urgency:            urgencyFor(alert.Severity),
		Source:             alert.Source,
		IntegrationID:      route.IntegrationID,
		ExternalID:         alert.ExternalID,
		IncidentKey:        alert.Key,
		EscalationPolicyID: route.PolicyID,
		GroupID:            route.GroupID,
		OrganizationID:     route.OrganizationID,
		ProjectID:          route.ProjectID,
		Labels:             alert.Labels,
	}
	by := store.SystemPrincipal(db.GetSystemUserBySource(alert.Source))

	var created *db.Incident
	var isNew bool
	var err error
	if alert.Key == "" {
		created, err = i.Incidents.Create(ctx, inc, by)
		isNew = err == nil
	} else {
		created, isNew, err = i.Incidents.UpsertByKey(ctx, route.OrganizationID, alert.Key, inc, by)
	}
	if err != nil {
		return err
	}

	if !isNew {
		res.Merged++
		return nil
	}
	res.Created++
	metrics.IncidentsCreated.WithLabelValues(alert.Source).Inc()

	// Notification loss must not fail the ingest; the incident is already
	// durable and the escalation engine will still pick it up.
	intent := notify.Intent{
		Kind:       notify.KindIncidentCreated,
		IncidentID: created.ID,
		Title:      created.Title,
		Severity:   created.Severity,
		Urgency:    created.Urgency,
	}
	if err := i.Notifier.Emit(ctx, intent); err != nil {
		i.Logger.Error("incident created intent emit failed", "incident_id", created.ID, "error", err)
	}
	return nil
}

func (i *Ingestor) resolve(ctx context.Context, route Route, alert NormalizedAlert, res *Result) error {
	if alert.Key == "" {
		res.Skipped++
		return nil
	}

	inc, err := i.Incidents.FindOpenByKey(ctx, route.OrganizationID, alert.Key)
	if apperr.Is(err, apperr.NotFound) {
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}

	by := store.SystemPrincipal(db.GetSystemUserBySource(alert.Source))
	resolution := fmt.Sprintf("auto-resolved by %s", alert.Source)
	err = i.Incidents.Resolve(ctx, inc.ID, by, resolution, "alert recovered")
	if apperr.Is(err, apperr.Conflict) {
		// Someone closed it between the lookup and the update.
		res.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	res.Resolved++

	intent := notify.Intent{
		Kind:       notify.KindIncidentResolved,
		IncidentID: inc.ID,
		Title:      inc.Title,
		Severity:   inc.Severity,
		Urgency:    inc.Urgency,
	}
	if err := i.Notifier.Emit(ctx, intent); err != nil {
		i.Logger.Error("incident resolved intent emit failed", "incident_id", inc.ID, "error", err)
	}
	return nil
}

// urgencyFor pages for critical and high severities; warnings and info wait
// for business hours.
func urgencyFor(severity string) string {
	switch normalizeSeverity(severity) {
	case db.SeverityCritical, db.SeverityHigh:
		return db.IncidentUrgencyHigh
	default:
		return db.IncidentUrgencyLow
	}
}
