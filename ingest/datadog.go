package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// DatadogWebhook is the monitor notification payload Datadog posts to a
// webhook integration.
// Reference: https://docs.datadoghq.com/integrations/webhooks/
type DatadogWebhook struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	EventType     string     `json:"event_type"`
	AlertType     string     `json:"alert_type"`
	AlertPriority string     `json:"alert_priority"` // P1..P4
	Transition    string     `json:"transition"`     // Triggered, Recovered
	Date          string     `json:"date"`           // unix milliseconds, as string
	LastUpdated   string     `json:"last_updated"`   // unix milliseconds, as string
	Org           DatadogOrg `json:"org"`
	Tags          string     `json:"tags"`
	Link          string     `json:"link"`
	Aggregate     string     `json:"aggregate"`
	AlertQuery    string     `json:"alert_query"`
	AlertCycleKey string     `json:"alert_cycle_key"`
}

type DatadogOrg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TranslateDatadog converts one Datadog webhook payload into a single
// normalized alert. The dedup key is the monitor's aggregate when present,
// otherwise the event id, so re-triggers of the same monitor fold into one
// incident.
func TranslateDatadog(payload []byte) ([]NormalizedAlert, error) {
	var webhook DatadogWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid datadog payload", err)
	}

	// A recovery is informational regardless of the monitor's priority.
	severity := mapDatadogPriority(webhook.AlertPriority)
	if strings.Contains(strings.ToLower(webhook.Transition), "recovered") {
		severity = db.SeverityInfo
	}

	key := webhook.Aggregate
	if key == "" {
		key = webhook.ID
	}

	alert := NormalizedAlert{
		Source:     db.SourceDatadog,
		Key:        key,
		ExternalID: webhook.ID,
		Title:      webhook.Title,
		Summary:    webhook.Body,
		Severity:   severity,
		Status:     mapDatadogTransition(webhook.Transition),
		Labels: map[string]interface{}{
			"source":          "datadog",
			"event_id":        webhook.ID,
			"event_type":      webhook.EventType,
			"alert_priority":  webhook.AlertPriority,
			"aggregate":       webhook.Aggregate,
			"alert_query":     webhook.AlertQuery,
			"alert_cycle_key": webhook.AlertCycleKey,
			"transition":      webhook.Transition,
		},
		Annotations: map[string]interface{}{
			"org_id":       webhook.Org.ID,
			"org_name":     webhook.Org.Name,
			"last_updated": webhook.LastUpdated,
			"link":         webhook.Link,
		},
		StartsAt: parseDatadogTimestamp(webhook.Date, webhook.LastUpdated),
		Raw:      json.RawMessage(payload),
	}

	if webhook.Tags != "" {
		alert.Labels["tags"] = webhook.Tags
	}

	return []NormalizedAlert{alert}, nil
}

// mapDatadogPriority folds Datadog's P1..P4 monitor priority onto incident
// severity. Missing or unknown priorities land on warning.
func mapDatadogPriority(priority string) string {
	switch strings.ToUpper(priority) {
	case "P1":
		return db.SeverityCritical
	case "P2":
		return db.SeverityHigh
	case "P3":
		return db.SeverityWarning
	case "P4":
		return db.SeverityInfo
	default:
		return db.SeverityWarning
	}
}

func mapDatadogTransition(transition string) string {
	switch strings.ToLower(transition) {
	case "triggered", "alerting", "warn":
		return StatusFire
	case "recovered", "ok", "info":
		return StatusResolve
	default:
		return StatusFire
	}
}

// parseDatadogTimestamp reads the millisecond epoch Datadog sends as a
// string, preferring date over last_updated. Unparseable input yields the
// zero time; the caller stamps its own clock.
func parseDatadogTimestamp(date, lastUpdated string) time.Time {
	raw := date
	if raw == "" {
		raw = lastUpdated
	}
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
