package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// PrometheusWebhook is the Alertmanager webhook envelope. One POST carries a
// batch of alerts sharing a group key.
// Reference: https://prometheus.io/docs/alerting/latest/configuration/#webhook_config
type PrometheusWebhook struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	TruncatedAlerts   int               `json:"truncatedAlerts"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []PrometheusAlert `json:"alerts"`
}

type PrometheusAlert struct {
	Status       string            `json:"status"` // firing, resolved
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       time.Time         `json:"endsAt"`
	GeneratorURL string            `json:"generatorURL"`
	Fingerprint  string            `json:"fingerprint"`
}

// TranslatePrometheus converts an Alertmanager envelope into one normalized
// alert per batch element. Each alert carries its own status; the envelope
// status is ignored. The dedup key is Alertmanager's fingerprint, falling
// back to alertname-instance-job for senders that omit it.
func TranslatePrometheus(payload []byte) ([]NormalizedAlert, error) {
	var webhook PrometheusWebhook
	if err := json.Unmarshal(payload, &webhook); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid prometheus payload", err)
	}

	alerts := make([]NormalizedAlert, 0, len(webhook.Alerts))
	for _, pa := range webhook.Alerts {
		alerts = append(alerts, pa.normalize())
	}
	return alerts, nil
}

func (p PrometheusAlert) normalize() NormalizedAlert {
	title := p.Labels["alertname"]
	if title == "" {
		title = "unknown"
	}

	key := p.Fingerprint
	if key == "" {
		key = fmt.Sprintf("%s-%s-%s", p.Labels["alertname"], p.Labels["instance"], p.Labels["job"])
	}

	status := StatusFire
	if p.Status == "resolved" {
		status = StatusResolve
	}

	alert := NormalizedAlert{
		Source:      db.SourcePrometheus,
		Key:         key,
		ExternalID:  p.Fingerprint,
		Title:       title,
		Summary:     p.Annotations["summary"],
		Severity:    normalizeSeverity(p.Labels["severity"]),
		Status:      status,
		Labels:      stringMap(p.Labels),
		Annotations: stringMap(p.Annotations),
		StartsAt:    p.StartsAt,
	}
	if desc := p.Annotations["description"]; desc != "" && alert.Summary == "" {
		alert.Summary = desc
	}
	if !p.EndsAt.IsZero() {
		ends := p.EndsAt
		alert.EndsAt = &ends
	}
	if raw, err := json.Marshal(p); err == nil {
		alert.Raw = raw
	}
	return alert
}

func stringMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
