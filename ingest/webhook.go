package ingest

import (
	"encoding/json"
	"time"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// GenericWebhook is the shape accepted on integrations of type "webhook":
// one alert per POST. Fingerprint drives dedup; senders that omit it open a
// fresh incident every time and cannot auto-resolve.
type GenericWebhook struct {
	AlertName   string                 `json:"alert_name"`
	Summary     string                 `json:"summary"`
	Description string                 `json:"description"`
	Severity    string                 `json:"severity"`
	Status      string                 `json:"status"` // firing, resolved
	Fingerprint string                 `json:"fingerprint"`
	Labels      map[string]interface{} `json:"labels"`
	Annotations map[string]interface{} `json:"annotations"`
	StartsAt    time.Time              `json:"starts_at"`
	EndsAt      *time.Time             `json:"ends_at,omitempty"`
}

// TranslateWebhook converts a generic webhook body into a single normalized
// alert. Missing fields fall back rather than reject: a sender that can only
// POST a title still pages someone.
func TranslateWebhook(payload []byte) ([]NormalizedAlert, error) {
	var hook GenericWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid webhook payload", err)
	}

	title := hook.AlertName
	if title == "" {
		title = "generic-alert"
	}
	summary := hook.Summary
	if summary == "" {
		summary = hook.Description
	}
	status := StatusFire
	if hook.Status == "resolved" {
		status = StatusResolve
	}

	alert := NormalizedAlert{
		Source:      db.SourceWebhook,
		Key:         hook.Fingerprint,
		ExternalID:  hook.Fingerprint,
		Title:       title,
		Summary:     summary,
		Severity:    normalizeSeverity(hook.Severity),
		Status:      status,
		Labels:      hook.Labels,
		Annotations: hook.Annotations,
		StartsAt:    hook.StartsAt,
		EndsAt:      hook.EndsAt,
		Raw:         json.RawMessage(payload),
	}
	return []NormalizedAlert{alert}, nil
}
