package ingest

import (
	"testing"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

func TestTranslateWebhook(t *testing.T) {
	payload := `{
		"alert_name": "disk-full",
		"summary": "/var is at 96%",
		"severity": "critical",
		"status": "firing",
		"fingerprint": "host-7:/var",
		"labels": {"host": "host-7"}
	}`

	alerts, err := TranslateWebhook([]byte(payload))
	if err != nil {
		t.Fatalf("TranslateWebhook() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Source != "webhook" {
		t.Errorf("Source = %v, want webhook", alert.Source)
	}
	if alert.Key != "host-7:/var" {
		t.Errorf("Key = %v, want host-7:/var", alert.Key)
	}
	if alert.Title != "disk-full" {
		t.Errorf("Title = %v, want disk-full", alert.Title)
	}
	if alert.Severity != "critical" {
		t.Errorf("Severity = %v, want critical", alert.Severity)
	}
	if alert.Status != StatusFire {
		t.Errorf("Status = %v, want %v", alert.Status, StatusFire)
	}
	if alert.Labels["host"] != "host-7" {
		t.Errorf("Labels[host] = %v, want host-7", alert.Labels["host"])
	}
}

func TestTranslateWebhookDefaults(t *testing.T) {
	alerts, err := TranslateWebhook([]byte(`{}`))
	if err != nil {
		t.Fatalf("TranslateWebhook() error = %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}

	alert := alerts[0]
	if alert.Title != "generic-alert" {
		t.Errorf("Title = %v, want generic-alert", alert.Title)
	}
	if alert.Severity != "warning" {
		t.Errorf("Severity = %v, want warning", alert.Severity)
	}
	if alert.Status != StatusFire {
		t.Errorf("Status = %v, want %v", alert.Status, StatusFire)
	}
	if alert.Key != "" {
		t.Errorf("Key = %v, want empty", alert.Key)
	}
}

func TestTranslateWebhookResolved(t *testing.T) {
	payload := `{"alert_name": "disk-full", "status": "resolved", "fingerprint": "host-7:/var"}`

	alerts, err := TranslateWebhook([]byte(payload))
	if err != nil {
		t.Fatalf("TranslateWebhook() error = %v", err)
	}
	if alerts[0].Status != StatusResolve {
		t.Errorf("Status = %v, want %v", alerts[0].Status, StatusResolve)
	}
}

func TestTranslateWebhookDescriptionFallback(t *testing.T) {
	payload := `{"alert_name": "x", "description": "full story here"}`

	alerts, err := TranslateWebhook([]byte(payload))
	if err != nil {
		t.Fatalf("TranslateWebhook() error = %v", err)
	}
	if alerts[0].Summary != "full story here" {
		t.Errorf("Summary = %v, want description fallback", alerts[0].Summary)
	}
}

func TestTranslateWebhookInvalidJSON(t *testing.T) {
	_, err := TranslateWebhook([]byte(`not json`))
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Errorf("KindOf(err) = %v, want BadRequest", apperr.KindOf(err))
	}
}
