package ingest

import (
	"testing"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

func TestTranslatePrometheus(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected NormalizedAlert
	}{
		{
			name: "firing alert with critical severity",
			payload: `{
				"receiver": "klaxon-webhook",
				"status": "firing",
				"alerts": [
					{
						"status": "firing",
						"labels": {
							"alertname": "HighCPUUsage",
							"instance": "prod-web-server-01:9100",
							"job": "node-exporter",
							"severity": "critical"
						},
						"annotations": {
							"summary": "Critical CPU usage detected on production web server",
							"description": "CPU usage has been consistently above 90% for the past 8 minutes."
						},
						"startsAt": "2024-01-15T10:30:00.000Z",
						"endsAt": "0001-01-01T00:00:00Z",
						"fingerprint": "7c7c4ce9f8a2b1d"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "7c7c4ce9f8a2b1d",
				Title:    "HighCPUUsage",
				Summary:  "Critical CPU usage detected on production web server",
				Severity: "critical",
				Status:   StatusFire,
			},
		},
		{
			name: "resolved alert",
			payload: `{
				"receiver": "klaxon-webhook",
				"status": "resolved",
				"alerts": [
					{
						"status": "resolved",
						"labels": {
							"alertname": "HighCPUUsage",
							"instance": "prod-web-server-01:9100",
							"job": "node-exporter",
							"severity": "critical"
						},
						"annotations": {
							"summary": "CPU usage is back to normal"
						},
						"startsAt": "2024-01-15T10:30:00.000Z",
						"endsAt": "2024-01-15T10:45:00.000Z",
						"fingerprint": "7c7c4ce9f8a2b1d"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "7c7c4ce9f8a2b1d",
				Title:    "HighCPUUsage",
				Summary:  "CPU usage is back to normal",
				Severity: "critical",
				Status:   StatusResolve,
			},
		},
		{
			name: "alert without severity defaults to warning",
			payload: `{
				"status": "firing",
				"alerts": [
					{
						"status": "firing",
						"labels": {
							"alertname": "DiskSpaceLow",
							"instance": "prod-db-server-01:9100",
							"job": "node-exporter"
						},
						"annotations": {
							"summary": "Disk space is running low"
						},
						"startsAt": "2024-01-15T12:00:00.000Z",
						"fingerprint": "xyz789"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "xyz789",
				Title:    "DiskSpaceLow",
				Summary:  "Disk space is running low",
				Severity: "warning",
				Status:   StatusFire,
			},
		},
		{
			name: "uppercase severity is folded",
			payload: `{
				"status": "firing",
				"alerts": [
					{
						"status": "firing",
						"labels": {
							"alertname": "PodCrashLooping",
							"severity": "CRITICAL"
						},
						"annotations": {},
						"startsAt": "2024-01-15T12:00:00.000Z",
						"fingerprint": "crash1"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "crash1",
				Title:    "PodCrashLooping",
				Severity: "critical",
				Status:   StatusFire,
			},
		},
		{
			name: "alert without fingerprint generates a key from labels",
			payload: `{
				"status": "firing",
				"alerts": [
					{
						"status": "firing",
						"labels": {
							"alertname": "ServiceDown",
							"instance": "prod-api-server-01:8080",
							"job": "api-service",
							"severity": "critical"
						},
						"annotations": {
							"summary": "API service is down"
						},
						"startsAt": "2024-01-15T13:00:00.000Z"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "ServiceDown-prod-api-server-01:8080-api-service",
				Title:    "ServiceDown",
				Summary:  "API service is down",
				Severity: "critical",
				Status:   StatusFire,
			},
		},
		{
			name: "description backfills an empty summary",
			payload: `{
				"status": "firing",
				"alerts": [
					{
						"status": "firing",
						"labels": {
							"alertname": "HighLatency",
							"severity": "high"
						},
						"annotations": {
							"description": "p99 latency above 2s for 10 minutes"
						},
						"startsAt": "2024-01-15T13:00:00.000Z",
						"fingerprint": "lat1"
					}
				]
			}`,
			expected: NormalizedAlert{
				Source:   "prometheus",
				Key:      "lat1",
				Title:    "HighLatency",
				Summary:  "p99 latency above 2s for 10 minutes",
				Severity: "high",
				Status:   StatusFire,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts, err := TranslatePrometheus([]byte(tt.payload))
			if err != nil {
				t.Fatalf("TranslatePrometheus() error = %v", err)
			}
			if len(alerts) != 1 {
				t.Fatalf("Expected 1 alert, got %d", len(alerts))
			}

			alert := alerts[0]
			if alert.Source != tt.expected.Source {
				t.Errorf("Source = %v, want %v", alert.Source, tt.expected.Source)
			}
			if alert.Key != tt.expected.Key {
				t.Errorf("Key = %v, want %v", alert.Key, tt.expected.Key)
			}
			if alert.Title != tt.expected.Title {
				t.Errorf("Title = %v, want %v", alert.Title, tt.expected.Title)
			}
			if alert.Summary != tt.expected.Summary {
				t.Errorf("Summary = %v, want %v", alert.Summary, tt.expected.Summary)
			}
			if alert.Severity != tt.expected.Severity {
				t.Errorf("Severity = %v, want %v", alert.Severity, tt.expected.Severity)
			}
			if alert.Status != tt.expected.Status {
				t.Errorf("Status = %v, want %v", alert.Status, tt.expected.Status)
			}
			if alert.StartsAt.IsZero() {
				t.Error("StartsAt should not be zero")
			}
			if tt.expected.Status == StatusResolve && alert.EndsAt == nil {
				t.Error("EndsAt should be set for resolved alerts")
			}
		})
	}
}

func TestTranslatePrometheusBatch(t *testing.T) {
	payload := `{
		"status": "firing",
		"alerts": [
			{
				"status": "firing",
				"labels": {"alertname": "A", "severity": "critical"},
				"startsAt": "2024-01-15T10:30:00.000Z",
				"fingerprint": "fp-a"
			},
			{
				"status": "resolved",
				"labels": {"alertname": "B", "severity": "warning"},
				"startsAt": "2024-01-15T10:00:00.000Z",
				"endsAt": "2024-01-15T10:20:00.000Z",
				"fingerprint": "fp-b"
			}
		]
	}`

	alerts, err := TranslatePrometheus([]byte(payload))
	if err != nil {
		t.Fatalf("TranslatePrometheus() error = %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Key != "fp-a" || alerts[0].Status != StatusFire {
		t.Errorf("alerts[0] = {Key: %v, Status: %v}, want {fp-a, fire}", alerts[0].Key, alerts[0].Status)
	}
	if alerts[1].Key != "fp-b" || alerts[1].Status != StatusResolve {
		t.Errorf("alerts[1] = {Key: %v, Status: %v}, want {fp-b, resolve}", alerts[1].Key, alerts[1].Status)
	}
}

func TestTranslatePrometheusInvalidPayload(t *testing.T) {
	_, err := TranslatePrometheus([]byte(`not json`))
	if err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Errorf("KindOf(err) = %v, want BadRequest", apperr.KindOf(err))
	}
}
