// Package ingest turns provider webhook payloads into normalized alerts and
// applies them to the incident store. Translators are pure; all I/O happens
// in the Ingestor.
package ingest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/klaxonhq/klaxon/db"
)

// Alert statuses after translation. Unknown provider statuses are treated as
// a fire: a false incident beats a silent outage.
const (
	StatusFire    = "fire"
	StatusResolve = "resolve"
)

// NormalizedAlert is the provider-independent record every translator
// produces. Key drives deduplication; an empty key means the alert always
// opens a fresh incident and can never be auto-resolved.
type NormalizedAlert struct {
	Source      string
	Key         string
	ExternalID  string
	Title       string
	Summary     string
	Severity    string // critical, high, warning, info
	Status      string // StatusFire or StatusResolve
	Labels      map[string]interface{}
	Annotations map[string]interface{}
	StartsAt    time.Time // zero when the provider omits a parseable timestamp
	EndsAt      *time.Time
	Raw         json.RawMessage // original provider record, kept for audit logging
}

// normalizeSeverity folds any provider severity string onto the four incident
// severities. Only exact (case-insensitive) matches map; everything else is a
// warning.
func normalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case db.SeverityCritical:
		return db.SeverityCritical
	case db.SeverityHigh:
		return db.SeverityHigh
	case db.SeverityWarning:
		return db.SeverityWarning
	case db.SeverityInfo:
		return db.SeverityInfo
	default:
		return db.SeverityWarning
	}
}
