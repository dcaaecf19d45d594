package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/klaxonhq/klaxon/authz"
	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// IncidentFilters narrows List. Zero values mean no filter; AssignedTo accepts
// the sentinel "unassigned" to match rows without an assignee.
type IncidentFilters struct {
	Status     string
	Severity   string
	Urgency    string
	Source     string
	AssignedTo string
	GroupID    string
	Search     string
	Page       int
	Limit      int
}

// EscalationStep is one applied level transition, written by the escalation
// engine or by a manual escalate call.
type EscalationStep struct {
	IncidentID string
	FromLevel  int
	ToLevel    int
	TargetType string
	TargetID   string
	AssignTo   string // empty for external targets: the level advances, assignment keeps
	Final      bool   // ToLevel is the policy's last level
	At         time.Time
	By         Principal
}

// IncidentStore is the persistence contract for incidents and their event
// timelines.
type IncidentStore interface {
	Create(ctx context.Context, inc *db.Incident, by Principal) (*db.Incident, error)
	Get(ctx context.Context, id string) (*db.IncidentResponse, error)
	List(ctx context.Context, scope authz.Scope, f IncidentFilters) ([]db.IncidentResponse, error)
	Acknowledge(ctx context.Context, id, by, note string) error
	Resolve(ctx context.Context, id string, by Principal, resolution, note string) error
	Assign(ctx context.Context, id, to, by, note string) error
	Merge(ctx context.Context, id string, payload map[string]interface{}, by Principal) error
	UpsertByKey(ctx context.Context, orgID, key string, inc *db.Incident, by Principal) (*db.Incident, bool, error)
	FindOpenByKey(ctx context.Context, orgID, key string) (*db.Incident, error)
	AppendEvent(ctx context.Context, incidentID, eventType string, data map[string]interface{}, by Principal) error
	ListEvents(ctx context.Context, incidentID string, limit int) ([]db.IncidentEvent, error)

	// Escalation engine support.
	ClaimEscalatable(ctx context.Context, now time.Time, limit int) ([]db.Incident, error)
	RecordEscalationStep(ctx context.Context, step EscalationStep) error
	CompleteEscalation(ctx context.Context, incidentID string, level int) error
	RecordNotifyFailure(ctx context.Context, incidentID string, level int, reason string) error
}

// PGIncidentStore implements IncidentStore over Postgres.
type PGIncidentStore struct {
	PG *sql.DB
}

var _ IncidentStore = (*PGIncidentStore)(nil)

func NewPGIncidentStore(pg *sql.DB) *PGIncidentStore {
	return &PGIncidentStore{PG: pg}
}

const incidentColumns = `
	i.id, i.title, i.description, i.status, i.urgency, i.severity,
	i.created_at, i.updated_at,
	i.assigned_to, i.assigned_at, i.acknowledged_by, i.acknowledged_at,
	i.resolved_by, i.resolved_at, i.resolution,
	i.source, i.integration_id, i.external_id, i.incident_key, i.alert_count,
	i.escalation_policy_id, i.current_escalation_level, i.last_escalated_at, i.escalation_status,
	i.group_id, i.organization_id, i.project_id, i.labels`

// Create inserts a new incident and its created event in one transaction.
// Timestamps come from the database; the returned incident carries them.
func (s *PGIncidentStore) Create(ctx context.Context, inc *db.Incident, by Principal) (*db.Incident, error) {
	applyIncidentDefaults(inc)

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIncident(ctx, tx, inc); err != nil {
		return nil, err
	}
	if err := insertEvent(ctx, tx, inc.ID, db.IncidentEventCreated, createdEventData(inc), by); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inc, nil
}

// Get returns one incident with joined display names. Missing rows are
// NotFound; scope checks are the caller's responsibility.
func (s *PGIncidentStore) Get(ctx context.Context, id string) (*db.IncidentResponse, error) {
	query := `
		SELECT ` + incidentColumns + `,
			u_assigned.name, u_assigned.email,
			u_acked.name, u_resolved.name,
			g.name, ep.name
		FROM incidents i
		LEFT JOIN users u_assigned ON i.assigned_to = u_assigned.id
		LEFT JOIN users u_acked ON i.acknowledged_by = u_acked.id
		LEFT JOIN users u_resolved ON i.resolved_by = u_resolved.id
		LEFT JOIN groups g ON i.group_id = g.id
		LEFT JOIN escalation_policies ep ON i.escalation_policy_id = ep.id
		WHERE i.id = $1`

	resp, err := scanIncidentResponse(s.PG.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.NotFound, "incident %s not found", id)
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return resp, nil
}

// List returns incidents visible to the scope, newest first with id as the
// tie-break. Filters compose as AND on top of the scope predicate.
func (s *PGIncidentStore) List(ctx context.Context, scope authz.Scope, f IncidentFilters) ([]db.IncidentResponse, error) {
	scope.AssignedColumn = "assigned_to"
	pred, args, argIndex := scope.Predicate("i", 1)

	query := `
		SELECT ` + incidentColumns + `,
			u_assigned.name, u_assigned.email,
			u_acked.name, u_resolved.name,
			g.name, ep.name
		FROM incidents i
		LEFT JOIN users u_assigned ON i.assigned_to = u_assigned.id
		LEFT JOIN users u_acked ON i.acknowledged_by = u_acked.id
		LEFT JOIN users u_resolved ON i.resolved_by = u_resolved.id
		LEFT JOIN groups g ON i.group_id = g.id
		LEFT JOIN escalation_policies ep ON i.escalation_policy_id = ep.id
		WHERE ` + pred

	if f.Status != "" {
		query += fmt.Sprintf(" AND i.status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}
	if f.Severity != "" {
		query += fmt.Sprintf(" AND i.severity = $%d", argIndex)
		args = append(args, f.Severity)
		argIndex++
	}
	if f.Urgency != "" {
		query += fmt.Sprintf(" AND i.urgency = $%d", argIndex)
		args = append(args, f.Urgency)
		argIndex++
	}
	if f.Source != "" {
		query += fmt.Sprintf(" AND i.source = $%d", argIndex)
		args = append(args, f.Source)
		argIndex++
	}
	if f.GroupID != "" {
		query += fmt.Sprintf(" AND i.group_id = $%d", argIndex)
		args = append(args, f.GroupID)
		argIndex++
	}
	if f.AssignedTo != "" {
		if f.AssignedTo == "unassigned" {
			query += " AND i.assigned_to IS NULL"
		} else {
			query += fmt.Sprintf(" AND i.assigned_to = $%d", argIndex)
			args = append(args, f.AssignedTo)
			argIndex++
		}
	}
	if f.Search != "" {
		query += fmt.Sprintf(" AND (i.title ILIKE $%d OR i.description ILIKE $%d)", argIndex, argIndex)
		args = append(args, "%"+f.Search+"%")
		argIndex++
	}

	query += " ORDER BY i.created_at DESC, i.id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * limit
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]db.IncidentResponse, 0)
	for rows.Next() {
		resp, err := scanIncidentResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *resp)
	}
	return incidents, rows.Err()
}

// Acknowledge moves a triggered incident to acknowledged. Acknowledging an
// incident in any other status is a Conflict.
func (s *PGIncidentStore) Acknowledge(ctx context.Context, id, by, note string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, acknowledged_by = $2, acknowledged_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		db.IncidentStatusAcknowledged, by, id, db.IncidentStatusTriggered)
	if err != nil {
		return fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return statusConflict(ctx, tx, id, "acknowledge")
	}

	data := map[string]interface{}{}
	if note != "" {
		data["note"] = note
	}
	if err := insertEvent(ctx, tx, id, db.IncidentEventAcknowledged, data, UserPrincipal(by)); err != nil {
		return err
	}
	return tx.Commit()
}

// Resolve closes an incident from triggered or acknowledged. Resolved is
// terminal: resolving again is a Conflict.
func (s *PGIncidentStore) Resolve(ctx context.Context, id string, by Principal, resolution, note string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET status = $1, resolved_by = $2, resolved_at = NOW(), resolution = $3, updated_at = NOW()
		WHERE id = $4 AND status != $1`,
		db.IncidentStatusResolved, nullStr(by.ID), nullStr(resolution), id)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return statusConflict(ctx, tx, id, "resolve")
	}

	data := map[string]interface{}{}
	if resolution != "" {
		data["resolution"] = resolution
	}
	if note != "" {
		data["note"] = note
	}
	if err := insertEvent(ctx, tx, id, db.IncidentEventResolved, data, by); err != nil {
		return err
	}
	return tx.Commit()
}

// Assign sets the assignee on an open incident. The event records the display
// name so the timeline reads without another lookup.
func (s *PGIncidentStore) Assign(ctx context.Context, id, to, by, note string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET assigned_to = $1, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status != $3`,
		to, id, db.IncidentStatusResolved)
	if err != nil {
		return fmt.Errorf("failed to assign incident: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return statusConflict(ctx, tx, id, "assign")
	}

	data := map[string]interface{}{
		"assigned_to_id": to,
		"assigned_by":    by,
	}
	var name string
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(name, email, 'Unknown') FROM users WHERE id = $1`, to).Scan(&name); err == nil {
		data["assigned_to"] = name
	} else {
		data["assigned_to"] = to
	}
	if note != "" {
		data["note"] = note
	}
	if err := insertEvent(ctx, tx, id, db.IncidentEventAssigned, data, UserPrincipal(by)); err != nil {
		return err
	}
	return tx.Commit()
}

// Merge folds another alert into an existing incident: bumps alert_count and
// appends an alert_merged event. Status never changes.
func (s *PGIncidentStore) Merge(ctx context.Context, id string, payload map[string]interface{}, by Principal) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := mergeIncident(ctx, tx, id, payload, by); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertByKey deduplicates by (org, key): exactly one concurrent caller
// creates the incident, every other merges into it. Open means triggered or
// acknowledged; a resolved incident never absorbs new alerts. An empty key
// skips dedup entirely.
func (s *PGIncidentStore) UpsertByKey(ctx context.Context, orgID, key string, inc *db.Incident, by Principal) (*db.Incident, bool, error) {
	if key == "" {
		created, err := s.Create(ctx, inc, by)
		return created, err == nil, err
	}

	// Losing the insert race aborts the transaction, so the retry re-runs the
	// lookup inside a fresh one and lands on the merge path.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		found, created, err := s.upsertOnce(ctx, orgID, key, inc, by)
		if err == nil {
			return found, created, nil
		}
		if !isUniqueViolation(err) {
			return nil, false, err
		}
		lastErr = err
	}
	return nil, false, fmt.Errorf("failed to upsert incident by key %q: %w", key, lastErr)
}

func (s *PGIncidentStore) upsertOnce(ctx context.Context, orgID, key string, inc *db.Incident, by Principal) (*db.Incident, bool, error) {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents i
		WHERE i.organization_id = $1 AND i.incident_key = $2 AND i.status IN ($3, $4)
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT 1
		FOR UPDATE`,
		orgID, key, db.IncidentStatusTriggered, db.IncidentStatusAcknowledged)

	existing, err := scanIncident(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up open incident: %w", err)
	}

	if err == nil {
		if err := mergeIncident(ctx, tx, existing.ID, mergePayload(inc), by); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		existing.AlertCount++
		return existing, false, nil
	}

	inc.OrganizationID = orgID
	inc.IncidentKey = key
	applyIncidentDefaults(inc)
	if err := insertIncident(ctx, tx, inc); err != nil {
		return nil, false, err
	}
	if err := insertEvent(ctx, tx, inc.ID, db.IncidentEventCreated, createdEventData(inc), by); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inc, true, nil
}

// FindOpenByKey returns the open incident holding (org, key), or NotFound.
func (s *PGIncidentStore) FindOpenByKey(ctx context.Context, orgID, key string) (*db.Incident, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents i
		WHERE i.organization_id = $1 AND i.incident_key = $2 AND i.status IN ($3, $4)
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT 1`,
		orgID, key, db.IncidentStatusTriggered, db.IncidentStatusAcknowledged)

	inc, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "no open incident for key %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open incident: %w", err)
	}
	return inc, nil
}

// AppendEvent adds one timeline row outside any incident mutation.
func (s *PGIncidentStore) AppendEvent(ctx context.Context, incidentID, eventType string, data map[string]interface{}, by Principal) error {
	return insertEvent(ctx, s.PG, incidentID, eventType, data, by)
}

// ListEvents returns the newest events first. Limit defaults to 50, capped at 100.
func (s *PGIncidentStore) ListEvents(ctx context.Context, incidentID string, limit int) ([]db.IncidentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT ie.id, ie.incident_id, ie.event_type, ie.event_data,
			   ie.created_by_kind, ie.created_by, ie.created_at, u.name
		FROM incident_events ie
		LEFT JOIN users u ON ie.created_by = u.id
		WHERE ie.incident_id = $1
		ORDER BY ie.created_at DESC, ie.id DESC
		LIMIT $2`,
		incidentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident events: %w", err)
	}
	defer rows.Close()

	events := make([]db.IncidentEvent, 0)
	for rows.Next() {
		var ev db.IncidentEvent
		var eventData, createdBy, createdByName sql.NullString

		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.EventType, &eventData,
			&ev.CreatedByKind, &createdBy, &ev.CreatedAt, &createdByName); err != nil {
			return nil, fmt.Errorf("failed to scan incident event: %w", err)
		}
		ev.CreatedBy = strOrEmpty(createdBy)
		ev.CreatedByName = strOrEmpty(createdByName)
		if eventData.Valid && eventData.String != "" {
			_ = json.Unmarshal([]byte(eventData.String), &ev.EventData)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ClaimEscalatable returns up to limit incidents whose escalation timeout has
// expired at now, skipping rows another worker holds locked. Eligible means:
// still triggered, an active policy attached, escalation not completed, and
// either the first level's timeout has passed since creation, or the current
// level's timeout has passed since the last escalation and a next level exists.
func (s *PGIncidentStore) ClaimEscalatable(ctx context.Context, now time.Time, limit int) ([]db.Incident, error) {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents i
		JOIN escalation_policies ep ON ep.id = i.escalation_policy_id AND ep.is_active
		WHERE i.status = 'triggered'
		  AND i.escalation_status IN ('none', 'pending')
		  AND (
			(i.last_escalated_at IS NULL AND EXISTS (
				SELECT 1 FROM escalation_levels el
				WHERE el.policy_id = ep.id AND el.level_number = 1
				  AND $1 >= i.created_at
					+ (CASE WHEN el.timeout_minutes > 0 THEN el.timeout_minutes ELSE ep.escalate_after_minutes END) * interval '1 minute'
			))
			OR
			(i.last_escalated_at IS NOT NULL AND i.current_escalation_level >= 1
			  AND EXISTS (
				SELECT 1 FROM escalation_levels el
				WHERE el.policy_id = ep.id AND el.level_number = i.current_escalation_level
				  AND $1 >= i.last_escalated_at
					+ (CASE WHEN el.timeout_minutes > 0 THEN el.timeout_minutes ELSE ep.escalate_after_minutes END) * interval '1 minute'
			  )
			  AND EXISTS (
				SELECT 1 FROM escalation_levels nl
				WHERE nl.policy_id = ep.id AND nl.level_number = i.current_escalation_level + 1
			  ))
		  )
		ORDER BY i.created_at ASC
		LIMIT $2
		FOR UPDATE OF i SKIP LOCKED`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim escalatable incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]db.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return incidents, nil
}

// RecordEscalationStep applies one level transition and its escalated event in
// one transaction. The guard on the current level makes the transition
// single-winner across replicas: a concurrent advance yields Conflict and no
// event is written.
func (s *PGIncidentStore) RecordEscalationStep(ctx context.Context, step EscalationStep) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	escStatus := db.EscalationStatusPending
	if step.Final {
		escStatus = db.EscalationStatusCompleted
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET assigned_to = COALESCE($1, assigned_to),
			assigned_at = CASE WHEN $1 IS NULL THEN assigned_at ELSE $2 END,
			current_escalation_level = $3,
			last_escalated_at = $2,
			escalation_status = $4,
			updated_at = NOW()
		WHERE id = $5 AND status = $6
		  AND current_escalation_level = $7
		  AND escalation_status IN ($8, $9)`,
		nullStr(step.AssignTo), step.At, step.ToLevel, escStatus,
		step.IncidentID, db.IncidentStatusTriggered, step.FromLevel,
		db.EscalationStatusNone, db.EscalationStatusPending)
	if err != nil {
		return fmt.Errorf("failed to record escalation step: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.Conflict, "incident %s moved past level %d concurrently", step.IncidentID, step.FromLevel)
	}

	data := map[string]interface{}{
		"level":       step.ToLevel,
		"target_type": step.TargetType,
	}
	if step.TargetID != "" {
		data["target_id"] = step.TargetID
	}
	if step.AssignTo != "" {
		data["assigned_to"] = step.AssignTo
	}
	if err := insertEvent(ctx, tx, step.IncidentID, db.IncidentEventEscalated, data, step.By); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteEscalation marks the chain exhausted without advancing the level.
func (s *PGIncidentStore) CompleteEscalation(ctx context.Context, incidentID string, level int) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET escalation_status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND escalation_status IN ($4, $5)`,
		db.EscalationStatusCompleted, incidentID, db.IncidentStatusTriggered,
		db.EscalationStatusNone, db.EscalationStatusPending)
	if err != nil {
		return fmt.Errorf("failed to complete escalation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.Conflict, "incident %s changed state concurrently", incidentID)
	}

	data := map[string]interface{}{"level": level}
	if err := insertEvent(ctx, tx, incidentID, db.IncidentEventEscalationCompleted, data, SystemPrincipal("")); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordNotifyFailure notes an unresolvable escalation target. No state
// changes: the incident stays at its level and is re-picked next tick.
func (s *PGIncidentStore) RecordNotifyFailure(ctx context.Context, incidentID string, level int, reason string) error {
	return insertEvent(ctx, s.PG, incidentID, db.IncidentEventNotifyFailure,
		map[string]interface{}{"level": level, "reason": reason}, SystemPrincipal(""))
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func applyIncidentDefaults(inc *db.Incident) {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Status == "" {
		inc.Status = db.IncidentStatusTriggered
	}
	if inc.Urgency == "" {
		inc.Urgency = db.IncidentUrgencyHigh
	}
	if inc.Severity == "" {
		inc.Severity = db.SeverityWarning
	}
	if inc.EscalationStatus == "" {
		inc.EscalationStatus = db.EscalationStatusNone
	}
	if inc.AlertCount == 0 {
		inc.AlertCount = 1
	}
	// CurrentEscalationLevel stays 0: attached but not yet fired.
}

func insertIncident(ctx context.Context, tx *sql.Tx, inc *db.Incident) error {
	var labelsJSON interface{}
	if inc.Labels != nil {
		b, _ := json.Marshal(inc.Labels)
		labelsJSON = string(b)
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO incidents (
			id, title, description, status, urgency, severity,
			assigned_to, source, integration_id, external_id, incident_key, alert_count,
			escalation_policy_id, current_escalation_level, escalation_status,
			group_id, organization_id, project_id, labels
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at`,
		inc.ID, inc.Title, inc.Description, inc.Status, inc.Urgency, inc.Severity,
		nullStr(inc.AssignedTo), inc.Source, nullStr(inc.IntegrationID), nullStr(inc.ExternalID),
		nullStr(inc.IncidentKey), inc.AlertCount,
		nullStr(inc.EscalationPolicyID), inc.CurrentEscalationLevel, inc.EscalationStatus,
		nullStr(inc.GroupID), nullStr(inc.OrganizationID), nullStr(inc.ProjectID), labelsJSON,
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, q execer, incidentID, eventType string, data map[string]interface{}, by Principal) error {
	payload, _ := json.Marshal(data)
	kind := by.Kind
	if kind == "" {
		kind = db.PrincipalKindSystem
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, event_data, created_by_kind, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), incidentID, eventType, string(payload), kind, nullStr(by.ID))
	if err != nil {
		return fmt.Errorf("failed to insert incident event: %w", err)
	}
	return nil
}

func mergeIncident(ctx context.Context, tx *sql.Tx, id string, payload map[string]interface{}, by Principal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET alert_count = alert_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to merge incident: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "incident %s not found", id)
	}
	return insertEvent(ctx, tx, id, db.IncidentEventAlertMerged, payload, by)
}

func createdEventData(inc *db.Incident) map[string]interface{} {
	return map[string]interface{}{
		"source":   inc.Source,
		"severity": inc.Severity,
	}
}

func mergePayload(inc *db.Incident) map[string]interface{} {
	data := map[string]interface{}{
		"title":    inc.Title,
		"severity": inc.Severity,
		"source":   inc.Source,
	}
	if inc.ExternalID != "" {
		data["external_id"] = inc.ExternalID
	}
	return data
}

// statusConflict distinguishes a missing incident from a state-machine
// violation after a guarded update matched no rows.
func statusConflict(ctx context.Context, tx *sql.Tx, id, verb string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM incidents WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return apperr.Newf(apperr.NotFound, "incident %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to check incident status: %w", err)
	}
	return apperr.Newf(apperr.Conflict, "cannot %s incident in status %s", verb, status)
}

// isUniqueViolation reports a Postgres unique_violation, raised by the partial
// unique index on open (organization_id, incident_key) rows when creators race.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func scanIncident(row rowScanner) (*db.Incident, error) {
	var inc db.Incident
	var assignedTo, acknowledgedBy, resolvedBy, resolution sql.NullString
	var assignedAt, acknowledgedAt, resolvedAt, lastEscalatedAt sql.NullTime
	var integrationID, externalID, incidentKey sql.NullString
	var escalationPolicyID, groupID, organizationID, projectID sql.NullString
	var labels sql.NullString

	err := row.Scan(
		&inc.ID, &inc.Title, &inc.Description, &inc.Status, &inc.Urgency, &inc.Severity,
		&inc.CreatedAt, &inc.UpdatedAt,
		&assignedTo, &assignedAt, &acknowledgedBy, &acknowledgedAt,
		&resolvedBy, &resolvedAt, &resolution,
		&inc.Source, &integrationID, &externalID, &incidentKey, &inc.AlertCount,
		&escalationPolicyID, &inc.CurrentEscalationLevel, &lastEscalatedAt, &inc.EscalationStatus,
		&groupID, &organizationID, &projectID, &labels,
	)
	if err != nil {
		return nil, err
	}

	inc.AssignedTo = strOrEmpty(assignedTo)
	inc.AssignedAt = timePtr(assignedAt)
	inc.AcknowledgedBy = strOrEmpty(acknowledgedBy)
	inc.AcknowledgedAt = timePtr(acknowledgedAt)
	inc.ResolvedBy = strOrEmpty(resolvedBy)
	inc.ResolvedAt = timePtr(resolvedAt)
	inc.Resolution = strOrEmpty(resolution)
	inc.IntegrationID = strOrEmpty(integrationID)
	inc.ExternalID = strOrEmpty(externalID)
	inc.IncidentKey = strOrEmpty(incidentKey)
	inc.EscalationPolicyID = strOrEmpty(escalationPolicyID)
	inc.LastEscalatedAt = timePtr(lastEscalatedAt)
	inc.GroupID = strOrEmpty(groupID)
	inc.OrganizationID = strOrEmpty(organizationID)
	inc.ProjectID = strOrEmpty(projectID)
	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &inc.Labels)
	}
	return &inc, nil
}

func scanIncidentResponse(row rowScanner) (*db.IncidentResponse, error) {
	var resp db.IncidentResponse
	var assignedTo, acknowledgedBy, resolvedBy, resolution sql.NullString
	var assignedAt, acknowledgedAt, resolvedAt, lastEscalatedAt sql.NullTime
	var integrationID, externalID, incidentKey sql.NullString
	var escalationPolicyID, groupID, organizationID, projectID sql.NullString
	var labels sql.NullString
	var assignedToName, assignedToEmail, acknowledgedByName, resolvedByName sql.NullString
	var groupName, escalationPolicyName sql.NullString

	err := row.Scan(
		&resp.ID, &resp.Title, &resp.Description, &resp.Status, &resp.Urgency, &resp.Severity,
		&resp.CreatedAt, &resp.UpdatedAt,
		&assignedTo, &assignedAt, &acknowledgedBy, &acknowledgedAt,
		&resolvedBy, &resolvedAt, &resolution,
		&resp.Source, &integrationID, &externalID, &incidentKey, &resp.AlertCount,
		&escalationPolicyID, &resp.CurrentEscalationLevel, &lastEscalatedAt, &resp.EscalationStatus,
		&groupID, &organizationID, &projectID, &labels,
		&assignedToName, &assignedToEmail, &acknowledgedByName, &resolvedByName,
		&groupName, &escalationPolicyName,
	)
	if err != nil {
		return nil, err
	}

	resp.AssignedTo = strOrEmpty(assignedTo)
	resp.AssignedAt = timePtr(assignedAt)
	resp.AcknowledgedBy = strOrEmpty(acknowledgedBy)
	resp.AcknowledgedAt = timePtr(acknowledgedAt)
	resp.ResolvedBy = strOrEmpty(resolvedBy)
	resp.ResolvedAt = timePtr(resolvedAt)
	resp.Resolution = strOrEmpty(resolution)
	resp.IntegrationID = strOrEmpty(integrationID)
	resp.ExternalID = strOrEmpty(externalID)
	resp.IncidentKey = strOrEmpty(incidentKey)
	resp.EscalationPolicyID = strOrEmpty(escalationPolicyID)
	resp.LastEscalatedAt = timePtr(lastEscalatedAt)
	resp.GroupID = strOrEmpty(groupID)
	resp.OrganizationID = strOrEmpty(organizationID)
	resp.ProjectID = strOrEmpty(projectID)
	if labels.Valid && labels.String != "" {
		_ = json.Unmarshal([]byte(labels.String), &resp.Labels)
	}
	resp.AssignedToName = strOrEmpty(assignedToName)
	resp.AssignedToEmail = strOrEmpty(assignedToEmail)
	resp.AcknowledgedByName = strOrEmpty(acknowledgedByName)
	resp.ResolvedByName = strOrEmpty(resolvedByName)
	resp.GroupName = strOrEmpty(groupName)
	resp.EscalationPolicyName = strOrEmpty(escalationPolicyName)
	return &resp, nil
}
