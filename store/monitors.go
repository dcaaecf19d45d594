package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// MonitorStore persists probed monitors and their check samples. RecordCheck
// is the hot path: probe workers report batches, each sample lands here and
// the caller uses the returned previous state to detect up/down transitions.
type MonitorStore interface {
	Create(ctx context.Context, m *db.Monitor) (*db.Monitor, error)
	Get(ctx context.Context, id string) (*db.Monitor, error)
	List(ctx context.Context, orgID string) ([]db.Monitor, error)
	Update(ctx context.Context, m *db.Monitor) (*db.Monitor, error)
	Delete(ctx context.Context, id string) error

	// RecordCheck appends an immutable check row and updates the monitor's
	// last-known state in one transaction. Returns the state before this
	// check: nil when the monitor had never been checked.
	RecordCheck(ctx context.Context, orgID string, chk *db.MonitorCheck) (*bool, error)
	ListChecks(ctx context.Context, monitorID string, limit int) ([]db.MonitorCheck, error)
}

type PGMonitorStore struct {
	PG *sql.DB
}

var _ MonitorStore = (*PGMonitorStore)(nil)

func NewPGMonitorStore(pg *sql.DB) *PGMonitorStore {
	return &PGMonitorStore{PG: pg}
}

const monitorColumns = `
	id, name, url, method, interval_seconds, is_active,
	is_up, last_status, last_latency_ms, last_error, last_check_at,
	organization_id, project_id, created_at, updated_at`

func (s *PGMonitorStore) Create(ctx context.Context, m *db.Monitor) (*db.Monitor, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Method == "" {
		m.Method = "GET"
	}
	if m.IntervalSeconds <= 0 {
		m.IntervalSeconds = 60
	}
	m.IsActive = true

	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO monitors (id, name, url, method, interval_seconds, is_active,
			organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.URL, m.Method, m.IntervalSeconds, m.IsActive,
		m.OrganizationID, nullStr(m.ProjectID),
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert monitor: %w", err)
	}
	return m, nil
}

func (s *PGMonitorStore) Get(ctx context.Context, id string) (*db.Monitor, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE id = $1`, id)

	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

func (s *PGMonitorStore) List(ctx context.Context, orgID string) ([]db.Monitor, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE organization_id = $1
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	monitors := make([]db.Monitor, 0)
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

func (s *PGMonitorStore) Update(ctx context.Context, m *db.Monitor) (*db.Monitor, error) {
	err := s.PG.QueryRowContext(ctx, `
		UPDATE monitors
		SET name = $2, url = $3, method = $4, interval_seconds = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Name, m.URL, m.Method, m.IntervalSeconds, m.IsActive,
	).Scan(&m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", m.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update monitor: %w", err)
	}
	return m, nil
}

func (s *PGMonitorStore) Delete(ctx context.Context, id string) error {
	res, err := s.PG.ExecContext(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "monitor %s not found", id)
	}
	return nil
}

// RecordCheck locks the monitor row, so concurrent reports for the same
// monitor serialize and each caller sees the true previous state. The org
// filter makes a foreign monitor id indistinguishable from a missing one.
func (s *PGMonitorStore) RecordCheck(ctx context.Context, orgID string, chk *db.MonitorCheck) (*bool, error) {
	if chk.ID == "" {
		chk.ID = uuid.New().String()
	}
	if chk.CheckedAt.IsZero() {
		chk.CheckedAt = time.Now().UTC()
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev sql.NullBool
	err = tx.QueryRowContext(ctx, `
		SELECT is_up FROM monitors
		WHERE id = $1 AND organization_id = $2 AND is_active
		FOR UPDATE`,
		chk.MonitorID, orgID).Scan(&prev)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "monitor %s not found", chk.MonitorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock monitor: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO monitor_checks (id, monitor_id, is_up, latency_ms, status, error, location, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		chk.ID, chk.MonitorID, chk.IsUp, chk.LatencyMS, chk.Status,
		nullStr(chk.Error), nullStr(chk.Location), chk.CheckedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert monitor check: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE monitors
		SET is_up = $2, last_status = $3, last_latency_ms = $4, last_error = $5,
			last_check_at = $6, updated_at = NOW()
		WHERE id = $1`,
		chk.MonitorID, chk.IsUp, chk.Status, chk.LatencyMS, nullStr(chk.Error), chk.CheckedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update monitor state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if !prev.Valid {
		return nil, nil
	}
	return &prev.Bool, nil
}

// ListChecks returns the newest samples first. Limit defaults to 100, capped at 500.
func (s *PGMonitorStore) ListChecks(ctx context.Context, monitorID string, limit int) ([]db.MonitorCheck, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, monitor_id, is_up, latency_ms, status, error, location, checked_at
		FROM monitor_checks
		WHERE monitor_id = $1
		ORDER BY checked_at DESC
		LIMIT $2`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitor checks: %w", err)
	}
	defer rows.Close()

	checks := make([]db.MonitorCheck, 0)
	for rows.Next() {
		var chk db.MonitorCheck
		var errMsg, location sql.NullString

		if err := rows.Scan(&chk.ID, &chk.MonitorID, &chk.IsUp, &chk.LatencyMS,
			&chk.Status, &errMsg, &location, &chk.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan monitor check: %w", err)
		}
		chk.Error = strOrEmpty(errMsg)
		chk.Location = strOrEmpty(location)
		checks = append(checks, chk)
	}
	return checks, rows.Err()
}

func scanMonitor(row rowScanner) (*db.Monitor, error) {
	var m db.Monitor
	var isUp sql.NullBool
	var lastStatus, lastLatency sql.NullInt64
	var lastError, projectID sql.NullString
	var lastCheckAt sql.NullTime

	err := row.Scan(&m.ID, &m.Name, &m.URL, &m.Method, &m.IntervalSeconds, &m.IsActive,
		&isUp, &lastStatus, &lastLatency, &lastError, &lastCheckAt,
		&m.OrganizationID, &projectID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if isUp.Valid {
		m.IsUp = &isUp.Bool
	}
	m.LastStatus = int(lastStatus.Int64)
	m.LastLatencyMS = int(lastLatency.Int64)
	m.LastError = strOrEmpty(lastError)
	m.LastCheckAt = timePtr(lastCheckAt)
	m.ProjectID = strOrEmpty(projectID)
	return &m, nil
}
