package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// IntegrationStore persists webhook integrations. An integration binds an
// inbound alert source to its organization and optional group and escalation
// policy; the ingest path resolves every webhook URL through Get.
type IntegrationStore interface {
	Create(ctx context.Context, in *db.Integration) (*db.Integration, error)
	Get(ctx context.Context, id string) (*db.Integration, error)
	List(ctx context.Context, orgID, typ string, activeOnly bool) ([]db.Integration, error)
	Update(ctx context.Context, in *db.Integration) (*db.Integration, error)
	Delete(ctx context.Context, id string) error
}

type PGIntegrationStore struct {
	PG *sql.DB
}

var _ IntegrationStore = (*PGIntegrationStore)(nil)

func NewPGIntegrationStore(pg *sql.DB) *PGIntegrationStore {
	return &PGIntegrationStore{PG: pg}
}

const integrationColumns = `
	id, name, type, is_active, organization_id, project_id, group_id,
	escalation_policy_id, created_by, created_at, updated_at`

func (s *PGIntegrationStore) Create(ctx context.Context, in *db.Integration) (*db.Integration, error) {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	in.IsActive = true

	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO integrations (id, name, type, is_active, organization_id, project_id,
			group_id, escalation_policy_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		in.ID, in.Name, in.Type, in.IsActive, in.OrganizationID, nullStr(in.ProjectID),
		nullStr(in.GroupID), nullStr(in.EscalationPolicyID), nullStr(in.CreatedBy),
	).Scan(&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert integration: %w", err)
	}
	return in, nil
}

func (s *PGIntegrationStore) Get(ctx context.Context, id string) (*db.Integration, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE id = $1`, id)

	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "integration %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return in, nil
}

func (s *PGIntegrationStore) List(ctx context.Context, orgID, typ string, activeOnly bool) ([]db.Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE organization_id = $1`
	args := []interface{}{orgID}
	argIndex := 2

	if typ != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, typ)
		argIndex++
	}
	if activeOnly {
		query += fmt.Sprintf(" AND is_active = $%d", argIndex)
		args = append(args, true)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query integrations: %w", err)
	}
	defer rows.Close()

	integrations := make([]db.Integration, 0)
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, *in)
	}
	return integrations, rows.Err()
}

func (s *PGIntegrationStore) Update(ctx context.Context, in *db.Integration) (*db.Integration, error) {
	err := s.PG.QueryRowContext(ctx, `
		UPDATE integrations
		SET name = $2, is_active = $3, group_id = $4, escalation_policy_id = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		in.ID, in.Name, in.IsActive, nullStr(in.GroupID), nullStr(in.EscalationPolicyID),
	).Scan(&in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "integration %s not found", in.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update integration: %w", err)
	}
	return in, nil
}

// Delete removes the integration. Incidents it created keep their rows; the
// integration_id FK nulls out.
func (s *PGIntegrationStore) Delete(ctx context.Context, id string) error {
	res, err := s.PG.ExecContext(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "integration %s not found", id)
	}
	return nil
}

func scanIntegration(row rowScanner) (*db.Integration, error) {
	var in db.Integration
	var projectID, groupID, policyID, createdBy sql.NullString

	err := row.Scan(&in.ID, &in.Name, &in.Type, &in.IsActive, &in.OrganizationID,
		&projectID, &groupID, &policyID, &createdBy, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	in.ProjectID = strOrEmpty(projectID)
	in.GroupID = strOrEmpty(groupID)
	in.EscalationPolicyID = strOrEmpty(policyID)
	in.CreatedBy = strOrEmpty(createdBy)
	return &in, nil
}
