package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// PolicyFilters narrows List. Zero values mean no filter.
type PolicyFilters struct {
	GroupID    string
	ActiveOnly bool
}

// PolicyStore persists escalation policies and their levels. Validation of
// level shape (dense numbering, target rules) happens above this layer; the
// store writes what it is given.
type PolicyStore interface {
	Create(ctx context.Context, p *db.EscalationPolicy) (*db.EscalationPolicy, error)
	Get(ctx context.Context, id string) (*db.EscalationPolicy, error)
	List(ctx context.Context, orgID string, f PolicyFilters) ([]db.EscalationPolicy, error)
	Update(ctx context.Context, p *db.EscalationPolicy) (*db.EscalationPolicy, error)
	Delete(ctx context.Context, id string) error
}

type PGPolicyStore struct {
	PG *sql.DB
}

var _ PolicyStore = (*PGPolicyStore)(nil)

func NewPGPolicyStore(pg *sql.DB) *PGPolicyStore {
	return &PGPolicyStore{PG: pg}
}

const policyColumns = `
	id, name, description, is_active, repeat_max_times, escalate_after_minutes,
	group_id, organization_id, created_by, created_at, updated_at`

// Create inserts the policy and all its levels in one transaction.
func (s *PGPolicyStore) Create(ctx context.Context, p *db.EscalationPolicy) (*db.EscalationPolicy, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.RepeatMaxTimes == 0 {
		p.RepeatMaxTimes = 1
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO escalation_policies (
			id, name, description, is_active, repeat_max_times, escalate_after_minutes,
			group_id, organization_id, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.IsActive, p.RepeatMaxTimes, p.EscalateAfterMinutes,
		nullStr(p.GroupID), nullStr(p.OrganizationID), nullStr(p.CreatedBy),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert escalation policy: %w", err)
	}

	if err := insertLevels(ctx, tx, p.ID, p.Levels); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// Get returns a policy with its levels ordered by level number. The caller
// owns the tenant check on the returned OrganizationID.
func (s *PGPolicyStore) Get(ctx context.Context, id string) (*db.EscalationPolicy, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM escalation_policies
		WHERE id = $1`, id)

	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "escalation policy %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation policy: %w", err)
	}

	levels, err := s.levels(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Levels = levels
	return p, nil
}

// List returns the organization's policies without levels, newest first.
func (s *PGPolicyStore) List(ctx context.Context, orgID string, f PolicyFilters) ([]db.EscalationPolicy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM escalation_policies
		WHERE organization_id = $1`
	args := []interface{}{orgID}
	argIndex := 2

	if f.GroupID != "" {
		query += fmt.Sprintf(" AND group_id = $%d", argIndex)
		args = append(args, f.GroupID)
		argIndex++
	}
	if f.ActiveOnly {
		query += fmt.Sprintf(" AND is_active = $%d", argIndex)
		args = append(args, true)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation policies: %w", err)
	}
	defer rows.Close()

	policies := make([]db.EscalationPolicy, 0)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

// Update rewrites the policy row and, when p.Levels is non-nil, replaces the
// whole level set. Incidents mid-chain keep their current level number; the
// engine re-reads levels on the next tick.
func (s *PGPolicyStore) Update(ctx context.Context, p *db.EscalationPolicy) (*db.EscalationPolicy, error) {
	if p.RepeatMaxTimes == 0 {
		p.RepeatMaxTimes = 1
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE escalation_policies
		SET name = $2, description = $3, is_active = $4, repeat_max_times = $5,
			escalate_after_minutes = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.Description, p.IsActive, p.RepeatMaxTimes, p.EscalateAfterMinutes,
	).Scan(&p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "escalation policy %s not found", p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update escalation policy: %w", err)
	}

	if p.Levels != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM escalation_levels WHERE policy_id = $1`, p.ID); err != nil {
			return nil, fmt.Errorf("failed to delete escalation levels: %w", err)
		}
		if err := insertLevels(ctx, tx, p.ID, p.Levels); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return p, nil
}

// Delete removes the policy and its levels. Incidents referencing it keep
// running; their escalation_policy_id nulls out via the FK.
func (s *PGPolicyStore) Delete(ctx context.Context, id string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM escalation_levels WHERE policy_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete escalation levels: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM escalation_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete escalation policy: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "escalation policy %s not found", id)
	}
	return tx.Commit()
}

func (s *PGPolicyStore) levels(ctx context.Context, policyID string) ([]db.EscalationLevel, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, policy_id, level_number, target_type, target_id,
			   timeout_minutes, notification_methods, created_at
		FROM escalation_levels
		WHERE policy_id = $1
		ORDER BY level_number ASC`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation levels: %w", err)
	}
	defer rows.Close()

	levels := make([]db.EscalationLevel, 0)
	for rows.Next() {
		var level db.EscalationLevel
		var targetID sql.NullString
		var methodsJSON []byte

		if err := rows.Scan(&level.ID, &level.PolicyID, &level.LevelNumber, &level.TargetType,
			&targetID, &level.TimeoutMinutes, &methodsJSON, &level.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation level: %w", err)
		}
		level.TargetID = strOrEmpty(targetID)
		if err := json.Unmarshal(methodsJSON, &level.NotificationMethods); err != nil {
			level.NotificationMethods = []string{"email"}
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func insertLevels(ctx context.Context, tx *sql.Tx, policyID string, levels []db.EscalationLevel) error {
	for i := range levels {
		level := &levels[i]
		if level.ID == "" {
			level.ID = uuid.New().String()
		}
		level.PolicyID = policyID
		if len(level.NotificationMethods) == 0 {
			level.NotificationMethods = []string{"email"}
		}
		methodsJSON, err := json.Marshal(level.NotificationMethods)
		if err != nil {
			return fmt.Errorf("failed to serialize notification methods: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO escalation_levels (
				id, policy_id, level_number, target_type, target_id,
				timeout_minutes, notification_methods
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`,
			level.ID, level.PolicyID, level.LevelNumber, level.TargetType,
			nullStr(level.TargetID), level.TimeoutMinutes, methodsJSON,
		).Scan(&level.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert escalation level: %w", err)
		}
	}
	return nil
}

func scanPolicy(row rowScanner) (*db.EscalationPolicy, error) {
	var p db.EscalationPolicy
	var description, groupID, orgID, createdBy sql.NullString

	err := row.Scan(&p.ID, &p.Name, &description, &p.IsActive, &p.RepeatMaxTimes,
		&p.EscalateAfterMinutes, &groupID, &orgID, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = strOrEmpty(description)
	p.GroupID = strOrEmpty(groupID)
	p.OrganizationID = strOrEmpty(orgID)
	p.CreatedBy = strOrEmpty(createdBy)
	return &p, nil
}
