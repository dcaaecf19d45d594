package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// ScheduleStore persists rotation schedules, their layers, and overrides.
// Shift computation lives in the schedule package; this layer only stores
// and retrieves the inputs.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, sch *db.Schedule) (*db.Schedule, error)
	GetSchedule(ctx context.Context, id string) (*db.Schedule, error)
	ActiveSchedule(ctx context.Context, groupID string) (*db.Schedule, error)
	ListSchedules(ctx context.Context, groupID string) ([]db.Schedule, error)
	UpdateSchedule(ctx context.Context, sch *db.Schedule) (*db.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	CreateOverride(ctx context.Context, ov *db.ScheduleOverride) (*db.ScheduleOverride, error)
	ListOverrides(ctx context.Context, groupID string, from, to time.Time) ([]db.ScheduleOverride, error)
	DeleteOverride(ctx context.Context, groupID, id string) error
}

type PGScheduleStore struct {
	PG *sql.DB
}

var _ ScheduleStore = (*PGScheduleStore)(nil)

func NewPGScheduleStore(pg *sql.DB) *PGScheduleStore {
	return &PGScheduleStore{PG: pg}
}

// CreateSchedule inserts the schedule and its layers in one transaction. An
// active schedule deactivates any other active schedule in the group: a group
// has at most one schedule in effect.
func (s *PGScheduleStore) CreateSchedule(ctx context.Context, sch *db.Schedule) (*db.Schedule, error) {
	if sch.ID == "" {
		sch.ID = uuid.New().String()
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if sch.IsActive {
		if err := deactivateSchedules(ctx, tx, sch.GroupID, sch.ID); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO schedules (id, group_id, name, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		sch.ID, sch.GroupID, sch.Name, sch.IsActive, nullStr(sch.CreatedBy),
	).Scan(&sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert schedule: %w", err)
	}

	if err := insertLayers(ctx, tx, sch.ID, sch.Layers); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sch, nil
}

// GetSchedule returns a schedule with its layers ordered by layer index.
func (s *PGScheduleStore) GetSchedule(ctx context.Context, id string) (*db.Schedule, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT id, group_id, name, is_active, created_by, created_at, updated_at
		FROM schedules
		WHERE id = $1`, id)

	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "schedule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	sch.Layers, err = s.layers(ctx, sch.ID)
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// ActiveSchedule returns the group's schedule in effect, with layers. NotFound
// when the group has none: callers decide whether that is an error or an
// unresolvable on-call.
func (s *PGScheduleStore) ActiveSchedule(ctx context.Context, groupID string) (*db.Schedule, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT id, group_id, name, is_active, created_by, created_at, updated_at
		FROM schedules
		WHERE group_id = $1 AND is_active
		LIMIT 1`, groupID)

	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "group %s has no active schedule", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active schedule: %w", err)
	}

	sch.Layers, err = s.layers(ctx, sch.ID)
	if err != nil {
		return nil, err
	}
	return sch, nil
}

// ListSchedules returns the group's schedules without layers, newest first.
func (s *PGScheduleStore) ListSchedules(ctx context.Context, groupID string) ([]db.Schedule, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, group_id, name, is_active, created_by, created_at, updated_at
		FROM schedules
		WHERE group_id = $1
		ORDER BY created_at DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	schedules := make([]db.Schedule, 0)
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, *sch)
	}
	return schedules, rows.Err()
}

// UpdateSchedule rewrites the schedule row and, when sch.Layers is non-nil,
// replaces the whole layer set.
func (s *PGScheduleStore) UpdateSchedule(ctx context.Context, sch *db.Schedule) (*db.Schedule, error) {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if sch.IsActive {
		if err := deactivateSchedules(ctx, tx, sch.GroupID, sch.ID); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE schedules
		SET name = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		sch.ID, sch.Name, sch.IsActive,
	).Scan(&sch.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "schedule %s not found", sch.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	if sch.Layers != nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM schedule_layers WHERE schedule_id = $1`, sch.ID); err != nil {
			return nil, fmt.Errorf("failed to delete schedule layers: %w", err)
		}
		if err := insertLayers(ctx, tx, sch.ID, sch.Layers); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sch, nil
}

func (s *PGScheduleStore) DeleteSchedule(ctx context.Context, id string) error {
	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schedule_layers WHERE schedule_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete schedule layers: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "schedule %s not found", id)
	}
	return tx.Commit()
}

func (s *PGScheduleStore) CreateOverride(ctx context.Context, ov *db.ScheduleOverride) (*db.ScheduleOverride, error) {
	if ov.ID == "" {
		ov.ID = uuid.New().String()
	}

	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO schedule_overrides (id, group_id, user_id, start_time, end_time, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		ov.ID, ov.GroupID, ov.UserID, ov.StartTime, ov.EndTime, nullStr(ov.Reason), nullStr(ov.CreatedBy),
	).Scan(&ov.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert override: %w", err)
	}
	return ov, nil
}

// ListOverrides returns overrides touching [from, to): rows with
// start_time <= to and end_time > from, oldest creation first so the resolver
// can let the latest covering override win. With from == to this returns the
// overrides covering that instant.
func (s *PGScheduleStore) ListOverrides(ctx context.Context, groupID string, from, to time.Time) ([]db.ScheduleOverride, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT o.id, o.group_id, o.user_id, o.start_time, o.end_time, o.reason,
			   o.created_by, o.created_at, u.name, u.email
		FROM schedule_overrides o
		LEFT JOIN users u ON o.user_id = u.id
		WHERE o.group_id = $1 AND o.start_time <= $3 AND o.end_time > $2
		ORDER BY o.created_at ASC, o.id ASC`,
		groupID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]db.ScheduleOverride, 0)
	for rows.Next() {
		var ov db.ScheduleOverride
		var reason, createdBy, userName, userEmail sql.NullString

		if err := rows.Scan(&ov.ID, &ov.GroupID, &ov.UserID, &ov.StartTime, &ov.EndTime,
			&reason, &createdBy, &ov.CreatedAt, &userName, &userEmail); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		ov.Reason = strOrEmpty(reason)
		ov.CreatedBy = strOrEmpty(createdBy)
		ov.UserName = strOrEmpty(userName)
		ov.UserEmail = strOrEmpty(userEmail)
		overrides = append(overrides, ov)
	}
	return overrides, rows.Err()
}

// DeleteOverride removes an override. Scoped to the group so a handler cannot
// delete across groups with a guessed id.
func (s *PGScheduleStore) DeleteOverride(ctx context.Context, groupID, id string) error {
	res, err := s.PG.ExecContext(ctx,
		`DELETE FROM schedule_overrides WHERE id = $1 AND group_id = $2`, id, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "override %s not found", id)
	}
	return nil
}

func deactivateSchedules(ctx context.Context, tx *sql.Tx, groupID, exceptID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE schedules SET is_active = false, updated_at = NOW()
		WHERE group_id = $1 AND is_active AND id != $2`,
		groupID, exceptID)
	if err != nil {
		return fmt.Errorf("failed to deactivate schedules: %w", err)
	}
	return nil
}

func (s *PGScheduleStore) layers(ctx context.Context, scheduleID string) ([]db.ScheduleLayer, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, schedule_id, layer_index, participants, shift_length_minutes,
			   handoff_anchor, restriction_start_minute, restriction_end_minute, created_at
		FROM schedule_layers
		WHERE schedule_id = $1
		ORDER BY layer_index ASC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule layers: %w", err)
	}
	defer rows.Close()

	layers := make([]db.ScheduleLayer, 0)
	for rows.Next() {
		var layer db.ScheduleLayer
		var participantsJSON []byte
		var restStart, restEnd sql.NullInt64

		if err := rows.Scan(&layer.ID, &layer.ScheduleID, &layer.LayerIndex, &participantsJSON,
			&layer.ShiftLengthMinutes, &layer.HandoffAnchor, &restStart, &restEnd, &layer.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule layer: %w", err)
		}
		if err := json.Unmarshal(participantsJSON, &layer.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode layer participants: %w", err)
		}
		if restStart.Valid && restEnd.Valid {
			layer.Restriction = &db.LayerRestriction{
				StartMinute: int(restStart.Int64),
				EndMinute:   int(restEnd.Int64),
			}
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func insertLayers(ctx context.Context, tx *sql.Tx, scheduleID string, layers []db.ScheduleLayer) error {
	for i := range layers {
		layer := &layers[i]
		if layer.ID == "" {
			layer.ID = uuid.New().String()
		}
		layer.ScheduleID = scheduleID

		participantsJSON, err := json.Marshal(layer.Participants)
		if err != nil {
			return fmt.Errorf("failed to serialize layer participants: %w", err)
		}
		var restStart, restEnd interface{}
		if layer.Restriction != nil {
			restStart = layer.Restriction.StartMinute
			restEnd = layer.Restriction.EndMinute
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO schedule_layers (
				id, schedule_id, layer_index, participants, shift_length_minutes,
				handoff_anchor, restriction_start_minute, restriction_end_minute
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			layer.ID, layer.ScheduleID, layer.LayerIndex, participantsJSON,
			layer.ShiftLengthMinutes, layer.HandoffAnchor, restStart, restEnd,
		).Scan(&layer.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert schedule layer: %w", err)
		}
	}
	return nil
}

func scanSchedule(row rowScanner) (*db.Schedule, error) {
	var sch db.Schedule
	var createdBy sql.NullString

	err := row.Scan(&sch.ID, &sch.GroupID, &sch.Name, &sch.IsActive,
		&createdBy, &sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sch.CreatedBy = strOrEmpty(createdBy)
	return &sch, nil
}
