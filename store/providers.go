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

// ProviderStore persists third-party uptime providers and the external
// monitors mirrored from them. API keys are write-only through this interface:
// Credentials is the single read path and only the sync worker calls it.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *db.UptimeProvider, apiKey string) (*db.UptimeProvider, error)
	GetProvider(ctx context.Context, id string) (*db.UptimeProvider, error)
	ListProviders(ctx context.Context, orgID string) ([]db.UptimeProvider, error)
	DeleteProvider(ctx context.Context, id string) error
	Credentials(ctx context.Context, id string) (providerType, apiKey string, err error)

	// ListDueProviders returns active providers whose sync interval has
	// elapsed at now.
	ListDueProviders(ctx context.Context, now time.Time) ([]db.UptimeProvider, error)
	MarkProviderSynced(ctx context.Context, id string, at time.Time) error

	UpsertExternalMonitor(ctx context.Context, em *db.ExternalMonitor) error
	ListExternalMonitors(ctx context.Context, orgID, providerID string) ([]db.ExternalMonitor, error)
}

type PGProviderStore struct {
	PG *sql.DB
}

var _ ProviderStore = (*PGProviderStore)(nil)

func NewPGProviderStore(pg *sql.DB) *PGProviderStore {
	return &PGProviderStore{PG: pg}
}

const providerColumns = `
	p.id, p.organization_id, p.name, p.provider_type, p.is_active,
	p.last_sync_at, p.sync_interval_minutes, p.created_at, p.updated_at`

func (s *PGProviderStore) CreateProvider(ctx context.Context, p *db.UptimeProvider, apiKey string) (*db.UptimeProvider, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SyncIntervalMinutes <= 0 {
		p.SyncIntervalMinutes = 5
	}
	p.IsActive = true

	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO uptime_providers (id, organization_id, name, provider_type,
			api_key_encrypted, sync_interval_minutes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.OrganizationID, p.Name, p.ProviderType, apiKey, p.SyncIntervalMinutes, p.IsActive,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert uptime provider: %w", err)
	}
	return p, nil
}

func (s *PGProviderStore) GetProvider(ctx context.Context, id string) (*db.UptimeProvider, error) {
	row := s.PG.QueryRowContext(ctx, `
		SELECT `+providerColumns+`,
			   COALESCE(mc.monitor_count, 0) as monitor_count
		FROM uptime_providers p
		LEFT JOIN (
			SELECT provider_id, COUNT(*) as monitor_count
			FROM external_monitors
			GROUP BY provider_id
		) mc ON p.id = mc.provider_id
		WHERE p.id = $1`, id)

	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "uptime provider %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get uptime provider: %w", err)
	}
	return p, nil
}

func (s *PGProviderStore) ListProviders(ctx context.Context, orgID string) ([]db.UptimeProvider, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+providerColumns+`,
			   COALESCE(mc.monitor_count, 0) as monitor_count
		FROM uptime_providers p
		LEFT JOIN (
			SELECT provider_id, COUNT(*) as monitor_count
			FROM external_monitors
			GROUP BY provider_id
		) mc ON p.id = mc.provider_id
		WHERE p.organization_id = $1
		ORDER BY p.created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uptime providers: %w", err)
	}
	defer rows.Close()

	providers := make([]db.UptimeProvider, 0)
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan uptime provider: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// DeleteProvider removes the provider; external_monitors cascade.
func (s *PGProviderStore) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.PG.ExecContext(ctx, `DELETE FROM uptime_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete uptime provider: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "uptime provider %s not found", id)
	}
	return nil
}

func (s *PGProviderStore) Credentials(ctx context.Context, id string) (string, string, error) {
	var providerType, apiKey string
	err := s.PG.QueryRowContext(ctx, `
		SELECT provider_type, api_key_encrypted
		FROM uptime_providers
		WHERE id = $1`, id).Scan(&providerType, &apiKey)
	if err == sql.ErrNoRows {
		return "", "", apperr.Newf(apperr.NotFound, "uptime provider %s not found", id)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to get provider credentials: %w", err)
	}
	return providerType, apiKey, nil
}

func (s *PGProviderStore) ListDueProviders(ctx context.Context, now time.Time) ([]db.UptimeProvider, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT `+providerColumns+`,
			   0 as monitor_count
		FROM uptime_providers p
		WHERE p.is_active
		  AND (p.last_sync_at IS NULL
			   OR $1 >= p.last_sync_at + p.sync_interval_minutes * interval '1 minute')
		ORDER BY p.last_sync_at ASC NULLS FIRST`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due providers: %w", err)
	}
	defer rows.Close()

	providers := make([]db.UptimeProvider, 0)
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan uptime provider: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

func (s *PGProviderStore) MarkProviderSynced(ctx context.Context, id string, at time.Time) error {
	_, err := s.PG.ExecContext(ctx,
		`UPDATE uptime_providers SET last_sync_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark provider synced: %w", err)
	}
	return nil
}

func (s *PGProviderStore) UpsertExternalMonitor(ctx context.Context, em *db.ExternalMonitor) error {
	if em.ID == "" {
		em.ID = uuid.New().String()
	}

	_, err := s.PG.ExecContext(ctx, `
		INSERT INTO external_monitors (
			id, provider_id, organization_id, external_id, name, url, monitor_type,
			status, is_paused, uptime_24h, uptime_7d, uptime_30d,
			last_check_at, response_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			monitor_type = EXCLUDED.monitor_type,
			status = EXCLUDED.status,
			is_paused = EXCLUDED.is_paused,
			uptime_24h = EXCLUDED.uptime_24h,
			uptime_7d = EXCLUDED.uptime_7d,
			uptime_30d = EXCLUDED.uptime_30d,
			last_check_at = EXCLUDED.last_check_at,
			response_time_ms = EXCLUDED.response_time_ms,
			updated_at = NOW()`,
		em.ID, em.ProviderID, nullStr(em.OrganizationID), em.ExternalID, em.Name, em.URL,
		em.MonitorType, em.Status, em.IsPaused, em.Uptime24h, em.Uptime7d, em.Uptime30d,
		em.LastCheckAt, em.ResponseTimeMS)
	if err != nil {
		return fmt.Errorf("failed to upsert external monitor: %w", err)
	}
	return nil
}

func (s *PGProviderStore) ListExternalMonitors(ctx context.Context, orgID, providerID string) ([]db.ExternalMonitor, error) {
	query := `
		SELECT em.id, em.provider_id, em.organization_id, em.external_id, em.name, em.url,
			   em.monitor_type, em.status, em.is_paused, em.uptime_24h, em.uptime_7d, em.uptime_30d,
			   em.last_check_at, em.response_time_ms, em.created_at, em.updated_at,
			   p.provider_type, p.name
		FROM external_monitors em
		JOIN uptime_providers p ON em.provider_id = p.id
		WHERE em.organization_id = $1`
	args := []interface{}{orgID}

	if providerID != "" {
		query += " AND em.provider_id = $2"
		args = append(args, providerID)
	}
	query += " ORDER BY em.name ASC"

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query external monitors: %w", err)
	}
	defer rows.Close()

	monitors := make([]db.ExternalMonitor, 0)
	for rows.Next() {
		var em db.ExternalMonitor
		var emOrgID sql.NullString
		var lastCheckAt sql.NullTime

		if err := rows.Scan(&em.ID, &em.ProviderID, &emOrgID, &em.ExternalID, &em.Name, &em.URL,
			&em.MonitorType, &em.Status, &em.IsPaused, &em.Uptime24h, &em.Uptime7d, &em.Uptime30d,
			&lastCheckAt, &em.ResponseTimeMS, &em.CreatedAt, &em.UpdatedAt,
			&em.ProviderType, &em.ProviderName); err != nil {
			return nil, fmt.Errorf("failed to scan external monitor: %w", err)
		}
		em.OrganizationID = strOrEmpty(emOrgID)
		em.LastCheckAt = timePtr(lastCheckAt)
		monitors = append(monitors, em)
	}
	return monitors, rows.Err()
}

func scanProvider(row rowScanner) (*db.UptimeProvider, error) {
	var p db.UptimeProvider
	var orgID sql.NullString
	var lastSyncAt sql.NullTime

	err := row.Scan(&p.ID, &orgID, &p.Name, &p.ProviderType, &p.IsActive,
		&lastSyncAt, &p.SyncIntervalMinutes, &p.CreatedAt, &p.UpdatedAt, &p.MonitorCount)
	if err != nil {
		return nil, err
	}
	p.OrganizationID = strOrEmpty(orgID)
	p.LastSyncAt = timePtr(lastSyncAt)
	return &p, nil
}
