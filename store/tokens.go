package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

const tokenPrefix = "klx"

// TokenStore manages deployment tokens for probe workers. A token's plaintext
// is klx_<id>_<secret>; only the bcrypt hash of the secret is stored, and the
// id half makes verification a single row lookup instead of a table scan.
type TokenStore interface {
	CreateToken(ctx context.Context, orgID, name, createdBy string) (*db.CreateDeploymentTokenResponse, error)
	VerifyToken(ctx context.Context, token string) (*db.DeploymentToken, error)
	ListTokens(ctx context.Context, orgID string) ([]db.DeploymentToken, error)
	RevokeToken(ctx context.Context, orgID, id string) error
}

type PGTokenStore struct {
	PG *sql.DB
}

var _ TokenStore = (*PGTokenStore)(nil)

func NewPGTokenStore(pg *sql.DB) *PGTokenStore {
	return &PGTokenStore{PG: pg}
}

func (s *PGTokenStore) CreateToken(ctx context.Context, orgID, name, createdBy string) (*db.CreateDeploymentTokenResponse, error) {
	id := uuid.New().String()
	secret := uuid.New().String()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash token: %w", err)
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO deployment_tokens (id, organization_id, name, token_hash, is_active, created_by)
		VALUES ($1, $2, $3, $4, true, $5)`,
		id, orgID, name, string(hash), nullStr(createdBy))
	if err != nil {
		return nil, fmt.Errorf("failed to insert deployment token: %w", err)
	}

	return &db.CreateDeploymentTokenResponse{
		ID:    id,
		Name:  name,
		Token: fmt.Sprintf("%s_%s_%s", tokenPrefix, id, secret),
	}, nil
}

// VerifyToken checks a presented token and returns its record. Every failure
// mode is the same Unauthorized: a caller cannot tell a revoked token from a
// wrong secret or a token that never existed.
func (s *PGTokenStore) VerifyToken(ctx context.Context, token string) (*db.DeploymentToken, error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != tokenPrefix {
		return nil, apperr.New(apperr.Unauthorized, "invalid deployment token")
	}
	id, secret := parts[1], parts[2]

	var t db.DeploymentToken
	var lastUsedAt sql.NullTime
	var createdBy sql.NullString
	err := s.PG.QueryRowContext(ctx, `
		SELECT id, organization_id, name, token_hash, is_active, last_used_at, created_at, created_by
		FROM deployment_tokens
		WHERE id = $1 AND is_active`, id).Scan(
		&t.ID, &t.OrganizationID, &t.Name, &t.TokenHash, &t.IsActive,
		&lastUsedAt, &t.CreatedAt, &createdBy)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.Unauthorized, "invalid deployment token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up deployment token: %w", err)
	}
	t.LastUsedAt = timePtr(lastUsedAt)
	t.CreatedBy = strOrEmpty(createdBy)

	if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(secret)) != nil {
		return nil, apperr.New(apperr.Unauthorized, "invalid deployment token")
	}

	// Advisory only; a failed touch must not reject a valid token.
	_, _ = s.PG.ExecContext(ctx,
		`UPDATE deployment_tokens SET last_used_at = NOW() WHERE id = $1`, id)

	t.TokenHash = ""
	return &t, nil
}

func (s *PGTokenStore) ListTokens(ctx context.Context, orgID string) ([]db.DeploymentToken, error) {
	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, organization_id, name, is_active, last_used_at, created_at, created_by
		FROM deployment_tokens
		WHERE organization_id = $1
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]db.DeploymentToken, 0)
	for rows.Next() {
		var t db.DeploymentToken
		var lastUsedAt sql.NullTime
		var createdBy sql.NullString

		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.IsActive,
			&lastUsedAt, &t.CreatedAt, &createdBy); err != nil {
			return nil, fmt.Errorf("failed to scan deployment token: %w", err)
		}
		t.LastUsedAt = timePtr(lastUsedAt)
		t.CreatedBy = strOrEmpty(createdBy)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PGTokenStore) RevokeToken(ctx context.Context, orgID, id string) error {
	res, err := s.PG.ExecContext(ctx, `
		UPDATE deployment_tokens SET is_active = false
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke deployment token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "deployment token %s not found", id)
	}
	return nil
}
