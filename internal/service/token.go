package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chameleoncloud/doni/models"
	"github.com/chameleoncloud/doni/pkg/token"
)

// TokenService issues and validates API tokens. Only the HMAC hash of a
// token is stored; the plaintext is returned once at issue time.
type TokenService struct {
	db     *sql.DB
	logger *zap.Logger
	secret string
}

// NewTokenService creates a new TokenService. The secret is the server-side
// HMAC key from the configuration.
func NewTokenService(db *sql.DB, logger *zap.Logger, secret string) *TokenService {
	return &TokenService{db: db, logger: logger, secret: secret}
}

// IssueToken mints a new API token. The returned plaintext is shown to the
// operator once and never stored.
func (s *TokenService) IssueToken(ctx context.Context, name, projectID, role string) (string, *models.APIToken, error) {
	if name == "" || projectID == "" {
		return "", nil, fmt.Errorf("%w: name and project_id are required", models.ErrInvalidRequest)
	}
	if role != models.RoleAdmin && role != models.RoleMember {
		return "", nil, fmt.Errorf("%w: role must be %q or %q", models.ErrInvalidRequest, models.RoleAdmin, models.RoleMember)
	}

	plaintext, err := token.Generate()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}
	hash := token.Hash(plaintext, s.secret)

	now := time.Now().UTC()
	start := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_token (token_hash, name, project_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, hash, name, projectID, role, now)
	observeQuery("token_insert", start, err)
	if err != nil {
		return "", nil, fmt.Errorf("failed to insert token: %w", err)
	}

	s.logger.Info("issued api token",
		zap.String("name", name),
		zap.String("project_id", projectID),
		zap.String("role", role),
	)
	return plaintext, &models.APIToken{
		TokenHash: hash,
		Name:      name,
		ProjectID: projectID,
		Role:      role,
		CreatedAt: now,
	}, nil
}

// RevokeToken revokes every live token carrying the given name.
func (s *TokenService) RevokeToken(ctx context.Context, name string) error {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_token
		SET revoked_at = ?
		WHERE name = ? AND revoked_at IS NULL
	`, time.Now().UTC(), name)
	observeQuery("token_revoke", start, err)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revocation: %w", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}

	s.logger.Info("revoked api token", zap.String("name", name))
	return nil
}

// Authenticate resolves a plaintext token to its stored record. Revoked or
// unknown tokens fail with ErrInvalidToken.
func (s *TokenService) Authenticate(ctx context.Context, plaintext string) (*models.APIToken, error) {
	if err := token.ValidateLength(plaintext); err != nil {
		return nil, models.ErrInvalidToken
	}
	hash := token.Hash(plaintext, s.secret)

	var t models.APIToken
	var lastUsed, revoked sql.NullTime
	start := time.Now()
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, name, project_id, role, created_at, last_used_at, revoked_at
		FROM api_token
		WHERE token_hash = ?
	`, hash).Scan(&t.ID, &t.TokenHash, &t.Name, &t.ProjectID, &t.Role, &t.CreatedAt, &lastUsed, &revoked)
	observeQuery("token_lookup", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if revoked.Valid {
		return nil, models.ErrInvalidToken
	}
	if lastUsed.Valid {
		lu := lastUsed.Time
		t.LastUsedAt = &lu
	}

	// Best effort; authentication does not fail on a bookkeeping error.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_token SET last_used_at = ? WHERE id = ?
	`, time.Now().UTC(), t.ID); err != nil {
		s.logger.Warn("failed to record token use", zap.Error(err))
	}

	return &t, nil
}

// ListTokens returns every token record, newest first. Hashes are included
// for operator tooling; plaintext values are never recoverable.
func (s *TokenService) ListTokens(ctx context.Context) ([]*models.APIToken, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_hash, name, project_id, role, created_at, last_used_at, revoked_at
		FROM api_token
		ORDER BY created_at DESC
	`)
	observeQuery("token_list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.APIToken
	for rows.Next() {
		var t models.APIToken
		var lastUsed, revoked sql.NullTime
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.Name, &t.ProjectID, &t.Role, &t.CreatedAt, &lastUsed, &revoked); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if lastUsed.Valid {
			lu := lastUsed.Time
			t.LastUsedAt = &lu
		}
		if revoked.Valid {
			r := revoked.Time
			t.RevokedAt = &r
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}
