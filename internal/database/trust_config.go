package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/auth-gateway/internal/models"
)

const trustConfigColumns = `id, provider, issuer, domain, client_id, client_secret, redirect_uri, jwks_url, userinfo_url, session_verify_url, created_at, updated_at`

// TrustConfigRepository handles trust provider configuration database operations
type TrustConfigRepository struct {
	db *DB
}

// NewTrustConfigRepository creates a new trust config repository
func NewTrustConfigRepository(db *DB) *TrustConfigRepository {
	return &TrustConfigRepository{db: db}
}

func scanTrustConfig(row *sql.Row) (*models.TrustConfig, error) {
	config := &models.TrustConfig{}
	err := row.Scan(
		&config.ID,
		&config.Provider,
		&config.Issuer,
		&config.Domain,
		&config.ClientID,
		&config.ClientSecret,
		&config.RedirectURI,
		&config.JWKSUrl,
		&config.UserInfoURL,
		&config.SessionVerifyURL,
		&config.CreatedAt,
		&config.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Create creates a new trust provider configuration
func (r *TrustConfigRepository) Create(ctx context.Context, config *models.TrustConfig) error {
	query := `
		INSERT INTO trust_config (id, provider, issuer, domain, client_id, client_secret, redirect_uri, jwks_url, userinfo_url, session_verify_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		config.ID,
		config.Provider,
		config.Issuer,
		config.Domain,
		config.ClientID,
		config.ClientSecret,
		config.RedirectURI,
		config.JWKSUrl,
		config.UserInfoURL,
		config.SessionVerifyURL,
		now,
		now,
	).Scan(&config.CreatedAt, &config.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create trust config: %w", err)
	}

	return nil
}

// GetByProvider retrieves trust configuration for a provider name
func (r *TrustConfigRepository) GetByProvider(ctx context.Context, provider string) (*models.TrustConfig, error) {
	query := `SELECT ` + trustConfigColumns + ` FROM trust_config WHERE provider = $1`

	config, err := scanTrustConfig(r.db.QueryRowContext(ctx, query, provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trust config not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust config: %w", err)
	}

	return config, nil
}

// GetAll retrieves all trust provider configurations
func (r *TrustConfigRepository) GetAll(ctx context.Context) ([]*models.TrustConfig, error) {
	query := `SELECT ` + trustConfigColumns + ` FROM trust_config ORDER BY provider`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list trust configs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var configs []*models.TrustConfig
	for rows.Next() {
		config := &models.TrustConfig{}
		err := rows.Scan(
			&config.ID,
			&config.Provider,
			&config.Issuer,
			&config.Domain,
			&config.ClientID,
			&config.ClientSecret,
			&config.RedirectURI,
			&config.JWKSUrl,
			&config.UserInfoURL,
			&config.SessionVerifyURL,
			&config.CreatedAt,
			&config.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trust config: %w", err)
		}
		configs = append(configs, config)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trust configs: %w", err)
	}

	return configs, nil
}

// Update updates an existing trust provider configuration
func (r *TrustConfigRepository) Update(ctx context.Context, config *models.TrustConfig) error {
	query := `
		UPDATE trust_config
		SET issuer = $2, domain = $3, client_id = $4, client_secret = $5, redirect_uri = $6, jwks_url = $7, userinfo_url = $8, session_verify_url = $9, updated_at = $10
		WHERE provider = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		config.Provider,
		config.Issuer,
		config.Domain,
		config.ClientID,
		config.ClientSecret,
		config.RedirectURI,
		config.JWKSUrl,
		config.UserInfoURL,
		config.SessionVerifyURL,
		time.Now(),
	).Scan(&config.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("trust config not found: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to update trust config: %w", err)
	}

	return nil
}

// Delete deletes the configuration for a provider
func (r *TrustConfigRepository) Delete(ctx context.Context, provider string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trust_config WHERE provider = $1`, provider)
	if err != nil {
		return fmt.Errorf("failed to delete trust config: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("trust config not found: %w", sql.ErrNoRows)
	}

	return nil
}
