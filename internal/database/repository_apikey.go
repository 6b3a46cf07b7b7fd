package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = `id, license_id, name, key_hash, permissions, rate_limit,
	       usage_count, usage_limit, usage_period, is_active, expires_at, last_used_at,
	       created_at, updated_at`

func scanApiKey(row pgx.Row) (*ApiKey, error) {
	var key ApiKey
	err := row.Scan(
		&key.ID,
		&key.LicenseID,
		&key.Name,
		&key.KeyHash,
		&key.Permissions,
		&key.RateLimit,
		&key.UsageCount,
		&key.UsageLimit,
		&key.UsagePeriod,
		&key.IsActive,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// CreateApiKey creates a new API key record
func (r *Repository) CreateApiKey(ctx context.Context, key *ApiKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	key.CreatedAt = time.Now()
	key.UpdatedAt = time.Now()

	query := `
	INSERT INTO api_keys (id, license_id, name, key_hash, permissions, rate_limit,
	                      usage_count, usage_limit, usage_period, is_active, expires_at,
	                      created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		key.ID,
		key.LicenseID,
		key.Name,
		key.KeyHash,
		key.Permissions,
		key.RateLimit,
		key.UsageCount,
		key.UsageLimit,
		key.UsagePeriod,
		key.IsActive,
		key.ExpiresAt,
		key.CreatedAt,
		key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// GetApiKeyByID retrieves an API key by ID
func (r *Repository) GetApiKeyByID(ctx context.Context, id string) (*ApiKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE id = $1`, apiKeyColumns)

	key, err := scanApiKey(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key by id: %w", err)
	}

	return key, nil
}

// GetApiKeyByHash retrieves an API key by the SHA-256 digest of its key material
func (r *Repository) GetApiKeyByHash(ctx context.Context, keyHash string) (*ApiKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE key_hash = $1`, apiKeyColumns)

	key, err := scanApiKey(r.db.Pool.QueryRow(ctx, query, keyHash))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key by hash: %w", err)
	}

	return key, nil
}

// GetLicenseApiKeys retrieves API keys for a license, newest first
func (r *Repository) GetLicenseApiKeys(ctx context.Context, licenseID string, includeInactive bool) ([]ApiKey, error) {
	query := fmt.Sprintf(`SELECT %s FROM api_keys WHERE license_id = $1`, apiKeyColumns)
	if !includeInactive {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *key)
	}

	return keys, rows.Err()
}

// CountActiveApiKeys counts active keys for a license
func (r *Repository) CountActiveApiKeys(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE license_id = $1 AND is_active = true`,
		licenseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active api keys: %w", err)
	}

	return count, nil
}

// UpdateApiKey updates the mutable fields of an API key
func (r *Repository) UpdateApiKey(ctx context.Context, key *ApiKey) error {
	key.UpdatedAt = time.Now()

	query := `
	UPDATE api_keys
	SET name = $2, key_hash = $3, permissions = $4, rate_limit = $5,
	    usage_limit = $6, usage_period = $7, is_active = $8, expires_at = $9, updated_at = $10
	WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		key.ID,
		key.Name,
		key.KeyHash,
		key.Permissions,
		key.RateLimit,
		key.UsageLimit,
		key.UsagePeriod,
		key.IsActive,
		key.ExpiresAt,
		key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}

	return nil
}

// IncrementApiKeyUsage bumps usage_count by one in the store. Concurrent
// validations must not lose updates, so the increment happens in SQL rather
// than read-modify-write.
func (r *Repository) IncrementApiKeyUsage(ctx context.Context, id string) error {
	query := `
	UPDATE api_keys
	SET usage_count = usage_count + 1, last_used_at = NOW(), updated_at = NOW()
	WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment api key usage: %w", err)
	}

	return nil
}

// DeleteApiKey deletes an API key
func (r *Repository) DeleteApiKey(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}

	return nil
}
