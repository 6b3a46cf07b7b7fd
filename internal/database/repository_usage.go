package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertUsageLog appends a usage event. Events are never updated or deleted
// here; retention pruning happens outside this core.
func (r *Repository) InsertUsageLog(ctx context.Context, log *UsageLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now()

	metadata := log.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	query := `
	INSERT INTO usage_logs (id, user_id, license_id, api_key_id, action, resource, metadata, cost, created_at)
	VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, NULLIF($6, ''), $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		log.ID,
		log.UserID,
		log.LicenseID,
		log.ApiKeyID,
		log.Action,
		log.Resource,
		metadata,
		log.Cost,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	return nil
}

// CountApiKeyUsageSince counts events recorded for an API key with
// created_at at or after the window start. Windowed checks recount on every
// call so the result is exact.
func (r *Repository) CountApiKeyUsageSince(ctx context.Context, apiKeyID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM usage_logs WHERE api_key_id = $1 AND created_at >= $2`,
		apiKeyID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count api key usage: %w", err)
	}

	return count, nil
}

// GetRecentUsageLogs returns the most recent events for a license
func (r *Repository) GetRecentUsageLogs(ctx context.Context, licenseID string, limit int) ([]UsageLog, error) {
	query := `
	SELECT id, user_id, license_id, COALESCE(api_key_id::text, ''), action, COALESCE(resource, ''),
	       metadata, COALESCE(cost, 0), created_at
	FROM usage_logs
	WHERE license_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, licenseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	defer rows.Close()

	var logs []UsageLog
	for rows.Next() {
		var log UsageLog
		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.LicenseID,
			&log.ApiKeyID,
			&log.Action,
			&log.Resource,
			&log.Metadata,
			&log.Cost,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}
