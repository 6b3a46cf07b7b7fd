package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const licenseColumns = `id, user_id, plan, status, billing_cycle, expires_at, trial_ends_at,
	       auto_renew, features, limits, usage, COALESCE(payment_method_id, ''),
	       last_billed_at, next_billing_at, cancelled_at, COALESCE(cancellation_reason, ''),
	       created_at, updated_at`

func scanLicense(row pgx.Row) (*License, error) {
	var license License
	err := row.Scan(
		&license.ID,
		&license.UserID,
		&license.Plan,
		&license.Status,
		&license.BillingCycle,
		&license.ExpiresAt,
		&license.TrialEndsAt,
		&license.AutoRenew,
		&license.Features,
		&license.Limits,
		&license.Usage,
		&license.PaymentMethodID,
		&license.LastBilledAt,
		&license.NextBillingAt,
		&license.CancelledAt,
		&license.CancellationReason,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// CreateLicense creates a new license
func (r *Repository) CreateLicense(ctx context.Context, license *License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}
	license.CreatedAt = time.Now()
	license.UpdatedAt = time.Now()

	query := `
	INSERT INTO licenses (id, user_id, plan, status, billing_cycle, expires_at, trial_ends_at,
	                      auto_renew, features, limits, usage, payment_method_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		license.ID,
		license.UserID,
		license.Plan,
		license.Status,
		license.BillingCycle,
		license.ExpiresAt,
		license.TrialEndsAt,
		license.AutoRenew,
		license.Features,
		license.Limits,
		license.Usage,
		license.PaymentMethodID,
		license.CreatedAt,
		license.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}

	return nil
}

// GetLicenseByID retrieves a license by ID
func (r *Repository) GetLicenseByID(ctx context.Context, id string) (*License, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE id = $1`, licenseColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by id: %w", err)
	}

	return license, nil
}

// GetActiveLicenseByUser retrieves the newest license for the user that is
// ACTIVE and not past both its expiry and trial end
func (r *Repository) GetActiveLicenseByUser(ctx context.Context, userID string) (*License, error) {
	query := fmt.Sprintf(`
	SELECT %s FROM licenses
	WHERE user_id = $1 AND status = $2 AND (expires_at > $3 OR trial_ends_at > $3)
	ORDER BY created_at DESC
	LIMIT 1
	`, licenseColumns)

	license, err := scanLicense(r.db.Pool.QueryRow(ctx, query, userID, StatusActive, time.Now()))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active license for user: %w", err)
	}

	return license, nil
}

// GetUserLicenses retrieves all licenses for a user, newest first
func (r *Repository) GetUserLicenses(ctx context.Context, userID string, includeInactive bool) ([]License, error) {
	query := fmt.Sprintf(`SELECT %s FROM licenses WHERE user_id = $1`, licenseColumns)
	args := []interface{}{userID}

	if !includeInactive {
		query += ` AND status = $2`
		args = append(args, StatusActive)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, *license)
	}

	return licenses, rows.Err()
}

// UpdateLicense updates the mutable fields of a license
func (r *Repository) UpdateLicense(ctx context.Context, license *License) error {
	license.UpdatedAt = time.Now()

	query := `
	UPDATE licenses
	SET plan = $2, status = $3, billing_cycle = $4, expires_at = $5, trial_ends_at = $6,
	    auto_renew = $7, features = $8, limits = $9, usage = $10,
	    payment_method_id = NULLIF($11, ''), last_billed_at = $12, next_billing_at = $13,
	    cancelled_at = $14, cancellation_reason = NULLIF($15, ''), updated_at = $16
	WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		license.ID,
		license.Plan,
		license.Status,
		license.BillingCycle,
		license.ExpiresAt,
		license.TrialEndsAt,
		license.AutoRenew,
		license.Features,
		license.Limits,
		license.Usage,
		license.PaymentMethodID,
		license.LastBilledAt,
		license.NextBillingAt,
		license.CancelledAt,
		license.CancellationReason,
		license.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}

	return nil
}

// MarkLicenseExpired flips an ACTIVE license to EXPIRED. The condition makes
// the write idempotent under concurrent expire-on-read checks; it reports
// whether this call changed the row.
func (r *Repository) MarkLicenseExpired(ctx context.Context, id string) (bool, error) {
	query := `UPDATE licenses SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`

	tag, err := r.db.Pool.Exec(ctx, query, id, StatusExpired, StatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to mark license expired: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// UpdateLicenseUsage replaces the license's usage document
func (r *Repository) UpdateLicenseUsage(ctx context.Context, id string, usage UsageMap) error {
	query := `UPDATE licenses SET usage = $2, updated_at = NOW() WHERE id = $1`

	_, err := r.db.Pool.Exec(ctx, query, id, usage)
	if err != nil {
		return fmt.Errorf("failed to update license usage: %w", err)
	}

	return nil
}
