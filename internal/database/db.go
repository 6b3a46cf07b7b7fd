package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			username VARCHAR(255),
			email VARCHAR(255),
			account_level VARCHAR(20) NOT NULL DEFAULT 'BASIC',
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS licenses (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			plan VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			billing_cycle VARCHAR(20) NOT NULL,
			expires_at TIMESTAMP,
			trial_ends_at TIMESTAMP,
			auto_renew BOOLEAN DEFAULT true,
			features JSONB DEFAULT '{}',
			limits JSONB DEFAULT '{}',
			usage JSONB DEFAULT '{}',
			payment_method_id VARCHAR(255),
			last_billed_at TIMESTAMP,
			next_billing_at TIMESTAMP,
			cancelled_at TIMESTAMP,
			cancellation_reason TEXT,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_user ON licenses(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_licenses_status ON licenses(status)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			license_id UUID NOT NULL,
			name VARCHAR(255) NOT NULL,
			key_hash VARCHAR(64) UNIQUE NOT NULL,
			permissions JSONB DEFAULT '{}',
			rate_limit JSONB DEFAULT '{}',
			usage_count BIGINT DEFAULT 0,
			usage_limit BIGINT DEFAULT 0,
			usage_period VARCHAR(20) DEFAULT 'daily',
			is_active BOOLEAN DEFAULT true,
			expires_at TIMESTAMP,
			last_used_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT NOW(),
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_license ON api_keys(license_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,

		`CREATE TABLE IF NOT EXISTS usage_logs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL,
			license_id UUID NOT NULL,
			api_key_id UUID,
			action VARCHAR(100) NOT NULL,
			resource VARCHAR(255),
			metadata JSONB DEFAULT '{}',
			cost DECIMAL(20, 8),
			created_at TIMESTAMP DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_license ON usage_logs(license_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_api_key_created ON usage_logs(api_key_id, created_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
