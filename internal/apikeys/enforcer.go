package apikeys

import (
	"context"
	"fmt"
	"time"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

// UsageLedger counts persisted usage events. Every window is recounted from
// the ledger on each check; the cache is never consulted for these numbers.
type UsageLedger interface {
	CountApiKeyUsageSince(ctx context.Context, apiKeyID string, since time.Time) (int64, error)
}

// UsageEnforcer evaluates the daily ceiling and trailing-window rate limits
// of an API key
type UsageEnforcer struct {
	ledger UsageLedger
	now    func() time.Time
}

func NewUsageEnforcer(ledger UsageLedger) *UsageEnforcer {
	return &UsageEnforcer{ledger: ledger, now: time.Now}
}

// CheckUsageLimits evaluates every applicable dimension and returns all
// breached ones at once; dimensions never short-circuit each other. Windows
// are recounted from the ledger, so the numbers are exact at the moment of
// the check.
func (e *UsageEnforcer) CheckUsageLimits(ctx context.Context, key *database.ApiKey) ([]licensing.Violation, error) {
	now := e.now()
	var violations []licensing.Violation

	if key.UsageLimit > 0 {
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		count, err := e.ledger.CountApiKeyUsageSince(ctx, key.ID, midnight)
		if err != nil {
			return nil, fmt.Errorf("counting daily usage for key %s: %w", key.ID, err)
		}
		if count >= key.UsageLimit {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationDailyUsageLimit,
				Message:     fmt.Sprintf("Daily usage limit exceeded (%d)", key.UsageLimit),
				Requirement: fmt.Sprintf("Max requests/day: %d", key.UsageLimit),
				Limit:       key.UsageLimit,
				Current:     count,
			})
		}
	}

	if limit := key.RateLimit.RequestsPerMinute; limit > 0 {
		count, err := e.ledger.CountApiKeyUsageSince(ctx, key.ID, now.Add(-time.Minute))
		if err != nil {
			return nil, fmt.Errorf("counting per-minute usage for key %s: %w", key.ID, err)
		}
		if count >= limit {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationRateLimitPerMinute,
				Message:     fmt.Sprintf("Rate limit exceeded (%d requests/minute)", limit),
				Requirement: fmt.Sprintf("Max requests/minute: %d", limit),
				Limit:       limit,
				Current:     count,
			})
		}
	}

	if limit := key.RateLimit.RequestsPerHour; limit > 0 {
		count, err := e.ledger.CountApiKeyUsageSince(ctx, key.ID, now.Add(-time.Hour))
		if err != nil {
			return nil, fmt.Errorf("counting per-hour usage for key %s: %w", key.ID, err)
		}
		if count >= limit {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationRateLimitPerHour,
				Message:     fmt.Sprintf("Rate limit exceeded (%d requests/hour)", limit),
				Requirement: fmt.Sprintf("Max requests/hour: %d", limit),
				Limit:       limit,
				Current:     count,
			})
		}
	}

	return violations, nil
}
