package licensing

import (
	"strings"
	"time"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
)

// PlanConfig holds the default entitlements of a plan
type PlanConfig struct {
	Features database.FeatureMap
	Limits   database.LimitMap
}

var planConfigs = map[string]PlanConfig{
	database.PlanBasic: {
		Features: database.FeatureMap{
			"single_account":    true,
			"basic_messaging":   true,
			"simple_analytics":  true,
			"community_support": true,
		},
		Limits: database.LimitMap{
			"accounts":           1,
			"messages_per_day":   100,
			"api_calls_per_hour": 100,
			"storage_gb":         10,
			"bandwidth_gb":       50,
			"concurrent_jobs":    2,
		},
	},
	database.PlanPremium: {
		Features: database.FeatureMap{
			"multiple_accounts":  true,
			"bulk_messaging":     true,
			"analytics":          true,
			"email_support":      true,
			"api_access":         true,
			"basic_webhooks":     true,
			"advanced_analytics": true,
		},
		Limits: database.LimitMap{
			"accounts":           10,
			"messages_per_day":   1000,
			"api_calls_per_hour": 1000,
			"storage_gb":         100,
			"bandwidth_gb":       500,
			"concurrent_jobs":    5,
			"webhooks_per_hour":  10,
		},
	},
	database.PlanEnterprise: {
		Features: database.FeatureMap{
			"unlimited_accounts":        true,
			"unlimited_messages":        true,
			"priority_support":          true,
			"custom_integrations":       true,
			"api_access":                true,
			"advanced_webhooks":         true,
			"dedicated_account_manager": true,
			"sla_guarantee":             true,
			"custom_features":           true,
		},
		Limits: database.LimitMap{
			"accounts":            999999,
			"messages_per_day":    999999,
			"api_calls_per_hour":  10000,
			"storage_gb":          1000,
			"bandwidth_gb":        10000,
			"concurrent_jobs":     50,
			"webhooks_per_hour":   100,
			"custom_integrations": 999,
		},
	},
	database.PlanCustom: {
		Features: database.FeatureMap{},
		Limits:   database.LimitMap{},
	},
}

// PlanConfiguration returns the default features and limits for a plan.
// Unknown plans fall back to BASIC.
func PlanConfiguration(plan string) PlanConfig {
	cfg, ok := planConfigs[plan]
	if !ok {
		cfg = planConfigs[database.PlanBasic]
	}

	// Copies, so callers can merge overrides without touching the tables
	features := make(database.FeatureMap, len(cfg.Features))
	for k, v := range cfg.Features {
		features[k] = v
	}
	limits := make(database.LimitMap, len(cfg.Limits))
	for k, v := range cfg.Limits {
		limits[k] = v
	}

	return PlanConfig{Features: features, Limits: limits}
}

var billingCycleMonths = map[string]int{
	database.BillingMonthly:   1,
	database.BillingQuarterly: 3,
	database.BillingYearly:    12,
	database.BillingLifetime:  120,
}

// BillingCycleMonths returns the license duration in months for a billing
// cycle. Unknown cycles fall back to monthly.
func BillingCycleMonths(cycle string) int {
	if months, ok := billingCycleMonths[cycle]; ok {
		return months
	}
	return 1
}

// CalculateExpiry computes the expiry for a billing cycle starting at from
func CalculateExpiry(cycle string, from time.Time) time.Time {
	return from.AddDate(0, BillingCycleMonths(cycle), 0)
}

// NextMidnight returns the next local-midnight boundary after now
func NextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// NextHourBoundary returns the next top-of-hour boundary after now
func NextHourBoundary(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

// InitializeUsage builds the zeroed usage document for a limits map.
// Per-day and per-hour limits get windowed counters carrying their reset
// boundary; every other numeric limit gets a plain zero counter.
func InitializeUsage(limits database.LimitMap, now time.Time) database.UsageMap {
	usage := make(database.UsageMap, len(limits))

	for key := range limits {
		switch {
		case strings.Contains(key, "per_day"):
			resetAt := NextMidnight(now)
			usage[key] = database.UsageCounter{Value: 0, ResetAt: &resetAt}
		case strings.Contains(key, "per_hour"):
			resetAt := NextHourBoundary(now)
			usage[key] = database.UsageCounter{Value: 0, ResetAt: &resetAt}
		default:
			usage[key] = database.UsageCounter{Value: 0}
		}
	}

	return usage
}
