// Package licensing manages the license lifecycle: creation, renewal,
// cancellation, expiry, and the usage ledger that every windowed count is
// derived from.
package licensing

import (
	"encoding/json"
	"time"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
)

// Violation types emitted by license, feature, and API key checks
const (
	ViolationFeatureNotAvailable   = "FEATURE_NOT_AVAILABLE"
	ViolationPlanRequirement       = "PLAN_REQUIREMENT"
	ViolationFeatureRequirement    = "FEATURE_REQUIREMENT"
	ViolationDependencyRequirement = "DEPENDENCY_REQUIREMENT"
	ViolationUsageLimit            = "USAGE_LIMIT"
	ViolationDailyUsageLimit       = "DAILY_USAGE_LIMIT"
	ViolationRateLimitPerMinute    = "RATE_LIMIT_PER_MINUTE"
	ViolationRateLimitPerHour      = "RATE_LIMIT_PER_HOUR"
)

// Ledger actions recorded by this core
const (
	ActionLicenseCreated   = "LICENSE_CREATED"
	ActionLicenseUpdated   = "LICENSE_UPDATED"
	ActionLicenseRenewed   = "LICENSE_RENEWED"
	ActionLicenseCancelled = "LICENSE_CANCELLED"
	ActionApiKeyCreated    = "API_KEY_CREATED"
	ActionApiKeyUpdated    = "API_KEY_UPDATED"
	ActionApiKeyRevoked    = "API_KEY_REVOKED"
	ActionApiKeyRegenerated = "API_KEY_REGENERATED"
	ActionApiKeyDeleted    = "API_KEY_DELETED"
	ActionApiKeyUsed       = "API_KEY_USED"
	ActionMessageSent      = "MESSAGE_SENT"
	ActionApiCall          = "API_CALL"
	ActionAccountCreated   = "ACCOUNT_CREATED"
)

// Violation describes one specific reason an operation was denied. Checks
// return these as data; they are never raised as errors, so callers branch
// without error handling.
type Violation struct {
	Type        string      `json:"type"`
	Message     string      `json:"message"`
	Requirement string      `json:"requirement,omitempty"`
	Limit       int64       `json:"limit,omitempty"`
	Current     interface{} `json:"current"`
}

// CreateLicenseInput carries the fields for license creation. Features and
// Limits override the plan defaults key by key.
type CreateLicenseInput struct {
	UserID          string
	Plan            string
	BillingCycle    string
	AutoRenew       bool
	PaymentMethodID string
	Features        database.FeatureMap
	Limits          database.LimitMap
	ExpiresAt       *time.Time
	TrialEndsAt     *time.Time
}

// UpdateLicenseInput is a sparse patch; nil fields are left untouched
type UpdateLicenseInput struct {
	Plan               *string
	Status             *string
	Features           database.FeatureMap
	Limits             database.LimitMap
	ExpiresAt          *time.Time
	TrialEndsAt        *time.Time
	AutoRenew          *bool
	NextBillingAt      *time.Time
	CancelledAt        *time.Time
	CancellationReason *string
}

// UsageEvent is one row appended to the usage ledger
type UsageEvent struct {
	UserID    string
	LicenseID string
	ApiKeyID  string
	Action    string
	Resource  string
	Metadata  json.RawMessage
	Cost      float64
}

// LicenseCheckResult is the outcome of CheckLicense
type LicenseCheckResult struct {
	IsValid    bool                `json:"isValid"`
	License    *database.License   `json:"license,omitempty"`
	Features   database.FeatureMap `json:"features,omitempty"`
	Limits     database.LimitMap   `json:"limits,omitempty"`
	Usage      database.UsageMap   `json:"usage,omitempty"`
	Violations []Violation         `json:"violations,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}
