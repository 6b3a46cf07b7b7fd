package database

import (
	"encoding/json"
	"fmt"
	"time"
)

// License plan tiers
const (
	PlanBasic      = "BASIC"
	PlanPremium    = "PREMIUM"
	PlanEnterprise = "ENTERPRISE"
	PlanCustom     = "CUSTOM"
)

// License status values
const (
	StatusActive    = "ACTIVE"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// Billing cycles
const (
	BillingMonthly   = "MONTHLY"
	BillingQuarterly = "QUARTERLY"
	BillingYearly    = "YEARLY"
	BillingLifetime  = "LIFETIME"
)

// User represents an account holder. The account level gates experimental
// features independently of the license plan.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	AccountLevel string    `json:"account_level" db:"account_level"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// License binds a user to a plan, its feature set, and its usage quotas
type License struct {
	ID                 string     `json:"id" db:"id"`
	UserID             string     `json:"user_id" db:"user_id"`
	Plan               string     `json:"plan" db:"plan"`
	Status             string     `json:"status" db:"status"`
	BillingCycle       string     `json:"billing_cycle" db:"billing_cycle"`
	ExpiresAt          *time.Time `json:"expires_at" db:"expires_at"`
	TrialEndsAt        *time.Time `json:"trial_ends_at" db:"trial_ends_at"`
	AutoRenew          bool       `json:"auto_renew" db:"auto_renew"`
	Features           FeatureMap `json:"features" db:"features"`
	Limits             LimitMap   `json:"limits" db:"limits"`
	Usage              UsageMap   `json:"usage" db:"usage"`
	PaymentMethodID    string     `json:"payment_method_id" db:"payment_method_id"`
	LastBilledAt       *time.Time `json:"last_billed_at" db:"last_billed_at"`
	NextBillingAt      *time.Time `json:"next_billing_at" db:"next_billing_at"`
	CancelledAt        *time.Time `json:"cancelled_at" db:"cancelled_at"`
	CancellationReason string     `json:"cancellation_reason" db:"cancellation_reason"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// ApiKey is a bearer credential scoped to a license. Only the SHA-256 digest
// of the key material is stored; the plaintext exists solely in the creation
// response.
type ApiKey struct {
	ID          string         `json:"id" db:"id"`
	LicenseID   string         `json:"license_id" db:"license_id"`
	Name        string         `json:"name" db:"name"`
	KeyHash     string         `json:"key_hash" db:"key_hash"`
	Permissions KeyPermissions `json:"permissions" db:"permissions"`
	RateLimit   KeyRateLimit   `json:"rate_limit" db:"rate_limit"`
	UsageCount  int64          `json:"usage_count" db:"usage_count"`
	UsageLimit  int64          `json:"usage_limit" db:"usage_limit"`
	UsagePeriod string         `json:"usage_period" db:"usage_period"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	ExpiresAt   *time.Time     `json:"expires_at" db:"expires_at"`
	LastUsedAt  *time.Time     `json:"last_used_at" db:"last_used_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// KeyPermissions scopes an API key to actions and resources
type KeyPermissions struct {
	Permissions []string `json:"permissions"`
	Resources   []string `json:"resources"`
}

// KeyRateLimit holds optional trailing-window request ceilings. Zero means
// the window is not enforced.
type KeyRateLimit struct {
	RequestsPerMinute int64 `json:"requestsPerMinute,omitempty"`
	RequestsPerHour   int64 `json:"requestsPerHour,omitempty"`
}

// UsageLog is an immutable append-only usage event. It is the source of
// truth for every windowed count.
type UsageLog struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	LicenseID string          `json:"license_id" db:"license_id"`
	ApiKeyID  string          `json:"api_key_id" db:"api_key_id"`
	Action    string          `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"`
	Metadata  json.RawMessage `json:"metadata" db:"metadata"`
	Cost      float64         `json:"cost" db:"cost"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// FeatureMap maps feature name to enabled. JSON input tolerates the legacy
// "enabled" string form alongside booleans.
type FeatureMap map[string]bool

func (m *FeatureMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(FeatureMap, len(raw))
	for name, val := range raw {
		var b bool
		if err := json.Unmarshal(val, &b); err == nil {
			out[name] = b
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			out[name] = s == "enabled"
			continue
		}
		return fmt.Errorf("feature %q: expected bool or string, got %s", name, string(val))
	}

	*m = out
	return nil
}

// LimitMap maps limit name to its numeric ceiling
type LimitMap map[string]int64

// UsageCounter is a single usage value. Per-day and per-hour counters carry
// the boundary at which they reset; plain counters have a nil ResetAt.
type UsageCounter struct {
	Value   int64      `json:"value"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

func (c UsageCounter) MarshalJSON() ([]byte, error) {
	if c.ResetAt == nil {
		return json.Marshal(c.Value)
	}
	type counter UsageCounter
	return json.Marshal(counter(c))
}

func (c *UsageCounter) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = UsageCounter{Value: n}
		return nil
	}
	type counter UsageCounter
	var v counter
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("usage counter: expected number or object: %w", err)
	}
	*c = UsageCounter(v)
	return nil
}

// UsageMap maps usage key to its counter
type UsageMap map[string]UsageCounter
