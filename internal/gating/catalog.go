// Package gating evaluates feature access: plan membership, feature
// dependencies, and usage ceilings, against a process-wide feature catalog.
package gating

import (
	"sort"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
)

// Feature is one gated capability. Name is the stable identifier checks and
// license feature maps key off; DisplayName is for humans.
type Feature struct {
	Name             string   `json:"name"`
	DisplayName      string   `json:"displayName"`
	Description      string   `json:"description"`
	RequiredPlan     []string `json:"requiredPlan,omitempty"`
	RequiredFeatures []string `json:"requiredFeatures,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Experimental     bool     `json:"experimental,omitempty"`
	Category         string   `json:"category,omitempty"`
}

// Catalog is an immutable snapshot of the feature registry. Updates build a
// new Catalog and swap it in; a snapshot handed to a caller never changes.
type Catalog struct {
	Features             map[string]Feature  `json:"features"`
	PlanFeatures         map[string][]string `json:"planFeatures"`
	GlobalFeatures       []string            `json:"globalFeatures"`
	ExperimentalFeatures []string            `json:"experimentalFeatures"`
}

// Feature resolves a feature by identifier
func (c *Catalog) Feature(name string) (Feature, bool) {
	f, ok := c.Features[name]
	return f, ok
}

// Names lists every feature identifier in the catalog, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Features))
	for name := range c.Features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsExperimental reports whether a feature is in the experimental stage
func (c *Catalog) IsExperimental(name string) bool {
	if f, ok := c.Features[name]; ok && f.Experimental {
		return true
	}
	for _, n := range c.ExperimentalFeatures {
		if n == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy suitable for mutation before a snapshot swap
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{
		Features:             make(map[string]Feature, len(c.Features)),
		PlanFeatures:         make(map[string][]string, len(c.PlanFeatures)),
		GlobalFeatures:       append([]string(nil), c.GlobalFeatures...),
		ExperimentalFeatures: append([]string(nil), c.ExperimentalFeatures...),
	}
	for name, f := range c.Features {
		out.Features[name] = f
	}
	for plan, names := range c.PlanFeatures {
		out.PlanFeatures[plan] = append([]string(nil), names...)
	}
	return out
}

// DefaultCatalog builds the built-in feature registry
func DefaultCatalog() *Catalog {
	return &Catalog{
		Features: map[string]Feature{
			"user_management": {
				Name:         "user_management",
				DisplayName:  "User Management",
				Description:  "Manage user profile and settings",
				RequiredPlan: []string{database.PlanBasic},
				Category:     "core",
			},
			"account_management": {
				Name:         "account_management",
				DisplayName:  "Account Management",
				Description:  "Manage connected messaging accounts",
				RequiredPlan: []string{database.PlanBasic},
				Category:     "core",
			},
			"messaging": {
				Name:         "messaging",
				DisplayName:  "Messaging",
				Description:  "Send messages",
				RequiredPlan: []string{database.PlanBasic},
				Dependencies: []string{"account_management"},
				Category:     "core",
			},
			"bulk_messaging": {
				Name:         "bulk_messaging",
				DisplayName:  "Bulk Messaging",
				Description:  "Send messages in bulk",
				RequiredPlan: []string{database.PlanPremium},
				Dependencies: []string{"messaging"},
				Category:     "premium",
			},
			"analytics": {
				Name:         "analytics",
				DisplayName:  "Analytics",
				Description:  "Usage statistics and reporting",
				RequiredPlan: []string{database.PlanPremium},
				Category:     "premium",
			},
			"api_access": {
				Name:         "api_access",
				DisplayName:  "API Access",
				Description:  "Programmatic API access",
				RequiredPlan: []string{database.PlanPremium},
				Category:     "premium",
			},
			"advanced_analytics": {
				Name:         "advanced_analytics",
				DisplayName:  "Advanced Analytics",
				Description:  "Advanced statistics and exports",
				RequiredPlan: []string{database.PlanPremium},
				Dependencies: []string{"analytics"},
				Category:     "premium",
			},
			"unlimited_accounts": {
				Name:         "unlimited_accounts",
				DisplayName:  "Unlimited Accounts",
				Description:  "No ceiling on connected accounts",
				RequiredPlan: []string{database.PlanEnterprise},
				Category:     "enterprise",
			},
			"priority_support": {
				Name:         "priority_support",
				DisplayName:  "Priority Support",
				Description:  "Priority support channel",
				RequiredPlan: []string{database.PlanEnterprise},
				Category:     "enterprise",
			},
			"custom_integrations": {
				Name:         "custom_integrations",
				DisplayName:  "Custom Integrations",
				Description:  "Bespoke integrations",
				RequiredPlan: []string{database.PlanEnterprise},
				Category:     "enterprise",
			},
			"advanced_webhooks": {
				Name:         "advanced_webhooks",
				DisplayName:  "Advanced Webhooks",
				Description:  "Webhooks with retries and filtering",
				RequiredPlan: []string{database.PlanEnterprise},
				Dependencies: []string{"api_access"},
				Category:     "enterprise",
			},
			"sla_guarantee": {
				Name:         "sla_guarantee",
				DisplayName:  "SLA Guarantee",
				Description:  "Contractual uptime guarantee",
				RequiredPlan: []string{database.PlanEnterprise},
				Category:     "enterprise",
			},
			"ai_optimization": {
				Name:         "ai_optimization",
				DisplayName:  "AI Optimization",
				Description:  "AI-assisted optimization",
				Experimental: true,
				Category:     "experimental",
			},
			"beta_features": {
				Name:         "beta_features",
				DisplayName:  "Beta Features",
				Description:  "Early access to beta functionality",
				Experimental: true,
				Category:     "experimental",
			},
			"advanced_security": {
				Name:         "advanced_security",
				DisplayName:  "Advanced Security",
				Description:  "Hardened security controls",
				Experimental: true,
				Category:     "experimental",
			},
		},
		PlanFeatures: map[string][]string{
			database.PlanBasic: {
				"user_management",
				"account_management",
				"messaging",
				"simple_analytics",
				"community_support",
			},
			database.PlanPremium: {
				"user_management",
				"account_management",
				"messaging",
				"bulk_messaging",
				"analytics",
				"api_access",
				"advanced_analytics",
				"basic_webhooks",
				"email_support",
			},
			database.PlanEnterprise: {
				"user_management",
				"account_management",
				"messaging",
				"bulk_messaging",
				"analytics",
				"api_access",
				"advanced_analytics",
				"advanced_webhooks",
				"unlimited_accounts",
				"priority_support",
				"custom_integrations",
				"sla_guarantee",
				"dedicated_account_manager",
			},
		},
		GlobalFeatures: []string{
			"user_management",
			"account_management",
			"messaging",
		},
		ExperimentalFeatures: []string{
			"ai_optimization",
			"beta_features",
			"advanced_security",
		},
	}
}
