package gating

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lizamazieva41-ai/lili-sub002/internal/cache"
	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

// LicenseProvider resolves the live license state a feature check evaluates
// against. The engine takes it at construction so gating always sees the
// same state as the lifecycle service, never a cache-warmed shadow of it.
type LicenseProvider interface {
	GetActiveLicense(ctx context.Context, userID string) (*database.License, error)
	GetUser(ctx context.Context, userID string) (*database.User, error)
}

// Cache is the cache surface the engine uses for feature definitions, the
// catalog document, and per-user experimental flags
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CheckResult is the outcome of a feature check. Allowed=false always comes
// with a reason; violations are populated for plan, dependency, and usage
// denials.
type CheckResult struct {
	Allowed    bool                  `json:"allowed"`
	Feature    *Feature              `json:"feature,omitempty"`
	License    *database.License     `json:"license,omitempty"`
	User       *database.User        `json:"user,omitempty"`
	Violations []licensing.Violation `json:"violations,omitempty"`
	Reason     string                `json:"reason,omitempty"`
}

// Engine gates feature access against license state and the feature catalog
type Engine struct {
	licenses LicenseProvider
	cache    Cache
	logger   zerolog.Logger

	mu      sync.RWMutex
	catalog *Catalog
}

// NewEngine builds an engine seeded with the default catalog, then overlays
// a previously published catalog document from the cache when one exists.
func NewEngine(ctx context.Context, licenses LicenseProvider, cacheService Cache, logger zerolog.Logger) *Engine {
	e := &Engine{
		licenses: licenses,
		cache:    cacheService,
		logger:   logger.With().Str("component", "gating").Logger(),
		catalog:  DefaultCatalog(),
	}
	if err := e.Reload(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Catalog reload failed, using built-in defaults")
	}
	return e
}

// snapshot returns the current immutable catalog
func (e *Engine) snapshot() *Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Reload replaces the in-process catalog with the published document from
// the cache. On a cache miss the built-in defaults are published instead.
func (e *Engine) Reload(ctx context.Context) error {
	var loaded Catalog
	err := e.cache.GetJSON(ctx, cache.KeyFeatureConfig, &loaded)
	switch {
	case err == nil:
		e.mu.Lock()
		e.catalog = &loaded
		e.mu.Unlock()
		return nil
	case cache.IsMiss(err):
		defaults := DefaultCatalog()
		if setErr := e.cache.SetJSON(ctx, cache.KeyFeatureConfig, defaults, cache.FeatureConfigTTL); setErr != nil {
			e.logger.Warn().Err(setErr).Msg("Failed to publish default catalog")
		}
		e.mu.Lock()
		e.catalog = defaults
		e.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("loading catalog: %w", err)
	}
}

// CheckFeature decides whether a user may use a feature. Stages run in
// order: license, feature existence, experimental access, plan requirement,
// dependencies, usage limits. The first failing stage denies; a stage may
// carry several violations (one per missing dependency).
func (e *Engine) CheckFeature(ctx context.Context, userID, featureName string) (*CheckResult, error) {
	license, err := e.licenses.GetActiveLicense(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving license for user %s: %w", userID, err)
	}
	if license == nil {
		return &CheckResult{Allowed: false, Reason: "no active license"}, nil
	}

	user, err := e.licenses.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving user %s: %w", userID, err)
	}

	feature, ok := e.GetFeature(ctx, featureName)
	if !ok {
		return &CheckResult{Allowed: false, Reason: fmt.Sprintf("feature does not exist: %s", featureName)}, nil
	}

	if e.snapshot().IsExperimental(featureName) {
		allowed, err := e.hasExperimentalAccess(ctx, userID, user, featureName)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return &CheckResult{
				Allowed: false,
				Feature: &feature,
				Reason:  "feature is in the experimental stage",
			}, nil
		}
	}

	if violations := planViolations(license, feature); len(violations) > 0 {
		return &CheckResult{
			Allowed:    false,
			Feature:    &feature,
			License:    license,
			User:       user,
			Violations: violations,
			Reason:     "plan requirements not met",
		}, nil
	}

	if violations := dependencyViolations(license, feature); len(violations) > 0 {
		return &CheckResult{
			Allowed:    false,
			Feature:    &feature,
			License:    license,
			User:       user,
			Violations: violations,
			Reason:     "missing dependency features",
		}, nil
	}

	if violations := usageViolations(license, feature); len(violations) > 0 {
		return &CheckResult{
			Allowed:    false,
			Feature:    &feature,
			License:    license,
			User:       user,
			Violations: violations,
			Reason:     "usage limit exceeded",
		}, nil
	}

	return &CheckResult{Allowed: true, Feature: &feature, License: license, User: user}, nil
}

// GetAllowedFeatures returns every catalog feature the user passes a full
// check for
func (e *Engine) GetAllowedFeatures(ctx context.Context, userID string) ([]string, error) {
	license, err := e.licenses.GetActiveLicense(ctx, userID)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return []string{}, nil
	}

	var allowed []string
	for _, name := range e.snapshot().Names() {
		result, err := e.CheckFeature(ctx, userID, name)
		if err != nil {
			return nil, err
		}
		if result.Allowed {
			allowed = append(allowed, name)
		}
	}
	return allowed, nil
}

// GetFeature resolves a feature by name, cache-first. A cache outage falls
// back to the in-process snapshot.
func (e *Engine) GetFeature(ctx context.Context, name string) (Feature, bool) {
	key := cache.FeatureKey(name)

	var cached Feature
	if err := e.cache.GetJSON(ctx, key, &cached); err == nil {
		return cached, true
	} else if !cache.IsMiss(err) {
		e.logger.Warn().Err(err).Str("feature", name).Msg("Feature cache read failed")
	}

	feature, ok := e.snapshot().Feature(name)
	if !ok {
		return Feature{}, false
	}

	if err := e.cache.SetJSON(ctx, key, feature, cache.FeatureTTL); err != nil {
		e.logger.Warn().Err(err).Str("feature", name).Msg("Feature cache write failed")
	}
	return feature, true
}

// AllFeatures lists every feature identifier in the catalog
func (e *Engine) AllFeatures() []string {
	return e.snapshot().Names()
}

// FeaturesByPlan lists the feature names bundled with a plan
func (e *Engine) FeaturesByPlan(plan string) []string {
	names := e.snapshot().PlanFeatures[plan]
	return append([]string(nil), names...)
}

// UpdateConfig publishes a new catalog snapshot: it is written to the cache
// for other processes, every per-feature cache entry from the old snapshot
// is dropped, and the in-process snapshot is swapped.
func (e *Engine) UpdateConfig(ctx context.Context, catalog *Catalog) error {
	if err := e.cache.SetJSON(ctx, cache.KeyFeatureConfig, catalog, cache.FeatureConfigTTL); err != nil {
		return fmt.Errorf("publishing catalog: %w", err)
	}

	for _, name := range e.snapshot().Names() {
		if err := e.cache.Delete(ctx, cache.FeatureKey(name)); err != nil {
			e.logger.Error().Err(err).Str("feature", name).Msg("Failed to invalidate cached feature")
		}
	}

	e.mu.Lock()
	e.catalog = catalog
	e.mu.Unlock()

	e.logger.Info().Int("features", len(catalog.Features)).Msg("Feature catalog updated")
	return nil
}

// AddFeature registers or replaces a feature definition
func (e *Engine) AddFeature(ctx context.Context, feature Feature) error {
	next := e.snapshot().Clone()
	next.Features[feature.Name] = feature
	if feature.Experimental && !next.IsExperimental(feature.Name) {
		next.ExperimentalFeatures = append(next.ExperimentalFeatures, feature.Name)
	}
	return e.UpdateConfig(ctx, next)
}

// RemoveFeature drops a feature definition from the catalog
func (e *Engine) RemoveFeature(ctx context.Context, name string) error {
	next := e.snapshot().Clone()
	delete(next.Features, name)
	return e.UpdateConfig(ctx, next)
}

// ToggleExperimentalFeature flips a per-user experimental override. The
// override lives only in the cache and expires on its own.
func (e *Engine) ToggleExperimentalFeature(ctx context.Context, userID, featureName string, enabled bool) error {
	key := cache.ExperimentalFeaturesKey(userID)

	flags := map[string]bool{}
	if err := e.cache.GetJSON(ctx, key, &flags); err != nil && !cache.IsMiss(err) {
		return fmt.Errorf("loading experimental flags for user %s: %w", userID, err)
	}
	flags[featureName] = enabled

	if err := e.cache.SetJSON(ctx, key, flags, cache.ExperimentalTTL); err != nil {
		return fmt.Errorf("saving experimental flags for user %s: %w", userID, err)
	}

	e.logger.Info().
		Str("user_id", userID).
		Str("feature", featureName).
		Bool("enabled", enabled).
		Msg("Experimental feature toggled")
	return nil
}

// CheckExperimentalFeature reports whether a user may use an experimental
// feature
func (e *Engine) CheckExperimentalFeature(ctx context.Context, userID, featureName string) (bool, error) {
	user, err := e.licenses.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	return e.hasExperimentalAccess(ctx, userID, user, featureName)
}

// hasExperimentalAccess grants experimental features to ENTERPRISE accounts,
// or to any user with an explicit per-user override for the feature
func (e *Engine) hasExperimentalAccess(ctx context.Context, userID string, user *database.User, featureName string) (bool, error) {
	if user != nil && user.AccountLevel == database.PlanEnterprise {
		return true, nil
	}

	flags := map[string]bool{}
	err := e.cache.GetJSON(ctx, cache.ExperimentalFeaturesKey(userID), &flags)
	if err != nil {
		if cache.IsMiss(err) {
			return false, nil
		}
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("Experimental flags cache read failed")
		return false, nil
	}
	return flags[featureName], nil
}

func planViolations(license *database.License, feature Feature) []licensing.Violation {
	var violations []licensing.Violation

	if len(feature.RequiredPlan) > 0 {
		match := false
		for _, plan := range feature.RequiredPlan {
			if plan == license.Plan {
				match = true
				break
			}
		}
		if !match {
			plans := strings.Join(feature.RequiredPlan, " or ")
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationPlanRequirement,
				Message:     fmt.Sprintf("Feature requires plan: %s", plans),
				Requirement: fmt.Sprintf("Plan: %s", plans),
				Current:     license.Plan,
			})
		}
	}

	for _, required := range feature.RequiredFeatures {
		if !license.Features[required] {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationFeatureRequirement,
				Message:     fmt.Sprintf("Feature requires feature: %s", required),
				Requirement: fmt.Sprintf("Feature: %s", required),
				Current:     "not available",
			})
		}
	}

	return violations
}

func dependencyViolations(license *database.License, feature Feature) []licensing.Violation {
	var violations []licensing.Violation
	for _, dependency := range feature.Dependencies {
		if !license.Features[dependency] {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationDependencyRequirement,
				Message:     fmt.Sprintf("Feature requires dependency: %s", dependency),
				Requirement: fmt.Sprintf("Dependency: %s", dependency),
				Current:     "not available",
			})
		}
	}
	return violations
}

// Usage ceilings checked per feature. Missing limits fall back to the most
// restrictive plausible default rather than unlimited.
func usageViolations(license *database.License, feature Feature) []licensing.Violation {
	var violations []licensing.Violation

	limit := func(key string, fallback int64) int64 {
		if v, ok := license.Limits[key]; ok {
			return v
		}
		return fallback
	}
	used := func(key string) int64 {
		return license.Usage[key].Value
	}

	switch feature.Name {
	case "account_management":
		max := limit("accounts", 1)
		if current := used("accounts"); current >= max {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationUsageLimit,
				Message:     fmt.Sprintf("Account limit exceeded (%d)", max),
				Requirement: fmt.Sprintf("Max accounts: %d", max),
				Limit:       max,
				Current:     current,
			})
		}
	case "messaging", "bulk_messaging":
		max := limit("messages_per_day", 100)
		if current := used("messages_today"); current >= max {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationUsageLimit,
				Message:     fmt.Sprintf("Exceeds daily message limit (%d)", max),
				Requirement: fmt.Sprintf("Max messages/day: %d", max),
				Limit:       max,
				Current:     current,
			})
		}
	case "api_access":
		max := limit("api_calls_per_hour", 100)
		if current := used("api_calls_current_hour"); current >= max {
			violations = append(violations, licensing.Violation{
				Type:        licensing.ViolationUsageLimit,
				Message:     fmt.Sprintf("Exceeds hourly API call limit (%d)", max),
				Requirement: fmt.Sprintf("Max API calls/hour: %d", max),
				Limit:       max,
				Current:     current,
			})
		}
	}

	return violations
}
