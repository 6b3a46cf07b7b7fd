package gating

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lizamazieva41-ai/lili-sub002/internal/cache"
	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

// ============================================================================
// MOCK TYPES
// ============================================================================

type MockCache struct {
	mu          sync.Mutex
	data        map[string]string
	deleteCalls []string
	setErr      error
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string]string)}
}

func (m *MockCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *MockCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = string(raw)
	m.mu.Unlock()
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deleteCalls = append(m.deleteCalls, key)
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// MockLicenseProvider serves fixed license/user state
type MockLicenseProvider struct {
	licenses map[string]*database.License
	users    map[string]*database.User
}

func NewMockLicenseProvider() *MockLicenseProvider {
	return &MockLicenseProvider{
		licenses: make(map[string]*database.License),
		users:    make(map[string]*database.User),
	}
}

func (m *MockLicenseProvider) GetActiveLicense(ctx context.Context, userID string) (*database.License, error) {
	return m.licenses[userID], nil
}

func (m *MockLicenseProvider) GetUser(ctx context.Context, userID string) (*database.User, error) {
	return m.users[userID], nil
}

// ============================================================================
// HELPERS
// ============================================================================

func newTestEngine(provider *MockLicenseProvider, cacheMock *MockCache) *Engine {
	return NewEngine(context.Background(), provider, cacheMock, zerolog.Nop())
}

// seedUser installs a user with an active license on the given plan. The
// catalog's requiredPlan lists are exact membership, so tests pick the plan
// the feature under test names.
func seedUser(provider *MockLicenseProvider, userID, plan string) *database.License {
	provider.users[userID] = &database.User{ID: userID, AccountLevel: database.PlanBasic}
	license := &database.License{
		ID:     "lic-" + userID,
		UserID: userID,
		Plan:   plan,
		Status: database.StatusActive,
		Features: database.FeatureMap{
			"account_management": true,
			"messaging":          true,
			"analytics":          true,
			"api_access":         true,
		},
		Limits: database.LimitMap{
			"accounts":           10,
			"messages_per_day":   1000,
			"api_calls_per_hour": 1000,
		},
		Usage: database.UsageMap{},
	}
	provider.licenses[userID] = license
	return license
}

// ============================================================================
// CHECK FEATURE
// ============================================================================

func TestCheckFeature_NoLicense(t *testing.T) {
	engine := newTestEngine(NewMockLicenseProvider(), NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "messaging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected deny without a license")
	}
	if result.Reason != "no active license" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestCheckFeature_UnknownFeature(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "time_travel")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected deny for unknown feature")
	}
}

func TestCheckFeature_PlanRequirementViolation(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "bulk_messaging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected plan denial")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.Type != licensing.ViolationPlanRequirement {
		t.Errorf("type = %s", v.Type)
	}
	if v.Current != database.PlanBasic {
		t.Errorf("current = %v", v.Current)
	}
}

func TestCheckFeature_EmptyRequiredPlanNeverPlanDenied(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	provider.users["user-1"].AccountLevel = database.PlanEnterprise
	engine := newTestEngine(provider, NewMockCache())

	// Experimental features have no plan requirement; an ENTERPRISE account
	// level passes the experimental stage, so no stage can emit a
	// PLAN_REQUIREMENT violation.
	result, err := engine.CheckFeature(context.Background(), "user-1", "ai_optimization")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range result.Violations {
		if v.Type == licensing.ViolationPlanRequirement {
			t.Errorf("unexpected PLAN_REQUIREMENT violation: %+v", v)
		}
	}
}

func TestCheckFeature_TwoMissingDependencies_TwoViolations(t *testing.T) {
	provider := NewMockLicenseProvider()
	license := seedUser(provider, "user-1", database.PlanPremium)
	engine := newTestEngine(provider, NewMockCache())

	if err := engine.AddFeature(context.Background(), Feature{
		Name:         "campaign_automation",
		DisplayName:  "Campaign Automation",
		RequiredPlan: []string{database.PlanPremium},
		Dependencies: []string{"bulk_messaging", "advanced_analytics"},
	}); err != nil {
		t.Fatal(err)
	}

	// Neither dependency is enabled on the license
	delete(license.Features, "bulk_messaging")
	delete(license.Features, "advanced_analytics")

	result, err := engine.CheckFeature(context.Background(), "user-1", "campaign_automation")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected dependency denial")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(result.Violations))
	}
	for _, v := range result.Violations {
		if v.Type != licensing.ViolationDependencyRequirement {
			t.Errorf("type = %s", v.Type)
		}
	}
}

func TestCheckFeature_MessagingAtDailyLimit_Denied(t *testing.T) {
	provider := NewMockLicenseProvider()
	license := seedUser(provider, "user-1", database.PlanBasic)
	license.Limits["messages_per_day"] = 100
	license.Usage["messages_today"] = database.UsageCounter{Value: 100}
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "messaging")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected usage denial at the limit")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.Type != licensing.ViolationUsageLimit {
		t.Errorf("type = %s", v.Type)
	}
	if v.Current != int64(100) {
		t.Errorf("current = %v, want 100", v.Current)
	}
}

func TestCheckFeature_UsageUnderLimit_Allowed(t *testing.T) {
	provider := NewMockLicenseProvider()
	license := seedUser(provider, "user-1", database.PlanBasic)
	license.Usage["messages_today"] = database.UsageCounter{Value: 99}
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "messaging")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("expected allow, got reason %q violations %+v", result.Reason, result.Violations)
	}
}

func TestCheckFeature_ApiAccessHourlyLimit(t *testing.T) {
	provider := NewMockLicenseProvider()
	license := seedUser(provider, "user-1", database.PlanPremium)
	license.Limits["api_calls_per_hour"] = 500
	license.Usage["api_calls_current_hour"] = database.UsageCounter{Value: 500}
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "api_access")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected hourly usage denial")
	}
}

// ============================================================================
// EXPERIMENTAL FEATURES
// ============================================================================

func TestCheckFeature_ExperimentalDeniedForBasicAccount(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "beta_features")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected experimental denial for BASIC account level")
	}
}

func TestCheckFeature_ExperimentalAllowedForEnterpriseAccount(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	provider.users["user-1"].AccountLevel = database.PlanEnterprise
	engine := newTestEngine(provider, NewMockCache())

	result, err := engine.CheckFeature(context.Background(), "user-1", "beta_features")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("expected allow for ENTERPRISE account, got %q", result.Reason)
	}
}

func TestCheckFeature_ExperimentalAllowedWithPerUserOverride(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	cacheMock := NewMockCache()
	engine := newTestEngine(provider, cacheMock)

	if err := engine.ToggleExperimentalFeature(context.Background(), "user-1", "beta_features", true); err != nil {
		t.Fatal(err)
	}

	result, err := engine.CheckFeature(context.Background(), "user-1", "beta_features")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("expected allow with per-user override, got %q", result.Reason)
	}

	if err := engine.ToggleExperimentalFeature(context.Background(), "user-1", "beta_features", false); err != nil {
		t.Fatal(err)
	}
	result, err = engine.CheckFeature(context.Background(), "user-1", "beta_features")
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("expected deny after override disabled")
	}
}

func TestCheckExperimentalFeature_NoUser(t *testing.T) {
	engine := newTestEngine(NewMockLicenseProvider(), NewMockCache())

	ok, err := engine.CheckExperimentalFeature(context.Background(), "ghost", "beta_features")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected false for unknown user")
	}
}

// ============================================================================
// CATALOG
// ============================================================================

func TestGetAllowedFeatures_FiltersDenied(t *testing.T) {
	provider := NewMockLicenseProvider()
	seedUser(provider, "user-1", database.PlanBasic)
	engine := newTestEngine(provider, NewMockCache())

	allowed, err := engine.GetAllowedFeatures(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}

	set := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		set[f] = true
	}
	if !set["messaging"] || !set["account_management"] {
		t.Errorf("expected messaging and account_management in %v", allowed)
	}
	if set["api_access"] {
		t.Error("PREMIUM-only feature allowed for BASIC plan")
	}
	if set["beta_features"] {
		t.Error("experimental feature allowed for BASIC account level")
	}
}

func TestGetAllowedFeatures_NoLicenseEmpty(t *testing.T) {
	engine := newTestEngine(NewMockLicenseProvider(), NewMockCache())

	allowed, err := engine.GetAllowedFeatures(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(allowed) != 0 {
		t.Errorf("expected empty list, got %v", allowed)
	}
}

func TestFeaturesByPlan(t *testing.T) {
	engine := newTestEngine(NewMockLicenseProvider(), NewMockCache())

	basic := engine.FeaturesByPlan(database.PlanBasic)
	if len(basic) == 0 {
		t.Fatal("expected BASIC plan features")
	}
	if engine.FeaturesByPlan("GOLD") != nil && len(engine.FeaturesByPlan("GOLD")) != 0 {
		t.Error("unknown plan should have no features")
	}
}

func TestAddFeature_ThenRemove(t *testing.T) {
	cacheMock := NewMockCache()
	engine := newTestEngine(NewMockLicenseProvider(), cacheMock)

	if err := engine.AddFeature(context.Background(), Feature{Name: "exports", DisplayName: "Exports"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := engine.snapshot().Feature("exports"); !ok {
		t.Fatal("added feature missing from snapshot")
	}

	// The update must drop cached per-feature entries
	found := false
	for _, k := range cacheMock.deleteCalls {
		if k == cache.FeatureKey("messaging") {
			found = true
		}
	}
	if !found {
		t.Error("per-feature cache entries not invalidated on update")
	}

	if err := engine.RemoveFeature(context.Background(), "exports"); err != nil {
		t.Fatal(err)
	}
	if _, ok := engine.snapshot().Feature("exports"); ok {
		t.Error("removed feature still in snapshot")
	}
}

func TestReload_UsesPublishedCatalog(t *testing.T) {
	cacheMock := NewMockCache()
	published := DefaultCatalog()
	published.Features["published_only"] = Feature{Name: "published_only"}
	raw, _ := json.Marshal(published)
	cacheMock.data[cache.KeyFeatureConfig] = string(raw)

	engine := newTestEngine(NewMockLicenseProvider(), cacheMock)

	if _, ok := engine.snapshot().Feature("published_only"); !ok {
		t.Error("engine did not load the published catalog")
	}
}

func TestDefaultCatalog_ExperimentalMarkers(t *testing.T) {
	catalog := DefaultCatalog()
	for _, name := range []string{"ai_optimization", "beta_features", "advanced_security"} {
		if !catalog.IsExperimental(name) {
			t.Errorf("%s should be experimental", name)
		}
	}
	if catalog.IsExperimental("messaging") {
		t.Error("messaging should not be experimental")
	}
}
