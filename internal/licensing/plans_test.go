package licensing

import (
	"testing"
	"time"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
)

func TestPlanConfiguration_KnownPlans(t *testing.T) {
	basic := PlanConfiguration(database.PlanBasic)
	if !basic.Features["basic_messaging"] {
		t.Error("expected BASIC to include basic_messaging")
	}
	if basic.Limits["accounts"] != 1 {
		t.Errorf("expected BASIC accounts limit 1, got %d", basic.Limits["accounts"])
	}
	if basic.Limits["messages_per_day"] != 100 {
		t.Errorf("expected BASIC messages_per_day 100, got %d", basic.Limits["messages_per_day"])
	}

	premium := PlanConfiguration(database.PlanPremium)
	if !premium.Features["api_access"] {
		t.Error("expected PREMIUM to include api_access")
	}
	if premium.Limits["accounts"] != 10 {
		t.Errorf("expected PREMIUM accounts limit 10, got %d", premium.Limits["accounts"])
	}

	enterprise := PlanConfiguration(database.PlanEnterprise)
	if enterprise.Limits["api_calls_per_hour"] != 10000 {
		t.Errorf("expected ENTERPRISE api_calls_per_hour 10000, got %d", enterprise.Limits["api_calls_per_hour"])
	}
}

func TestPlanConfiguration_CustomPlanIsEmpty(t *testing.T) {
	custom := PlanConfiguration(database.PlanCustom)
	if len(custom.Features) != 0 || len(custom.Limits) != 0 {
		t.Errorf("expected empty CUSTOM config, got %d features / %d limits", len(custom.Features), len(custom.Limits))
	}
}

func TestPlanConfiguration_UnknownFallsBackToBasic(t *testing.T) {
	unknown := PlanConfiguration("GOLD")
	basic := PlanConfiguration(database.PlanBasic)

	if unknown.Limits["messages_per_day"] != basic.Limits["messages_per_day"] {
		t.Errorf("expected unknown plan to fall back to BASIC limits")
	}
	if len(unknown.Features) != len(basic.Features) {
		t.Errorf("expected unknown plan to fall back to BASIC features")
	}
}

func TestPlanConfiguration_ReturnsCopies(t *testing.T) {
	first := PlanConfiguration(database.PlanBasic)
	first.Limits["accounts"] = 999

	second := PlanConfiguration(database.PlanBasic)
	if second.Limits["accounts"] != 1 {
		t.Error("mutating a returned config leaked into the plan table")
	}
}

func TestBillingCycleMonths(t *testing.T) {
	cases := map[string]int{
		database.BillingMonthly:   1,
		database.BillingQuarterly: 3,
		database.BillingYearly:    12,
		database.BillingLifetime:  120,
		"WEEKLY":                  1, // unknown falls back to monthly
	}
	for cycle, want := range cases {
		if got := BillingCycleMonths(cycle); got != want {
			t.Errorf("BillingCycleMonths(%s) = %d, want %d", cycle, got, want)
		}
	}
}

func TestCalculateExpiry(t *testing.T) {
	from := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if got := CalculateExpiry(database.BillingMonthly, from); !got.Equal(from.AddDate(0, 1, 0)) {
		t.Errorf("monthly expiry = %v", got)
	}
	if got := CalculateExpiry(database.BillingYearly, from); !got.Equal(from.AddDate(0, 12, 0)) {
		t.Errorf("yearly expiry = %v", got)
	}
	if got := CalculateExpiry(database.BillingLifetime, from); !got.Equal(from.AddDate(0, 120, 0)) {
		t.Errorf("lifetime expiry = %v", got)
	}
}

func TestNextMidnight(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	got := NextMidnight(now)
	want := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextMidnight = %v, want %v", got, want)
	}
}

func TestNextHourBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 45, 30, 0, time.UTC)
	got := NextHourBoundary(now)
	want := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextHourBoundary = %v, want %v", got, want)
	}
}

func TestInitializeUsage_WindowedAndPlainCounters(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	limits := database.LimitMap{
		"accounts":           10,
		"messages_per_day":   1000,
		"api_calls_per_hour": 1000,
		"storage_gb":         100,
	}

	usage := InitializeUsage(limits, now)

	if len(usage) != len(limits) {
		t.Fatalf("expected %d counters, got %d", len(limits), len(usage))
	}
	for key, counter := range usage {
		if counter.Value != 0 {
			t.Errorf("counter %s not initialized to zero", key)
		}
	}

	daily := usage["messages_per_day"]
	if daily.ResetAt == nil || !daily.ResetAt.Equal(NextMidnight(now)) {
		t.Errorf("messages_per_day reset = %v, want next midnight", daily.ResetAt)
	}
	hourly := usage["api_calls_per_hour"]
	if hourly.ResetAt == nil || !hourly.ResetAt.Equal(NextHourBoundary(now)) {
		t.Errorf("api_calls_per_hour reset = %v, want next hour boundary", hourly.ResetAt)
	}
	if usage["accounts"].ResetAt != nil {
		t.Error("accounts counter should not carry a reset boundary")
	}
	if usage["storage_gb"].ResetAt != nil {
		t.Error("storage_gb counter should not carry a reset boundary")
	}
}
