package apikeys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

// MockLedger answers window counts from recorded event timestamps
type MockLedger struct {
	mu       sync.Mutex
	events   map[string][]time.Time
	countErr error
	calls    []time.Time
}

func NewMockLedger() *MockLedger {
	return &MockLedger{events: make(map[string][]time.Time)}
}

func (m *MockLedger) record(apiKeyID string, at time.Time, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.events[apiKeyID] = append(m.events[apiKeyID], at)
	}
}

func (m *MockLedger) CountApiKeyUsageSince(ctx context.Context, apiKeyID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, since)
	if m.countErr != nil {
		return 0, m.countErr
	}
	var count int64
	for _, at := range m.events[apiKeyID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

var enforcerNow = time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)

func newTestEnforcer(ledger *MockLedger) *UsageEnforcer {
	e := NewUsageEnforcer(ledger)
	e.now = func() time.Time { return enforcerNow }
	return e
}

func TestCheckUsageLimits_AllClear(t *testing.T) {
	enforcer := newTestEnforcer(NewMockLedger())
	key := &database.ApiKey{
		ID:         "key-1",
		UsageLimit: 1000,
		RateLimit:  database.KeyRateLimit{RequestsPerMinute: 100, RequestsPerHour: 1000},
	}

	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %+v", violations)
	}
}

func TestCheckUsageLimits_DailyLimitHit(t *testing.T) {
	ledger := NewMockLedger()
	// Events earlier today count; events from yesterday do not
	ledger.record("key-1", enforcerNow.Add(-3*time.Hour), 1000)
	ledger.record("key-1", enforcerNow.Add(-24*time.Hour), 50)
	enforcer := newTestEnforcer(ledger)

	key := &database.ApiKey{ID: "key-1", UsageLimit: 1000}
	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	v := violations[0]
	if v.Type != licensing.ViolationDailyUsageLimit {
		t.Errorf("type = %s", v.Type)
	}
	if v.Current != int64(1000) {
		t.Errorf("current = %v, want 1000", v.Current)
	}
}

func TestCheckUsageLimits_PerMinuteLimitHit(t *testing.T) {
	ledger := NewMockLedger()
	ledger.record("key-1", enforcerNow.Add(-30*time.Second), 150)
	enforcer := newTestEnforcer(ledger)

	key := &database.ApiKey{
		ID:        "key-1",
		RateLimit: database.KeyRateLimit{RequestsPerMinute: 100},
	}
	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	v := violations[0]
	if v.Type != licensing.ViolationRateLimitPerMinute {
		t.Errorf("type = %s", v.Type)
	}
	if v.Current != int64(150) {
		t.Errorf("current = %v, want 150", v.Current)
	}
	if v.Limit != 100 {
		t.Errorf("limit = %d, want 100", v.Limit)
	}
}

func TestCheckUsageLimits_PerHourCountsOutsideMinute(t *testing.T) {
	ledger := NewMockLedger()
	// Old enough to be outside the minute window, inside the hour window
	ledger.record("key-1", enforcerNow.Add(-10*time.Minute), 200)
	enforcer := newTestEnforcer(ledger)

	key := &database.ApiKey{
		ID:        "key-1",
		RateLimit: database.KeyRateLimit{RequestsPerMinute: 100, RequestsPerHour: 200},
	}
	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected only the hourly violation, got %+v", violations)
	}
	if violations[0].Type != licensing.ViolationRateLimitPerHour {
		t.Errorf("type = %s", violations[0].Type)
	}
}

func TestCheckUsageLimits_AllDimensionsReported(t *testing.T) {
	ledger := NewMockLedger()
	ledger.record("key-1", enforcerNow.Add(-10*time.Second), 500)
	enforcer := newTestEnforcer(ledger)

	// Recent events breach the daily, minute, and hour windows at once;
	// every dimension must be reported, not just the first.
	key := &database.ApiKey{
		ID:         "key-1",
		UsageLimit: 100,
		RateLimit:  database.KeyRateLimit{RequestsPerMinute: 100, RequestsPerHour: 300},
	}
	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 3 {
		t.Fatalf("expected 3 violations, got %d: %+v", len(violations), violations)
	}
}

func TestCheckUsageLimits_ZeroLimitsSkipWindows(t *testing.T) {
	ledger := NewMockLedger()
	ledger.record("key-1", enforcerNow.Add(-time.Second), 10000)
	enforcer := newTestEnforcer(ledger)

	key := &database.ApiKey{ID: "key-1"} // no ceilings configured
	violations, err := enforcer.CheckUsageLimits(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations without configured limits, got %+v", violations)
	}
	if len(ledger.calls) != 0 {
		t.Errorf("expected no ledger queries, got %d", len(ledger.calls))
	}
}

func TestCheckUsageLimits_LedgerErrorPropagates(t *testing.T) {
	ledger := NewMockLedger()
	ledger.countErr = errors.New("store down")
	enforcer := newTestEnforcer(ledger)

	key := &database.ApiKey{ID: "key-1", UsageLimit: 100}
	if _, err := enforcer.CheckUsageLimits(context.Background(), key); err == nil {
		t.Fatal("expected error from ledger")
	}
}
