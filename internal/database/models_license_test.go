package database

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFeatureMap_UnmarshalBooleans(t *testing.T) {
	var m FeatureMap
	if err := json.Unmarshal([]byte(`{"messaging": true, "analytics": false}`), &m); err != nil {
		t.Fatal(err)
	}
	if !m["messaging"] || m["analytics"] {
		t.Errorf("unexpected map %+v", m)
	}
}

func TestFeatureMap_UnmarshalLegacyEnabledStrings(t *testing.T) {
	var m FeatureMap
	if err := json.Unmarshal([]byte(`{"messaging": "enabled", "analytics": "disabled"}`), &m); err != nil {
		t.Fatal(err)
	}
	if !m["messaging"] {
		t.Error(`"enabled" should parse as true`)
	}
	if m["analytics"] {
		t.Error(`any other string should parse as false`)
	}
}

func TestFeatureMap_UnmarshalRejectsNumbers(t *testing.T) {
	var m FeatureMap
	if err := json.Unmarshal([]byte(`{"messaging": 1}`), &m); err == nil {
		t.Error("expected error for numeric feature value")
	}
}

func TestUsageCounter_MarshalPlainCounterAsNumber(t *testing.T) {
	raw, err := json.Marshal(UsageCounter{Value: 7})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "7" {
		t.Errorf("plain counter serialized as %s, want bare number", raw)
	}
}

func TestUsageCounter_MarshalWindowedCounterAsObject(t *testing.T) {
	resetAt := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(UsageCounter{Value: 3, ResetAt: &resetAt})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("windowed counter not an object: %s", raw)
	}
	if _, ok := decoded["reset_at"]; !ok {
		t.Errorf("reset_at missing from %s", raw)
	}
}

func TestUsageCounter_UnmarshalBothForms(t *testing.T) {
	var plain UsageCounter
	if err := json.Unmarshal([]byte(`12`), &plain); err != nil {
		t.Fatal(err)
	}
	if plain.Value != 12 || plain.ResetAt != nil {
		t.Errorf("plain counter = %+v", plain)
	}

	var windowed UsageCounter
	if err := json.Unmarshal([]byte(`{"value": 5, "reset_at": "2025-06-16T00:00:00Z"}`), &windowed); err != nil {
		t.Fatal(err)
	}
	if windowed.Value != 5 || windowed.ResetAt == nil {
		t.Errorf("windowed counter = %+v", windowed)
	}
}

func TestUsageMap_RoundTrip(t *testing.T) {
	resetAt := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	original := UsageMap{
		"accounts":         {Value: 2},
		"messages_per_day": {Value: 40, ResetAt: &resetAt},
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}

	var decoded UsageMap
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["accounts"].Value != 2 || decoded["accounts"].ResetAt != nil {
		t.Errorf("accounts = %+v", decoded["accounts"])
	}
	daily := decoded["messages_per_day"]
	if daily.Value != 40 || daily.ResetAt == nil || !daily.ResetAt.Equal(resetAt) {
		t.Errorf("messages_per_day = %+v", daily)
	}
}
