package domain

import (
	"encoding/json"
	"testing"
)

func TestPriorityRankOrder(t *testing.T) {
	t.Parallel()
	order := []Priority{PriorityHigh, PriorityMedium, PriorityNormal, PriorityLow}
	for i := 1; i < len(order); i++ {
		if !order[i-1].Higher(order[i]) {
			t.Fatalf("%s should drain before %s", order[i-1], order[i])
		}
	}
	var zero Priority
	if zero != PriorityNormal {
		t.Fatalf("zero priority = %s, want normal", zero)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
	if _, err := ParseKind("shout"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(`{"type":"nope"}`), &v); err == nil {
		t.Fatal("expected unmarshal error for unknown kind")
	}
}

func TestVerdictJSONUsesNames(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Verdict{ShouldNotify: true, Kind: KindAlert, Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if m["type"] != "alert" || m["priority"] != "high" {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestEffectiveSensitivity(t *testing.T) {
	t.Parallel()
	tests := map[int]int{0: 7, -3: 1, 1: 1, 5: 5, 10: 10, 42: 10}
	for in, want := range tests {
		if got := (Policy{Sensitivity: in}).EffectiveSensitivity(); got != want {
			t.Fatalf("EffectiveSensitivity(%d) = %d, want %d", in, got, want)
		}
	}
}
