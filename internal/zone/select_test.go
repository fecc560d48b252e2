package zone

import (
	"testing"
	"time"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing time fixture: %v", err)
	}
	return tm
}

func TestSelectInstancePrefersGroupHint(t *testing.T) {
	candidates := []Instance{
		{EngineAddress: EngineAddress{EngineID: "e1"}, PlayerCount: 1, Capacity: 10},
		{EngineAddress: EngineAddress{EngineID: "e2"}, PlayerCount: 9, Capacity: 10},
	}
	inst, ok := SelectInstance(candidates, "e2", "e1")
	if !ok || inst.EngineID != "e2" {
		t.Fatalf("expected group hint e2 to win, got %+v", inst)
	}
}

func TestSelectInstanceFallsBackToLeastLoadedUnderCapacity(t *testing.T) {
	candidates := []Instance{
		{EngineAddress: EngineAddress{EngineID: "e1"}, PlayerCount: 8, Capacity: 10},
		{EngineAddress: EngineAddress{EngineID: "e2"}, PlayerCount: 2, Capacity: 10},
	}
	inst, ok := SelectInstance(candidates, "", "")
	if !ok || inst.EngineID != "e2" {
		t.Fatalf("expected least-loaded-under-capacity e2, got %+v", inst)
	}
}

func TestSelectInstanceFallsBackToLeastLoadedOverallWhenAllFull(t *testing.T) {
	candidates := []Instance{
		{EngineAddress: EngineAddress{EngineID: "e1"}, PlayerCount: 10, Capacity: 10},
		{EngineAddress: EngineAddress{EngineID: "e2"}, PlayerCount: 12, Capacity: 10},
	}
	inst, ok := SelectInstance(candidates, "", "")
	if !ok || inst.EngineID != "e1" {
		t.Fatalf("expected least-loaded-overall e1, got %+v", inst)
	}
}

func TestScalerScalesUpAboveThreshold(t *testing.T) {
	s := NewScaler(ScalerConfig{ScaleUpThreshold: 0.8, ScaleDownThreshold: 0.2, MinInstances: 1, Cooldown: 0})
	instances := []Instance{{PlayerCount: 9, Capacity: 10}}

	now := mustParseTime(t, "2026-01-01T00:00:00Z")
	_, ok := s.Evaluate("town", instances, now)
	if !ok {
		t.Fatal("expected a scale-up decision at 90% utilization")
	}
}
