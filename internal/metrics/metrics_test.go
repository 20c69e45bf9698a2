package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

var testPhases = []string{"early_request", "content", "accounting"}

func TestCountersAppearInSnapshot(t *testing.T) {
	m := New(true, testPhases)
	mod := m.RegisterModule("ping")

	m.RequestStarted()
	m.RequestStarted()
	m.Halted()
	m.ErrorEntered()
	m.ArenaAllocated(128)
	m.ModuleExecuted(mod, 42)
	mod.AllocatedBytes.Add(64)

	snap, ok := m.Snapshot()
	if !ok {
		t.Fatal("Snapshot returned ok=false with metrics enabled")
	}
	if snap.RequestsTotal != 2 {
		t.Errorf("RequestsTotal = %d, want 2", snap.RequestsTotal)
	}
	if snap.HaltsTotal != 1 {
		t.Errorf("HaltsTotal = %d, want 1", snap.HaltsTotal)
	}
	if snap.ErrorPhaseEntries != 1 {
		t.Errorf("ErrorPhaseEntries = %d, want 1", snap.ErrorPhaseEntries)
	}
	if snap.GlobalMemoryAllocated != 128 {
		t.Errorf("GlobalMemoryAllocated = %d, want 128", snap.GlobalMemoryAllocated)
	}
	ms, ok := snap.Modules["ping"]
	if !ok {
		t.Fatal("module ping missing from snapshot")
	}
	if ms.ExecutionCount != 1 || ms.TotalDurationMicros != 42 || ms.MemoryAllocated != 64 {
		t.Errorf("module snapshot = %+v", ms)
	}
}

func TestActivePipelinesTrackPhaseEntry(t *testing.T) {
	m := New(true, testPhases)

	m.PhaseEnter(1)
	m.PhaseEnter(1)
	m.PhaseLeave(1)

	snap, _ := m.Snapshot()
	if got := snap.ActivePipelinesByPhase["content"]; got != 1 {
		t.Errorf("active pipelines in content = %d, want 1", got)
	}
	if got := snap.ActivePipelinesByPhase["early_request"]; got != 0 {
		t.Errorf("active pipelines in early_request = %d, want 0", got)
	}

	// Out-of-range indexes must be ignored, not panic.
	m.PhaseEnter(-1)
	m.PhaseEnter(len(testPhases))
}

func TestDisabledMetricsSkipEverything(t *testing.T) {
	m := New(false, testPhases)
	mod := m.RegisterModule("ping")

	m.RequestStarted()
	m.Halted()
	m.ModuleExecuted(mod, 10)

	if m.Enabled() {
		t.Error("Enabled() = true for disabled metrics")
	}
	if _, ok := m.Snapshot(); ok {
		t.Error("Snapshot returned ok=true with metrics disabled")
	}
	if mod.Executions.Load() != 0 {
		t.Error("disabled metrics still counted module execution")
	}
}

func TestRegisterModuleIsIdempotent(t *testing.T) {
	m := New(true, testPhases)
	a := m.RegisterModule("router")
	b := m.RegisterModule("router")
	if a != b {
		t.Error("RegisterModule returned distinct slots for the same name")
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New(true, testPhases)
	m.RequestStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/-/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "oxws_requests_total 1") {
		t.Errorf("exposition missing request counter:\n%s", body)
	}
}
