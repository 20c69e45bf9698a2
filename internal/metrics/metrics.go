// Package metrics holds the server's cross-request counters. Everything
// here is immutable after startup except the counters themselves, which
// are atomics safe for unsynchronized concurrent increment from every
// request task. Counters are mirrored into a private prometheus
// registry served on the ops endpoint.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide counter set. Module slots are registered
// during module load, before any request runs; the maps are read-only
// on the dispatch path.
type Metrics struct {
	enabled bool

	requests      atomic.Uint64
	halts         atomic.Uint64
	errorEntries  atomic.Uint64
	arenaBytes    atomic.Uint64
	phaseNames    []string
	activeByPhase []atomic.Int64

	modules map[string]*Module

	registry       *prometheus.Registry
	promRequests   prometheus.Counter
	promHalts      prometheus.Counter
	promErrors     prometheus.Counter
	promActive     *prometheus.GaugeVec
	promExecutions *prometheus.CounterVec
}

// Module carries per-module counters. One instance per loaded module,
// shared by every request that invokes it.
type Module struct {
	Executions     atomic.Uint64
	DurationMicros atomic.Uint64
	AllocatedBytes atomic.Uint64

	executions prometheus.Counter
}

// New builds the counter set for the given ordered phase names.
func New(enabled bool, phaseNames []string) *Metrics {
	m := &Metrics{
		enabled:       enabled,
		phaseNames:    phaseNames,
		activeByPhase: make([]atomic.Int64, len(phaseNames)),
		modules:       make(map[string]*Module),
		registry:      prometheus.NewRegistry(),
	}

	m.promRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oxws_requests_total",
		Help: "Requests dispatched into the pipeline.",
	})
	m.promHalts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oxws_halts_total",
		Help: "Pipelines aborted by a HaltProcessing result.",
	})
	m.promErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oxws_error_phase_entries_total",
		Help: "Pipelines diverted into the error-handling phases.",
	})
	m.promActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oxws_active_pipelines",
		Help: "Pipelines currently executing, by phase.",
	}, []string{"phase"})
	m.promExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oxws_module_executions_total",
		Help: "Handler invocations, by module.",
	}, []string{"module"})

	m.registry.MustRegister(m.promRequests, m.promHalts, m.promErrors, m.promActive, m.promExecutions)
	return m
}

// Enabled reports whether counting is on. When off, Snapshot returns
// nothing and increments are skipped.
func (m *Metrics) Enabled() bool { return m.enabled }

// RegisterModule creates the counter slot for a module. Called during
// load only.
func (m *Metrics) RegisterModule(name string) *Module {
	if mod, ok := m.modules[name]; ok {
		return mod
	}
	mod := &Module{executions: m.promExecutions.WithLabelValues(name)}
	m.modules[name] = mod
	return mod
}

// RequestStarted counts one request entering the pipeline.
func (m *Metrics) RequestStarted() {
	if !m.enabled {
		return
	}
	m.requests.Add(1)
	m.promRequests.Inc()
}

// Halted counts a HaltProcessing abort.
func (m *Metrics) Halted() {
	if !m.enabled {
		return
	}
	m.halts.Add(1)
	m.promHalts.Inc()
}

// ErrorEntered counts a divert into the error-handling phases.
func (m *Metrics) ErrorEntered() {
	if !m.enabled {
		return
	}
	m.errorEntries.Add(1)
	m.promErrors.Inc()
}

// PhaseEnter marks a pipeline entering phase i.
func (m *Metrics) PhaseEnter(i int) {
	if !m.enabled || i < 0 || i >= len(m.activeByPhase) {
		return
	}
	m.activeByPhase[i].Add(1)
	m.promActive.WithLabelValues(m.phaseNames[i]).Inc()
}

// PhaseLeave marks a pipeline leaving phase i.
func (m *Metrics) PhaseLeave(i int) {
	if !m.enabled || i < 0 || i >= len(m.activeByPhase) {
		return
	}
	m.activeByPhase[i].Add(-1)
	m.promActive.WithLabelValues(m.phaseNames[i]).Dec()
}

// ArenaAllocated accumulates bytes handed out by request arenas.
func (m *Metrics) ArenaAllocated(n uint64) {
	if !m.enabled {
		return
	}
	m.arenaBytes.Add(n)
}

// ModuleExecuted records one handler invocation for mod.
func (m *Metrics) ModuleExecuted(mod *Module, durationMicros uint64) {
	if !m.enabled || mod == nil {
		return
	}
	mod.Executions.Add(1)
	mod.DurationMicros.Add(durationMicros)
	mod.executions.Inc()
}

// Handler serves the prometheus registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ModuleSnapshot is the JSON view of one module's counters.
type ModuleSnapshot struct {
	ExecutionCount      uint64 `json:"execution_count"`
	TotalDurationMicros uint64 `json:"total_duration_micros"`
	MemoryAllocated     uint64 `json:"memory_allocated"`
}

// Snapshot is the JSON view surfaced through the host API.
type Snapshot struct {
	ActivePipelinesByPhase map[string]int64          `json:"active_pipelines_by_phase"`
	GlobalMemoryAllocated  uint64                    `json:"global_memory_allocated"`
	RequestsTotal          uint64                    `json:"requests_total"`
	HaltsTotal             uint64                    `json:"halts_total"`
	ErrorPhaseEntries      uint64                    `json:"error_phase_entries"`
	Modules                map[string]ModuleSnapshot `json:"modules"`
}

// Snapshot captures the current counter values. Returns the zero value
// and false when metrics are disabled.
func (m *Metrics) Snapshot() (Snapshot, bool) {
	if !m.enabled {
		return Snapshot{}, false
	}

	s := Snapshot{
		ActivePipelinesByPhase: make(map[string]int64, len(m.phaseNames)),
		GlobalMemoryAllocated:  m.arenaBytes.Load(),
		RequestsTotal:          m.requests.Load(),
		HaltsTotal:             m.halts.Load(),
		ErrorPhaseEntries:      m.errorEntries.Load(),
		Modules:                make(map[string]ModuleSnapshot, len(m.modules)),
	}
	for i, name := range m.phaseNames {
		s.ActivePipelinesByPhase[name] = m.activeByPhase[i].Load()
	}
	for name, mod := range m.modules {
		s.Modules[name] = ModuleSnapshot{
			ExecutionCount:      mod.Executions.Load(),
			TotalDurationMicros: mod.DurationMicros.Load(),
			MemoryAllocated:     mod.AllocatedBytes.Load(),
		}
	}
	return s, true
}
