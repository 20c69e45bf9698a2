// Package module loads and registers the server's extension modules.
// Built-in modules are constructed through an explicit factory
// registry; dynamic modules are loaded from shared libraries through a
// DynamicLoader. Either way the result is wrapped in a Loaded record
// that pins the module's place in the execution order, applies its
// matchers, contains panics, and feeds the per-module counters.
package module

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oxlabs/ox-webservice/internal/matcher"
	"github.com/oxlabs/ox-webservice/internal/metrics"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// Handler is the single operation every module implements.
type Handler interface {
	HandleRequest(ctx context.Context, st *pipeline.State) pipeline.HandlerResult
}

// Configer is optionally implemented by modules that expose runtime
// configuration through the aggregated config report.
type Configer interface {
	Config() (json.RawMessage, error)
}

// Closer is optionally implemented by modules holding resources that
// need teardown at shutdown.
type Closer interface {
	Close() error
}

// Host is the callback surface the server exposes to modules.
type Host interface {
	// Dispatch invokes another loaded module by id, bypassing its
	// matchers. Used by routing modules.
	Dispatch(ctx context.Context, moduleID string, st *pipeline.State) (pipeline.HandlerResult, error)
	// MetricsJSON returns the server metrics snapshot, false when
	// metrics are disabled.
	MetricsJSON() ([]byte, bool)
	// ConfigsJSON returns the aggregated module configuration report.
	ConfigsJSON() ([]byte, error)
}

// Deps is what a factory receives to build a module instance.
type Deps struct {
	ID     string
	Name   string
	Params map[string]any
	Logger *slog.Logger
	Host   Host
}

// Factory builds a built-in module. Factories are registered
// explicitly at startup; there is no init-time side registration.
type Factory func(deps Deps) (Handler, error)

// Loaded is an immutable per-module record produced by the loader. It
// adapts a Handler to the executor's Module interface.
type Loaded struct {
	name     string
	id       string
	phase    pipeline.Phase
	priority int
	matchers []*matcher.Matcher
	errPhase *pipeline.Phase
	params   map[string]any

	handler Handler
	logger  *slog.Logger
	reg     *metrics.Metrics
	counter *metrics.Module
}

var _ pipeline.Module = (*Loaded)(nil)

func (l *Loaded) Name() string          { return l.name }
func (l *Loaded) ID() string            { return l.id }
func (l *Loaded) Phase() pipeline.Phase { return l.phase }
func (l *Loaded) Priority() int         { return l.priority }

func (l *Loaded) ErrorPhase() (pipeline.Phase, bool) {
	if l.errPhase != nil {
		return *l.errPhase, true
	}
	return 0, false
}

// Eligible applies the module's static matchers. A successful match
// with a capture group records the capture on the state.
func (l *Loaded) Eligible(st *pipeline.State) bool {
	ok, capture := matcher.MatchAny(l.matchers, st)
	if ok && capture != "" {
		st.Capture = capture
	}
	return ok
}

// Handle invokes the module with panic containment and counter
// updates. A panicking module reports ModifiedJumpToError so the
// request is answered by the error phases instead of crashing the
// goroutine.
func (l *Loaded) Handle(ctx context.Context, st *pipeline.State) (res pipeline.HandlerResult) {
	start := time.Now()
	before := st.Arena().Allocated()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("module panicked", "module", l.name, "panic", r)
			res = pipeline.ModifiedJumpToError()
		}
		l.reg.ModuleExecuted(l.counter, uint64(time.Since(start).Microseconds()))
		if l.counter != nil {
			l.counter.AllocatedBytes.Add(st.Arena().Allocated() - before)
		}
	}()
	return l.handler.HandleRequest(ctx, st)
}

// configReport is one entry of the aggregated config report.
type configReport struct {
	Name     string          `json:"name"`
	ID       string          `json:"id"`
	Phase    string          `json:"phase"`
	Priority int             `json:"priority"`
	Config   json.RawMessage `json:"config,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
}

func (l *Loaded) report() configReport {
	r := configReport{
		Name:     l.name,
		ID:       l.id,
		Phase:    l.phase.String(),
		Priority: l.priority,
	}
	if c, ok := l.handler.(Configer); ok {
		if raw, err := c.Config(); err == nil {
			r.Config = raw
			return r
		}
	}
	r.Params = l.params
	return r
}
