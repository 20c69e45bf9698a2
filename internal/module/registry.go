package module

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/oxlabs/ox-webservice/internal/metrics"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// Registry holds the factory map and the loaded module set. Factories
// are registered and modules loaded during startup; after that the
// registry is read-only and shared by every request goroutine.
type Registry struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	factories map[string]Factory
	dynamic   DynamicLoader

	loaded []*Loaded
	byID   map[string]*Loaded
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(false, pipeline.PhaseNames())
	}
	return &Registry{
		logger:    logger,
		metrics:   m,
		factories: make(map[string]Factory),
		byID:      make(map[string]*Loaded),
	}
}

// RegisterFactory binds a built-in module name to its constructor.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("module factory %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// SetDynamicLoader installs the loader used for modules that name a
// library path instead of a built-in factory.
func (r *Registry) SetDynamicLoader(dl DynamicLoader) { r.dynamic = dl }

// Metrics returns the registry's counter set.
func (r *Registry) Metrics() *metrics.Metrics { return r.metrics }

// Modules returns every loaded module as the executor sees it.
func (r *Registry) Modules() []pipeline.Module {
	out := make([]pipeline.Module, len(r.loaded))
	for i, l := range r.loaded {
		out[i] = l
	}
	return out
}

// Lookup finds a loaded module by id.
func (r *Registry) Lookup(id string) (*Loaded, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// Dispatch invokes a loaded module by id, bypassing its matchers.
func (r *Registry) Dispatch(ctx context.Context, moduleID string, st *pipeline.State) (pipeline.HandlerResult, error) {
	l, ok := r.byID[moduleID]
	if !ok {
		return pipeline.HandlerResult{}, fmt.Errorf("dispatch to unknown module id %q", moduleID)
	}
	return l.Handle(ctx, st), nil
}

// MetricsJSON renders the metrics snapshot for the host API.
func (r *Registry) MetricsJSON() ([]byte, bool) {
	snap, ok := r.metrics.Snapshot()
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, false
	}
	return b, true
}

// ConfigsJSON renders the aggregated configuration report, sorted by
// module id for stable output.
func (r *Registry) ConfigsJSON() ([]byte, error) {
	reports := make([]configReport, len(r.loaded))
	for i, l := range r.loaded {
		reports[i] = l.report()
	}
	sort.Slice(reports, func(a, b int) bool { return reports[a].ID < reports[b].ID })
	return json.Marshal(reports)
}

// Close tears down every loaded module that holds resources.
func (r *Registry) Close() error {
	var firstErr error
	for _, l := range r.loaded {
		if c, ok := l.handler.(Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("closing module %s: %w", l.name, err)
			}
		}
	}
	return firstErr
}
