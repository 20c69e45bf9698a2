package module

import (
	"context"
	"fmt"

	"github.com/oxlabs/ox-webservice/internal/matcher"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// Definition is the loader's view of one configured module.
type Definition struct {
	// Name selects a built-in factory. When no factory matches and
	// Path is set, the module is loaded dynamically.
	Name string
	// ID is the unique handle other modules dispatch by. Defaults to
	// Name when empty.
	ID       string
	Path     string
	Phase    string
	Priority int
	Params   map[string]any
	Matchers []matcher.Spec
	// ErrorPhase, when set, overrides where JumpToError diverts for
	// this module.
	ErrorPhase string
}

// LoadError wraps a single module's load failure. Load failures are
// not fatal: the module is dropped and the server continues.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading module %s: %v", e.Module, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// DynamicLoader resolves a library path to a module handler.
type DynamicLoader interface {
	Load(ctx context.Context, id, path string, params map[string]any) (Handler, error)
}

// Load resolves every definition in order. A definition that fails is
// logged and skipped; the returned errors describe the skipped ones.
func (r *Registry) Load(ctx context.Context, defs []Definition) []error {
	var errs []error
	for _, def := range defs {
		if err := r.loadOne(ctx, def); err != nil {
			lerr := &LoadError{Module: def.Name, Err: err}
			r.logger.Error("module load failed, dropping module",
				"module", def.Name, "id", def.ID, "error", err)
			errs = append(errs, lerr)
		}
	}
	return errs
}

func (r *Registry) loadOne(ctx context.Context, def Definition) error {
	id := def.ID
	if id == "" {
		id = def.Name
	}
	if _, dup := r.byID[id]; dup {
		return fmt.Errorf("duplicate module id %q", id)
	}

	phase, err := pipeline.ParsePhase(def.Phase)
	if err != nil {
		return err
	}

	var errPhase *pipeline.Phase
	if def.ErrorPhase != "" {
		p, err := pipeline.ParsePhase(def.ErrorPhase)
		if err != nil {
			return fmt.Errorf("error phase: %w", err)
		}
		errPhase = &p
	}

	matchers, err := matcher.CompileAll(def.Matchers)
	if err != nil {
		return err
	}

	handler, err := r.buildHandler(ctx, def, id)
	if err != nil {
		return err
	}

	l := &Loaded{
		name:     def.Name,
		id:       id,
		phase:    phase,
		priority: def.Priority,
		matchers: matchers,
		errPhase: errPhase,
		params:   def.Params,
		handler:  handler,
		logger:   r.logger,
		reg:      r.metrics,
		counter:  r.metrics.RegisterModule(id),
	}
	r.loaded = append(r.loaded, l)
	r.byID[id] = l
	r.logger.Info("module loaded",
		"module", def.Name, "id", id, "phase", phase.String(), "priority", def.Priority)
	return nil
}

func (r *Registry) buildHandler(ctx context.Context, def Definition, id string) (Handler, error) {
	if factory, ok := r.factories[def.Name]; ok {
		return factory(Deps{
			ID:     id,
			Name:   def.Name,
			Params: def.Params,
			Logger: r.logger.With("module", def.Name),
			Host:   r,
		})
	}
	if def.Path != "" {
		if r.dynamic == nil {
			return nil, fmt.Errorf("no dynamic loader available for %s", def.Path)
		}
		return r.dynamic.Load(ctx, id, def.Path, def.Params)
	}
	return nil, fmt.Errorf("no factory registered for %q and no library path given", def.Name)
}
