// Package router selects which content module answers a request. It
// evaluates compiled routes in priority order and dispatches matches
// directly by module id through the host, so routed modules run
// regardless of their own matchers.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oxlabs/ox-webservice/internal/matcher"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// captureKey is where accumulated route captures land in the request
// context.
const captureKey = "request.capture"

type routeParams struct {
	Protocol string            `mapstructure:"protocol"`
	Hostname string            `mapstructure:"hostname"`
	Path     string            `mapstructure:"path"`
	Headers  map[string]string `mapstructure:"headers"`
	Query    map[string]string `mapstructure:"query"`
	Status   string            `mapstructure:"status"`
	ModuleID string            `mapstructure:"module_id"`
	Priority int               `mapstructure:"priority"`
}

type params struct {
	Routes []routeParams `mapstructure:"routes"`
}

type route struct {
	matcher  *matcher.Matcher
	moduleID string
	priority int
	path     string

	dispatches atomic.Uint64
}

type Router struct {
	host   module.Host
	routes []*route
	total  atomic.Uint64
}

// New compiles the configured routes and sorts them ascending by
// priority, preserving configuration order for equal priorities.
func New(deps module.Deps) (module.Handler, error) {
	var p params
	if err := mapstructure.Decode(deps.Params, &p); err != nil {
		return nil, fmt.Errorf("decoding router params: %w", err)
	}
	if len(p.Routes) == 0 {
		return nil, fmt.Errorf("router module needs at least one route")
	}

	r := &Router{host: deps.Host}
	for _, rp := range p.Routes {
		if rp.ModuleID == "" {
			return nil, fmt.Errorf("route %q has no module_id", rp.Path)
		}
		m, err := matcher.Compile(matcher.Spec{
			Protocol: rp.Protocol,
			Hostname: rp.Hostname,
			Path:     rp.Path,
			Headers:  rp.Headers,
			Query:    rp.Query,
			Status:   rp.Status,
		})
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rp.Path, err)
		}
		r.routes = append(r.routes, &route{
			matcher:  m,
			moduleID: rp.ModuleID,
			priority: rp.Priority,
			path:     rp.Path,
		})
	}
	sort.SliceStable(r.routes, func(a, b int) bool {
		return r.routes[a].priority < r.routes[b].priority
	})
	return r, nil
}

func (r *Router) HandleRequest(ctx context.Context, st *pipeline.State) pipeline.HandlerResult {
	modified := false

	for _, rt := range r.routes {
		ok, capture := rt.matcher.MatchFull(st)
		if !ok {
			continue
		}
		if capture != "" {
			// Successive route captures append to one another.
			acc := capture
			if prev, ok := st.ContextGet(captureKey); ok {
				if s, ok := prev.(string); ok {
					acc = s + capture
				}
			}
			st.Capture = acc
			st.ContextSet(captureKey, acc)
		}

		rt.dispatches.Add(1)
		r.total.Add(1)

		res, err := r.host.Dispatch(ctx, rt.moduleID, st)
		if err != nil {
			return pipeline.ModifiedJumpToError()
		}
		if res.Status == pipeline.Modified {
			modified = true
		}

		// Only Halt and StreamFile end the scan; any other flow keeps
		// evaluating subsequent routes.
		switch res.Flow {
		case pipeline.HaltProcessing, pipeline.StreamFileResponse:
			return res
		}
	}

	if modified {
		return pipeline.ModifiedContinue()
	}
	return pipeline.UnmodifiedContinue()
}

type routeReport struct {
	Path          string `json:"path"`
	ModuleID      string `json:"module_id"`
	Priority      int    `json:"priority"`
	DispatchCount uint64 `json:"dispatch_count"`
}

type configReport struct {
	Routes          []routeReport `json:"routes"`
	TotalDispatches uint64        `json:"total_dispatches"`
}

// Config reports the route table with live dispatch counters.
func (r *Router) Config() (json.RawMessage, error) {
	report := configReport{TotalDispatches: r.total.Load()}
	for _, rt := range r.routes {
		report.Routes = append(report.Routes, routeReport{
			Path:          rt.path,
			ModuleID:      rt.moduleID,
			Priority:      rt.priority,
			DispatchCount: rt.dispatches.Load(),
		})
	}
	return json.Marshal(report)
}
