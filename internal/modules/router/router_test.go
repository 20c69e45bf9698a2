package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

type fakeHost struct {
	results    map[string]pipeline.HandlerResult
	errs       map[string]error
	dispatched []string
}

func (h *fakeHost) Dispatch(_ context.Context, id string, _ *pipeline.State) (pipeline.HandlerResult, error) {
	h.dispatched = append(h.dispatched, id)
	if err, ok := h.errs[id]; ok {
		return pipeline.HandlerResult{}, err
	}
	return h.results[id], nil
}

func (h *fakeHost) MetricsJSON() ([]byte, bool)  { return nil, false }
func (h *fakeHost) ConfigsJSON() ([]byte, error) { return []byte("[]"), nil }

func newRouter(t *testing.T, host module.Host, routes []map[string]any) module.Handler {
	t.Helper()
	h, err := New(module.Deps{
		Host:   host,
		Params: map[string]any{"routes": routes},
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func getState(path string) *pipeline.State {
	st := pipeline.NewState(arena.New())
	st.Method = "GET"
	st.Protocol = "http"
	st.Path = path
	return st
}

func TestOverlappingRoutesDispatchInPriorityOrder(t *testing.T) {
	host := &fakeHost{results: map[string]pipeline.HandlerResult{
		"m": pipeline.ModifiedContinue(),
		"n": pipeline.UnmodifiedContinue(),
	}}
	r := newRouter(t, host, []map[string]any{
		{"path": `^/a/b$`, "module_id": "n", "priority": 1},
		{"path": `^/a/(.*)$`, "module_id": "m", "priority": 0},
	})

	st := getState("/a/b")
	res := r.HandleRequest(context.Background(), st)

	if len(host.dispatched) != 2 || host.dispatched[0] != "m" || host.dispatched[1] != "n" {
		t.Fatalf("dispatched %v, want [m n]", host.dispatched)
	}
	if st.Capture != "b" {
		t.Errorf("capture = %q, want b", st.Capture)
	}
	if v, _ := st.ContextGet("request.capture"); v != "b" {
		t.Errorf("context capture = %v", v)
	}
	if res.Status != pipeline.Modified || res.Flow != pipeline.ContinueProcessing {
		t.Errorf("result = %+v, want ModifiedContinue", res)
	}
}

func TestNoRouteMatchesReturnsUnmodified(t *testing.T) {
	host := &fakeHost{}
	r := newRouter(t, host, []map[string]any{
		{"path": `^/only$`, "module_id": "m"},
	})

	res := r.HandleRequest(context.Background(), getState("/other"))

	if len(host.dispatched) != 0 {
		t.Errorf("dispatched %v, want none", host.dispatched)
	}
	if res.Status != pipeline.Unmodified {
		t.Errorf("result = %+v", res)
	}
}

func TestTerminalResultsPassThrough(t *testing.T) {
	cases := []struct {
		name   string
		result pipeline.HandlerResult
	}{
		{"halt", pipeline.Halt()},
		{"stream", pipeline.StreamFile("/srv/a.txt")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := &fakeHost{results: map[string]pipeline.HandlerResult{
				"m": tc.result,
				"x": pipeline.ModifiedContinue(),
			}}
			r := newRouter(t, host, []map[string]any{
				{"path": `^/`, "module_id": "m", "priority": 0},
				{"path": `^/`, "module_id": "x", "priority": 1},
			})

			res := r.HandleRequest(context.Background(), getState("/a"))

			if res != tc.result {
				t.Errorf("result = %+v, want %+v", res, tc.result)
			}
			if len(host.dispatched) != 1 {
				t.Errorf("dispatched %v, want only m", host.dispatched)
			}
		})
	}
}

func TestNonTerminalResultsKeepScanning(t *testing.T) {
	cases := []struct {
		name   string
		result pipeline.HandlerResult
	}{
		{"continue", pipeline.UnmodifiedContinue()},
		{"next_phase", pipeline.ModifiedNextPhase()},
		{"jump_to_error", pipeline.ModifiedJumpToError()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host := &fakeHost{results: map[string]pipeline.HandlerResult{
				"m": tc.result,
				"x": pipeline.ModifiedContinue(),
			}}
			r := newRouter(t, host, []map[string]any{
				{"path": `^/`, "module_id": "m", "priority": 0},
				{"path": `^/`, "module_id": "x", "priority": 1},
			})

			res := r.HandleRequest(context.Background(), getState("/a"))

			if len(host.dispatched) != 2 || host.dispatched[1] != "x" {
				t.Fatalf("dispatched %v, want [m x]", host.dispatched)
			}
			if res.Status != pipeline.Modified || res.Flow != pipeline.ContinueProcessing {
				t.Errorf("result = %+v, want ModifiedContinue", res)
			}
		})
	}
}

func TestRouteCapturesAccumulate(t *testing.T) {
	host := &fakeHost{results: map[string]pipeline.HandlerResult{
		"m": pipeline.ModifiedContinue(),
		"n": pipeline.ModifiedContinue(),
	}}
	r := newRouter(t, host, []map[string]any{
		{"path": `^/(a)/b$`, "module_id": "m", "priority": 0},
		{"path": `^/a/(b)$`, "module_id": "n", "priority": 1},
	})

	st := getState("/a/b")
	r.HandleRequest(context.Background(), st)

	if st.Capture != "ab" {
		t.Errorf("capture = %q, want ab", st.Capture)
	}
	if v, _ := st.ContextGet("request.capture"); v != "ab" {
		t.Errorf("context capture = %v, want ab", v)
	}
}

func TestDispatchErrorJumpsToErrorHandling(t *testing.T) {
	host := &fakeHost{errs: map[string]error{"ghost": context.Canceled}}
	r := newRouter(t, host, []map[string]any{
		{"path": `^/`, "module_id": "ghost"},
	})

	res := r.HandleRequest(context.Background(), getState("/a"))

	if res.Flow != pipeline.JumpToErrorHandling {
		t.Errorf("result = %+v, want jump to error", res)
	}
}

func TestConfigReportsDispatchCounts(t *testing.T) {
	host := &fakeHost{results: map[string]pipeline.HandlerResult{"m": pipeline.ModifiedContinue()}}
	r := newRouter(t, host, []map[string]any{
		{"path": `^/hit$`, "module_id": "m"},
	})

	r.HandleRequest(context.Background(), getState("/hit"))
	r.HandleRequest(context.Background(), getState("/hit"))
	r.HandleRequest(context.Background(), getState("/miss"))

	raw, err := r.(*Router).Config()
	if err != nil {
		t.Fatal(err)
	}
	var report struct {
		Routes []struct {
			ModuleID      string `json:"module_id"`
			DispatchCount uint64 `json:"dispatch_count"`
		} `json:"routes"`
		TotalDispatches uint64 `json:"total_dispatches"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	if report.TotalDispatches != 2 {
		t.Errorf("total = %d, want 2", report.TotalDispatches)
	}
	if len(report.Routes) != 1 || report.Routes[0].DispatchCount != 2 {
		t.Errorf("routes = %+v", report.Routes)
	}
}

func TestNewRejectsBadRoutes(t *testing.T) {
	if _, err := New(module.Deps{Params: map[string]any{}}); err == nil {
		t.Error("expected error for empty route table")
	}
	if _, err := New(module.Deps{Params: map[string]any{
		"routes": []map[string]any{{"path": `^/`}},
	}}); err == nil {
		t.Error("expected error for route without module_id")
	}
	if _, err := New(module.Deps{Params: map[string]any{
		"routes": []map[string]any{{"path": `([`, "module_id": "m"}},
	}}); err == nil {
		t.Error("expected error for bad route regex")
	}
}
