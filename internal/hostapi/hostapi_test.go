package hostapi

import (
	"errors"
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

func newState() *pipeline.State {
	st := pipeline.NewState(arena.New())
	st.Method = "POST"
	st.Path = "/submit"
	st.Query = "a=1"
	st.SourceIP = "203.0.113.9"
	st.RequestBody = []byte(`{"k":"v"}`)
	st.RequestHeaders.Set("Content-Type", "application/json")
	return st
}

func TestGetRequestKeys(t *testing.T) {
	st := newState()

	cases := map[string]any{
		"http.request.method":              "POST",
		"http.request.path":                "/submit",
		"http.request.query":               "a=1",
		"http.request.body":                `{"k":"v"}`,
		"http.source_ip":                   "203.0.113.9",
		"http.request.header.Content-Type": "application/json",
	}
	for key, want := range cases {
		got, ok := Get(st, nil, key)
		if !ok {
			t.Errorf("Get(%q) not found", key)
			continue
		}
		if got != want {
			t.Errorf("Get(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestGetMissingHeader(t *testing.T) {
	st := newState()
	if _, ok := Get(st, nil, "http.request.header.X-Missing"); ok {
		t.Error("missing header should not resolve")
	}
}

func TestSetResponseKeys(t *testing.T) {
	st := newState()

	if err := Set(st, "http.response.status", 404); err != nil {
		t.Fatal(err)
	}
	if err := Set(st, "http.response.body", "not here"); err != nil {
		t.Fatal(err)
	}
	if err := Set(st, "http.response.header.X-Served-By", "stream"); err != nil {
		t.Fatal(err)
	}

	if st.StatusCode != 404 {
		t.Errorf("status = %d", st.StatusCode)
	}
	if string(st.ResponseBody) != "not here" {
		t.Errorf("body = %q", st.ResponseBody)
	}
	if got := st.ResponseHeaders.Get("X-Served-By"); got != "stream" {
		t.Errorf("header = %q", got)
	}
}

func TestSetStatusFromString(t *testing.T) {
	st := newState()
	if err := Set(st, "http.response.status", "302"); err != nil {
		t.Fatal(err)
	}
	if st.StatusCode != 302 {
		t.Errorf("status = %d", st.StatusCode)
	}
	if err := Set(st, "http.response.status", "banana"); err == nil {
		t.Error("expected error for non-numeric status")
	}
}

func TestReadOnlyKeys(t *testing.T) {
	st := newState()
	for _, key := range []string{"pipeline.modified", "server.metrics", "server.configs"} {
		if err := Set(st, key, "x"); err == nil {
			t.Errorf("Set(%q) should fail", key)
		}
	}
}

func TestContextPassthrough(t *testing.T) {
	st := newState()
	if err := Set(st, "session.user", "alice"); err != nil {
		t.Fatal(err)
	}
	got, ok := Get(st, nil, "session.user")
	if !ok || got != "alice" {
		t.Errorf("Get = (%v, %v)", got, ok)
	}
}

type fakeServer struct {
	metrics   []byte
	metricsOK bool
	configs   []byte
	err       error
}

func (f *fakeServer) MetricsJSON() ([]byte, bool)  { return f.metrics, f.metricsOK }
func (f *fakeServer) ConfigsJSON() ([]byte, error) { return f.configs, f.err }

func TestServerKeys(t *testing.T) {
	st := newState()
	srv := &fakeServer{metrics: []byte(`{"requests_total":3}`), metricsOK: true, configs: []byte(`{}`)}

	got, ok := Get(st, srv, "server.metrics")
	if !ok || got != `{"requests_total":3}` {
		t.Errorf("server.metrics = (%v, %v)", got, ok)
	}
	if _, ok := Get(st, srv, "server.configs"); !ok {
		t.Error("server.configs should resolve")
	}

	srv.metricsOK = false
	if _, ok := Get(st, srv, "server.metrics"); ok {
		t.Error("disabled metrics should not resolve")
	}
	srv.err = errors.New("boom")
	if _, ok := Get(st, srv, "server.configs"); ok {
		t.Error("config error should not resolve")
	}
}

func TestPipelineModifiedReflectsState(t *testing.T) {
	st := newState()
	got, _ := Get(st, nil, "pipeline.modified")
	if got != false {
		t.Errorf("pipeline.modified = %v before any modification", got)
	}
}
