package matcher

import (
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

func requestState(protocol, host, path, query string) *pipeline.State {
	st := pipeline.NewState(arena.New())
	st.Protocol = protocol
	st.Path = path
	st.Query = query
	st.RequestHeaders.Set("Host", host)
	return st
}

func TestMatchRequestPathCapture(t *testing.T) {
	m, err := Compile(Spec{Path: `^/files/(.*)$`})
	if err != nil {
		t.Fatal(err)
	}

	ok, capture := m.MatchRequest(requestState("http", "example.com", "/files/a/b.txt", ""))
	if !ok {
		t.Fatal("expected match")
	}
	if capture != "a/b.txt" {
		t.Errorf("capture = %q, want a/b.txt", capture)
	}
}

func TestMatchRequestNoCaptureGroup(t *testing.T) {
	m, err := Compile(Spec{Path: `^/ping$`})
	if err != nil {
		t.Fatal(err)
	}

	ok, capture := m.MatchRequest(requestState("http", "example.com", "/ping", ""))
	if !ok || capture != "" {
		t.Errorf("got (%v, %q), want (true, \"\")", ok, capture)
	}
}

func TestMatchRequestProtocolAndHostname(t *testing.T) {
	m, err := Compile(Spec{Protocol: "https", Hostname: `^api\.`})
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := m.MatchRequest(requestState("https", "api.example.com:8443", "/", "")); !ok {
		t.Error("https api host should match, port stripped")
	}
	if ok, _ := m.MatchRequest(requestState("http", "api.example.com", "/", "")); ok {
		t.Error("protocol mismatch should not match")
	}
	if ok, _ := m.MatchRequest(requestState("https", "www.example.com", "/", "")); ok {
		t.Error("hostname mismatch should not match")
	}
}

func TestMatchFullPredicates(t *testing.T) {
	m, err := Compile(Spec{
		Path:    `^/api/`,
		Headers: map[string]string{"Accept": `json`},
		Query:   map[string]string{"v": `^2$`},
		Status:  `^2\d\d$`,
	})
	if err != nil {
		t.Fatal(err)
	}

	st := requestState("http", "example.com", "/api/things", "v=2&debug=1")
	st.RequestHeaders.Set("Accept", "application/json")
	st.StatusCode = 200

	if ok, _ := m.MatchFull(st); !ok {
		t.Error("all predicates hold, expected match")
	}

	st.StatusCode = 500
	if ok, _ := m.MatchFull(st); ok {
		t.Error("status predicate should reject 500")
	}

	st.StatusCode = 200
	st.Query = "v=1"
	if ok, _ := m.MatchFull(st); ok {
		t.Error("query predicate should reject v=1")
	}
}

func TestMatchAnyEmptySetMatchesAll(t *testing.T) {
	ok, capture := MatchAny(nil, requestState("http", "x", "/anything", ""))
	if !ok || capture != "" {
		t.Errorf("got (%v, %q), want (true, \"\")", ok, capture)
	}
}

func TestMatchAnyReturnsFirstCapture(t *testing.T) {
	ms, err := CompileAll([]Spec{
		{Path: `^/static/(.+)$`},
		{Path: `^/`},
	})
	if err != nil {
		t.Fatal(err)
	}

	ok, capture := MatchAny(ms, requestState("http", "x", "/static/logo.png", ""))
	if !ok || capture != "logo.png" {
		t.Errorf("got (%v, %q), want (true, logo.png)", ok, capture)
	}
}

func TestCompileRejectsBadRegex(t *testing.T) {
	if _, err := Compile(Spec{Path: `([`}); err == nil {
		t.Error("expected error for unterminated group")
	}
	if _, err := Compile(Spec{Headers: map[string]string{"X": `([`}}); err == nil {
		t.Error("expected error for bad header regex")
	}
}
