package redirect

import (
	"context"
	"net/http"
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

func newRedirect(t *testing.T, rules []map[string]any) module.Handler {
	t.Helper()
	h, err := New(module.Deps{Params: map[string]any{"rules": rules}})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestRedirectWithCaptureTarget(t *testing.T) {
	h := newRedirect(t, []map[string]any{
		{"match": `^/old/(.*)$`, "target": "/new/$1", "permanent": true},
	})

	st := pipeline.NewState(arena.New())
	st.Path = "/old/page"
	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Modified || res.Flow != pipeline.AdvancePhase {
		t.Errorf("result = %+v", res)
	}
	if st.StatusCode != http.StatusMovedPermanently {
		t.Errorf("status = %d, want 301", st.StatusCode)
	}
	if got := st.ResponseHeaders.Get("Location"); got != "/new/page" {
		t.Errorf("location = %q", got)
	}
}

func TestTemporaryRedirectByDefault(t *testing.T) {
	h := newRedirect(t, []map[string]any{
		{"match": `^/tmp$`, "target": "/elsewhere"},
	})

	st := pipeline.NewState(arena.New())
	st.Path = "/tmp"
	h.HandleRequest(context.Background(), st)

	if st.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want 302", st.StatusCode)
	}
}

func TestNoRuleMatches(t *testing.T) {
	h := newRedirect(t, []map[string]any{
		{"match": `^/old$`, "target": "/new"},
	})

	st := pipeline.NewState(arena.New())
	st.Path = "/current"
	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Unmodified || res.Flow != pipeline.ContinueProcessing {
		t.Errorf("result = %+v", res)
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	if _, err := New(module.Deps{Params: map[string]any{}}); err == nil {
		t.Error("expected error without rules")
	}
	if _, err := New(module.Deps{Params: map[string]any{
		"rules": []map[string]any{{"match": `([`, "target": "/x"}},
	}}); err == nil {
		t.Error("expected error for bad regex")
	}
}
