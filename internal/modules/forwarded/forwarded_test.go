package forwarded

import (
	"context"
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

func newForwarded(t *testing.T, proxies ...string) module.Handler {
	t.Helper()
	anyProxies := make([]any, len(proxies))
	for i, p := range proxies {
		anyProxies[i] = p
	}
	h, err := New(module.Deps{Params: map[string]any{"trusted_proxies": anyProxies}})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func forwardedState(peer, header string) *pipeline.State {
	st := pipeline.NewState(arena.New())
	st.SourceIP = peer
	if header != "" {
		st.RequestHeaders.Set("X-Forwarded-For", header)
	}
	return st
}

func TestRestoresClientBehindTrustedProxy(t *testing.T) {
	h := newForwarded(t, "10.0.0.0/8")
	st := forwardedState("10.0.0.5", "203.0.113.7, 10.0.0.9")

	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Modified {
		t.Errorf("result = %+v", res)
	}
	if st.SourceIP != "203.0.113.7" {
		t.Errorf("source = %q", st.SourceIP)
	}
}

func TestUntrustedPeerIgnoresHeader(t *testing.T) {
	h := newForwarded(t, "10.0.0.0/8")
	st := forwardedState("198.51.100.4", "203.0.113.7")

	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Unmodified || st.SourceIP != "198.51.100.4" {
		t.Errorf("result = %+v source = %q", res, st.SourceIP)
	}
}

func TestMalformedHeaderIgnored(t *testing.T) {
	h := newForwarded(t, "10.0.0.0/8")
	st := forwardedState("10.0.0.5", "not-an-ip")

	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Unmodified || st.SourceIP != "10.0.0.5" {
		t.Errorf("result = %+v source = %q", res, st.SourceIP)
	}
}

func TestNewRequiresProxies(t *testing.T) {
	if _, err := New(module.Deps{Params: map[string]any{}}); err == nil {
		t.Error("expected error without trusted_proxies")
	}
	if _, err := New(module.Deps{Params: map[string]any{
		"trusted_proxies": []any{"not-a-cidr"},
	}}); err == nil {
		t.Error("expected error for bad prefix")
	}
}
